package services

import (
	"errors"

	"hndld/internal/models"
)

// TriggerEvent is a domain event that may fire automations.
// Data is an open bag of fields produced by the event source (userId, amount, taskTitle...).
type TriggerEvent struct {
	Type     string                 `json:"type" binding:"required"`
	TenantID string                 `json:"tenantId"`
	ScopeID  string                 `json:"scopeId,omitempty"`
	Data     map[string]interface{} `json:"data"`
}

func (e TriggerEvent) snapshot() models.TriggerSnapshot {
	data := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	return models.TriggerSnapshot{
		Type:     e.Type,
		TenantID: e.TenantID,
		ScopeID:  e.ScopeID,
		Data:     data,
	}
}

// Trigger types known to the household domain.
const (
	TriggerTaskOverdue       = "task-overdue"
	TriggerTaskCompleted     = "task-completed"
	TriggerCleaningCompleted = "cleaning-completed"
	TriggerApprovalRequested = "approval-requested"
	TriggerExpenseCreated    = "expense-created"
	TriggerVendorArrived     = "vendor-arrived"
	TriggerGuestArriving     = "guest-arriving"
	TriggerGuestDeparted     = "guest-departed"
	TriggerBillDue           = "bill-due"
	// TriggerScheduled is fired by an external clock; the engine never schedules it.
	TriggerScheduled = "scheduled"
)

var knownTriggers = map[string]struct{}{
	TriggerTaskOverdue:       {},
	TriggerTaskCompleted:     {},
	TriggerCleaningCompleted: {},
	TriggerApprovalRequested: {},
	TriggerExpenseCreated:    {},
	TriggerVendorArrived:     {},
	TriggerGuestArriving:     {},
	TriggerGuestDeparted:     {},
	TriggerBillDue:           {},
	TriggerScheduled:         {},
}

// IsSupportedTrigger reports whether t is a trigger type automations may be created for.
func IsSupportedTrigger(t string) bool {
	_, ok := knownTriggers[t]
	return ok
}

// ActionType is the closed set of action tags the executor dispatches on.
type ActionType string

const (
	ActionSendNotification ActionType = "send-notification"
	ActionCreateTask       ActionType = "create-task"
	ActionCompleteTask     ActionType = "complete-task"
	ActionCreateApproval   ActionType = "create-approval"
	ActionAutoApprove      ActionType = "auto-approve"
	ActionLockDoor         ActionType = "lock-door"
	ActionUnlockDoor       ActionType = "unlock-door"
	ActionAddCalendarEvent ActionType = "add-calendar-event"
	ActionTriggerWebhook   ActionType = "trigger-webhook"
	ActionLogEvent         ActionType = "log-event"
	ActionSendEmail        ActionType = "send-email"
	ActionSendSMS          ActionType = "send-sms"
	ActionUpdateBudget     ActionType = "update-budget"
)

// ActionResult is the uniform outcome of one action.
type ActionResult struct {
	Success bool                   `json:"success"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func actionOK(result map[string]interface{}) ActionResult {
	return ActionResult{Success: true, Result: result}
}

func actionFailed(err error) ActionResult {
	return ActionResult{Success: false, Error: err.Error()}
}

var (
	ErrAutomationNotFound = errors.New("automation not found")
	ErrRunNotFound        = errors.New("automation run not found")
	ErrTemplateNotFound   = errors.New("automation template not found")
	ErrInvalidAutomation  = errors.New("invalid automation")
	ErrTenantRequired     = errors.New("tenant id required")
)
