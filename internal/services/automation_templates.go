package services

import "hndld/internal/models"

// AutomationTemplate is a starter automation users can instantiate.
type AutomationTemplate struct {
	Key         string                       `json:"key"`
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Trigger     string                       `json:"trigger"`
	Conditions  *models.AutomationConditions `json:"conditions,omitempty"`
	Actions     []models.ActionConfig        `json:"actions"`
}

// Request converts the template into a create request. Slices and maps are copied.
func (t AutomationTemplate) Request() *AutomationRequest {
	actions := make([]models.ActionConfig, len(t.Actions))
	for i, a := range t.Actions {
		cfg := make(map[string]interface{}, len(a.Config))
		for k, v := range a.Config {
			cfg[k] = v
		}
		actions[i] = models.ActionConfig{Type: a.Type, Config: cfg, Order: a.Order}
	}
	var conds *models.AutomationConditions
	if t.Conditions != nil {
		c := *t.Conditions
		conds = &c
	}
	return &AutomationRequest{
		Name:        t.Name,
		Description: t.Description,
		Trigger:     t.Trigger,
		Conditions:  conds,
		Actions:     actions,
	}
}

func floatPtr(v float64) *float64 { return &v }

var automationTemplates = []AutomationTemplate{
	{
		Key:         "overdue-task-approval",
		Name:        "Escalate overdue tasks",
		Description: "Notify the assignee and ask for approval when a task becomes overdue.",
		Trigger:     TriggerTaskOverdue,
		Actions: []models.ActionConfig{
			{Type: string(ActionSendNotification), Order: 1, Config: map[string]interface{}{
				"title": "Task overdue",
				"body":  "{{taskTitle}} is past its due date",
			}},
			{Type: string(ActionCreateApproval), Order: 2, Config: map[string]interface{}{
				"title": "Extend deadline for {{taskTitle}}",
			}},
		},
	},
	{
		Key:         "cleaning-done-notify",
		Name:        "Cleaning finished",
		Description: "Tell the household when the cleaner marks the job done.",
		Trigger:     TriggerCleaningCompleted,
		Actions: []models.ActionConfig{
			{Type: string(ActionSendNotification), Order: 1, Config: map[string]interface{}{
				"title": "Cleaning complete",
				"body":  "{{vendorName}} finished cleaning",
			}},
			{Type: string(ActionLogEvent), Order: 2, Config: map[string]interface{}{
				"message": "cleaning completed by {{vendorName}}",
			}},
		},
	},
	{
		Key:         "large-expense-approval",
		Name:        "Approve large expenses",
		Description: "Require an approval for expenses of 500 or more.",
		Trigger:     TriggerExpenseCreated,
		Conditions:  &models.AutomationConditions{MinAmount: floatPtr(500)},
		Actions: []models.ActionConfig{
			{Type: string(ActionCreateApproval), Order: 1, Config: map[string]interface{}{
				"title":       "Expense approval: {{description}}",
				"description": "Amount {{amount}} submitted by {{userId}}",
			}},
		},
	},
	{
		Key:         "vendor-arrival-unlock",
		Name:        "Unlock for vendor",
		Description: "Unlock the front door when an approved vendor arrives.",
		Trigger:     TriggerVendorArrived,
		Actions: []models.ActionConfig{
			{Type: string(ActionUnlockDoor), Order: 1, Config: map[string]interface{}{
				"lockId": "{{lockId}}",
			}},
			{Type: string(ActionSendNotification), Order: 2, Config: map[string]interface{}{
				"title": "Vendor arrived",
				"body":  "{{vendorName}} has arrived and the door was unlocked",
			}},
		},
	},
	{
		Key:         "guest-checkout-lock",
		Name:        "Lock after guest checkout",
		Description: "Lock the door and schedule cleaning after a guest departs.",
		Trigger:     TriggerGuestDeparted,
		Actions: []models.ActionConfig{
			{Type: string(ActionLockDoor), Order: 1, Config: map[string]interface{}{
				"lockId": "{{lockId}}",
			}},
			{Type: string(ActionCreateTask), Order: 2, Config: map[string]interface{}{
				"title":      "Clean after {{guestName}}",
				"category":   "cleaning",
				"dueInHours": 24,
			}},
		},
	},
}

// ListTemplates returns the starter catalog.
func ListTemplates() []AutomationTemplate {
	out := make([]AutomationTemplate, len(automationTemplates))
	copy(out, automationTemplates)
	return out
}

func FindTemplate(key string) (AutomationTemplate, bool) {
	for _, t := range automationTemplates {
		if t.Key == key {
			return t, true
		}
	}
	return AutomationTemplate{}, false
}
