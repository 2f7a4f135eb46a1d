package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"hndld/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// ActionRequest is what a handler sees of the run it belongs to.
type ActionRequest struct {
	Event      TriggerEvent
	Automation *models.Automation
}

func (r ActionRequest) scopeID() *string {
	if r.Automation != nil && r.Automation.ScopeID != nil {
		return r.Automation.ScopeID
	}
	if r.Event.ScopeID != "" {
		s := r.Event.ScopeID
		return &s
	}
	return nil
}

// dataString reads an event field as a string ("" when absent or null).
func (r ActionRequest) dataString(key string) string {
	v, ok := r.Event.Data[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

func (r ActionRequest) render(template string) string {
	return Interpolate(template, r.Event.Data)
}

// ActionHandler executes one action type. raw is the stored config blob;
// each handler decodes and validates its own shape.
type ActionHandler interface {
	Execute(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult

func (f ActionHandlerFunc) Execute(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	return f(ctx, req, raw)
}

// ActionDeps are the collaborators the built-in handlers call.
type ActionDeps struct {
	Store    HouseholdStore
	Notifier NotificationSender
	Locks    *LockProviderRegistry
	Webhooks WebhookTransport
	Email    EmailSender
	Logger   *logrus.Logger
	Now      func() time.Time
}

// ActionExecutor dispatches an ActionConfig to the handler registered for its type.
type ActionExecutor struct {
	mu       sync.RWMutex
	handlers map[ActionType]ActionHandler
	deps     ActionDeps
	logger   *logrus.Logger
}

func NewActionExecutor(deps ActionDeps) *ActionExecutor {
	deps.Logger = defaultLogger(deps.Logger)
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Locks == nil {
		deps.Locks = NewLockProviderRegistry(deps.Logger)
	}
	if deps.Email == nil {
		deps.Email = NewLogEmailSender(deps.Logger)
	}
	e := &ActionExecutor{
		handlers: make(map[ActionType]ActionHandler),
		deps:     deps,
		logger:   deps.Logger,
	}
	e.Register(ActionSendNotification, ActionHandlerFunc(e.sendNotification))
	e.Register(ActionCreateTask, ActionHandlerFunc(e.createTask))
	e.Register(ActionCompleteTask, ActionHandlerFunc(e.completeTask))
	e.Register(ActionCreateApproval, ActionHandlerFunc(e.createApproval))
	e.Register(ActionAutoApprove, ActionHandlerFunc(e.autoApprove))
	e.Register(ActionLockDoor, ActionHandlerFunc(e.lockDoor))
	e.Register(ActionUnlockDoor, ActionHandlerFunc(e.unlockDoor))
	e.Register(ActionAddCalendarEvent, ActionHandlerFunc(e.addCalendarEvent))
	e.Register(ActionTriggerWebhook, ActionHandlerFunc(e.triggerWebhook))
	e.Register(ActionLogEvent, ActionHandlerFunc(e.logEvent))
	e.Register(ActionSendEmail, ActionHandlerFunc(e.sendEmail))
	e.Register(ActionSendSMS, ActionHandlerFunc(e.sendSMS))
	e.Register(ActionUpdateBudget, ActionHandlerFunc(e.updateBudget))
	return e
}

// Register installs or replaces the handler for t.
func (e *ActionExecutor) Register(t ActionType, h ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = h
}

// Supports reports whether a handler exists for the action type.
func (e *ActionExecutor) Supports(actionType string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.handlers[ActionType(actionType)]
	return ok
}

// Execute runs one action. It never panics; every problem becomes a failed result.
func (e *ActionExecutor) Execute(ctx context.Context, action models.ActionConfig, event TriggerEvent, automation *models.Automation) (res ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"action": action.Type,
				"stack":  string(debug.Stack()),
			}).Error("automation action panicked")
			res = ActionResult{Success: false, Error: fmt.Sprintf("action panicked: %v", r)}
		}
	}()

	e.mu.RLock()
	h, ok := e.handlers[ActionType(action.Type)]
	e.mu.RUnlock()
	if !ok {
		return ActionResult{Success: false, Error: "unknown action type: " + action.Type}
	}
	return h.Execute(ctx, ActionRequest{Event: event, Automation: automation}, action.Config)
}

var configValidator = validator.New()

// decodeConfig decodes a stored config blob into a typed struct.
// Unknown keys are ignored; scalars are coerced ("42" -> 42, 42 -> "42").
func decodeConfig(raw map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid action config: %w", err)
	}
	if err := configValidator.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid action config: field %s failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid action config: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func automationName(a *models.Automation) string {
	if a == nil {
		return ""
	}
	return a.Name
}

func automationID(a *models.Automation) string {
	if a == nil {
		return ""
	}
	return a.ID
}

type notificationConfig struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	// Message is accepted as an alias of Body.
	Message string `json:"message"`
}

func (e *ActionExecutor) sendNotification(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg notificationConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return actionFailed(err)
	}
	userID := firstNonEmpty(cfg.UserID, req.dataString("userId"))
	if userID == "" {
		return actionFailed(errors.New("missing target user id"))
	}
	if e.deps.Notifier == nil {
		return actionFailed(errors.New("notification sender not configured"))
	}
	title := req.render(firstNonEmpty(cfg.Title, automationName(req.Automation)))
	body := req.render(firstNonEmpty(cfg.Body, cfg.Message))
	if err := e.deps.Notifier.Send(ctx, req.Event.TenantID, userID, title, body); err != nil {
		return actionFailed(err)
	}
	return actionOK(map[string]interface{}{"userId": userID, "title": title})
}

type createTaskConfig struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Category    string   `json:"category"`
	AssigneeID  string   `json:"assigneeId"`
	DueInHours  *float64 `json:"dueInHours" validate:"omitempty,gte=0"`
}

func (e *ActionExecutor) createTask(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg createTaskConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return actionFailed(err)
	}
	task := &models.Task{
		TenantID:     req.Event.TenantID,
		ScopeID:      req.scopeID(),
		Title:        req.render(firstNonEmpty(cfg.Title, "Automated task")),
		Description:  req.render(cfg.Description),
		Priority:     firstNonEmpty(cfg.Priority, "medium"),
		Category:     firstNonEmpty(cfg.Category, req.dataString("category")),
		AssigneeID:   req.render(cfg.AssigneeID),
		AutomationID: automationID(req.Automation),
	}
	if cfg.DueInHours != nil {
		due := e.deps.Now().Add(time.Duration(*cfg.DueInHours * float64(time.Hour)))
		task.DueAt = &due
	}
	created, err := e.deps.Store.CreateTask(ctx, task)
	if err != nil {
		return actionFailed(err)
	}
	return actionOK(map[string]interface{}{"taskId": created.ID, "title": created.Title})
}

type completeTaskConfig struct {
	TaskID string `json:"taskId"`
}

func (e *ActionExecutor) completeTask(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg completeTaskConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return actionFailed(err)
	}
	taskID := firstNonEmpty(req.render(cfg.TaskID), req.dataString("taskId"))
	if taskID == "" {
		return actionFailed(errors.New("missing task id"))
	}
	if err := e.deps.Store.CompleteTask(ctx, req.Event.TenantID, taskID); err != nil {
		return actionFailed(err)
	}
	return actionOK(map[string]interface{}{"taskId": taskID})
}

type createApprovalConfig struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Amount      *float64 `json:"amount"`
}

func (e *ActionExecutor) createApproval(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg createApprovalConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return actionFailed(err)
	}
	amount := cfg.Amount
	if amount == nil {
		if v, ok := numericField(req.Event.Data, "amount"); ok {
			amount = &v
		}
	}
	approval := &models.Approval{
		TenantID:     req.Event.TenantID,
		ScopeID:      req.scopeID(),
		Title:        req.render(firstNonEmpty(cfg.Title, "Approval required")),
		Description:  req.render(cfg.Description),
		Amount:       amount,
		RequestedBy:  req.dataString("userId"),
		AutomationID: automationID(req.Automation),
	}
	created, err := e.deps.Store.CreateApproval(ctx, approval)
	if err != nil {
		return actionFailed(err)
	}
	return actionOK(map[string]interface{}{"approvalId": created.ID, "title": created.Title})
}

type autoApproveConfig struct {
	ApprovalID string `json:"approvalId"`
}

func (e *ActionExecutor) autoApprove(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg autoApproveConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return actionFailed(err)
	}
	approvalID := firstNonEmpty(req.render(cfg.ApprovalID), req.dataString("approvalId"))
	if approvalID == "" {
		return actionFailed(errors.New("missing approval id"))
	}
	if err := e.deps.Store.ApproveApproval(ctx, req.Event.TenantID, approvalID); err != nil {
		return actionFailed(err)
	}
	return actionOK(map[string]interface{}{"approvalId": approvalID})
}

type lockConfig struct {
	LockID string `json:"lockId"`
}

func (e *ActionExecutor) lockDoor(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	return e.driveLock(ctx, req, raw, true)
}

func (e *ActionExecutor) unlockDoor(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	return e.driveLock(ctx, req, raw, false)
}

func (e *ActionExecutor) driveLock(ctx context.Context, req ActionRequest, raw map[string]interface{}, lock bool) ActionResult {
	var cfg lockConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return actionFailed(err)
	}
	lockID := firstNonEmpty(req.render(cfg.LockID), req.dataString("lockId"))
	if lockID == "" {
		return actionFailed(errors.New("missing lock id"))
	}
	sl, err := e.deps.Store.GetSmartLock(ctx, req.Event.TenantID, lockID)
	if err != nil {
		return actionFailed(err)
	}

	provider := e.deps.Locks.Get(sl.Provider)
	cmd := LockCommand{LockID: sl.ID, ExternalID: sl.ExternalID, AccessToken: sl.AccessToken}
	state := models.LockStateLocked
	if lock {
		err = provider.Lock(ctx, cmd)
	} else {
		err = provider.Unlock(ctx, cmd)
		state = models.LockStateUnlocked
	}
	if err != nil {
		return actionFailed(fmt.Errorf("lock provider %s: %w", sl.Provider, err))
	}

	// 状态回写失败不影响动作结果，设备已经执行
	if err := e.deps.Store.UpdateLockState(ctx, sl.ID, state); err != nil {
		e.logger.WithField("lock_id", sl.ID).Warnf("automation: update lock state failed: %v", err)
	}
	return actionOK(map[string]interface{}{"lockId": sl.ID, "provider": sl.Provider, "state": state})
}

type calendarConfig struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	StartAt         string `json:"startAt"`
	EndAt           string `json:"endAt"`
	DurationMinutes int    `json:"durationMinutes" validate:"gte=0"`
}

func (e *ActionExecutor) addCalendarEvent(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg calendarConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return actionFailed(err)
	}

	start := e.deps.Now()
	if s := req.render(cfg.StartAt); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return actionFailed(fmt.Errorf("invalid startAt %q: %w", s, err))
		}
		start = t
	}
	duration := time.Hour
	if cfg.DurationMinutes > 0 {
		duration = time.Duration(cfg.DurationMinutes) * time.Minute
	}
	end := start.Add(duration)
	if s := req.render(cfg.EndAt); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return actionFailed(fmt.Errorf("invalid endAt %q: %w", s, err))
		}
		end = t
	}

	ev := &models.CalendarEvent{
		TenantID:     req.Event.TenantID,
		ScopeID:      req.scopeID(),
		Title:        req.render(firstNonEmpty(cfg.Title, automationName(req.Automation))),
		Description:  req.render(cfg.Description),
		StartAt:      start,
		EndAt:        end,
		AutomationID: automationID(req.Automation),
	}
	created, err := e.deps.Store.CreateCalendarEvent(ctx, ev)
	if err != nil {
		return actionFailed(err)
	}
	return actionOK(map[string]interface{}{"eventId": created.ID, "title": created.Title})
}

type webhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// webhookEnvelope is the JSON body POSTed by trigger-webhook.
type webhookEnvelope struct {
	Event      models.TriggerSnapshot `json:"event"`
	Automation webhookAutomation      `json:"automation"`
	Timestamp  string                 `json:"timestamp"`
}

type webhookAutomation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e *ActionExecutor) triggerWebhook(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg webhookConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return actionFailed(err)
	}
	target := req.render(cfg.URL)
	if target == "" {
		return actionFailed(errors.New("missing webhook url"))
	}
	if err := configValidator.Var(target, "url"); err != nil {
		return actionFailed(fmt.Errorf("invalid webhook url %q", target))
	}
	if e.deps.Webhooks == nil {
		return actionFailed(errors.New("webhook transport not configured"))
	}

	body, err := json.Marshal(webhookEnvelope{
		Event:      req.Event.snapshot(),
		Automation: webhookAutomation{ID: automationID(req.Automation), Name: automationName(req.Automation)},
		Timestamp:  e.deps.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return actionFailed(fmt.Errorf("marshal webhook payload: %w", err))
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = req.render(v)
	}

	status, err := e.deps.Webhooks.Post(ctx, target, headers, body)
	if err != nil {
		return actionFailed(err)
	}
	if status < 200 || status > 299 {
		return actionFailed(fmt.Errorf("webhook returned status %d", status))
	}
	return actionOK(map[string]interface{}{"status": status})
}

type logEventConfig struct {
	Message string `json:"message"`
	Level   string `json:"level" validate:"omitempty,oneof=debug info warn error"`
}

func (e *ActionExecutor) logEvent(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg logEventConfig
	// log-event never fails: a malformed config still logs the default line.
	_ = decodeConfig(raw, &cfg)
	msg := req.render(firstNonEmpty(cfg.Message, fmt.Sprintf("automation %s triggered by %s", automationName(req.Automation), req.Event.Type)))
	entry := e.logger.WithFields(logrus.Fields{
		"automation_id": automationID(req.Automation),
		"tenant_id":     req.Event.TenantID,
		"trigger":       req.Event.Type,
	})
	switch cfg.Level {
	case "debug":
		entry.Debug(msg)
	case "warn":
		entry.Warn(msg)
	case "error":
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
	return actionOK(map[string]interface{}{"message": msg})
}

type sendEmailConfig struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Message string `json:"message"`
}

func (e *ActionExecutor) sendEmail(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg sendEmailConfig
	_ = decodeConfig(raw, &cfg)
	to := firstNonEmpty(req.render(cfg.To), req.dataString("email"))
	subject := req.render(firstNonEmpty(cfg.Subject, automationName(req.Automation)))
	body := req.render(firstNonEmpty(cfg.Body, cfg.Message))
	// send-email never fails the run: delivery problems are logged and reported in the result.
	if to == "" {
		e.logger.WithField("automation_id", automationID(req.Automation)).Warn("automation email skipped: no recipient")
		return actionOK(map[string]interface{}{"to": "", "subject": subject, "delivered": false, "error": "missing recipient"})
	}
	if err := e.deps.Email.Send(ctx, to, subject, body); err != nil {
		e.logger.WithFields(logrus.Fields{
			"automation_id": automationID(req.Automation),
			"to":            to,
		}).Warnf("automation email not delivered: %v", err)
		return actionOK(map[string]interface{}{"to": to, "subject": subject, "delivered": false, "error": err.Error()})
	}
	return actionOK(map[string]interface{}{"to": to, "subject": subject, "delivered": true})
}

type sendSMSConfig struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (e *ActionExecutor) sendSMS(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg sendSMSConfig
	_ = decodeConfig(raw, &cfg)
	to := firstNonEmpty(req.render(cfg.To), req.dataString("phone"))
	msg := req.render(cfg.Message)
	// 暂无短信通道，仅记录
	e.logger.WithFields(logrus.Fields{
		"to":            to,
		"automation_id": automationID(req.Automation),
	}).Infof("automation sms (not delivered): %s", msg)
	return actionOK(map[string]interface{}{"to": to, "message": msg})
}

type updateBudgetConfig struct {
	BudgetID   string  `json:"budgetId"`
	Adjustment float64 `json:"adjustment"`
}

func (e *ActionExecutor) updateBudget(ctx context.Context, req ActionRequest, raw map[string]interface{}) ActionResult {
	var cfg updateBudgetConfig
	_ = decodeConfig(raw, &cfg)
	budgetID := firstNonEmpty(req.render(cfg.BudgetID), req.dataString("budgetId"))
	e.logger.WithFields(logrus.Fields{
		"budget_id":     budgetID,
		"adjustment":    cfg.Adjustment,
		"automation_id": automationID(req.Automation),
	}).Info("automation budget adjustment (not applied)")
	return actionOK(map[string]interface{}{"budgetId": budgetID, "adjustment": cfg.Adjustment})
}
