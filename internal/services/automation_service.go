package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"hndld/internal/metrics"
	"hndld/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const defaultMaxConcurrentRuns = 4

// AutomationService routes trigger events to matching automations and manages their definitions.
type AutomationService struct {
	db       *gorm.DB
	executor *ActionExecutor
	recorder *RunRecorder
	logger   *logrus.Logger
	tracer   trace.Tracer
	now      func() time.Time

	maxConcurrentRuns int
}

// AutomationServiceOption customises NewAutomationService.
type AutomationServiceOption func(*AutomationService)

// WithMaxConcurrentRuns bounds how many runs of one event execute at once.
func WithMaxConcurrentRuns(n int) AutomationServiceOption {
	return func(s *AutomationService) {
		if n > 0 {
			s.maxConcurrentRuns = n
		}
	}
}

// WithClock overrides the time source used for pause checks.
func WithClock(now func() time.Time) AutomationServiceOption {
	return func(s *AutomationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRunRecorder replaces the default recorder (tests use it to pin timestamps).
func WithRunRecorder(r *RunRecorder) AutomationServiceOption {
	return func(s *AutomationService) {
		if r != nil {
			s.recorder = r
		}
	}
}

func NewAutomationService(db *gorm.DB, executor *ActionExecutor, logger *logrus.Logger, opts ...AutomationServiceOption) *AutomationService {
	logger = defaultLogger(logger)
	s := &AutomationService{
		db:                db,
		executor:          executor,
		recorder:          NewRunRecorder(db, logger),
		logger:            logger,
		tracer:            otel.Tracer("hndld/automation"),
		now:               time.Now,
		maxConcurrentRuns: defaultMaxConcurrentRuns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessTrigger fires every enabled automation of the event's tenant whose trigger,
// pause state, scope and conditions match. It never returns an error or panics.
func (s *AutomationService) ProcessTrigger(ctx context.Context, event TriggerEvent) {
	ctx, span := s.tracer.Start(ctx, "automation.ProcessTrigger", trace.WithAttributes(
		attribute.String("automation.trigger", event.Type),
		attribute.String("automation.tenant_id", event.TenantID),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"trigger": event.Type,
				"stack":   string(debug.Stack()),
			}).Errorf("automation: process trigger panicked: %v", r)
			span.SetStatus(codes.Error, "panic")
		}
	}()

	metrics.IncTrigger()
	if s.db == nil || event.TenantID == "" || event.Type == "" {
		s.logger.WithField("trigger", event.Type).Warn("automation: trigger ignored, missing tenant or type")
		return
	}

	candidates, err := s.loadCandidates(ctx, event)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"trigger":   event.Type,
			"tenant_id": event.TenantID,
		}).Warnf("automation: load automations failed: %v", err)
		span.RecordError(err)
		return
	}

	now := s.now()
	matched := make([]*models.Automation, 0, len(candidates))
	for i := range candidates {
		a := &candidates[i]
		if reason := s.skipReason(a, event, now); reason != "" {
			metrics.IncAutomationSkip(reason)
			s.logger.WithFields(logrus.Fields{
				"automation_id": a.ID,
				"reason":        reason,
			}).Debug("automation skipped")
			continue
		}
		matched = append(matched, a)
	}
	span.SetAttributes(
		attribute.Int("automation.candidates", len(candidates)),
		attribute.Int("automation.matched", len(matched)),
	)
	if len(matched) == 0 {
		return
	}

	p := pool.New().WithMaxGoroutines(s.maxConcurrentRuns)
	for _, a := range matched {
		a := a
		p.Go(func() {
			s.runAutomation(ctx, a, event)
		})
	}
	p.Wait()
}

func (s *AutomationService) loadCandidates(ctx context.Context, event TriggerEvent) ([]models.Automation, error) {
	var list []models.Automation
	// map 条件，零值 false 也会参与过滤
	err := s.db.WithContext(ctx).
		Where(map[string]interface{}{
			"tenant_id":    event.TenantID,
			"trigger_type": event.Type,
			"is_enabled":   true,
			"is_paused":    false,
		}).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

// skipReason returns "" when the automation should run for the event.
func (s *AutomationService) skipReason(a *models.Automation, event TriggerEvent, now time.Time) string {
	if a.PauseUntil != nil && a.PauseUntil.After(now) {
		return "paused"
	}
	if a.ScopeID != nil && *a.ScopeID != "" && event.ScopeID != "" && *a.ScopeID != event.ScopeID {
		return "scope"
	}
	if !MatchConditions(a.Conditions, event.Data) {
		return "conditions"
	}
	return ""
}

// runAutomation executes one run end to end. Failures stay inside the run.
// A started run always reaches SUCCESS or FAILED: caller cancellation is dropped, trace values are kept.
func (s *AutomationService) runAutomation(ctx context.Context, a *models.Automation, event TriggerEvent) (run *models.AutomationRun) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "automation.Run", trace.WithAttributes(
		attribute.String("automation.id", a.ID),
		attribute.String("automation.name", a.Name),
	))
	defer span.End()

	entry := s.logger.WithFields(logrus.Fields{
		"automation_id": a.ID,
		"tenant_id":     a.TenantID,
		"trigger":       event.Type,
	})

	finished := false
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("stack", string(debug.Stack())).Errorf("automation run panicked: %v", r)
			span.SetStatus(codes.Error, "panic")
			if run != nil && !finished {
				s.recorder.Finish(ctx, run, models.RunStatusFailed, fmt.Sprintf("unexpected error: %v", r))
				metrics.IncAutomationRun(string(models.RunStatusFailed))
			}
		}
	}()

	run, err := s.recorder.Start(ctx, a, event)
	if err != nil {
		entry.Warnf("automation: start run failed: %v", err)
		span.RecordError(err)
		return nil
	}

	status := models.RunStatusSuccess
	runErr := ""
	for _, action := range orderedActions(a.Actions) {
		res := s.executor.Execute(ctx, action, event, a)
		s.recorder.Append(ctx, run, action.Type, res)
		if !res.Success {
			status = models.RunStatusFailed
			runErr = res.Error
			entry.WithField("action", action.Type).Warnf("automation action failed: %s", res.Error)
			break
		}
	}

	s.recorder.Finish(ctx, run, status, runErr)
	finished = true
	metrics.IncAutomationRun(string(status))
	span.SetAttributes(attribute.String("automation.run_status", string(status)))
	if status == models.RunStatusFailed {
		span.SetStatus(codes.Error, runErr)
	}
	entry.WithFields(logrus.Fields{
		"run_id": run.ID,
		"status": status,
	}).Info("automation run finished")
	return run
}

// orderedActions sorts by Order ascending; ties keep their stored position.
func orderedActions(actions []models.ActionConfig) []models.ActionConfig {
	out := make([]models.ActionConfig, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// AutomationRequest 创建/替换自动化的请求
type AutomationRequest struct {
	Name          string                       `json:"name" binding:"required"`
	Description   string                       `json:"description"`
	Trigger       string                       `json:"trigger" binding:"required"`
	TriggerConfig map[string]interface{}       `json:"trigger_config"`
	ScopeID       *string                      `json:"scope_id"`
	Conditions    *models.AutomationConditions `json:"conditions"`
	Actions       []models.ActionConfig        `json:"actions"`
	IsEnabled     *bool                        `json:"is_enabled"`
}

func (s *AutomationService) validateRequest(req *AutomationRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAutomation)
	}
	if !IsSupportedTrigger(req.Trigger) {
		return fmt.Errorf("%w: unsupported trigger %q", ErrInvalidAutomation, req.Trigger)
	}
	if c := req.Conditions; c != nil && c.MinAmount != nil && c.MaxAmount != nil && *c.MinAmount > *c.MaxAmount {
		return fmt.Errorf("%w: minAmount greater than maxAmount", ErrInvalidAutomation)
	}
	for i, action := range req.Actions {
		if s.executor == nil || !s.executor.Supports(action.Type) {
			return fmt.Errorf("%w: action %d has unknown type %q", ErrInvalidAutomation, i, action.Type)
		}
	}
	return nil
}

// CreateAutomation stores a new automation for the tenant. Automations are enabled unless told otherwise.
func (s *AutomationService) CreateAutomation(ctx context.Context, tenantID, createdBy string, req *AutomationRequest) (*models.Automation, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}
	actions := req.Actions
	if actions == nil {
		actions = []models.ActionConfig{}
	}
	a := &models.Automation{
		TenantID:      tenantID,
		ScopeID:       req.ScopeID,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Trigger:       req.Trigger,
		TriggerConfig: req.TriggerConfig,
		Conditions:    req.Conditions,
		Actions:       actions,
		IsEnabled:     enabled,
		CreatedBy:     createdBy,
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("create automation: %w", err)
	}
	return a, nil
}

// ListAutomations returns the tenant's automations, newest first.
func (s *AutomationService) ListAutomations(ctx context.Context, tenantID, trigger string) ([]models.Automation, error) {
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if trigger != "" {
		q = q.Where("trigger_type = ?", trigger)
	}
	var list []models.Automation
	if err := q.Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	return list, nil
}

func (s *AutomationService) GetAutomation(ctx context.Context, tenantID, id string) (*models.Automation, error) {
	var a models.Automation
	err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAutomationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAutomation replaces the definition fields. Run statistics are left untouched.
func (s *AutomationService) UpdateAutomation(ctx context.Context, tenantID, id string, req *AutomationRequest) (*models.Automation, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	a, err := s.GetAutomation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	a.Name = strings.TrimSpace(req.Name)
	a.Description = req.Description
	a.Trigger = req.Trigger
	a.TriggerConfig = req.TriggerConfig
	a.ScopeID = req.ScopeID
	a.Conditions = req.Conditions
	a.Actions = req.Actions
	if a.Actions == nil {
		a.Actions = []models.ActionConfig{}
	}
	if req.IsEnabled != nil {
		a.IsEnabled = *req.IsEnabled
	}

	err = s.db.WithContext(ctx).Model(a).
		Select("Name", "Description", "Trigger", "TriggerConfig", "ScopeID", "Conditions", "Actions", "IsEnabled").
		Updates(a).Error
	if err != nil {
		return nil, fmt.Errorf("update automation: %w", err)
	}
	return a, nil
}

func (s *AutomationService) DeleteAutomation(ctx context.Context, tenantID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.Automation{})
	if res.Error != nil {
		return fmt.Errorf("delete automation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

// PauseAutomation sets isPaused, and pauseUntil when until is non-nil.
func (s *AutomationService) PauseAutomation(ctx context.Context, tenantID, id string, until *time.Time) (*models.Automation, error) {
	return s.setPaused(ctx, tenantID, id, true, until)
}

// ResumeAutomation clears both isPaused and pauseUntil.
func (s *AutomationService) ResumeAutomation(ctx context.Context, tenantID, id string) (*models.Automation, error) {
	return s.setPaused(ctx, tenantID, id, false, nil)
}

func (s *AutomationService) setPaused(ctx context.Context, tenantID, id string, paused bool, until *time.Time) (*models.Automation, error) {
	a, err := s.GetAutomation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	a.IsPaused = paused
	a.PauseUntil = until
	err = s.db.WithContext(ctx).Model(a).
		Select("IsPaused", "PauseUntil").
		Updates(a).Error
	if err != nil {
		return nil, fmt.Errorf("update pause state: %w", err)
	}
	return a, nil
}

// TestAutomation runs one automation immediately with sample data, bypassing the
// enabled/paused flags and the conditions. The event carries the automation's scope.
func (s *AutomationService) TestAutomation(ctx context.Context, tenantID, id string, data map[string]interface{}) (*models.AutomationRun, error) {
	a, err := s.GetAutomation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	event := TriggerEvent{Type: a.Trigger, TenantID: tenantID, Data: data}
	if a.ScopeID != nil {
		event.ScopeID = *a.ScopeID
	}
	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}
	run := s.runAutomation(ctx, a, event)
	if run == nil {
		return nil, errors.New("automation run could not be recorded")
	}
	return run, nil
}

func (s *AutomationService) ListRuns(ctx context.Context, req RunListRequest) ([]models.AutomationRun, int64, error) {
	return s.recorder.List(ctx, req)
}

func (s *AutomationService) GetRun(ctx context.Context, tenantID, runID string) (*models.AutomationRun, error) {
	return s.recorder.Get(ctx, tenantID, runID)
}

// ReconcileStaleRuns closes runs left RUNNING longer than olderThan. Never called automatically.
func (s *AutomationService) ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.recorder.ReconcileStaleRuns(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("count", n).Warn("automation: marked stale runs as failed")
	}
	return n, nil
}

// TemplateInstanceRequest overrides parts of a template when instantiating it.
type TemplateInstanceRequest struct {
	Name      string  `json:"name"`
	ScopeID   *string `json:"scope_id"`
	IsEnabled *bool   `json:"is_enabled"`
}

// CreateFromTemplate instantiates a catalog template as a normal automation.
func (s *AutomationService) CreateFromTemplate(ctx context.Context, tenantID, createdBy, key string, req TemplateInstanceRequest) (*models.Automation, error) {
	tpl, ok := FindTemplate(key)
	if !ok {
		return nil, ErrTemplateNotFound
	}
	ar := tpl.Request()
	if req.Name != "" {
		ar.Name = req.Name
	}
	ar.ScopeID = req.ScopeID
	ar.IsEnabled = req.IsEnabled
	return s.CreateAutomation(ctx, tenantID, createdBy, ar)
}
