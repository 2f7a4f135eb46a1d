package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hndld/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RunRecorder persists the lifecycle of automation runs.
// Only Start reports errors; the later writes are best-effort and logged.
type RunRecorder struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

func NewRunRecorder(db *gorm.DB, logger *logrus.Logger) *RunRecorder {
	return &RunRecorder{db: db, logger: defaultLogger(logger), now: time.Now}
}

// Start inserts the RUNNING row before any action executes.
func (r *RunRecorder) Start(ctx context.Context, automation *models.Automation, event TriggerEvent) (*models.AutomationRun, error) {
	run := &models.AutomationRun{
		AutomationID:    automation.ID,
		TenantID:        automation.TenantID,
		TriggeredBy:     event.snapshot(),
		Status:          models.RunStatusRunning,
		ActionsExecuted: []models.ActionOutcome{},
		StartedAt:       r.now(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Append records one action outcome on the run.
func (r *RunRecorder) Append(ctx context.Context, run *models.AutomationRun, actionType string, res ActionResult) {
	outcome := models.ActionOutcome{
		Type:       actionType,
		Status:     models.ActionStatusSuccess,
		Result:     res.Result,
		ExecutedAt: r.now(),
	}
	if !res.Success {
		outcome.Status = models.ActionStatusFailed
		outcome.Error = res.Error
	}
	run.ActionsExecuted = append(run.ActionsExecuted, outcome)

	err := r.db.WithContext(ctx).Model(run).
		Select("ActionsExecuted").
		Updates(&models.AutomationRun{ActionsExecuted: run.ActionsExecuted}).Error
	if err != nil {
		r.logger.WithField("run_id", run.ID).Warnf("automation: record action outcome failed: %v", err)
	}
}

// Finish sets the terminal status and folds the outcome into the automation's statistics.
func (r *RunRecorder) Finish(ctx context.Context, run *models.AutomationRun, status models.RunStatus, runErr string) {
	completed := r.now()
	run.Status = status
	run.CompletedAt = &completed
	if runErr != "" {
		run.Error = &runErr
	}

	err := r.db.WithContext(ctx).Model(run).
		Select("Status", "Error", "CompletedAt", "ActionsExecuted").
		Updates(&models.AutomationRun{
			Status:          run.Status,
			Error:           run.Error,
			CompletedAt:     run.CompletedAt,
			ActionsExecuted: run.ActionsExecuted,
		}).Error
	if err != nil {
		r.logger.WithField("run_id", run.ID).Warnf("automation: finalize run failed: %v", err)
	}

	if err := r.updateStats(ctx, run.AutomationID, status, run.Error, completed); err != nil {
		r.logger.WithField("automation_id", run.AutomationID).Warnf("automation: update stats failed: %v", err)
	}
}

// updateStats increments run_count in SQL so concurrent runs never lose an increment.
func (r *RunRecorder) updateStats(ctx context.Context, automationID string, status models.RunStatus, runErr *string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Automation{}).
		Where("id = ?", automationID).
		UpdateColumns(map[string]interface{}{
			"run_count":       gorm.Expr("run_count + ?", 1),
			"last_run_at":     at,
			"last_run_status": status,
			"last_run_error":  runErr,
		}).Error
}

// RunListRequest 运行记录查询参数
type RunListRequest struct {
	TenantID     string
	AutomationID string
	Status       models.RunStatus
	Page         int
	PageSize     int
}

// List returns runs newest first with the total match count.
func (r *RunRecorder) List(ctx context.Context, req RunListRequest) ([]models.AutomationRun, int64, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	q := r.db.WithContext(ctx).Model(&models.AutomationRun{}).Where("tenant_id = ?", req.TenantID)
	if req.AutomationID != "" {
		q = q.Where("automation_id = ?", req.AutomationID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var runs []models.AutomationRun
	if err := q.Order("started_at DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (r *RunRecorder) Get(ctx context.Context, tenantID, runID string) (*models.AutomationRun, error) {
	var run models.AutomationRun
	err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", runID, tenantID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

const abandonedRunError = "run abandoned"

// ReconcileStaleRuns marks RUNNING runs started before cutoff as FAILED.
// It is never called by the engine itself; operators run it explicitly.
func (r *RunRecorder) ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	now := r.now()
	res := r.db.WithContext(ctx).Model(&models.AutomationRun{}).
		Where("status = ? AND completed_at IS NULL AND started_at < ?", models.RunStatusRunning, now.Add(-olderThan)).
		UpdateColumns(map[string]interface{}{
			"status":       models.RunStatusFailed,
			"error":        abandonedRunError,
			"completed_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reconcile runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
