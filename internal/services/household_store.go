package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hndld/internal/models"

	"gorm.io/gorm"
)

// HouseholdStore is the persistence surface actions write to.
type HouseholdStore interface {
	CreateTask(ctx context.Context, task *models.Task) (*models.Task, error)
	CompleteTask(ctx context.Context, tenantID, taskID string) error
	CreateApproval(ctx context.Context, approval *models.Approval) (*models.Approval, error)
	ApproveApproval(ctx context.Context, tenantID, approvalID string) error
	CreateCalendarEvent(ctx context.Context, event *models.CalendarEvent) (*models.CalendarEvent, error)
	GetSmartLock(ctx context.Context, tenantID, lockID string) (*models.SmartLock, error)
	UpdateLockState(ctx context.Context, lockID, state string) error
}

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrApprovalNotFound = errors.New("approval not found")
	ErrLockNotFound     = errors.New("lock not found")
)

// GormHouseholdStore implements HouseholdStore on gorm.
type GormHouseholdStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormHouseholdStore(db *gorm.DB) *GormHouseholdStore {
	return &GormHouseholdStore{db: db, now: time.Now}
}

func (s *GormHouseholdStore) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (s *GormHouseholdStore) CompleteTask(ctx context.Context, tenantID, taskID string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND tenant_id = ?", taskID, tenantID).
		Updates(map[string]interface{}{
			"status":       models.TaskStatusDone,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("complete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

func (s *GormHouseholdStore) CreateApproval(ctx context.Context, approval *models.Approval) (*models.Approval, error) {
	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}
	if err := s.db.WithContext(ctx).Create(approval).Error; err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return approval, nil
}

func (s *GormHouseholdStore) ApproveApproval(ctx context.Context, tenantID, approvalID string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Approval{}).
		Where("id = ? AND tenant_id = ?", approvalID, tenantID).
		Updates(map[string]interface{}{
			"status":      models.ApprovalStatusApproved,
			"approved_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("approve approval: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, approvalID)
	}
	return nil
}

func (s *GormHouseholdStore) CreateCalendarEvent(ctx context.Context, event *models.CalendarEvent) (*models.CalendarEvent, error) {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, fmt.Errorf("create calendar event: %w", err)
	}
	return event, nil
}

func (s *GormHouseholdStore) GetSmartLock(ctx context.Context, tenantID, lockID string) (*models.SmartLock, error) {
	var lock models.SmartLock
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", lockID, tenantID).
		First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotFound, lockID)
	}
	if err != nil {
		return nil, fmt.Errorf("load lock: %w", err)
	}
	return &lock, nil
}

func (s *GormHouseholdStore) UpdateLockState(ctx context.Context, lockID, state string) error {
	now := s.now()
	return s.db.WithContext(ctx).Model(&models.SmartLock{}).
		Where("id = ?", lockID).
		Updates(map[string]interface{}{
			"state":           state,
			"last_command_at": now,
			"updated_at":      now,
		}).Error
}
