package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task status values.
const (
	TaskStatusPending = "pending"
	TaskStatusDone    = "done"
)

// Approval status values.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
)

// Smart lock states.
const (
	LockStateUnknown  = "unknown"
	LockStateLocked   = "locked"
	LockStateUnlocked = "unlocked"
)

// Task 家务任务
type Task struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID     string     `gorm:"index;not null" json:"tenant_id"`
	ScopeID      *string    `gorm:"index" json:"scope_id,omitempty"`
	Title        string     `gorm:"not null" json:"title"`
	Description  string     `gorm:"type:text" json:"description"`
	Priority     string     `gorm:"default:'medium'" json:"priority"`
	Category     string     `json:"category"`
	Status       string     `gorm:"index;not null" json:"status"`
	AssigneeID   string     `json:"assignee_id,omitempty"`
	AutomationID string     `gorm:"index" json:"automation_id,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Approval 审批请求
type Approval struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID     string     `gorm:"index;not null" json:"tenant_id"`
	ScopeID      *string    `gorm:"index" json:"scope_id,omitempty"`
	Title        string     `gorm:"not null" json:"title"`
	Description  string     `gorm:"type:text" json:"description"`
	Amount       *float64   `json:"amount,omitempty"`
	Status       string     `gorm:"index;not null" json:"status"`
	RequestedBy  string     `json:"requested_by,omitempty"`
	AutomationID string     `gorm:"index" json:"automation_id,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (a *Approval) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// CalendarEvent 日历事件
type CalendarEvent struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID     string    `gorm:"index;not null" json:"tenant_id"`
	ScopeID      *string   `gorm:"index" json:"scope_id,omitempty"`
	Title        string    `gorm:"not null" json:"title"`
	Description  string    `gorm:"type:text" json:"description"`
	StartAt      time.Time `gorm:"index" json:"start_at"`
	EndAt        time.Time `json:"end_at"`
	AutomationID string    `gorm:"index" json:"automation_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (e *CalendarEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// SmartLock 智能门锁
type SmartLock struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID      string     `gorm:"index;not null" json:"tenant_id"`
	ScopeID       *string    `gorm:"index" json:"scope_id,omitempty"`
	Name          string     `json:"name"`
	Provider      string     `gorm:"not null" json:"provider"` // manual, mqtt, ...
	ExternalID    string     `json:"external_id"`
	AccessToken   string     `json:"-"`
	State         string     `gorm:"not null" json:"state"`
	LastCommandAt *time.Time `json:"last_command_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (l *SmartLock) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.State == "" {
		l.State = LockStateUnknown
	}
	return nil
}

// Notification is an in-app alert delivered to a household member.
type Notification struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID  string     `gorm:"index;not null" json:"tenant_id"`
	UserID    string     `gorm:"index;not null" json:"user_id"`
	Title     string     `json:"title"`
	Body      string     `gorm:"type:text" json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
