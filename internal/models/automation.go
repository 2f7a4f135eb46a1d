package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunStatus is the lifecycle state of an AutomationRun.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// ActionStatus is the outcome of a single executed action.
type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "SUCCESS"
	ActionStatusFailed  ActionStatus = "FAILED"
)

// AutomationConditions 自动化条件（全部可选，AND 组合）
// Keys follow the stored client payload (camelCase); unknown keys are dropped on decode.
// The id lists keep null distinct from [] so an empty list still matches nothing after a reload.
type AutomationConditions struct {
	UserIDs        []string `json:"userIds"`
	VendorIDs      []string `json:"vendorIds"`
	TaskCategories []string `json:"taskCategories"`
	MinAmount      *float64 `json:"minAmount,omitempty"`
	MaxAmount      *float64 `json:"maxAmount,omitempty"`
}

// ActionConfig is one configured step of an automation's pipeline.
type ActionConfig struct {
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config"`
	Order  int                    `json:"order"`
}

// Automation 自动化定义（租户所有）
type Automation struct {
	ID            string                 `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID      string                 `gorm:"index:idx_automations_lookup;not null" json:"tenant_id"`
	ScopeID       *string                `gorm:"index" json:"scope_id,omitempty"`
	Name          string                 `gorm:"not null" json:"name"`
	Description   string                 `gorm:"type:text" json:"description"`
	Trigger       string                 `gorm:"column:trigger_type;index:idx_automations_lookup;not null" json:"trigger"`
	TriggerConfig map[string]interface{} `gorm:"type:text;serializer:json" json:"trigger_config,omitempty"`
	Conditions    *AutomationConditions  `gorm:"type:text;serializer:json" json:"conditions,omitempty"`
	Actions       []ActionConfig         `gorm:"type:text;serializer:json" json:"actions"`
	IsEnabled     bool                   `gorm:"not null" json:"is_enabled"`
	IsPaused      bool                   `gorm:"not null" json:"is_paused"`
	PauseUntil    *time.Time             `json:"pause_until,omitempty"`
	RunCount      int64                  `gorm:"not null;default:0" json:"run_count"`
	LastRunAt     *time.Time             `json:"last_run_at,omitempty"`
	LastRunStatus *RunStatus             `json:"last_run_status,omitempty"`
	LastRunError  *string                `gorm:"type:text" json:"last_run_error,omitempty"`
	CreatedBy     string                 `json:"created_by,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (a *Automation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// TriggerSnapshot is the copy of the triggering event stored on each run for audit/replay.
type TriggerSnapshot struct {
	Type     string                 `json:"type"`
	TenantID string                 `json:"tenantId"`
	ScopeID  string                 `json:"scopeId,omitempty"`
	Data     map[string]interface{} `json:"data"`
}

// ActionOutcome records one executed action within a run.
type ActionOutcome struct {
	Type       string                 `json:"type"`
	Status     ActionStatus           `json:"status"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ExecutedAt time.Time              `json:"executedAt"`
}

// AutomationRun 执行记录用于审计
type AutomationRun struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AutomationID    string          `gorm:"index;not null" json:"automation_id"`
	TenantID        string          `gorm:"index;not null" json:"tenant_id"`
	TriggeredBy     TriggerSnapshot `gorm:"type:text;serializer:json" json:"triggered_by"`
	Status          RunStatus       `gorm:"index;not null" json:"status"`
	ActionsExecuted []ActionOutcome `gorm:"type:text;serializer:json" json:"actions_executed"`
	Error           *string         `gorm:"type:text" json:"error,omitempty"`
	StartedAt       time.Time       `gorm:"index" json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func (r *AutomationRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
