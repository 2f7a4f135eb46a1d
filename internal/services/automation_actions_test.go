package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hndld/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execAction(f *automationFixture, t ActionType, cfg map[string]interface{}, data map[string]interface{}) ActionResult {
	a := &models.Automation{ID: "auto-1", TenantID: "t1", Name: "My automation", Trigger: TriggerScheduled}
	event := TriggerEvent{Type: TriggerScheduled, TenantID: "t1", Data: data}
	return f.executor.Execute(context.Background(), models.ActionConfig{Type: string(t), Config: cfg}, event, a)
}

func TestExecutor_SupportsAllActionTypes(t *testing.T) {
	f := newAutomationFixture(t)
	for _, at := range []ActionType{
		ActionSendNotification, ActionCreateTask, ActionCompleteTask, ActionCreateApproval,
		ActionAutoApprove, ActionLockDoor, ActionUnlockDoor, ActionAddCalendarEvent,
		ActionTriggerWebhook, ActionLogEvent, ActionSendEmail, ActionSendSMS, ActionUpdateBudget,
	} {
		assert.True(t, f.executor.Supports(string(at)), at)
	}
	assert.False(t, f.executor.Supports("teleport"))
}

func TestExecutor_SendNotification(t *testing.T) {
	f := newAutomationFixture(t)

	res := execAction(f, ActionSendNotification, map[string]interface{}{"body": "Paid {{amount}}"},
		map[string]interface{}{"userId": "u1", "amount": 30})
	require.True(t, res.Success, res.Error)
	require.Equal(t, 1, f.notifier.count())
	sent := f.notifier.sent[0]
	assert.Equal(t, "u1", sent.UserID)
	assert.Equal(t, "t1", sent.TenantID)
	assert.Equal(t, "My automation", sent.Title)
	assert.Equal(t, "Paid 30", sent.Body)

	res = execAction(f, ActionSendNotification, map[string]interface{}{"userId": "u7", "message": "alias"}, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "alias", f.notifier.sent[1].Body)

	res = execAction(f, ActionSendNotification, nil, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "missing target user id", res.Error)

	f.notifier.err = errors.New("socket down")
	res = execAction(f, ActionSendNotification, map[string]interface{}{"userId": "u1"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "socket down", res.Error)
}

func TestExecutor_CreateAndCompleteTask(t *testing.T) {
	f := newAutomationFixture(t)

	res := execAction(f, ActionCreateTask, map[string]interface{}{
		"title":      "Water {{plant}}",
		"dueInHours": "2",
	}, map[string]interface{}{"plant": "ficus", "category": "garden"})
	require.True(t, res.Success, res.Error)

	var task models.Task
	require.NoError(t, f.db.First(&task, "id = ?", res.Result["taskId"]).Error)
	assert.Equal(t, "Water ficus", task.Title)
	assert.Equal(t, "medium", task.Priority)
	assert.Equal(t, "garden", task.Category)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, "auto-1", task.AutomationID)
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.Equal(f.now.Add(2*time.Hour)))

	res = execAction(f, ActionCompleteTask, nil, map[string]interface{}{"taskId": task.ID})
	require.True(t, res.Success, res.Error)
	require.NoError(t, f.db.First(&task, "id = ?", task.ID).Error)
	assert.Equal(t, models.TaskStatusDone, task.Status)
	assert.NotNil(t, task.CompletedAt)

	res = execAction(f, ActionCompleteTask, nil, nil)
	assert.Equal(t, "missing task id", res.Error)

	res = execAction(f, ActionCompleteTask, map[string]interface{}{"taskId": "ghost"}, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "task not found")
}

func TestExecutor_CreateTaskDefaultsAndValidation(t *testing.T) {
	f := newAutomationFixture(t)

	res := execAction(f, ActionCreateTask, nil, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Automated task", res.Result["title"])

	res = execAction(f, ActionCreateTask, map[string]interface{}{"priority": "whenever"}, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid action config")
}

func TestExecutor_ApprovalFlow(t *testing.T) {
	f := newAutomationFixture(t)

	res := execAction(f, ActionCreateApproval, nil, map[string]interface{}{"amount": "120.5", "userId": "u2"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Approval required", res.Result["title"])

	var approval models.Approval
	require.NoError(t, f.db.First(&approval, "id = ?", res.Result["approvalId"]).Error)
	require.NotNil(t, approval.Amount)
	assert.Equal(t, 120.5, *approval.Amount)
	assert.Equal(t, "u2", approval.RequestedBy)
	assert.Equal(t, models.ApprovalStatusPending, approval.Status)

	res = execAction(f, ActionAutoApprove, map[string]interface{}{"approvalId": "{{id}}"}, map[string]interface{}{"id": approval.ID})
	require.True(t, res.Success, res.Error)
	require.NoError(t, f.db.First(&approval, "id = ?", approval.ID).Error)
	assert.Equal(t, models.ApprovalStatusApproved, approval.Status)
	assert.NotNil(t, approval.ApprovedAt)

	res = execAction(f, ActionAutoApprove, nil, nil)
	assert.Equal(t, "missing approval id", res.Error)

	res = execAction(f, ActionAutoApprove, map[string]interface{}{"approvalId": "ghost"}, nil)
	assert.Contains(t, res.Error, "approval not found")
}

func TestExecutor_LockAndUnlock(t *testing.T) {
	f := newAutomationFixture(t)
	lock := models.SmartLock{TenantID: "t1", Name: "Front", Provider: "fake", ExternalID: "ext-1"}
	require.NoError(t, f.db.Create(&lock).Error)

	res := execAction(f, ActionUnlockDoor, map[string]interface{}{"lockId": lock.ID}, nil)
	require.True(t, res.Success, res.Error)
	res = execAction(f, ActionLockDoor, nil, map[string]interface{}{"lockId": lock.ID})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"unlock:ext-1", "lock:ext-1"}, f.locks.commands)

	var stored models.SmartLock
	require.NoError(t, f.db.First(&stored, "id = ?", lock.ID).Error)
	assert.Equal(t, models.LockStateLocked, stored.State)
	assert.NotNil(t, stored.LastCommandAt)

	res = execAction(f, ActionLockDoor, nil, nil)
	assert.Equal(t, "missing lock id", res.Error)

	res = execAction(f, ActionLockDoor, map[string]interface{}{"lockId": "ghost"}, nil)
	assert.Contains(t, res.Error, "lock not found")

	f.locks.err = errors.New("bridge offline")
	res = execAction(f, ActionLockDoor, map[string]interface{}{"lockId": lock.ID}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "lock provider fake: bridge offline", res.Error)
}

func TestExecutor_LockFromOtherTenantIsNotFound(t *testing.T) {
	f := newAutomationFixture(t)
	lock := models.SmartLock{TenantID: "t2", Provider: "fake", ExternalID: "ext-2"}
	require.NoError(t, f.db.Create(&lock).Error)

	res := execAction(f, ActionUnlockDoor, map[string]interface{}{"lockId": lock.ID}, nil)
	assert.False(t, res.Success)
	assert.Empty(t, f.locks.commands)
}

func TestExecutor_UnknownProviderFallsBackToManual(t *testing.T) {
	f := newAutomationFixture(t)
	lock := models.SmartLock{TenantID: "t1", Provider: "acme-cloud"}
	require.NoError(t, f.db.Create(&lock).Error)

	res := execAction(f, ActionUnlockDoor, map[string]interface{}{"lockId": lock.ID}, nil)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, f.locks.commands)

	var stored models.SmartLock
	require.NoError(t, f.db.First(&stored, "id = ?", lock.ID).Error)
	assert.Equal(t, models.LockStateUnlocked, stored.State)
}

func TestExecutor_AddCalendarEvent(t *testing.T) {
	f := newAutomationFixture(t)

	res := execAction(f, ActionAddCalendarEvent, map[string]interface{}{"title": "Visit from {{vendorName}}"},
		map[string]interface{}{"vendorName": "Bob"})
	require.True(t, res.Success, res.Error)
	var ev models.CalendarEvent
	require.NoError(t, f.db.First(&ev, "id = ?", res.Result["eventId"]).Error)
	assert.Equal(t, "Visit from Bob", ev.Title)
	assert.True(t, ev.StartAt.Equal(f.now))
	assert.True(t, ev.EndAt.Equal(f.now.Add(time.Hour)))

	res = execAction(f, ActionAddCalendarEvent, map[string]interface{}{
		"startAt":         "{{when}}",
		"durationMinutes": 30,
	}, map[string]interface{}{"when": "2024-06-01T09:00:00Z"})
	require.True(t, res.Success, res.Error)
	require.NoError(t, f.db.First(&ev, "id = ?", res.Result["eventId"]).Error)
	assert.Equal(t, "My automation", ev.Title)
	assert.True(t, ev.EndAt.Equal(time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)))

	res = execAction(f, ActionAddCalendarEvent, map[string]interface{}{"startAt": "tomorrow"}, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid startAt")
}

func TestExecutor_TriggerWebhook(t *testing.T) {
	f := newAutomationFixture(t)

	res := execAction(f, ActionTriggerWebhook, map[string]interface{}{"url": "https://hooks.example.com/{{path}}"},
		map[string]interface{}{"path": "bills"})
	require.True(t, res.Success, res.Error)
	require.Len(t, f.webhooks.targets, 1)
	assert.Equal(t, "https://hooks.example.com/bills", f.webhooks.targets[0])

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(f.webhooks.bodies[0], &envelope))
	assert.Equal(t, "2024-05-01T12:00:00Z", envelope["timestamp"])
	event := envelope["event"].(map[string]interface{})
	assert.Equal(t, TriggerScheduled, event["type"])
	assert.Equal(t, "t1", event["tenantId"])
	automation := envelope["automation"].(map[string]interface{})
	assert.Equal(t, "auto-1", automation["id"])
	assert.Equal(t, "My automation", automation["name"])

	res = execAction(f, ActionTriggerWebhook, nil, nil)
	assert.Equal(t, "missing webhook url", res.Error)

	res = execAction(f, ActionTriggerWebhook, map[string]interface{}{"url": "not a url"}, nil)
	assert.False(t, res.Success)

	f.webhooks.status = 503
	res = execAction(f, ActionTriggerWebhook, map[string]interface{}{"url": "https://hooks.example.com/x"}, nil)
	assert.Equal(t, "webhook returned status 503", res.Error)

	f.webhooks.err = errors.New("dial tcp: refused")
	res = execAction(f, ActionTriggerWebhook, map[string]interface{}{"url": "https://hooks.example.com/x"}, nil)
	assert.Equal(t, "dial tcp: refused", res.Error)
}

func TestExecutor_StubActionsNeverFail(t *testing.T) {
	f := newAutomationFixture(t)
	cases := []struct {
		at  ActionType
		cfg map[string]interface{}
	}{
		{ActionLogEvent, nil},
		{ActionLogEvent, map[string]interface{}{"level": "shout"}},
		{ActionLogEvent, map[string]interface{}{"message": "hello {{who}}", "level": "warn"}},
		{ActionSendSMS, map[string]interface{}{"to": "+100", "message": "hi"}},
		{ActionUpdateBudget, map[string]interface{}{"budgetId": "b1", "adjustment": "-20"}},
		{ActionUpdateBudget, map[string]interface{}{"adjustment": "lots"}},
	}
	for _, c := range cases {
		res := execAction(f, c.at, c.cfg, map[string]interface{}{"who": "world"})
		assert.True(t, res.Success, "%s: %s", c.at, res.Error)
	}

	res := execAction(f, ActionLogEvent, map[string]interface{}{"message": "hello {{who}}"}, map[string]interface{}{"who": "world"})
	assert.Equal(t, "hello world", res.Result["message"])
}

func TestExecutor_SendEmail(t *testing.T) {
	f := newAutomationFixture(t)

	res := execAction(f, ActionSendEmail, map[string]interface{}{"body": "Bill {{billId}} is due"},
		map[string]interface{}{"email": "owner@example.com", "billId": "b7"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "owner@example.com", f.email.to)
	assert.Equal(t, "My automation", f.email.subject)
	assert.Equal(t, "Bill b7 is due", f.email.body)

	assert.Equal(t, true, res.Result["delivered"])

	// 发送失败只记录，不中断流程
	f.email.err = errors.New("smtp refused")
	res = execAction(f, ActionSendEmail, map[string]interface{}{"to": "x@example.com"}, nil)
	assert.True(t, res.Success)
	assert.Equal(t, false, res.Result["delivered"])
	assert.Equal(t, "smtp refused", res.Result["error"])
}

func TestExecutor_SendEmailWithoutRecipientSkipsDelivery(t *testing.T) {
	f := newAutomationFixture(t)
	f.email.to = "untouched"

	res := execAction(f, ActionSendEmail, map[string]interface{}{"body": "hi"}, map[string]interface{}{"billId": "b1"})
	assert.True(t, res.Success)
	assert.Equal(t, false, res.Result["delivered"])
	assert.Equal(t, "untouched", f.email.to)
}

func TestProcessTrigger_EmailFailureDoesNotHaltPipeline(t *testing.T) {
	f := newAutomationFixture(t)
	f.email.err = errors.New("dial tcp: connection refused")
	a := f.seed(t, models.Automation{
		Trigger:   TriggerBillDue,
		IsEnabled: true,
		Actions: []models.ActionConfig{
			action(ActionSendEmail, 1, map[string]interface{}{"to": "owner@example.com"}),
			action(ActionLogEvent, 2, nil),
		},
	})

	f.svc.ProcessTrigger(context.Background(), TriggerEvent{Type: TriggerBillDue, TenantID: "t1"})

	runs := f.runsFor(t, a.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusSuccess, runs[0].Status)
	assert.Len(t, runs[0].ActionsExecuted, 2)
}

func TestExecutor_UnknownType(t *testing.T) {
	f := newAutomationFixture(t)
	res := execAction(f, ActionType("teleport"), nil, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "unknown action type: teleport", res.Error)
}

func TestExecutor_MQTTProviderEndToEnd(t *testing.T) {
	f := newAutomationFixture(t)
	client := &fakeMQTT{}
	registry := NewLockProviderRegistry(quietLogger())
	registry.Register("MQTT", NewMQTTLockProvider(client, "hndld/locks/", 1, quietLogger()))
	exec := NewActionExecutor(ActionDeps{Store: NewGormHouseholdStore(f.db), Locks: registry, Logger: quietLogger()})

	lock := models.SmartLock{TenantID: "t1", Provider: "mqtt", ExternalID: "door-9", AccessToken: "secret"}
	require.NoError(t, f.db.Create(&lock).Error)

	res := exec.Execute(context.Background(),
		models.ActionConfig{Type: string(ActionUnlockDoor), Config: map[string]interface{}{"lockId": lock.ID}},
		TriggerEvent{Type: TriggerVendorArrived, TenantID: "t1"}, &models.Automation{ID: "a"})
	require.True(t, res.Success, res.Error)
	require.Len(t, client.topics, 1)
	assert.Equal(t, "hndld/locks/door-9/command", client.topics[0])

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(client.payloads[0], &msg))
	assert.Equal(t, "unlock", msg["command"])
	assert.Equal(t, "secret", msg["accessToken"])
}
