package services

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"hndld/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newAutomationTestDB opens a private in-memory database shared by the pool's single connection.
func newAutomationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(uuid.NewString(), "-", "") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Automation{},
		&models.AutomationRun{},
		&models.Task{},
		&models.Approval{},
		&models.CalendarEvent{},
		&models.SmartLock{},
		&models.Notification{},
	))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeNotifier records every notification.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

type sentNotification struct {
	TenantID, UserID, Title, Body string
}

func (f *fakeNotifier) Send(ctx context.Context, tenantID, userID, title, body string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{tenantID, userID, title, body})
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeLockProvider records lock commands.
type fakeLockProvider struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (f *fakeLockProvider) Lock(ctx context.Context, cmd LockCommand) error {
	return f.record("lock:" + cmd.ExternalID)
}

func (f *fakeLockProvider) Unlock(ctx context.Context, cmd LockCommand) error {
	return f.record("unlock:" + cmd.ExternalID)
}

func (f *fakeLockProvider) record(c string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, c)
	return nil
}

// fakeWebhooks captures posted payloads without a network.
type fakeWebhooks struct {
	mu      sync.Mutex
	targets []string
	bodies  [][]byte
	status  int
	err     error
}

func (f *fakeWebhooks) Post(ctx context.Context, target string, headers map[string]string, body []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		return 0, f.err
	}
	if f.status == 0 {
		return 200, nil
	}
	return f.status, nil
}

type fakeEmail struct {
	to, subject, body string
	err               error
}

func (f *fakeEmail) Send(ctx context.Context, to, subject, body string) error {
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

// doneToken is an already-completed paho token.
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMQTT struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	if b, ok := payload.([]byte); ok {
		f.payloads = append(f.payloads, b)
	}
	return doneToken{err: f.err}
}

type automationFixture struct {
	db       *gorm.DB
	svc      *AutomationService
	executor *ActionExecutor
	notifier *fakeNotifier
	locks    *fakeLockProvider
	webhooks *fakeWebhooks
	email    *fakeEmail
	now      time.Time
}

func newAutomationFixture(t *testing.T) *automationFixture {
	t.Helper()
	db := newAutomationTestDB(t)
	log := quietLogger()
	f := &automationFixture{
		db:       db,
		notifier: &fakeNotifier{},
		locks:    &fakeLockProvider{},
		webhooks: &fakeWebhooks{},
		email:    &fakeEmail{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	registry := NewLockProviderRegistry(log)
	registry.Register("fake", f.locks)
	clock := func() time.Time { return f.now }
	f.executor = NewActionExecutor(ActionDeps{
		Store:    NewGormHouseholdStore(db),
		Notifier: f.notifier,
		Locks:    registry,
		Webhooks: f.webhooks,
		Email:    f.email,
		Logger:   log,
		Now:      clock,
	})
	f.svc = NewAutomationService(db, f.executor, log, WithClock(clock))
	return f
}

// seed inserts an automation directly, bypassing request validation.
func (f *automationFixture) seed(t *testing.T, a models.Automation) *models.Automation {
	t.Helper()
	if a.TenantID == "" {
		a.TenantID = "t1"
	}
	if a.Name == "" {
		a.Name = "automation " + a.Trigger
	}
	if a.Actions == nil {
		a.Actions = []models.ActionConfig{}
	}
	require.NoError(t, f.db.Create(&a).Error)
	return &a
}

func (f *automationFixture) runs(t *testing.T) []models.AutomationRun {
	t.Helper()
	var runs []models.AutomationRun
	require.NoError(t, f.db.Order("started_at ASC").Find(&runs).Error)
	return runs
}

func (f *automationFixture) runsFor(t *testing.T, automationID string) []models.AutomationRun {
	t.Helper()
	var runs []models.AutomationRun
	require.NoError(t, f.db.Where("automation_id = ?", automationID).Find(&runs).Error)
	return runs
}

func action(t ActionType, order int, cfg map[string]interface{}) models.ActionConfig {
	return models.ActionConfig{Type: string(t), Order: order, Config: cfg}
}
