package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"hndld/internal/config"
	"hndld/internal/models"
	"hndld/internal/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// loadConfig 加载配置并初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// openDatabase 按配置的驱动连接数据库
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.Database.SQLitePath)
	case "", "postgres":
		dialector = postgres.Open(cfg.Database.PostgresDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	// GORM OTel 插件
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			logrus.Warnf("gorm tracing plugin: %v", err)
		}
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Automation{},
		&models.AutomationRun{},
		&models.Task{},
		&models.Approval{},
		&models.CalendarEvent{},
		&models.SmartLock{},
		&models.Notification{},
	)
}

// engine bundles the wired automation stack.
type engine struct {
	service  *services.AutomationService
	hub      *services.NotificationHub
	breakers *services.CircuitBreakerGroup
	mqtt     mqtt.Client
}

func (e *engine) Close() {
	if e.mqtt != nil {
		e.mqtt.Disconnect(250)
	}
}

// buildEngine 组装动作执行器与自动化服务
func buildEngine(cfg *config.Config, db *gorm.DB, log *logrus.Logger) *engine {
	ac := cfg.Automation
	e := &engine{hub: services.NewNotificationHub(db, log)}

	if ac.WebhookBreaker.Enabled {
		e.breakers = services.NewCircuitBreakerGroup(services.CircuitBreakerSettings{
			MaxFailures:     ac.WebhookBreaker.MaxFailures,
			ResetTimeout:    ac.WebhookBreaker.ResetTimeout,
			HalfOpenMaxReqs: ac.WebhookBreaker.HalfOpenMaxReqs,
		})
	}

	locks := services.NewLockProviderRegistry(log)
	if ac.MQTT.Enabled {
		client, err := services.ConnectMQTT(ac.MQTT)
		if err != nil {
			log.Warnf("MQTT lock gateway unavailable, mqtt locks fall back to manual: %v", err)
		} else {
			e.mqtt = client
			locks.Register("mqtt", services.NewMQTTLockProvider(client, ac.MQTT.TopicPrefix, byte(ac.MQTT.QoS), log))
			log.Infof("MQTT lock gateway connected: %s", ac.MQTT.Broker)
		}
	}

	executor := services.NewActionExecutor(services.ActionDeps{
		Store:    services.NewGormHouseholdStore(db),
		Notifier: e.hub,
		Locks:    locks,
		Webhooks: services.NewHTTPWebhookTransport(ac.WebhookTimeout, e.breakers, log),
		Email:    services.NewEmailSender(ac.Email, log),
		Logger:   log,
	})
	e.service = services.NewAutomationService(db, executor, log,
		services.WithMaxConcurrentRuns(ac.MaxConcurrentRuns),
	)
	return e
}
