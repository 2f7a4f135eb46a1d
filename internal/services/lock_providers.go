package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"hndld/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// LockCommand identifies the physical lock a provider should drive.
type LockCommand struct {
	LockID      string `json:"lockId"`
	ExternalID  string `json:"externalId"`
	AccessToken string `json:"-"`
}

// LockProvider drives one vendor's smart locks.
type LockProvider interface {
	Lock(ctx context.Context, cmd LockCommand) error
	Unlock(ctx context.Context, cmd LockCommand) error
}

// ManualLockProviderName is the fallback for locks without an integrated vendor.
const ManualLockProviderName = "manual"

// LockProviderRegistry maps provider names to implementations.
// Unknown names resolve to the manual provider instead of failing.
type LockProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]LockProvider
	fallback  LockProvider
}

func NewLockProviderRegistry(logger *logrus.Logger) *LockProviderRegistry {
	manual := &ManualLockProvider{logger: defaultLogger(logger)}
	return &LockProviderRegistry{
		providers: map[string]LockProvider{ManualLockProviderName: manual},
		fallback:  manual,
	}
}

// Register adds or replaces a provider; names are case-insensitive.
func (r *LockProviderRegistry) Register(name string, p LockProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(name)] = p
}

func (r *LockProviderRegistry) Get(name string) LockProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[strings.ToLower(name)]; ok {
		return p
	}
	return r.fallback
}

// ManualLockProvider only tracks intent; the household operates the lock by hand.
type ManualLockProvider struct {
	logger *logrus.Logger
}

func (p *ManualLockProvider) Lock(ctx context.Context, cmd LockCommand) error {
	p.logger.WithField("lock_id", cmd.LockID).Info("manual lock: lock requested")
	return nil
}

func (p *ManualLockProvider) Unlock(ctx context.Context, cmd LockCommand) error {
	p.logger.WithField("lock_id", cmd.LockID).Info("manual lock: unlock requested")
	return nil
}

// MQTTPublisher is the part of a paho client the MQTT provider uses.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

const mqttPublishTimeout = 10 * time.Second

// MQTTLockProvider publishes lock commands to a bridge listening on
// <prefix>/<externalId>/command.
type MQTTLockProvider struct {
	client      MQTTPublisher
	topicPrefix string
	qos         byte
	logger      *logrus.Logger
}

func NewMQTTLockProvider(client MQTTPublisher, topicPrefix string, qos byte, logger *logrus.Logger) *MQTTLockProvider {
	return &MQTTLockProvider{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		qos:         qos,
		logger:      defaultLogger(logger),
	}
}

// ConnectMQTT dials the broker described by cfg.
func ConnectMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

type mqttLockMessage struct {
	Command     string `json:"command"`
	LockID      string `json:"lockId"`
	ExternalID  string `json:"externalId"`
	AccessToken string `json:"accessToken,omitempty"`
	IssuedAt    string `json:"issuedAt"`
}

func (p *MQTTLockProvider) Lock(ctx context.Context, cmd LockCommand) error {
	return p.publish(ctx, "lock", cmd)
}

func (p *MQTTLockProvider) Unlock(ctx context.Context, cmd LockCommand) error {
	return p.publish(ctx, "unlock", cmd)
}

func (p *MQTTLockProvider) publish(ctx context.Context, command string, cmd LockCommand) error {
	if cmd.ExternalID == "" {
		return fmt.Errorf("mqtt lock %s: external id required", cmd.LockID)
	}
	payload, err := json.Marshal(mqttLockMessage{
		Command:     command,
		LockID:      cmd.LockID,
		ExternalID:  cmd.ExternalID,
		AccessToken: cmd.AccessToken,
		IssuedAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal lock command: %w", err)
	}
	topic := fmt.Sprintf("%s/%s/command", p.topicPrefix, cmd.ExternalID)

	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("mqtt publish %s: timeout after %v", topic, mqttPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	p.logger.WithFields(logrus.Fields{"topic": topic, "command": command}).Debug("lock command published")
	return nil
}

func defaultLogger(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return logrus.New()
	}
	return logger
}
