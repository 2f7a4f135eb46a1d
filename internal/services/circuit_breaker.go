package services

import (
	"sync"
	"time"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int

const (
	StateClosedCB   CircuitBreakerState = iota // 关闭状态（正常）
	StateOpenCB                                // 开启状态（熔断）
	StateHalfOpenCB                            // 半开状态（试探）
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosedCB:
		return "closed"
	case StateOpenCB:
		return "open"
	case StateHalfOpenCB:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerSettings 熔断器参数
type CircuitBreakerSettings struct {
	MaxFailures     int
	ResetTimeout    time.Duration
	HalfOpenMaxReqs int
}

func (s CircuitBreakerSettings) withDefaults() CircuitBreakerSettings {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 60 * time.Second
	}
	if s.HalfOpenMaxReqs <= 0 {
		s.HalfOpenMaxReqs = 1
	}
	return s
}

// CircuitBreaker guards one downstream endpoint.
type CircuitBreaker struct {
	settings     CircuitBreakerSettings
	state        CircuitBreakerState
	failureCount int
	lastFailTime time.Time
	halfOpenReqs int
	now          func() time.Time
	mutex        sync.Mutex
}

func NewCircuitBreaker(settings CircuitBreakerSettings) *CircuitBreaker {
	return &CircuitBreaker{
		settings: settings.withDefaults(),
		state:    StateClosedCB,
		now:      time.Now,
	}
}

// Allow 检查是否允许请求通过
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosedCB:
		return true
	case StateOpenCB:
		if cb.now().Sub(cb.lastFailTime) > cb.settings.ResetTimeout {
			cb.state = StateHalfOpenCB
			cb.halfOpenReqs = 1
			return true
		}
		return false
	case StateHalfOpenCB:
		if cb.halfOpenReqs < cb.settings.HalfOpenMaxReqs {
			cb.halfOpenReqs++
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess 记录成功请求
func (cb *CircuitBreaker) OnSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.state = StateClosedCB
	cb.failureCount = 0
	cb.halfOpenReqs = 0
}

// OnFailure 记录失败请求
func (cb *CircuitBreaker) OnFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailTime = cb.now()

	switch cb.state {
	case StateClosedCB:
		if cb.failureCount >= cb.settings.MaxFailures {
			cb.state = StateOpenCB
		}
	case StateHalfOpenCB:
		// 半开状态失败，立即转为开启状态
		cb.state = StateOpenCB
		cb.halfOpenReqs = 0
	}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// CircuitBreakerGroup lazily keeps one breaker per key (webhook host).
type CircuitBreakerGroup struct {
	settings CircuitBreakerSettings
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewCircuitBreakerGroup(settings CircuitBreakerSettings) *CircuitBreakerGroup {
	return &CircuitBreakerGroup{
		settings: settings.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (g *CircuitBreakerGroup) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(g.settings)
		g.breakers[key] = cb
	}
	return cb
}

// Stats 返回各 key 的熔断状态
func (g *CircuitBreakerGroup) Stats() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.breakers))
	for k, cb := range g.breakers {
		out[k] = cb.State().String()
	}
	return out
}
