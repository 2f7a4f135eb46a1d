package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"hndld/internal/metrics"
	"hndld/internal/services"
	"hndld/internal/version"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	db        *gorm.DB
	hub       *services.NotificationHub
	startedAt time.Time
}

func NewHealthHandler(db *gorm.DB, hub *services.NotificationHub) *HealthHandler {
	return &HealthHandler{db: db, hub: hub, startedAt: time.Now()}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Services  map[string]ServiceInfo `json:"services"`
}

// ServiceInfo 依赖服务状态
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Health 健康检查端点；数据库不可用时为 degraded
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Services:  map[string]ServiceInfo{},
	}

	db := h.checkDatabase(ctx)
	resp.Services["database"] = db
	if db.Status != "healthy" {
		resp.Status = "degraded"
	}
	if h.hub != nil {
		resp.Services["notifications"] = ServiceInfo{
			Status:  "healthy",
			Details: map[string]int{"clients": h.hub.ClientCount()},
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Ready 就绪检查：数据库可用即就绪
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	db := h.checkDatabase(ctx)
	ready := db.Status == "healthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  map[string]string{"database": db.Status},
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	if h.db == nil {
		return ServiceInfo{Status: "unhealthy", Error: "database connection not initialized"}
	}
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	info := ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
	}
	return info
}

// MetricsHandler 以 Prometheus 文本格式暴露指标
type MetricsHandler struct {
	db        *gorm.DB
	hub       *services.NotificationHub
	breakers  *services.CircuitBreakerGroup
	startedAt time.Time
}

func NewMetricsHandler(db *gorm.DB, hub *services.NotificationHub, breakers *services.CircuitBreakerGroup) *MetricsHandler {
	return &MetricsHandler{db: db, hub: hub, breakers: breakers, startedAt: time.Now()}
}

func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	b := &strings.Builder{}
	snap := metrics.Snapshot()

	fmt.Fprintf(b, "# HELP hndld_info Information about the hndld instance\n")
	fmt.Fprintf(b, "# TYPE hndld_info gauge\n")
	fmt.Fprintf(b, "hndld_info{version=%q,commit=%q,build_time=%q} 1\n\n", version.Version, version.Commit, version.BuildTime)

	fmt.Fprintf(b, "# HELP hndld_uptime_seconds Total uptime in seconds\n")
	fmt.Fprintf(b, "# TYPE hndld_uptime_seconds counter\n")
	fmt.Fprintf(b, "hndld_uptime_seconds %.0f\n\n", time.Since(h.startedAt).Seconds())

	fmt.Fprintf(b, "# HELP hndld_automation_triggers_total Trigger events processed\n")
	fmt.Fprintf(b, "# TYPE hndld_automation_triggers_total counter\n")
	fmt.Fprintf(b, "hndld_automation_triggers_total %d\n\n", snap.Triggers)

	fmt.Fprintf(b, "# HELP hndld_automation_runs_total Finished automation runs by status\n")
	fmt.Fprintf(b, "# TYPE hndld_automation_runs_total counter\n")
	for _, k := range sortedKeys(snap.Runs) {
		fmt.Fprintf(b, "hndld_automation_runs_total{status=%q} %d\n", k, snap.Runs[k])
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "# HELP hndld_automation_skipped_total Candidate automations skipped by reason\n")
	fmt.Fprintf(b, "# TYPE hndld_automation_skipped_total counter\n")
	for _, k := range sortedKeys(snap.Skips) {
		fmt.Fprintf(b, "hndld_automation_skipped_total{reason=%q} %d\n", k, snap.Skips[k])
	}
	b.WriteString("\n")

	if h.hub != nil {
		fmt.Fprintf(b, "# HELP hndld_notification_clients Open notification websockets\n")
		fmt.Fprintf(b, "# TYPE hndld_notification_clients gauge\n")
		fmt.Fprintf(b, "hndld_notification_clients %d\n\n", h.hub.ClientCount())
	}

	if h.breakers != nil {
		stats := h.breakers.Stats()
		fmt.Fprintf(b, "# HELP hndld_webhook_breaker_open Webhook hosts whose circuit is not closed\n")
		fmt.Fprintf(b, "# TYPE hndld_webhook_breaker_open gauge\n")
		for _, host := range sortedKeys(stats) {
			open := 0
			if stats[host] != "closed" {
				open = 1
			}
			fmt.Fprintf(b, "hndld_webhook_breaker_open{host=%q} %d\n", host, open)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(b, "# HELP hndld_go_goroutines Number of goroutines\n")
	fmt.Fprintf(b, "# TYPE hndld_go_goroutines gauge\n")
	fmt.Fprintf(b, "hndld_go_goroutines %d\n", runtime.NumGoroutine())

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			ds := sqlDB.Stats()
			fmt.Fprintf(b, "\n# HELP hndld_db_open_connections The number of established connections both in use and idle\n")
			fmt.Fprintf(b, "# TYPE hndld_db_open_connections gauge\n")
			fmt.Fprintf(b, "hndld_db_open_connections %d\n", ds.OpenConnections)
			fmt.Fprintf(b, "# HELP hndld_db_wait_count The total number of connections waited for\n")
			fmt.Fprintf(b, "# TYPE hndld_db_wait_count counter\n")
			fmt.Fprintf(b, "hndld_db_wait_count %d\n", ds.WaitCount)
		}
	}

	c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(b.String()))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
