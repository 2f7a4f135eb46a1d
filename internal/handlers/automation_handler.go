package handlers

import (
	"net/http"
	"strconv"
	"time"

	"hndld/internal/metrics"
	"hndld/internal/middleware"
	"hndld/internal/models"
	"hndld/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler 管理自动化及其运行记录
type AutomationHandler struct {
	service  *services.AutomationService
	hub      *services.NotificationHub
	breakers *services.CircuitBreakerGroup
}

// NewAutomationHandler builds the handler; hub and breakers may be nil.
func NewAutomationHandler(service *services.AutomationService, hub *services.NotificationHub, breakers *services.CircuitBreakerGroup) *AutomationHandler {
	return &AutomationHandler{service: service, hub: hub, breakers: breakers}
}

// ListAutomations 获取自动化列表
func (h *AutomationHandler) ListAutomations(c *gin.Context) {
	list, err := h.service.ListAutomations(c.Request.Context(), middleware.TenantID(c), c.Query("trigger"))
	if err != nil {
		respondServiceError(c, "Failed to list automations", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateAutomation 创建自动化
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req services.AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	a, err := h.service.CreateAutomation(c.Request.Context(), middleware.TenantID(c), middleware.UserID(c), &req)
	if err != nil {
		respondServiceError(c, "Failed to create automation", err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	a, err := h.service.GetAutomation(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, "Failed to get automation", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// UpdateAutomation 替换自动化定义
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	var req services.AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	a, err := h.service.UpdateAutomation(c.Request.Context(), middleware.TenantID(c), c.Param("id"), &req)
	if err != nil {
		respondServiceError(c, "Failed to update automation", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	if err := h.service.DeleteAutomation(c.Request.Context(), middleware.TenantID(c), c.Param("id")); err != nil {
		respondServiceError(c, "Failed to delete automation", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

type pauseRequest struct {
	Until *time.Time `json:"until"`
}

// PauseAutomation 暂停自动化（可选截止时间）
func (h *AutomationHandler) PauseAutomation(c *gin.Context) {
	var req pauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
			return
		}
	}
	a, err := h.service.PauseAutomation(c.Request.Context(), middleware.TenantID(c), c.Param("id"), req.Until)
	if err != nil {
		respondServiceError(c, "Failed to pause automation", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AutomationHandler) ResumeAutomation(c *gin.Context) {
	a, err := h.service.ResumeAutomation(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, "Failed to resume automation", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type testRequest struct {
	Data map[string]interface{} `json:"data"`
}

// TestAutomation 使用样例数据立即执行一次
func (h *AutomationHandler) TestAutomation(c *gin.Context) {
	var req testRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
			return
		}
	}
	run, err := h.service.TestAutomation(c.Request.Context(), middleware.TenantID(c), c.Param("id"), req.Data)
	if err != nil {
		respondServiceError(c, "Failed to test automation", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// Trigger ingests a domain event for the caller's tenant and runs matching automations.
func (h *AutomationHandler) Trigger(c *gin.Context) {
	var event services.TriggerEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	// 租户以请求头为准
	event.TenantID = middleware.TenantID(c)
	h.service.ProcessTrigger(c.Request.Context(), event)
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "processed"})
}

// ListRuns 获取运行记录（分页）
func (h *AutomationHandler) ListRuns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	runs, total, err := h.service.ListRuns(c.Request.Context(), services.RunListRequest{
		TenantID:     middleware.TenantID(c),
		AutomationID: c.Param("id"),
		Status:       models.RunStatus(c.Query("status")),
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		respondServiceError(c, "Failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     runs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pageCount(total, pageSize),
	})
}

func (h *AutomationHandler) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), middleware.TenantID(c), c.Param("runId"))
	if err != nil {
		respondServiceError(c, "Failed to get run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *AutomationHandler) ListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, services.ListTemplates())
}

// InstantiateTemplate 由模板创建自动化
func (h *AutomationHandler) InstantiateTemplate(c *gin.Context) {
	var req services.TemplateInstanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
			return
		}
	}
	a, err := h.service.CreateFromTemplate(c.Request.Context(), middleware.TenantID(c), middleware.UserID(c), c.Param("key"), req)
	if err != nil {
		respondServiceError(c, "Failed to instantiate template", err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// Metrics returns the in-process automation counters.
func (h *AutomationHandler) Metrics(c *gin.Context) {
	resp := gin.H{"automation": metrics.Snapshot()}
	if h.breakers != nil {
		resp["webhook_breakers"] = h.breakers.Stats()
	}
	if h.hub != nil {
		resp["notification_clients"] = h.hub.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

// Notifications upgrades to a websocket streaming the member's notifications.
func (h *AutomationHandler) Notifications(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Notifications unavailable", Message: "notification hub not configured"})
		return
	}
	userID := middleware.UserID(c)
	if userID == "" {
		userID = c.Query("user_id")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "user_id is required"})
		return
	}
	h.hub.Serve(c.Writer, c.Request, middleware.TenantID(c), userID)
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListAutomations)
		auto.POST("", handler.CreateAutomation)
		auto.POST("/trigger", handler.Trigger)
		auto.GET("/templates", handler.ListTemplates)
		auto.POST("/templates/:key", handler.InstantiateTemplate)
		auto.GET("/metrics", handler.Metrics)
		auto.GET("/ws", handler.Notifications)
		auto.GET("/runs/:runId", handler.GetRun)
		auto.GET("/:id", handler.GetAutomation)
		auto.PUT("/:id", handler.UpdateAutomation)
		auto.DELETE("/:id", handler.DeleteAutomation)
		auto.POST("/:id/pause", handler.PauseAutomation)
		auto.POST("/:id/resume", handler.ResumeAutomation)
		auto.POST("/:id/test", handler.TestAutomation)
		auto.GET("/:id/runs", handler.ListRuns)
	}
}
