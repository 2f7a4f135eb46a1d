package handlers

import (
	"errors"
	"net/http"

	"hndld/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// respondServiceError maps service sentinel errors to HTTP status codes.
func respondServiceError(c *gin.Context, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrAutomationNotFound),
		errors.Is(err, services.ErrRunNotFound),
		errors.Is(err, services.ErrTemplateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidAutomation),
		errors.Is(err, services.ErrTenantRequired):
		status = http.StatusBadRequest
	}
	c.JSON(status, ErrorResponse{Error: title, Message: err.Error()})
}

func pageCount(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
