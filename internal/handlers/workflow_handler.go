package handlers

import (
	"errors"
	"net/http"

	"deskflow/internal/middleware"
	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// WorkflowHandler 工作流规则管理与执行日志查询
type WorkflowHandler struct {
	service *services.WorkflowService
	hub     *services.ExecutionStreamHub
}

func NewWorkflowHandler(service *services.WorkflowService, hub *services.ExecutionStreamHub) *WorkflowHandler {
	return &WorkflowHandler{service: service, hub: hub}
}

// CreateRule 创建规则
func (h *WorkflowHandler) CreateRule(c *gin.Context) {
	var req services.WorkflowRuleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		h.ruleError(c, "Failed to create rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// ListRules 获取规则列表
func (h *WorkflowHandler) ListRules(c *gin.Context) {
	var req services.WorkflowRuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}

	rules, total, err := h.service.ListRules(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, paginated(rules, total, req.Page, req.PageSize))
}

// GetRule 获取单条规则
func (h *WorkflowHandler) GetRule(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}

	rule, err := h.service.GetRule(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		h.ruleError(c, "Failed to get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule 更新规则
func (h *WorkflowHandler) UpdateRule(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	var req services.WorkflowRuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.service.UpdateRule(c.Request.Context(), middleware.TenantID(c), id, &req)
	if err != nil {
		h.ruleError(c, "Failed to update rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *WorkflowHandler) DeleteRule(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}

	if err := h.service.DeleteRule(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		h.ruleError(c, "Failed to delete rule", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleRule 启停规则
func (h *WorkflowHandler) ToggleRule(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}

	rule, err := h.service.ToggleRule(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		h.ruleError(c, "Failed to toggle rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// TestRule 试运行规则，不产生副作用
func (h *WorkflowHandler) TestRule(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	var body struct {
		EntityData map[string]interface{} `json:"entity_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	result, err := h.service.TestRule(c.Request.Context(), middleware.TenantID(c), id, body.EntityData)
	if err != nil {
		h.ruleError(c, "Failed to test rule", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListLogs 执行日志查询
func (h *WorkflowHandler) ListLogs(c *gin.Context) {
	var req services.ExecutionLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}

	logs, total, err := h.service.ListLogs(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, paginated(logs, total, req.Page, req.PageSize))
}

// ListFields 返回某实体类型可用于条件的字段目录
func (h *WorkflowHandler) ListFields(c *gin.Context) {
	entityType := c.Param("entityType")
	if !services.IsValidEntityType(entityType) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid entity type", Message: entityType})
		return
	}
	c.JSON(http.StatusOK, services.FieldsFor(entityType))
}

// ListActions 返回某实体类型可用的动作目录
func (h *WorkflowHandler) ListActions(c *gin.Context) {
	entityType := c.Param("entityType")
	if !services.IsValidEntityType(entityType) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid entity type", Message: entityType})
		return
	}
	c.JSON(http.StatusOK, services.ActionsFor(entityType))
}

// Stream websocket 推送执行日志
func (h *WorkflowHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Streaming disabled"})
		return
	}
	h.hub.HandleWebSocket(c)
}

func (h *WorkflowHandler) ruleError(c *gin.Context, title string, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: title, Message: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, services.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: title, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: title, Message: err.Error()})
	}
}

// RegisterWorkflowRoutes 注册路由
func RegisterWorkflowRoutes(r *gin.RouterGroup, handler *WorkflowHandler) {
	wf := r.Group("/workflows")
	{
		wf.GET("/rules", handler.ListRules)
		wf.POST("/rules", handler.CreateRule)
		wf.GET("/rules/:id", handler.GetRule)
		wf.PATCH("/rules/:id", handler.UpdateRule)
		wf.DELETE("/rules/:id", handler.DeleteRule)
		wf.POST("/rules/:id/toggle", handler.ToggleRule)
		wf.POST("/rules/:id/test", handler.TestRule)
		wf.GET("/logs", handler.ListLogs)
		wf.GET("/fields/:entityType", handler.ListFields)
		wf.GET("/actions/:entityType", handler.ListActions)
		wf.GET("/stream", handler.Stream)
	}
}
