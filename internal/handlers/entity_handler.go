package handlers

import (
	"errors"
	"net/http"
	"strings"

	"deskflow/internal/middleware"
	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// EntityHandler 工单实体管理
type EntityHandler struct {
	service *services.EntityService
}

func NewEntityHandler(service *services.EntityService) *EntityHandler {
	return &EntityHandler{service: service}
}

// CreateEntity 创建实体
func (h *EntityHandler) CreateEntity(c *gin.Context) {
	var req services.EntityCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	entity, err := h.service.CreateEntity(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		if strings.HasPrefix(err.Error(), "invalid ") {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create entity", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create entity", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, entity)
}

// ListEntities 查询实体列表
func (h *EntityHandler) ListEntities(c *gin.Context) {
	var req services.EntityListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}

	entities, total, err := h.service.ListEntities(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list entities", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, paginated(entities, total, req.Page, req.PageSize))
}

// GetEntity 获取单个实体
func (h *EntityHandler) GetEntity(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}

	entity, err := h.service.GetEntity(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		h.entityError(c, "Failed to get entity", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// UpdateEntity 更新实体，触发相应工作流
func (h *EntityHandler) UpdateEntity(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	var req services.EntityUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	entity, err := h.service.UpdateEntity(c.Request.Context(), middleware.TenantID(c), id, &req)
	if err != nil {
		if strings.HasPrefix(err.Error(), "invalid ") {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update entity", Message: err.Error()})
			return
		}
		h.entityError(c, "Failed to update entity", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// DeleteEntity 删除实体
func (h *EntityHandler) DeleteEntity(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}

	if err := h.service.DeleteEntity(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		h.entityError(c, "Failed to delete entity", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListComments 实体评论
func (h *EntityHandler) ListComments(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	comments, err := h.service.ListComments(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list comments", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, comments)
}

// ListTasks 实体子任务
func (h *EntityHandler) ListTasks(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	tasks, err := h.service.ListTasks(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list tasks", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// ListLinks 实体关联
func (h *EntityHandler) ListLinks(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	links, err := h.service.ListLinks(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list links", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, links)
}

func (h *EntityHandler) entityError(c *gin.Context, title string, err error) {
	if errors.Is(err, services.ErrEntityNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: title, Message: err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: title, Message: err.Error()})
}

// RegisterEntityRoutes 注册路由
func RegisterEntityRoutes(r *gin.RouterGroup, handler *EntityHandler) {
	entities := r.Group("/entities")
	{
		entities.GET("", handler.ListEntities)
		entities.POST("", handler.CreateEntity)
		entities.GET(":id", handler.GetEntity)
		entities.PUT(":id", handler.UpdateEntity)
		entities.DELETE(":id", handler.DeleteEntity)
		entities.GET(":id/comments", handler.ListComments)
		entities.GET(":id/tasks", handler.ListTasks)
		entities.GET(":id/links", handler.ListLinks)
	}
}
