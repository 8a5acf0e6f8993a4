package handlers

import (
	"errors"
	"net/http"

	"deskflow/internal/middleware"
	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// DirectoryHandler 用户与支持组管理
type DirectoryHandler struct {
	service *services.DirectoryService
}

func NewDirectoryHandler(service *services.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{service: service}
}

// CreateUser 创建用户
func (h *DirectoryHandler) CreateUser(c *gin.Context) {
	var req services.UserCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	user, err := h.service.CreateUser(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create user", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, user)
}

// ListUsers 用户列表
func (h *DirectoryHandler) ListUsers(c *gin.Context) {
	users, err := h.service.ListUsers(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list users", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetUser 获取用户
func (h *DirectoryHandler) GetUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	user, err := h.service.GetUser(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get user", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeleteUser 删除用户
func (h *DirectoryHandler) DeleteUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	if err := h.service.DeleteUser(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete user", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateGroup 创建支持组
func (h *DirectoryHandler) CreateGroup(c *gin.Context) {
	var req services.GroupCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	group, err := h.service.CreateGroup(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create group", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, group)
}

// ListGroups 支持组列表
func (h *DirectoryHandler) ListGroups(c *gin.Context) {
	groups, err := h.service.ListGroups(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list groups", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, groups)
}

// GetGroup 获取支持组
func (h *DirectoryHandler) GetGroup(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	group, err := h.service.GetGroup(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Group not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get group", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, group)
}

// DeleteGroup 删除支持组
func (h *DirectoryHandler) DeleteGroup(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id"})
		return
	}
	if err := h.service.DeleteGroup(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		if errors.Is(err, services.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Group not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete group", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterDirectoryRoutes 注册路由
func RegisterDirectoryRoutes(r *gin.RouterGroup, handler *DirectoryHandler) {
	users := r.Group("/users")
	{
		users.GET("", handler.ListUsers)
		users.POST("", handler.CreateUser)
		users.GET(":id", handler.GetUser)
		users.DELETE(":id", handler.DeleteUser)
	}
	groups := r.Group("/groups")
	{
		groups.GET("", handler.ListGroups)
		groups.POST("", handler.CreateGroup)
		groups.GET(":id", handler.GetGroup)
		groups.DELETE(":id", handler.DeleteGroup)
	}
}
