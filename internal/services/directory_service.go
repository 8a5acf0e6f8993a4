package services

import (
	"context"
	"errors"
	"fmt"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrGroupNotFound 组不存在
	ErrGroupNotFound = errors.New("group not found")
)

// DirectoryService 用户与支持组管理（供指派动作校验目标）
type DirectoryService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewDirectoryService(db *gorm.DB, logger *logrus.Logger) *DirectoryService {
	if logger == nil {
		logger = logrus.New()
	}
	return &DirectoryService{db: db, logger: logger}
}

// UserCreateRequest 创建用户请求
type UserCreateRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// GroupCreateRequest 创建组请求
type GroupCreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Email       string `json:"email"`
}

func (s *DirectoryService) CreateUser(ctx context.Context, tenantID string, req *UserCreateRequest) (*models.User, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	user := &models.User{
		TenantID: tenantID,
		Username: req.Username,
		Email:    req.Email,
		Name:     req.Name,
		Role:     req.Role,
		Status:   "active",
	}
	if user.Role == "" {
		user.Role = "agent"
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *DirectoryService) GetUser(ctx context.Context, tenantID string, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *DirectoryService) ListUsers(ctx context.Context, tenantID string) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id ASC").Find(&users).Error
	return users, err
}

func (s *DirectoryService) DeleteUser(ctx context.Context, tenantID string, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *DirectoryService) CreateGroup(ctx context.Context, tenantID string, req *GroupCreateRequest) (*models.Group, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	group := &models.Group{
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Email:       req.Email,
	}
	if err := s.db.WithContext(ctx).Create(group).Error; err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return group, nil
}

func (s *DirectoryService) GetGroup(ctx context.Context, tenantID string, id uint) (*models.Group, error) {
	var group models.Group
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *DirectoryService) ListGroups(ctx context.Context, tenantID string) ([]models.Group, error) {
	var groups []models.Group
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id ASC").Find(&groups).Error
	return groups, err
}

func (s *DirectoryService) DeleteGroup(ctx context.Context, tenantID string, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.Group{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGroupNotFound
	}
	return nil
}
