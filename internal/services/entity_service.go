package services

import (
	"context"
	"errors"
	"fmt"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrEntityNotFound 实体不存在
var ErrEntityNotFound = errors.New("entity not found")

// EntityService 工单实体的增删改查；变更时同步触发工作流评估。
type EntityService struct {
	db     *gorm.DB
	logger *logrus.Logger
	engine *WorkflowEngine
}

func NewEntityService(db *gorm.DB, logger *logrus.Logger) *EntityService {
	if logger == nil {
		logger = logrus.New()
	}
	return &EntityService{db: db, logger: logger}
}

// SetWorkflowEngine wires rule evaluation into entity mutations.
func (s *EntityService) SetWorkflowEngine(engine *WorkflowEngine) { s.engine = engine }

// EntityCreateRequest 创建实体请求
type EntityCreateRequest struct {
	Type          string `json:"type" binding:"required"`
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Priority      string `json:"priority"`
	Source        string `json:"source"`
	Tags          string `json:"tags"`
	AssignedTo    *uint  `json:"assigned_to"`
	AssignedGroup *uint  `json:"assigned_group"`
}

// EntityUpdateRequest 部分更新；nil 字段保持原值
type EntityUpdateRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Category      *string `json:"category"`
	Status        *string `json:"status"`
	Priority      *string `json:"priority"`
	Source        *string `json:"source"`
	Tags          *string `json:"tags"`
	AssignedTo    *uint   `json:"assigned_to"`
	AssignedGroup *uint   `json:"assigned_group"`
}

// EntityListRequest 查询条件
type EntityListRequest struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Type     string `form:"type"`
	Status   string `form:"status"`
	Priority string `form:"priority"`
}

// CreateEntity stores the entity and fires the on_create trigger.
func (s *EntityService) CreateEntity(ctx context.Context, tenantID string, req *EntityCreateRequest) (*models.Entity, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !IsValidEntityType(req.Type) {
		return nil, fmt.Errorf("invalid entity type: %s", req.Type)
	}
	if req.Priority != "" && !IsValidPriority(req.Priority) {
		return nil, fmt.Errorf("invalid priority: %s", req.Priority)
	}

	entity := &models.Entity{
		TenantID:      tenantID,
		Type:          req.Type,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Source:        req.Source,
		Tags:          req.Tags,
		AssignedTo:    req.AssignedTo,
		AssignedGroup: req.AssignedGroup,
		Status:        AllowedStatuses(req.Type)[0],
	}
	if req.Priority != "" {
		entity.Priority = req.Priority
	} else {
		entity.Priority = "medium"
	}

	if err := s.db.WithContext(ctx).Create(entity).Error; err != nil {
		return nil, fmt.Errorf("create entity: %w", err)
	}

	s.fireTrigger(ctx, entity, TriggerOnCreate, entity.Snapshot())
	return entity, nil
}

// GetEntity fetches one tenant-scoped entity.
func (s *EntityService) GetEntity(ctx context.Context, tenantID string, id uint) (*models.Entity, error) {
	var entity models.Entity
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// ListEntities returns entities matching the filters, newest first.
func (s *EntityService) ListEntities(ctx context.Context, tenantID string, req *EntityListRequest) ([]models.Entity, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Entity{}).Where("tenant_id = ?", tenantID)
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Priority != "" {
		query = query.Where("priority = ?", req.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(req.Page, req.PageSize)
	var list []models.Entity
	if err := query.Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// UpdateEntity applies a partial update and fires the matching triggers:
// on_update always, on_status_change when status changed, on_assignment when
// either assignment field changed.
func (s *EntityService) UpdateEntity(ctx context.Context, tenantID string, id uint, req *EntityUpdateRequest) (*models.Entity, error) {
	entity, err := s.GetEntity(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	prevStatus := entity.Status
	prevPriority := entity.Priority
	prevAssignedTo := entity.AssignedTo
	prevAssignedGroup := entity.AssignedGroup

	if req.Status != nil && !IsValidStatus(entity.Type, *req.Status) {
		return nil, fmt.Errorf("invalid status %q for %s", *req.Status, entity.Type)
	}
	if req.Priority != nil && !IsValidPriority(*req.Priority) {
		return nil, fmt.Errorf("invalid priority: %s", *req.Priority)
	}

	if req.Title != nil {
		entity.Title = *req.Title
	}
	if req.Description != nil {
		entity.Description = *req.Description
	}
	if req.Category != nil {
		entity.Category = *req.Category
	}
	if req.Status != nil {
		entity.Status = *req.Status
	}
	if req.Priority != nil {
		entity.Priority = *req.Priority
	}
	if req.Source != nil {
		entity.Source = *req.Source
	}
	if req.Tags != nil {
		entity.Tags = *req.Tags
	}
	if req.AssignedTo != nil {
		entity.AssignedTo = req.AssignedTo
	}
	if req.AssignedGroup != nil {
		entity.AssignedGroup = req.AssignedGroup
	}

	if err := s.db.WithContext(ctx).Save(entity).Error; err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}

	// Update triggers see the previous scalar values under previous_* keys.
	data := entity.Snapshot()
	data["previous_status"] = prevStatus
	data["previous_priority"] = prevPriority

	s.fireTrigger(ctx, entity, TriggerOnUpdate, data)
	if entity.Status != prevStatus {
		s.fireTrigger(ctx, entity, TriggerOnStatusChange, data)
	}
	if changedAssignment(prevAssignedTo, entity.AssignedTo) || changedAssignment(prevAssignedGroup, entity.AssignedGroup) {
		s.fireTrigger(ctx, entity, TriggerOnAssignment, data)
	}
	return entity, nil
}

// DeleteEntity soft-deletes the entity.
func (s *EntityService) DeleteEntity(ctx context.Context, tenantID string, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.Entity{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// ListComments 列出实体评论
func (s *EntityService) ListComments(ctx context.Context, tenantID string, entityID uint) ([]models.EntityComment, error) {
	var comments []models.EntityComment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_id = ?", tenantID, entityID).
		Order("id ASC").Find(&comments).Error
	return comments, err
}

// ListTasks 列出实体子任务
func (s *EntityService) ListTasks(ctx context.Context, tenantID string, entityID uint) ([]models.EntityTask, error) {
	var tasks []models.EntityTask
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_id = ?", tenantID, entityID).
		Order("id ASC").Find(&tasks).Error
	return tasks, err
}

// ListLinks 列出实体关联
func (s *EntityService) ListLinks(ctx context.Context, tenantID string, entityID uint) ([]models.EntityLink, error) {
	var links []models.EntityLink
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_id = ?", tenantID, entityID).
		Order("id ASC").Find(&links).Error
	return links, err
}

// fireTrigger runs the workflow engine for one trigger. The entity mutation
// has already committed, so an engine failure is logged and not surfaced to
// the API caller; the execution log records what did run.
func (s *EntityService) fireTrigger(ctx context.Context, entity *models.Entity, triggerType string, data map[string]interface{}) {
	if s.engine == nil {
		return
	}
	if _, err := s.engine.ProcessEvent(ctx, entity.TenantID, entity.Type, triggerType, entity, data); err != nil {
		s.logger.Errorf("workflow: %s event for %s #%d not processed: %v", triggerType, entity.Type, entity.ID, err)
	}
}

func changedAssignment(before, after *uint) bool {
	switch {
	case before == nil && after == nil:
		return false
	case before == nil || after == nil:
		return true
	default:
		return *before != *after
	}
}
