package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"deskflow/internal/config"
	"deskflow/internal/models"
	"deskflow/internal/rules"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrRuleNotFound 规则不存在
var ErrRuleNotFound = errors.New("workflow rule not found")

// FieldError 单个字段的校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field detail for a malformed rule definition.
// Invalid rules are rejected at authoring time and never stored.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid rule definition: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// WorkflowService 工作流规则的增删改查与试运行
type WorkflowService struct {
	db     *gorm.DB
	logger *logrus.Logger
	limits config.WorkflowConfig
}

func NewWorkflowService(db *gorm.DB, logger *logrus.Logger, limits config.WorkflowConfig) *WorkflowService {
	if logger == nil {
		logger = logrus.New()
	}
	return &WorkflowService{db: db, logger: logger, limits: limits}
}

// WorkflowRuleCreateRequest 创建规则请求
type WorkflowRuleCreateRequest struct {
	Name           string             `json:"name" binding:"required"`
	Description    string             `json:"description"`
	EntityType     string             `json:"entity_type" binding:"required"`
	TriggerType    string             `json:"trigger_type" binding:"required"`
	IsActive       *bool              `json:"is_active"`
	Conditions     []models.Condition `json:"conditions"`
	Actions        []models.Action    `json:"actions"`
	ExecutionOrder *int               `json:"execution_order"`
	StopOnMatch    *bool              `json:"stop_on_match"`
}

// WorkflowRuleUpdateRequest 部分更新请求；nil 字段保持原值
type WorkflowRuleUpdateRequest struct {
	Name           *string             `json:"name"`
	Description    *string             `json:"description"`
	IsActive       *bool               `json:"is_active"`
	Conditions     *[]models.Condition `json:"conditions"`
	Actions        *[]models.Action    `json:"actions"`
	ExecutionOrder *int                `json:"execution_order"`
	StopOnMatch    *bool               `json:"stop_on_match"`
}

// WorkflowRuleListRequest 查询条件
type WorkflowRuleListRequest struct {
	Page        int    `form:"page,default=1"`
	PageSize    int    `form:"page_size,default=20"`
	EntityType  string `form:"entity_type"`
	TriggerType string `form:"trigger_type"`
	IsActive    *bool  `form:"is_active"`
}

// ExecutionLogListRequest 执行日志查询条件
type ExecutionLogListRequest struct {
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=20"`
	RuleID     *uint  `form:"rule_id"`
	EntityType string `form:"entity_type"`
	EntityID   *uint  `form:"entity_id"`
	EventID    string `form:"event_id"`
}

// TestRuleResult 试运行结果：只报告会发生什么，不产生任何副作用。
type TestRuleResult struct {
	ConditionsMatch     bool                    `json:"conditions_match"`
	PerConditionResults []rules.ConditionResult `json:"per_condition_results"`
	ActionsThatWouldRun []models.Action         `json:"actions_that_would_run"`
}

// CreateRule validates and stores a new rule.
func (s *WorkflowService) CreateRule(ctx context.Context, tenantID string, req *WorkflowRuleCreateRequest) (*models.WorkflowRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}

	verr := &ValidationError{}
	if !IsValidEntityType(req.EntityType) {
		verr.add("entity_type", "unknown entity type %q", req.EntityType)
	}
	if !IsValidTriggerType(req.TriggerType) {
		verr.add("trigger_type", "unknown trigger type %q", req.TriggerType)
	}
	s.validateConditions(req.Conditions, verr)
	if IsValidEntityType(req.EntityType) {
		s.validateActions(req.EntityType, req.Actions, verr)
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	rule := &models.WorkflowRule{
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		EntityType:  req.EntityType,
		TriggerType: req.TriggerType,
		IsActive:    true,
		// Never stored as null: an empty condition list means the rule
		// always matches (vacuous truth).
		Conditions: models.ConditionList(req.Conditions),
		Actions:    models.ActionList(req.Actions),
	}
	if rule.Conditions == nil {
		rule.Conditions = models.ConditionList{}
	}
	if rule.Actions == nil {
		rule.Actions = models.ActionList{}
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.ExecutionOrder != nil {
		rule.ExecutionOrder = *req.ExecutionOrder
	}
	if req.StopOnMatch != nil {
		rule.StopOnMatch = *req.StopOnMatch
	}

	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("create workflow rule: %w", err)
	}
	s.logger.Infof("workflow: rule %q created (id=%d, %s/%s)", rule.Name, rule.ID, rule.EntityType, rule.TriggerType)
	return rule, nil
}

// GetRule fetches one tenant-scoped rule.
func (s *WorkflowService) GetRule(ctx context.Context, tenantID string, id uint) (*models.WorkflowRule, error) {
	var rule models.WorkflowRule
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListRules returns rules matching the filters, ordered for execution.
func (s *WorkflowService) ListRules(ctx context.Context, tenantID string, req *WorkflowRuleListRequest) ([]models.WorkflowRule, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.WorkflowRule{}).Where("tenant_id = ?", tenantID)
	if req.EntityType != "" {
		query = query.Where("entity_type = ?", req.EntityType)
	}
	if req.TriggerType != "" {
		query = query.Where("trigger_type = ?", req.TriggerType)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(req.Page, req.PageSize)
	var list []models.WorkflowRule
	if err := query.Order("execution_order ASC, id ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// UpdateRule applies a partial update after re-validating the result.
func (s *WorkflowService) UpdateRule(ctx context.Context, tenantID string, id uint, req *WorkflowRuleUpdateRequest) (*models.WorkflowRule, error) {
	rule, err := s.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	if req.Conditions != nil {
		s.validateConditions(*req.Conditions, verr)
	}
	if req.Actions != nil {
		s.validateActions(rule.EntityType, *req.Actions, verr)
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Conditions != nil {
		rule.Conditions = models.ConditionList(*req.Conditions)
		if rule.Conditions == nil {
			rule.Conditions = models.ConditionList{}
		}
	}
	if req.Actions != nil {
		rule.Actions = models.ActionList(*req.Actions)
		if rule.Actions == nil {
			rule.Actions = models.ActionList{}
		}
	}
	if req.ExecutionOrder != nil {
		rule.ExecutionOrder = *req.ExecutionOrder
	}
	if req.StopOnMatch != nil {
		rule.StopOnMatch = *req.StopOnMatch
	}

	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, fmt.Errorf("update workflow rule: %w", err)
	}
	return rule, nil
}

// DeleteRule hard-deletes the rule. Execution logs keep referencing the id.
func (s *WorkflowService) DeleteRule(ctx context.Context, tenantID string, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.WorkflowRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ToggleRule flips is_active and returns the updated rule.
func (s *WorkflowService) ToggleRule(ctx context.Context, tenantID string, id uint) (*models.WorkflowRule, error) {
	rule, err := s.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	rule.IsActive = !rule.IsActive
	if err := s.db.WithContext(ctx).Model(rule).Update("is_active", rule.IsActive).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

// TestRule recomputes the rule's verdict against sample data without side
// effects. The evaluation core is pure, so running this twice with identical
// input yields identical output.
func (s *WorkflowService) TestRule(ctx context.Context, tenantID string, id uint, entityData map[string]interface{}) (*TestRuleResult, error) {
	rule, err := s.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	matched, trace := rules.EvaluateAll(rule.Conditions, entityData)
	result := &TestRuleResult{
		ConditionsMatch:     matched,
		PerConditionResults: trace,
		ActionsThatWouldRun: []models.Action{},
	}
	if matched {
		actions := make([]models.Action, len(rule.Actions))
		copy(actions, rule.Actions)
		sort.SliceStable(actions, func(i, j int) bool { return actions[i].Order < actions[j].Order })
		result.ActionsThatWouldRun = actions
	}
	return result, nil
}

// ListLogs returns execution log entries, newest first.
func (s *WorkflowService) ListLogs(ctx context.Context, tenantID string, req *ExecutionLogListRequest) ([]models.WorkflowExecutionLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.WorkflowExecutionLog{}).Where("tenant_id = ?", tenantID)
	if req.RuleID != nil {
		query = query.Where("rule_id = ?", *req.RuleID)
	}
	if req.EntityType != "" {
		query = query.Where("entity_type = ?", req.EntityType)
	}
	if req.EntityID != nil {
		query = query.Where("entity_id = ?", *req.EntityID)
	}
	if req.EventID != "" {
		query = query.Where("event_id = ?", req.EventID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(req.Page, req.PageSize)
	var list []models.WorkflowExecutionLog
	if err := query.Order("evaluated_at DESC, id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (s *WorkflowService) validateConditions(conds []models.Condition, verr *ValidationError) {
	if s.limits.MaxConditions > 0 && len(conds) > s.limits.MaxConditions {
		verr.add("conditions", "at most %d conditions allowed", s.limits.MaxConditions)
		return
	}
	for i, cond := range conds {
		key := fmt.Sprintf("conditions[%d]", i)
		if cond.Field == "" {
			verr.add(key+".field", "field is required")
		}
		if !rules.IsValidOperator(cond.Operator) {
			verr.add(key+".operator", "unknown operator %q", cond.Operator)
			continue
		}
		if rules.ListOperator(cond.Operator) {
			switch cond.Value.(type) {
			case []interface{}, []string:
			default:
				verr.add(key+".value", "operator %s expects a list value", cond.Operator)
			}
		}
		switch strings.ToUpper(cond.LogicalOperator) {
		case "", rules.ConnectorAnd, rules.ConnectorOr:
		default:
			verr.add(key+".logical_operator", "must be AND or OR")
		}
	}
}

func (s *WorkflowService) validateActions(entityType string, actions []models.Action, verr *ValidationError) {
	if s.limits.MaxActions > 0 && len(actions) > s.limits.MaxActions {
		verr.add("actions", "at most %d actions allowed", s.limits.MaxActions)
		return
	}
	for i, act := range actions {
		key := fmt.Sprintf("actions[%d]", i)
		if !IsValidActionType(entityType, act.Type) {
			verr.add(key+".action_type", "action %q not available for %s", act.Type, entityType)
			continue
		}
		validateActionParams(entityType, act, key, verr)
	}
}

// validateActionParams narrows the free-form parameter map per action type so
// malformed actions are rejected before they are ever stored.
func validateActionParams(entityType string, act models.Action, key string, verr *ValidationError) {
	params := act.Parameters
	requireString := func(name string) {
		if s, _ := params[name].(string); s == "" {
			verr.add(key+".parameters."+name, "%s is required for %s", name, act.Type)
		}
	}
	requireID := func(name string) {
		if _, ok := paramUint(params, name); !ok {
			verr.add(key+".parameters."+name, "%s is required for %s", name, act.Type)
		}
	}

	switch act.Type {
	case ActionSetField:
		field, _ := params["field"].(string)
		if field == "" {
			verr.add(key+".parameters.field", "field is required for set_field")
		} else if !IsSettableField(field) {
			verr.add(key+".parameters.field", "field %q is not settable", field)
		}
		if _, ok := params["value"]; !ok {
			verr.add(key+".parameters.value", "value is required for set_field")
		}
	case ActionAssignToUser:
		requireID("user_id")
	case ActionAssignToGroup:
		requireID("group_id")
	case ActionChangeStatus:
		status, _ := params["status"].(string)
		if status == "" {
			verr.add(key+".parameters.status", "status is required for change_status")
		} else if !IsValidStatus(entityType, status) {
			verr.add(key+".parameters.status", "status %q not allowed for %s", status, entityType)
		}
	case ActionChangePriority:
		priority, _ := params["priority"].(string)
		if priority == "" {
			verr.add(key+".parameters.priority", "priority is required for change_priority")
		} else if !IsValidPriority(priority) {
			verr.add(key+".parameters.priority", "invalid priority %q", priority)
		}
	case ActionAddComment:
		requireString("text")
	case ActionSendNotification:
		requireString("message")
		if ch, _ := params["channel"].(string); ch != "" && ch != ChannelSlack && ch != ChannelTeams {
			verr.add(key+".parameters.channel", "channel must be slack or teams")
		}
	case ActionSendEmail:
		requireString("to")
		requireString("message")
	case ActionEscalate:
		// level is optional; when present it must be a positive number
		if _, ok := params["level"]; ok {
			if _, valid := paramUint(params, "level"); !valid {
				verr.add(key+".parameters.level", "level must be a positive number")
			}
		}
	case ActionLinkToProblem:
		requireID("problem_id")
	case ActionCreateTask:
		requireString("title")
	}
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
