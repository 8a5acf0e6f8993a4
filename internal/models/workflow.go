package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Condition 单个规则条件
type Condition struct {
	Field string `json:"field"`
	// equals, not_equals, contains, not_contains, starts_with, ends_with,
	// greater_than, less_than, is_empty, is_not_empty, in_list, not_in_list
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
	// LogicalOperator joins this condition with the NEXT one (AND/OR).
	// Empty means AND. The last condition's connector is ignored.
	LogicalOperator string `json:"logical_operator,omitempty"`
}

// Action 规则命中后执行的动作
type Action struct {
	// set_field, assign_to_user, assign_to_group, change_status,
	// change_priority, add_comment, send_notification, send_email, escalate,
	// link_to_problem, create_task
	Type       string                 `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Order      int                    `json:"order"`
}

// ActionOutcome 记录单个动作的执行结果
type ActionOutcome struct {
	ActionType string `json:"action_type"`
	Succeeded  bool   `json:"succeeded"`
	Detail     string `json:"detail,omitempty"`
}

func jsonScan(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.New(fmt.Sprint("failed to unmarshal JSON column value:", v))
	}
}

// ConditionList 以 JSON 文本存储的条件序列
type ConditionList []Condition

func (l *ConditionList) Scan(value interface{}) error { return jsonScan(l, value) }

func (l ConditionList) Value() (driver.Value, error) {
	if l == nil {
		l = ConditionList{}
	}
	return json.Marshal(l)
}

// ActionList 以 JSON 文本存储的动作序列
type ActionList []Action

func (l *ActionList) Scan(value interface{}) error { return jsonScan(l, value) }

func (l ActionList) Value() (driver.Value, error) {
	if l == nil {
		l = ActionList{}
	}
	return json.Marshal(l)
}

// OutcomeList 以 JSON 文本存储的动作结果序列
type OutcomeList []ActionOutcome

func (l *OutcomeList) Scan(value interface{}) error { return jsonScan(l, value) }

func (l OutcomeList) Value() (driver.Value, error) {
	if l == nil {
		l = OutcomeList{}
	}
	return json.Marshal(l)
}

// WorkflowRule 工作流自动化规则
// Conditions/Actions 内嵌在规则里，没有独立生命周期。
type WorkflowRule struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	TenantID    string `gorm:"index;not null" json:"tenant_id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	EntityType  string `gorm:"index;not null" json:"entity_type"` // issue, problem, change, request
	// on_create, on_update, on_status_change, on_assignment, scheduled
	TriggerType string        `gorm:"index;not null" json:"trigger_type"`
	IsActive    bool          `gorm:"default:true" json:"is_active"`
	Conditions  ConditionList `gorm:"type:text" json:"conditions"`
	Actions     ActionList    `gorm:"type:text" json:"actions"`
	// Lower execution_order runs first; ties break by id (creation order).
	ExecutionOrder int       `gorm:"default:0;index" json:"execution_order"`
	StopOnMatch    bool      `gorm:"default:false" json:"stop_on_match"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WorkflowExecutionLog 每次规则评估写入一条，创建后不可变。
// 规则删除后日志保留（rule_id 仅作引用）。
type WorkflowExecutionLog struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TenantID string `gorm:"index;not null" json:"tenant_id"`
	// EventID groups the log entries produced by one triggering event.
	EventID     string      `gorm:"index" json:"event_id"`
	RuleID      uint        `gorm:"index" json:"rule_id"`
	RuleName    string      `json:"rule_name"`
	EntityType  string      `gorm:"index" json:"entity_type"`
	EntityID    uint        `gorm:"index" json:"entity_id"`
	TriggerType string      `json:"trigger_type"`
	Matched     bool        `json:"matched"`
	Actions     OutcomeList `gorm:"type:text" json:"actions_executed"`
	Error       string      `json:"error,omitempty"`
	EvaluatedAt time.Time   `gorm:"index" json:"evaluated_at"`
}
