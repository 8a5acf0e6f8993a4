package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	TenantID  string         `gorm:"index;not null" json:"tenant_id"`
	Username  string         `gorm:"not null" json:"username"`
	Email     string         `gorm:"not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"default:'agent'" json:"role"`    // agent, manager, admin
	Status    string         `gorm:"default:'active'" json:"status"` // active, inactive
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 支持组（工单可指派给组）
type Group struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	TenantID    string         `gorm:"index;not null" json:"tenant_id"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	Email       string         `json:"email"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// Entity 是工作流作用的业务对象（issue/problem/change/request 共用一张表）
type Entity struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	TenantID        string         `gorm:"index;not null" json:"tenant_id"`
	Type            string         `gorm:"index;not null" json:"type"` // issue, problem, change, request
	Title           string         `gorm:"not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Category        string         `json:"category"`
	Status          string         `gorm:"default:'open'" json:"status"`
	Priority        string         `gorm:"default:'medium'" json:"priority"` // low, medium, high, critical
	AssignedTo      *uint          `gorm:"index" json:"assigned_to"`
	AssignedGroup   *uint          `gorm:"index" json:"assigned_group"`
	EscalationLevel int            `gorm:"default:0" json:"escalation_level"`
	Source          string         `json:"source"` // web, email, phone, api
	Tags            string         `json:"tags"`   // 逗号分隔
	DueDate         *time.Time     `json:"due_date"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	ClosedAt        *time.Time     `json:"closed_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Comments []EntityComment `gorm:"foreignKey:EntityID" json:"comments,omitempty"`
	Tasks    []EntityTask    `gorm:"foreignKey:EntityID" json:"tasks,omitempty"`
	Links    []EntityLink    `gorm:"foreignKey:EntityID" json:"links,omitempty"`
}

// Snapshot flattens the entity into the field map rule conditions evaluate
// against. Unassigned pointer fields are omitted so is_empty treats them the
// same as a missing key.
func (e *Entity) Snapshot() map[string]interface{} {
	data := map[string]interface{}{
		"title":            e.Title,
		"description":      e.Description,
		"category":         e.Category,
		"status":           e.Status,
		"priority":         e.Priority,
		"escalation_level": e.EscalationLevel,
		"source":           e.Source,
		"tags":             e.Tags,
	}
	if e.AssignedTo != nil {
		data["assigned_to"] = *e.AssignedTo
	}
	if e.AssignedGroup != nil {
		data["assigned_group"] = *e.AssignedGroup
	}
	return data
}

// 工单评论（含系统评论，由自动化动作写入）
type EntityComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index;not null" json:"tenant_id"`
	EntityID  uint      `gorm:"index;not null" json:"entity_id"`
	UserID    uint      `gorm:"index" json:"user_id"` // 0 表示系统
	Content   string    `gorm:"type:text;not null" json:"content"`
	Type      string    `gorm:"default:'comment'" json:"type"` // comment, internal_note, system
	CreatedAt time.Time `json:"created_at"`
}

// 由 create_task 动作创建的子任务
type EntityTask struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    string     `gorm:"index;not null" json:"tenant_id"`
	EntityID    uint       `gorm:"index;not null" json:"entity_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"default:'open'" json:"status"` // open, in_progress, done
	AssignedTo  *uint      `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EntityLink 记录 issue 与 problem 的关联（link_to_problem 动作）
type EntityLink struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index;not null" json:"tenant_id"`
	EntityID  uint      `gorm:"index;not null" json:"entity_id"`
	ProblemID uint      `gorm:"index;not null" json:"problem_id"`
	LinkType  string    `gorm:"default:'related_to'" json:"link_type"`
	CreatedAt time.Time `json:"created_at"`
}
