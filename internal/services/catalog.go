package services

// Entity types workflow rules can target.
const (
	EntityIssue   = "issue"
	EntityProblem = "problem"
	EntityChange  = "change"
	EntityRequest = "request"
)

// Trigger types. The scheduled trigger is fired by an external scheduler
// calling the engine; there is no cron loop in this service.
const (
	TriggerOnCreate       = "on_create"
	TriggerOnUpdate       = "on_update"
	TriggerOnStatusChange = "on_status_change"
	TriggerOnAssignment   = "on_assignment"
	TriggerScheduled      = "scheduled"
)

// Action types.
const (
	ActionSetField         = "set_field"
	ActionAssignToUser     = "assign_to_user"
	ActionAssignToGroup    = "assign_to_group"
	ActionChangeStatus     = "change_status"
	ActionChangePriority   = "change_priority"
	ActionAddComment       = "add_comment"
	ActionSendNotification = "send_notification"
	ActionSendEmail        = "send_email"
	ActionEscalate         = "escalate"
	ActionLinkToProblem    = "link_to_problem"
	ActionCreateTask       = "create_task"
)

// FieldDef 条件可引用的实体字段（静态目录，供前端构建规则表单）
type FieldDef struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"` // string, number, enum, user, group
}

// ActionDef 某实体类型可用的动作
type ActionDef struct {
	Type  string `json:"action_type"`
	Label string `json:"label"`
}

var entityTypes = []string{EntityIssue, EntityProblem, EntityChange, EntityRequest}

var triggerTypes = []string{
	TriggerOnCreate, TriggerOnUpdate, TriggerOnStatusChange, TriggerOnAssignment, TriggerScheduled,
}

func IsValidEntityType(t string) bool {
	for _, e := range entityTypes {
		if e == t {
			return true
		}
	}
	return false
}

func IsValidTriggerType(t string) bool {
	for _, tr := range triggerTypes {
		if tr == t {
			return true
		}
	}
	return false
}

var priorities = []string{"low", "medium", "high", "critical"}

// statusCatalog 每种实体类型允许的状态集合
var statusCatalog = map[string][]string{
	EntityIssue:   {"open", "in_progress", "on_hold", "resolved", "closed"},
	EntityProblem: {"open", "investigating", "known_error", "resolved", "closed"},
	EntityChange:  {"draft", "submitted", "approved", "scheduled", "implemented", "closed"},
	EntityRequest: {"open", "pending_approval", "in_progress", "fulfilled", "closed"},
}

// AllowedStatuses returns the status set for the entity type.
func AllowedStatuses(entityType string) []string {
	return statusCatalog[entityType]
}

func IsValidStatus(entityType, status string) bool {
	for _, s := range statusCatalog[entityType] {
		if s == status {
			return true
		}
	}
	return false
}

func IsValidPriority(p string) bool {
	for _, v := range priorities {
		if v == p {
			return true
		}
	}
	return false
}

// settableFields is the column whitelist for the set_field action. Status,
// priority and assignments have dedicated, validated actions and are
// deliberately excluded.
var settableFields = map[string]bool{
	"title":       true,
	"description": true,
	"category":    true,
	"tags":        true,
	"source":      true,
}

func IsSettableField(field string) bool { return settableFields[field] }

var commonFields = []FieldDef{
	{Name: "title", Label: "Title", Type: "string"},
	{Name: "description", Label: "Description", Type: "string"},
	{Name: "category", Label: "Category", Type: "string"},
	{Name: "status", Label: "Status", Type: "enum"},
	{Name: "priority", Label: "Priority", Type: "enum"},
	{Name: "assigned_to", Label: "Assigned user", Type: "user"},
	{Name: "assigned_group", Label: "Assigned group", Type: "group"},
	{Name: "escalation_level", Label: "Escalation level", Type: "number"},
	{Name: "source", Label: "Source", Type: "string"},
	{Name: "tags", Label: "Tags", Type: "string"},
}

// FieldsFor returns the field catalog for the entity type, or nil for an
// unknown type. All four entity types share the flat field set.
func FieldsFor(entityType string) []FieldDef {
	if !IsValidEntityType(entityType) {
		return nil
	}
	out := make([]FieldDef, len(commonFields))
	copy(out, commonFields)
	return out
}

var commonActions = []ActionDef{
	{Type: ActionSetField, Label: "Set field"},
	{Type: ActionAssignToUser, Label: "Assign to user"},
	{Type: ActionAssignToGroup, Label: "Assign to group"},
	{Type: ActionChangeStatus, Label: "Change status"},
	{Type: ActionChangePriority, Label: "Change priority"},
	{Type: ActionAddComment, Label: "Add comment"},
	{Type: ActionSendNotification, Label: "Send notification"},
	{Type: ActionSendEmail, Label: "Send email"},
	{Type: ActionEscalate, Label: "Escalate"},
	{Type: ActionCreateTask, Label: "Create task"},
}

// ActionsFor returns the action catalog for the entity type. link_to_problem
// is only offered for issues.
func ActionsFor(entityType string) []ActionDef {
	if !IsValidEntityType(entityType) {
		return nil
	}
	out := make([]ActionDef, len(commonActions))
	copy(out, commonActions)
	if entityType == EntityIssue {
		out = append(out, ActionDef{Type: ActionLinkToProblem, Label: "Link to problem"})
	}
	return out
}

// IsValidActionType reports whether the action type is valid for the entity
// type.
func IsValidActionType(entityType, actionType string) bool {
	for _, a := range ActionsFor(entityType) {
		if a.Type == actionType {
			return true
		}
	}
	return false
}
