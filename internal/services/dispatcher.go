package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"deskflow/internal/metrics"
	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ActionDispatcher executes a matched rule's actions against the target
// entity. Actions run strictly in ascending order; each handler invocation is
// wrapped so one failure is recorded in the outcome and never aborts sibling
// actions. The dispatcher does not retry.
type ActionDispatcher struct {
	db       *gorm.DB
	logger   *logrus.Logger
	notifier Notifier
}

func NewActionDispatcher(db *gorm.DB, logger *logrus.Logger, notifier Notifier) *ActionDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionDispatcher{db: db, logger: logger, notifier: notifier}
}

// Dispatch runs the actions in order and returns one outcome per action.
func (d *ActionDispatcher) Dispatch(ctx context.Context, tenantID string, entity *models.Entity, actions models.ActionList) models.OutcomeList {
	ordered := make([]models.Action, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	outcomes := make(models.OutcomeList, 0, len(ordered))
	for _, act := range ordered {
		outcome := models.ActionOutcome{ActionType: act.Type, Succeeded: true}
		detail, err := d.execute(ctx, tenantID, entity, act)
		metrics.IncActionsExecuted()
		if err != nil {
			d.logger.Warnf("workflow: action %s failed: %v", act.Type, err)
			metrics.IncActionsFailed()
			outcome.Succeeded = false
			outcome.Detail = err.Error()
		} else {
			outcome.Detail = detail
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (d *ActionDispatcher) execute(ctx context.Context, tenantID string, entity *models.Entity, act models.Action) (string, error) {
	switch act.Type {
	case ActionSetField:
		return d.setField(ctx, entity, act.Parameters)
	case ActionAssignToUser:
		return d.assignToUser(ctx, tenantID, entity, act.Parameters)
	case ActionAssignToGroup:
		return d.assignToGroup(ctx, tenantID, entity, act.Parameters)
	case ActionChangeStatus:
		return d.changeStatus(ctx, entity, act.Parameters)
	case ActionChangePriority:
		return d.changePriority(ctx, entity, act.Parameters)
	case ActionAddComment:
		return d.addComment(ctx, tenantID, entity, act.Parameters)
	case ActionSendNotification:
		return d.sendNotification(ctx, act.Parameters)
	case ActionSendEmail:
		return d.sendEmail(ctx, act.Parameters)
	case ActionEscalate:
		return d.escalate(ctx, entity, act.Parameters)
	case ActionLinkToProblem:
		return d.linkToProblem(ctx, tenantID, entity, act.Parameters)
	case ActionCreateTask:
		return d.createTask(ctx, tenantID, entity, act.Parameters)
	default:
		return "", fmt.Errorf("unsupported action type: %s", act.Type)
	}
}

func requireEntity(entity *models.Entity) error {
	if entity == nil || entity.ID == 0 {
		return fmt.Errorf("entity not loaded")
	}
	return nil
}

// paramString extracts a string parameter.
func paramString(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

// paramUint extracts a numeric id parameter; JSON decodes numbers as float64
// but stored rules may also carry strings.
func paramUint(params map[string]interface{}, key string) (uint, bool) {
	switch v := params[key].(type) {
	case float64:
		if v <= 0 {
			return 0, false
		}
		return uint(v), true
	case int:
		if v <= 0 {
			return 0, false
		}
		return uint(v), true
	case string:
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return 0, false
		}
		return uint(n), true
	default:
		return 0, false
	}
}

func (d *ActionDispatcher) setField(ctx context.Context, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	field := paramString(params, "field")
	if field == "" {
		return "", fmt.Errorf("field param required")
	}
	if !IsSettableField(field) {
		return "", fmt.Errorf("field %q is not settable", field)
	}
	value := fmt.Sprintf("%v", params["value"])

	if err := d.db.WithContext(ctx).Model(&models.Entity{}).
		Where("id = ?", entity.ID).
		Update(field, value).Error; err != nil {
		return "", err
	}
	applyFieldLocally(entity, field, value)
	return fmt.Sprintf("set %s=%s", field, value), nil
}

// applyFieldLocally keeps the in-memory entity in step with the DB so later
// actions in the same rule see the new value.
func applyFieldLocally(entity *models.Entity, field, value string) {
	switch field {
	case "title":
		entity.Title = value
	case "description":
		entity.Description = value
	case "category":
		entity.Category = value
	case "tags":
		entity.Tags = value
	case "source":
		entity.Source = value
	}
}

func (d *ActionDispatcher) assignToUser(ctx context.Context, tenantID string, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	userID, ok := paramUint(params, "user_id")
	if !ok {
		return "", fmt.Errorf("user_id param required")
	}

	var count int64
	if err := d.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND tenant_id = ?", userID, tenantID).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("user %d not found", userID)
	}

	if err := d.db.WithContext(ctx).Model(&models.Entity{}).
		Where("id = ?", entity.ID).
		Update("assigned_to", userID).Error; err != nil {
		return "", err
	}
	entity.AssignedTo = &userID
	return fmt.Sprintf("assigned to user %d", userID), nil
}

func (d *ActionDispatcher) assignToGroup(ctx context.Context, tenantID string, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	groupID, ok := paramUint(params, "group_id")
	if !ok {
		return "", fmt.Errorf("group_id param required")
	}

	var count int64
	if err := d.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND tenant_id = ?", groupID, tenantID).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("group %d not found", groupID)
	}

	if err := d.db.WithContext(ctx).Model(&models.Entity{}).
		Where("id = ?", entity.ID).
		Update("assigned_group", groupID).Error; err != nil {
		return "", err
	}
	entity.AssignedGroup = &groupID
	return fmt.Sprintf("assigned to group %d", groupID), nil
}

func (d *ActionDispatcher) changeStatus(ctx context.Context, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	status := paramString(params, "status")
	if status == "" {
		return "", fmt.Errorf("status param required")
	}
	if !IsValidStatus(entity.Type, status) {
		return "", fmt.Errorf("status %q not allowed for %s", status, entity.Type)
	}

	updates := map[string]interface{}{"status": status}
	now := time.Now()
	switch status {
	case "resolved":
		updates["resolved_at"] = now
	case "closed":
		updates["closed_at"] = now
	}

	if err := d.db.WithContext(ctx).Model(&models.Entity{}).
		Where("id = ?", entity.ID).
		Updates(updates).Error; err != nil {
		return "", err
	}
	entity.Status = status
	return fmt.Sprintf("status changed to %s", status), nil
}

func (d *ActionDispatcher) changePriority(ctx context.Context, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	priority := paramString(params, "priority")
	if priority == "" {
		return "", fmt.Errorf("priority param required")
	}
	if !IsValidPriority(priority) {
		return "", fmt.Errorf("invalid priority: %s", priority)
	}

	if err := d.db.WithContext(ctx).Model(&models.Entity{}).
		Where("id = ?", entity.ID).
		Update("priority", priority).Error; err != nil {
		return "", err
	}
	entity.Priority = priority
	return fmt.Sprintf("priority changed to %s", priority), nil
}

func (d *ActionDispatcher) addComment(ctx context.Context, tenantID string, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	text := paramString(params, "text")
	if text == "" {
		return "", fmt.Errorf("text param required")
	}

	comment := &models.EntityComment{
		TenantID:  tenantID,
		EntityID:  entity.ID,
		UserID:    0,
		Content:   text,
		Type:      "system",
		CreatedAt: time.Now(),
	}
	if err := d.db.WithContext(ctx).Create(comment).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("comment %d added", comment.ID), nil
}

func (d *ActionDispatcher) sendNotification(ctx context.Context, params map[string]interface{}) (string, error) {
	if d.notifier == nil {
		return "", fmt.Errorf("notifier not configured")
	}
	channel := paramString(params, "channel")
	if channel == "" {
		channel = ChannelSlack
	}
	message := paramString(params, "message")
	if message == "" {
		return "", fmt.Errorf("message param required")
	}

	n := Notification{
		Channel: channel,
		Subject: paramString(params, "subject"),
		Message: message,
	}
	if err := d.notifier.Send(ctx, n); err != nil {
		metrics.IncNotificationsFailed()
		return "", fmt.Errorf("notification delivery: %w", err)
	}
	return fmt.Sprintf("notification sent via %s", channel), nil
}

func (d *ActionDispatcher) sendEmail(ctx context.Context, params map[string]interface{}) (string, error) {
	if d.notifier == nil {
		return "", fmt.Errorf("notifier not configured")
	}
	to := paramString(params, "to")
	if to == "" {
		return "", fmt.Errorf("to param required")
	}
	message := paramString(params, "message")
	if message == "" {
		return "", fmt.Errorf("message param required")
	}

	n := Notification{
		Channel:   ChannelEmail,
		Recipient: to,
		Subject:   paramString(params, "subject"),
		Message:   message,
	}
	if err := d.notifier.Send(ctx, n); err != nil {
		metrics.IncNotificationsFailed()
		return "", fmt.Errorf("email delivery: %w", err)
	}
	return fmt.Sprintf("email sent to %s", to), nil
}

func (d *ActionDispatcher) escalate(ctx context.Context, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	level := entity.EscalationLevel + 1
	if l, ok := paramUint(params, "level"); ok {
		level = int(l)
	}

	if err := d.db.WithContext(ctx).Model(&models.Entity{}).
		Where("id = ?", entity.ID).
		Update("escalation_level", level).Error; err != nil {
		return "", err
	}
	entity.EscalationLevel = level

	// Escalations usually page someone; a delivery failure does not undo the
	// level bump, so it is logged rather than failing the action.
	if d.notifier != nil {
		n := Notification{
			Channel: ChannelSlack,
			Subject: fmt.Sprintf("%s #%d escalated", entity.Type, entity.ID),
			Message: fmt.Sprintf("%q escalated to level %d", entity.Title, level),
		}
		if err := d.notifier.Send(ctx, n); err != nil {
			metrics.IncNotificationsFailed()
			d.logger.Warnf("workflow: escalation notice failed: %v", err)
		}
	}
	return fmt.Sprintf("escalated to level %d", level), nil
}

func (d *ActionDispatcher) linkToProblem(ctx context.Context, tenantID string, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	if entity.Type != EntityIssue {
		return "", fmt.Errorf("link_to_problem only valid for issues, entity is %s", entity.Type)
	}
	problemID, ok := paramUint(params, "problem_id")
	if !ok {
		return "", fmt.Errorf("problem_id param required")
	}

	var count int64
	if err := d.db.WithContext(ctx).Model(&models.Entity{}).
		Where("id = ? AND tenant_id = ? AND type = ?", problemID, tenantID, EntityProblem).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("problem %d not found", problemID)
	}

	link := &models.EntityLink{
		TenantID:  tenantID,
		EntityID:  entity.ID,
		ProblemID: problemID,
		LinkType:  "related_to",
		CreatedAt: time.Now(),
	}
	if err := d.db.WithContext(ctx).Create(link).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("linked to problem %d", problemID), nil
}

func (d *ActionDispatcher) createTask(ctx context.Context, tenantID string, entity *models.Entity, params map[string]interface{}) (string, error) {
	if err := requireEntity(entity); err != nil {
		return "", err
	}
	title := paramString(params, "title")
	if title == "" {
		return "", fmt.Errorf("title param required")
	}

	task := &models.EntityTask{
		TenantID:    tenantID,
		EntityID:    entity.ID,
		Title:       title,
		Description: paramString(params, "description"),
		Status:      "open",
	}
	if uid, ok := paramUint(params, "user_id"); ok {
		task.AssignedTo = &uid
	}
	if err := d.db.WithContext(ctx).Create(task).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("task %d created", task.ID), nil
}
