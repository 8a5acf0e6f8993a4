package services

import (
	"context"
	"errors"
	"testing"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newTestEntityService(t *testing.T) (*EntityService, *WorkflowEngine, *gorm.DB) {
	t.Helper()
	db := newWorkflowTestDB(t)
	engine := newTestEngine(t, db, &fakeNotifier{})
	svc := NewEntityService(db, logrus.New())
	svc.SetWorkflowEngine(engine)
	return svc, engine, db
}

func TestCreateEntity_DefaultsAndOnCreateTrigger(t *testing.T) {
	svc, _, db := newTestEntityService(t)

	db.Create(&models.WorkflowRule{
		TenantID: "t1", Name: "triage", EntityType: EntityIssue, TriggerType: TriggerOnCreate,
		IsActive:   true,
		Conditions: models.ConditionList{{Field: "priority", Operator: "equals", Value: "critical"}},
		Actions: models.ActionList{
			{Type: ActionAddComment, Parameters: map[string]interface{}{"text": "auto-ack"}},
		},
	})

	entity, err := svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{
		Type: EntityIssue, Title: "db down", Priority: "critical",
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if entity.Status != "open" {
		t.Errorf("new issues start open, got %s", entity.Status)
	}

	var comments []models.EntityComment
	db.Where("entity_id = ?", entity.ID).Find(&comments)
	if len(comments) != 1 {
		t.Fatalf("on_create rule should have commented, got %d comments", len(comments))
	}

	var logs []models.WorkflowExecutionLog
	db.Where("entity_id = ? AND trigger_type = ?", entity.ID, TriggerOnCreate).Find(&logs)
	if len(logs) != 1 || !logs[0].Matched {
		t.Fatalf("expected one matched on_create log, got %+v", logs)
	}
}

func TestCreateEntity_Validation(t *testing.T) {
	svc, _, _ := newTestEntityService(t)

	if _, err := svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{Type: "gadget", Title: "x"}); err == nil {
		t.Fatal("unknown entity type must be rejected")
	}
	if _, err := svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{Type: EntityIssue, Title: "x", Priority: "urgent"}); err == nil {
		t.Fatal("unknown priority must be rejected")
	}

	entity, err := svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{Type: EntityChange, Title: "rollout"})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if entity.Status != "draft" {
		t.Errorf("new changes start as drafts, got %s", entity.Status)
	}
	if entity.Priority != "medium" {
		t.Errorf("priority defaults to medium, got %s", entity.Priority)
	}
}

func TestUpdateEntity_StatusChangeTrigger(t *testing.T) {
	svc, _, db := newTestEntityService(t)

	entity, err := svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{
		Type: EntityIssue, Title: "flaky wifi",
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	// The rule keys off the previous status snapshot exposed to update events.
	db.Create(&models.WorkflowRule{
		TenantID: "t1", Name: "on-resolve", EntityType: EntityIssue, TriggerType: TriggerOnStatusChange,
		IsActive: true,
		Conditions: models.ConditionList{
			{Field: "status", Operator: "equals", Value: "resolved"},
			{Field: "previous_status", Operator: "equals", Value: "open", LogicalOperator: "AND"},
		},
		Actions: models.ActionList{
			{Type: ActionAddComment, Parameters: map[string]interface{}{"text": "resolved notice"}},
		},
	})

	status := "resolved"
	if _, err := svc.UpdateEntity(context.Background(), "t1", entity.ID, &EntityUpdateRequest{Status: &status}); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}

	var logs []models.WorkflowExecutionLog
	db.Where("entity_id = ? AND trigger_type = ?", entity.ID, TriggerOnStatusChange).Find(&logs)
	if len(logs) != 1 || !logs[0].Matched {
		t.Fatalf("expected matched on_status_change log, got %+v", logs)
	}

	// An update that leaves status alone fires no status change event.
	title := "flaky wifi in lobby"
	if _, err := svc.UpdateEntity(context.Background(), "t1", entity.ID, &EntityUpdateRequest{Title: &title}); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	db.Where("entity_id = ? AND trigger_type = ?", entity.ID, TriggerOnStatusChange).Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("title-only update must not fire on_status_change, got %d logs", len(logs))
	}
}

func TestUpdateEntity_AssignmentTrigger(t *testing.T) {
	svc, _, db := newTestEntityService(t)

	entity, _ := svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{
		Type: EntityIssue, Title: "assign me",
	})
	db.Create(&models.WorkflowRule{
		TenantID: "t1", Name: "on-assign", EntityType: EntityIssue, TriggerType: TriggerOnAssignment,
		IsActive: true, Conditions: models.ConditionList{}, Actions: models.ActionList{},
	})

	agent := uint(42)
	if _, err := svc.UpdateEntity(context.Background(), "t1", entity.ID, &EntityUpdateRequest{AssignedTo: &agent}); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}

	var logs []models.WorkflowExecutionLog
	db.Where("entity_id = ? AND trigger_type = ?", entity.ID, TriggerOnAssignment).Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("expected on_assignment event, got %d logs", len(logs))
	}

	// Re-assigning to the same agent is not an assignment change.
	if _, err := svc.UpdateEntity(context.Background(), "t1", entity.ID, &EntityUpdateRequest{AssignedTo: &agent}); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	db.Where("entity_id = ? AND trigger_type = ?", entity.ID, TriggerOnAssignment).Find(&logs)
	if len(logs) != 1 {
		t.Fatalf("unchanged assignment must not fire the trigger, got %d logs", len(logs))
	}
}

func TestUpdateEntity_InvalidStatusForType(t *testing.T) {
	svc, _, _ := newTestEntityService(t)

	entity, _ := svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{
		Type: EntityRequest, Title: "new laptop",
	})
	bad := "investigating"
	if _, err := svc.UpdateEntity(context.Background(), "t1", entity.ID, &EntityUpdateRequest{Status: &bad}); err == nil {
		t.Fatal("problem statuses must not apply to requests")
	}
}

func TestDeleteEntity_TenantScoped(t *testing.T) {
	svc, _, _ := newTestEntityService(t)

	entity, _ := svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{
		Type: EntityIssue, Title: "gone soon",
	})
	if err := svc.DeleteEntity(context.Background(), "t2", entity.ID); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("foreign tenant must not delete, got %v", err)
	}
	if err := svc.DeleteEntity(context.Background(), "t1", entity.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	if _, err := svc.GetEntity(context.Background(), "t1", entity.ID); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestListEntities_Filters(t *testing.T) {
	svc, _, _ := newTestEntityService(t)

	_, _ = svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{Type: EntityIssue, Title: "a", Priority: "high"})
	_, _ = svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{Type: EntityIssue, Title: "b", Priority: "low"})
	_, _ = svc.CreateEntity(context.Background(), "t1", &EntityCreateRequest{Type: EntityChange, Title: "c"})
	_, _ = svc.CreateEntity(context.Background(), "t2", &EntityCreateRequest{Type: EntityIssue, Title: "d", Priority: "high"})

	list, total, err := svc.ListEntities(context.Background(), "t1", &EntityListRequest{
		Page: 1, PageSize: 10, Type: EntityIssue, Priority: "high",
	})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].Title != "a" {
		t.Fatalf("unexpected result: total=%d list=%+v", total, list)
	}
}
