package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deskflow/internal/config"
	"deskflow/internal/metrics"
	"deskflow/internal/models"
	"deskflow/internal/rules"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// WorkflowEngine selects and runs workflow rules for one triggering event.
//
// Rules for the same (entity type, trigger type) evaluate sequentially in
// execution_order (ties by id), and actions within a rule in their own
// declared order. Nothing runs in parallel: the stop_on_match short-circuit
// depends on sequential evaluation.
type WorkflowEngine struct {
	db           *gorm.DB
	logger       *logrus.Logger
	dispatcher   *ActionDispatcher
	hub          *ExecutionStreamHub
	tracer       trace.Tracer
	eventTimeout time.Duration
}

func NewWorkflowEngine(db *gorm.DB, logger *logrus.Logger, dispatcher *ActionDispatcher, cfg config.WorkflowConfig) *WorkflowEngine {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.EventTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WorkflowEngine{
		db:           db,
		logger:       logger,
		dispatcher:   dispatcher,
		tracer:       otel.Tracer("deskflow.workflow"),
		eventTimeout: timeout,
	}
}

// SetStreamHub wires the live execution feed. Optional.
func (e *WorkflowEngine) SetStreamHub(hub *ExecutionStreamHub) { e.hub = hub }

// ProcessEvent evaluates all active rules for the event and dispatches
// actions for matches.
//
// Failure semantics: a failing action is recorded in its rule's outcome list
// and never aborts sibling actions or later rules. Failing to FETCH the rule
// set, or to persist a log entry, is fatal for the event and returned to the
// caller, whose retry policy applies.
func (e *WorkflowEngine) ProcessEvent(ctx context.Context, tenantID, entityType, triggerType string, entity *models.Entity, entityData map[string]interface{}) ([]models.WorkflowExecutionLog, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.process_event",
		trace.WithAttributes(
			attribute.String("entity_type", entityType),
			attribute.String("trigger_type", triggerType),
		))
	defer span.End()

	var ruleList []models.WorkflowRule
	if err := e.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND trigger_type = ? AND is_active = ?",
			tenantID, entityType, triggerType, true).
		Order("execution_order ASC, id ASC").
		Find(&ruleList).Error; err != nil {
		return nil, fmt.Errorf("fetch workflow rules: %w", err)
	}

	// The timeout budget covers rule evaluation and action dispatch.
	ctx, cancel := context.WithTimeout(ctx, e.eventTimeout)
	defer cancel()

	eventID := uuid.NewString()
	var entityID uint
	if entity != nil {
		entityID = entity.ID
	}

	entries := make([]models.WorkflowExecutionLog, 0, len(ruleList))
	for i, rule := range ruleList {
		if ctx.Err() != nil {
			// Budget for the event is spent; remaining rules are skipped and
			// the timeout is recorded so the audit trail shows why.
			metrics.IncEventsTimedOut()
			entry := models.WorkflowExecutionLog{
				TenantID:    tenantID,
				EventID:     eventID,
				EntityType:  entityType,
				EntityID:    entityID,
				TriggerType: triggerType,
				Matched:     false,
				Error:       fmt.Sprintf("event timeout exceeded, %d rules skipped", len(ruleList)-i),
				EvaluatedAt: time.Now(),
			}
			if err := e.recordLog(&entry); err != nil {
				return entries, err
			}
			entries = append(entries, entry)
			break
		}

		matched, condTrace := rules.EvaluateAll(rule.Conditions, entityData)
		metrics.IncRulesEvaluated()

		entry := models.WorkflowExecutionLog{
			TenantID:    tenantID,
			EventID:     eventID,
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			EntityType:  entityType,
			EntityID:    entityID,
			TriggerType: triggerType,
			Matched:     matched,
			Error:       anomalySummary(condTrace),
			EvaluatedAt: time.Now(),
		}

		if matched {
			metrics.IncRulesMatched()
			entry.Actions = e.dispatcher.Dispatch(ctx, tenantID, entity, rule.Actions)
		}

		if err := e.recordLog(&entry); err != nil {
			return entries, err
		}
		entries = append(entries, entry)

		if matched && rule.StopOnMatch {
			e.logger.Infof("workflow: rule %q matched with stop_on_match, skipping %d remaining rules",
				rule.Name, len(ruleList)-i-1)
			break
		}
	}

	span.SetAttributes(attribute.Int("rules_evaluated", len(entries)))
	return entries, nil
}

// recordLog persists the entry and pushes it to the live feed. Persistence
// uses a fresh context: the audit record should survive event timeout.
func (e *WorkflowEngine) recordLog(entry *models.WorkflowExecutionLog) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.db.WithContext(writeCtx).Create(entry).Error; err != nil {
		return fmt.Errorf("persist execution log: %w", err)
	}
	if e.hub != nil {
		e.hub.PublishExecution(*entry)
	}
	return nil
}

// anomalySummary folds condition anomalies into one error string for the log.
func anomalySummary(results []rules.ConditionResult) string {
	var parts []string
	for i, r := range results {
		if r.Anomaly != "" {
			parts = append(parts, fmt.Sprintf("condition %d: %s", i, r.Anomaly))
		}
	}
	return strings.Join(parts, "; ")
}
