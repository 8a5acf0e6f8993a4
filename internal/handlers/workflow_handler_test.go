package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"deskflow/internal/config"
	"deskflow/internal/middleware"
	"deskflow/internal/models"
	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newWorkflowHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:workflow_handler_" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.WorkflowRule{}, &models.WorkflowExecutionLog{},
		&models.Entity{}, &models.EntityComment{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// stubTenant injects the tenant the way AuthMiddleware would after JWT checks.
func stubTenant(tenant string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextTenantID, tenant)
		c.Next()
	}
}

func newWorkflowTestRouter(t *testing.T, db *gorm.DB) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := services.NewWorkflowService(db, nil, config.WorkflowConfig{MaxConditions: 50, MaxActions: 20})
	handler := NewWorkflowHandler(svc, nil)

	router := gin.New()
	api := router.Group("/api")
	api.Use(stubTenant("t1"))
	RegisterWorkflowRoutes(api, handler)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWorkflowHandler_CreateRule(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	w := postJSON(t, router, "/api/workflows/rules", map[string]interface{}{
		"name":         "bump critical",
		"entity_type":  "issue",
		"trigger_type": "on_create",
		"conditions": []map[string]interface{}{
			{"field": "priority", "operator": "equals", "value": "critical"},
		},
		"actions": []map[string]interface{}{
			{"action_type": "escalate", "parameters": map[string]interface{}{}, "order": 1},
		},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	var rule models.WorkflowRule
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.NotZero(t, rule.ID)
	assert.Equal(t, "t1", rule.TenantID)
	assert.True(t, rule.IsActive)
}

func TestWorkflowHandler_CreateRule_ValidationErrors(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	w := postJSON(t, router, "/api/workflows/rules", map[string]interface{}{
		"name":         "broken",
		"entity_type":  "issue",
		"trigger_type": "on_create",
		"conditions": []map[string]interface{}{
			{"field": "priority", "operator": "resembles", "value": "critical"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Fields, "per-field detail must be returned")

	// Nothing was stored.
	var count int64
	db.Model(&models.WorkflowRule{}).Count(&count)
	assert.Zero(t, count)
}

func TestWorkflowHandler_GetRule_NotFoundAndForeignTenant(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	db.Create(&models.WorkflowRule{
		TenantID: "t2", Name: "not yours", EntityType: "issue", TriggerType: "on_create",
		IsActive: true, Conditions: models.ConditionList{}, Actions: models.ActionList{},
	})

	req := httptest.NewRequest("GET", "/api/workflows/rules/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code, "foreign tenant rules look like missing rules")

	req = httptest.NewRequest("GET", "/api/workflows/rules/999", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest("GET", "/api/workflows/rules/zero", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowHandler_UpdateRule_Patch(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	db.Create(&models.WorkflowRule{
		TenantID: "t1", Name: "before", Description: "keep me",
		EntityType: "issue", TriggerType: "on_create",
		IsActive: true, Conditions: models.ConditionList{}, Actions: models.ActionList{},
	})

	raw, _ := json.Marshal(map[string]interface{}{"name": "after"})
	req := httptest.NewRequest("PATCH", "/api/workflows/rules/1", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var rule models.WorkflowRule
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, "after", rule.Name)
	assert.Equal(t, "keep me", rule.Description, "untouched fields survive a partial update")

	req = httptest.NewRequest("PATCH", "/api/workflows/rules/999", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandler_DeleteRule(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	rule := &models.WorkflowRule{
		TenantID: "t1", Name: "victim", EntityType: "issue", TriggerType: "on_create",
		IsActive: true, Conditions: models.ConditionList{}, Actions: models.ActionList{},
	}
	db.Create(rule)

	req := httptest.NewRequest("DELETE", "/api/workflows/rules/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/workflows/rules/1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandler_ToggleRule(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	db.Create(&models.WorkflowRule{
		TenantID: "t1", Name: "flip", EntityType: "issue", TriggerType: "on_create",
		IsActive: true, Conditions: models.ConditionList{}, Actions: models.ActionList{},
	})

	w := postJSON(t, router, "/api/workflows/rules/1/toggle", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var rule models.WorkflowRule
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.False(t, rule.IsActive)
}

func TestWorkflowHandler_TestRule(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	db.Create(&models.WorkflowRule{
		TenantID: "t1", Name: "dry", EntityType: "issue", TriggerType: "on_create",
		IsActive:   true,
		Conditions: models.ConditionList{{Field: "priority", Operator: "equals", Value: "critical"}},
		Actions: models.ActionList{
			{Type: "add_comment", Parameters: map[string]interface{}{"text": "hi"}},
		},
	})

	w := postJSON(t, router, "/api/workflows/rules/1/test", map[string]interface{}{
		"entity_data": map[string]interface{}{"priority": "critical"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var result services.TestRuleResult
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.ConditionsMatch)
	assert.Len(t, result.ActionsThatWouldRun, 1)

	// Dry run writes no comment and no log.
	var comments, logs int64
	db.Model(&models.EntityComment{}).Count(&comments)
	db.Model(&models.WorkflowExecutionLog{}).Count(&logs)
	assert.Zero(t, comments)
	assert.Zero(t, logs)

	// Missing body is a bind error.
	w = postJSON(t, router, "/api/workflows/rules/1/test", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowHandler_ListRulesPaginated(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	for i := 0; i < 3; i++ {
		db.Create(&models.WorkflowRule{
			TenantID: "t1", Name: "r", EntityType: "issue", TriggerType: "on_create",
			IsActive: true, Conditions: models.ConditionList{}, Actions: models.ActionList{},
			ExecutionOrder: i,
		})
	}

	req := httptest.NewRequest("GET", "/api/workflows/rules?page=1&page_size=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp PaginatedResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, 2, resp.PageSize)
	assert.Equal(t, 2, resp.Pages)
}

func TestWorkflowHandler_Catalogs(t *testing.T) {
	db := newWorkflowHandlerTestDB(t)
	router := newWorkflowTestRouter(t, db)

	req := httptest.NewRequest("GET", "/api/workflows/fields/issue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var fields []services.FieldDef
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
	assert.NotEmpty(t, fields)

	req = httptest.NewRequest("GET", "/api/workflows/actions/change", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var actions []services.ActionDef
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &actions))
	for _, a := range actions {
		assert.NotEqual(t, "link_to_problem", a.Type, "problem links are issue-only")
	}

	req = httptest.NewRequest("GET", "/api/workflows/fields/gadget", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
