package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	actiondomain "github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	actionrepo "github.com/smallbiznis/memberledger/internal/actionrequest/repository"
	actionservice "github.com/smallbiznis/memberledger/internal/actionrequest/service"
	auditdomain "github.com/smallbiznis/memberledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/memberledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/memberledger/internal/audit/service"
	balanceservice "github.com/smallbiznis/memberledger/internal/balance/service"
	"github.com/smallbiznis/memberledger/internal/clock"
	"github.com/smallbiznis/memberledger/internal/config"
	ledgerdomain "github.com/smallbiznis/memberledger/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/memberledger/internal/ledger/service"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	programrepo "github.com/smallbiznis/memberledger/internal/program/repository"
	programservice "github.com/smallbiznis/memberledger/internal/program/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serverFixture struct {
	engine     *gin.Engine
	clock      *clock.FakeClock
	programSvc programdomain.Service
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&programdomain.Program{},
		&programdomain.ProgramVersion{},
		&actiondomain.ActionRequest{},
		&ledgerdomain.CustomerEvent{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	programSvc := programservice.New(programservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  programrepo.Provide(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	actionSvc := actionservice.NewService(actionservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fakeClock,
		Repo:       actionrepo.Provide(),
		ProgramSvc: programSvc,
		LedgerSvc:  ledgerSvc,
		AuditSvc:   auditSvc,
	})
	balanceSvc := balanceservice.NewService(balanceservice.Params{
		Log:        log,
		ProgramSvc: programSvc,
		LedgerSvc:  ledgerSvc,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin:        engine,
		Cfg:        config.Config{Environment: "test"},
		DB:         db,
		GenID:      node,
		ActionSvc:  actionSvc,
		ProgramSvc: programSvc,
		BalanceSvc: balanceSvc,
		AuditSvc:   auditSvc,
	})

	return &serverFixture{engine: engine, clock: fakeClock, programSvc: programSvc}
}

func (f *serverFixture) createProgram(t *testing.T, actions map[string]programdomain.ActionPolicy, tiers []programdomain.Tier) programdomain.Program {
	t.Helper()

	program, err := f.programSvc.Create(context.Background(), programdomain.CreateProgramRequest{
		BusinessID: "biz_1",
		Name:       "Coffee Club",
		Type:       "loyalty",
	})
	require.NoError(t, err)

	_, err = f.programSvc.PublishVersion(context.Background(), programdomain.PublishVersionRequest{
		BusinessID: "biz_1",
		ProgramID:  program.ID.String(),
		Actions:    actions,
		Tiers:      tiers,
	})
	require.NoError(t, err)
	return program
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return decoded
}

func submitBody(program programdomain.Program, actionType, key string, payload map[string]any) map[string]any {
	return map[string]any{
		"business_id":     "biz_1",
		"program_id":      program.ID.String(),
		"customer_id":     "cust_1",
		"type":            actionType,
		"payload":         payload,
		"idempotency_key": key,
	}
}

func TestSubmitMemberAction_AutoApproved(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, AutoApprove: true},
	}, nil)

	rec := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "check_in", "k1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "auto_approved", body["status"])
	assert.NotEmpty(t, body["request_id"])
	assert.NotEmpty(t, body["event_id"])
	assert.NotEmpty(t, body["message"])
}

func TestSubmitMemberAction_Pending(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points": {Enabled: true},
	}, nil)

	rec := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "earn_points", "k1", map[string]any{"points": 20}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "pending", body["status"])
	_, hasEvent := body["event_id"]
	assert.False(t, hasEvent)
}

func TestSubmitMemberAction_MissingFields(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true},
	}, nil)

	body := submitBody(program, "check_in", "k1", nil)
	delete(body, "customer_id")
	rec := f.do(t, http.MethodPost, "/api/member-actions", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields", decodeBody(t, rec)["error"])
}

func TestSubmitMemberAction_NonPositiveAmount(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"spend_value": {Enabled: true, AutoApprove: true},
	}, nil)

	// A negative spend would credit the member's stored value.
	rec := f.do(t, http.MethodPost, "/api/member-actions",
		submitBody(program, "spend_value", "k1", map[string]any{"amount": -100}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request", decodeBody(t, rec)["error"])
}

func TestSubmitMemberAction_UnknownProgram(t *testing.T) {
	f := newServerFixture(t)
	f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true},
	}, nil)

	rec := f.do(t, http.MethodPost, "/api/member-actions", map[string]any{
		"business_id":     "biz_1",
		"program_id":      "123456789",
		"customer_id":     "cust_1",
		"type":            "check_in",
		"idempotency_key": "k1",
	})

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Program not found", decodeBody(t, rec)["error"])
}

func TestSubmitMemberAction_ActionNotEnabled(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true},
	}, nil)

	rec := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "spend_value", "k1", map[string]any{"amount": 5}))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Action not enabled", decodeBody(t, rec)["error"])
}

func TestSubmitMemberAction_Duplicate(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, AutoApprove: true},
	}, nil)

	first := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "check_in", "k1", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "check_in", "k1", nil))
	require.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "Duplicate request", decodeBody(t, second)["error"])
}

func TestSubmitMemberAction_CooldownDenied(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, AutoApprove: true, CooldownMinutes: 60},
	}, nil)

	first := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "check_in", "k1", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "check_in", "k2", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	body := decodeBody(t, second)
	assert.Equal(t, "Action not allowed", body["error"])
	assert.Contains(t, body["reason"], "Cooldown active")
}

func TestApproveAndRejectMemberAction(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points": {Enabled: true},
	}, nil)

	submitted := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "earn_points", "k1", map[string]any{"points": 20}))
	require.Equal(t, http.StatusOK, submitted.Code)
	requestID := decodeBody(t, submitted)["request_id"].(string)

	approved := f.do(t, http.MethodPost, "/api/member-actions/"+requestID+"/approve", map[string]any{
		"business_id": "biz_1",
		"approver":    "ops_1",
	})
	require.Equal(t, http.StatusOK, approved.Code)
	body := decodeBody(t, approved)
	assert.Equal(t, "approved", body["status"])
	assert.NotEmpty(t, body["event_id"])

	// Approvals are idempotent, rejecting a decided request is not.
	retried := f.do(t, http.MethodPost, "/api/member-actions/"+requestID+"/approve", map[string]any{
		"business_id": "biz_1",
		"approver":    "ops_1",
	})
	require.Equal(t, http.StatusOK, retried.Code)
	assert.Equal(t, body["event_id"], decodeBody(t, retried)["event_id"])

	rejected := f.do(t, http.MethodPost, "/api/member-actions/"+requestID+"/reject", map[string]any{
		"business_id": "biz_1",
		"approver":    "ops_1",
	})
	require.Equal(t, http.StatusConflict, rejected.Code)
	assert.Equal(t, "Request already decided", decodeBody(t, rejected)["error"])
}

func TestApproveMemberAction_RequiresApprover(t *testing.T) {
	f := newServerFixture(t)
	f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points": {Enabled: true},
	}, nil)

	rec := f.do(t, http.MethodPost, "/api/member-actions/1/approve", map[string]any{
		"business_id": "biz_1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields", decodeBody(t, rec)["error"])
}

func TestGetMemberActionByID(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, AutoApprove: true},
	}, nil)

	submitted := f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "check_in", "k1", nil))
	require.Equal(t, http.StatusOK, submitted.Code)
	requestID := decodeBody(t, submitted)["request_id"].(string)

	rec := f.do(t, http.MethodGet, "/api/member-actions/"+requestID+"?business_id=biz_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "auto_approved", body["status"])
	assert.Equal(t, "cust_1", body["customer_id"])

	foreign := f.do(t, http.MethodGet, "/api/member-actions/"+requestID+"?business_id=biz_2", nil)
	require.Equal(t, http.StatusNotFound, foreign.Code)
	assert.Equal(t, "Not found", decodeBody(t, foreign)["error"])

	missing := f.do(t, http.MethodGet, "/api/member-actions/"+requestID, nil)
	require.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestListMemberActions(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in":    {Enabled: true, AutoApprove: true},
		"earn_points": {Enabled: true},
	}, nil)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "check_in", "k1", nil)).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "earn_points", "k2", map[string]any{"points": 10})).Code)

	rec := f.do(t, http.MethodGet, "/api/member-actions?business_id=biz_1&status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	requests := body["action_requests"].([]any)
	require.Len(t, requests, 1)
	assert.Equal(t, "earn_points", requests[0].(map[string]any)["type"])

	all := f.do(t, http.MethodGet, "/api/member-actions?business_id=biz_1", nil)
	require.Equal(t, http.StatusOK, all.Code)
	assert.Len(t, decodeBody(t, all)["action_requests"].([]any), 2)
}

func TestGetMemberSummary(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points": {Enabled: true, AutoApprove: true},
	}, []programdomain.Tier{
		{Name: "Bronze", Threshold: 0},
		{Name: "Silver", Threshold: 100},
	})

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "earn_points", "k1", map[string]any{"points": 40})).Code)

	rec := f.do(t, http.MethodGet, "/api/members/cust_1/summary?business_id=biz_1&program_id="+program.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	balances := body["balances"].(map[string]any)
	assert.Equal(t, float64(40), balances["points"])

	tier := body["tier_status"].(map[string]any)
	assert.Equal(t, "Bronze", tier["tier"])
	assert.Equal(t, float64(60), tier["points_to_next_tier"])
	assert.Len(t, body["recent_activity"].([]any), 1)
}

func TestGetMemberSummary_UnknownProgram(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/members/cust_1/summary?business_id=biz_1&program_id=42", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Program not found", decodeBody(t, rec)["error"])
}

func TestProgramEndpoints(t *testing.T) {
	f := newServerFixture(t)

	created := f.do(t, http.MethodPost, "/api/programs", map[string]any{
		"business_id": "biz_1",
		"name":        "Tea Rewards",
		"type":        "loyalty",
	})
	require.Equal(t, http.StatusOK, created.Code)
	programID := decodeBody(t, created)["id"].(string)

	published := f.do(t, http.MethodPost, "/api/programs/"+programID+"/versions", map[string]any{
		"business_id": "biz_1",
		"actions": map[string]any{
			"check_in": map[string]any{"enabled": true, "auto_approve": true, "cooldown_minutes": 30},
		},
		"tiers": []map[string]any{
			{"name": "Bronze", "threshold": 0},
		},
	})
	require.Equal(t, http.StatusOK, published.Code)

	fetched := f.do(t, http.MethodGet, "/api/programs/"+programID+"?business_id=biz_1", nil)
	require.Equal(t, http.StatusOK, fetched.Code)
	assert.Equal(t, "Tea Rewards", decodeBody(t, fetched)["name"])

	policies := f.do(t, http.MethodGet, "/api/programs/"+programID+"/policies?business_id=biz_1", nil)
	require.Equal(t, http.StatusOK, policies.Code)
	body := decodeBody(t, policies)
	actions := body["actions"].(map[string]any)
	checkIn := actions["check_in"].(map[string]any)
	assert.Equal(t, true, checkIn["auto_approve"])
	assert.Equal(t, float64(30), checkIn["cooldown_minutes"])
	assert.Len(t, body["tiers"].([]any), 1)
}

func TestCreateProgram_InvalidType(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/programs", map[string]any{
		"business_id": "biz_1",
		"name":        "Mystery",
		"type":        "raffle",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request", decodeBody(t, rec)["error"])
}

func TestListAuditLogs(t *testing.T) {
	f := newServerFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, AutoApprove: true},
	}, nil)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/member-actions", submitBody(program, "check_in", "k1", nil)).Code)

	rec := f.do(t, http.MethodGet, "/api/audit-logs?business_id=biz_1&action=member_action.submitted", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody(t, rec)["audit_logs"].([]any)
	require.NotEmpty(t, logs)
	assert.Equal(t, "member_action.submitted", logs[0].(map[string]any)["action"])
}
