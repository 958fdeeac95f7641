package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	actionrepo "github.com/smallbiznis/memberledger/internal/actionrequest/repository"
	auditdomain "github.com/smallbiznis/memberledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/memberledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/memberledger/internal/audit/service"
	"github.com/smallbiznis/memberledger/internal/clock"
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

type fixture struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	svc        domain.Service
	programSvc programdomain.Service
	ledgerSvc  ledgerdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&programdomain.Program{},
		&programdomain.ProgramVersion{},
		&domain.ActionRequest{},
		&ledgerdomain.CustomerEvent{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
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

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fakeClock,
		Repo:       actionrepo.Provide(),
		ProgramSvc: programSvc,
		LedgerSvc:  ledgerSvc,
		AuditSvc:   auditSvc,
	})

	return &fixture{
		db:         db,
		clock:      fakeClock,
		svc:        svc,
		programSvc: programSvc,
		ledgerSvc:  ledgerSvc,
	}
}

func (f *fixture) createProgram(t *testing.T, actions map[string]programdomain.ActionPolicy) programdomain.Program {
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
	})
	require.NoError(t, err)
	return program
}

func (f *fixture) submit(program programdomain.Program, actionType, key string, payload map[string]any) (domain.SubmitResult, error) {
	return f.svc.Submit(context.Background(), domain.SubmitRequest{
		BusinessID:     "biz_1",
		ProgramID:      program.ID.String(),
		CustomerID:     "cust_1",
		Type:           actionType,
		Payload:        payload,
		IdempotencyKey: key,
	})
}

func (f *fixture) requestCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&domain.ActionRequest{}).Count(&count).Error)
	return count
}

func floatPtr(v float64) *float64 { return &v }

func TestSubmit_MissingFields(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, AutoApprove: true},
	})

	_, err := f.svc.Submit(context.Background(), domain.SubmitRequest{
		BusinessID:     "biz_1",
		ProgramID:      program.ID.String(),
		Type:           "check_in",
		IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, domain.ErrMissingFields)
	assert.Zero(t, f.requestCount(t))
}

func TestSubmit_UnknownProgram(t *testing.T) {
	f := newFixture(t)
	f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true},
	})

	_, err := f.svc.Submit(context.Background(), domain.SubmitRequest{
		BusinessID:     "biz_1",
		ProgramID:      "999999999999",
		CustomerID:     "cust_1",
		Type:           "check_in",
		IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, programdomain.ErrNotFound)

	_, err = f.svc.Submit(context.Background(), domain.SubmitRequest{
		BusinessID:     "biz_1",
		ProgramID:      "not-a-number",
		CustomerID:     "cust_1",
		Type:           "check_in",
		IdempotencyKey: "k2",
	})
	assert.ErrorIs(t, err, programdomain.ErrNotFound)
}

func TestSubmit_ActionNotEnabled(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in":    {Enabled: true, AutoApprove: true},
		"earn_points": {Enabled: false},
	})

	_, err := f.submit(program, "earn_points", "k1", map[string]any{"points": 10})
	assert.ErrorIs(t, err, programdomain.ErrActionNotEnabled)

	_, err = f.submit(program, "redeem_offer", "k2", nil)
	assert.ErrorIs(t, err, programdomain.ErrActionNotEnabled)

	// Denied submissions leave no trace in storage.
	assert.Zero(t, f.requestCount(t))
}

func TestSubmit_DuplicateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points": {Enabled: true},
	})

	first, err := f.submit(program, "earn_points", "k1", map[string]any{"points": 10})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, first.Request.Status)

	// Same key with a different payload still conflicts.
	_, err = f.submit(program, "earn_points", "k1", map[string]any{"points": 999})
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.EqualValues(t, 1, f.requestCount(t))
}

func TestSubmit_CheckInAutoApproved(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, AutoApprove: true},
	})

	result, err := f.submit(program, "check_in", "k1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAutoApproved, result.Request.Status)
	require.NotNil(t, result.EventID)
	require.NotNil(t, result.Request.ApprovedAt)

	event, err := f.ledgerSvc.FindByIdempotencyKey(context.Background(), "biz_1", program.ID, "approved_k1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, ledgerdomain.EventTypeCheckIn, event.Type)
	assert.Equal(t, *result.EventID, event.ID)
}

func TestSubmit_CooldownActive(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, AutoApprove: true, CooldownMinutes: 60},
	})

	_, err := f.submit(program, "check_in", "k1", nil)
	require.NoError(t, err)

	_, err = f.submit(program, "check_in", "k2", nil)
	var limited *domain.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Contains(t, limited.Reason, "60 minutes")

	f.clock.Advance(30 * time.Minute)
	_, err = f.submit(program, "check_in", "k3", nil)
	require.ErrorAs(t, err, &limited)
	assert.Contains(t, limited.Reason, "30 minutes")

	f.clock.Advance(31 * time.Minute)
	result, err := f.submit(program, "check_in", "k4", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAutoApproved, result.Request.Status)
}

func TestSubmit_DailyLimit(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points": {Enabled: true, MaxPerDay: 3},
	})

	for i := 1; i <= 3; i++ {
		_, err := f.submit(program, "earn_points", fmt.Sprintf("k%d", i), map[string]any{"points": 5})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	_, err := f.submit(program, "earn_points", "k4", map[string]any{"points": 5})
	var limited *domain.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, "Daily limit reached (3 per day).", limited.Reason)

	// The window resets at the next UTC midnight.
	f.clock.Advance(24 * time.Hour)
	_, err = f.submit(program, "earn_points", "k5", map[string]any{"points": 5})
	require.NoError(t, err)
}

func TestSubmit_EarnPointsAutoApprovalBound(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points": {Enabled: true, AutoApprove: true},
	})

	within, err := f.submit(program, "earn_points", "k1", map[string]any{"points": 50})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAutoApproved, within.Request.Status)

	event, err := f.ledgerSvc.FindByIdempotencyKey(context.Background(), "biz_1", program.ID, "approved_k1")
	require.NoError(t, err)
	require.NotNil(t, event)
	deltas, err := event.Deltas()
	require.NoError(t, err)
	assert.EqualValues(t, 50, deltas.PointsDelta)

	over, err := f.submit(program, "earn_points", "k2", map[string]any{"points": 51})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, over.Request.Status)
	assert.Nil(t, over.EventID)
}

func TestSubmit_EarnPointsCustomBound(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points": {Enabled: true, AutoApprove: true, MaxAmount: floatPtr(200)},
	})

	result, err := f.submit(program, "earn_points", "k1", map[string]any{"points": 150})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAutoApproved, result.Request.Status)

	over, err := f.submit(program, "earn_points", "k2", map[string]any{"points": 201})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, over.Request.Status)
}

func TestSubmit_SpendValueMinorUnits(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"spend_value": {Enabled: true, AutoApprove: true},
	})

	result, err := f.submit(program, "spend_value", "k1", map[string]any{"amount": 12.50})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAutoApproved, result.Request.Status)

	event, err := f.ledgerSvc.FindByIdempotencyKey(context.Background(), "biz_1", program.ID, "approved_k1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, ledgerdomain.EventTypeRedeem, event.Type)
	deltas, err := event.Deltas()
	require.NoError(t, err)
	assert.EqualValues(t, -1250, deltas.StoredValueDelta)
}

func TestSubmit_RedeemOfferNeverAutoApproved(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"redeem_offer": {Enabled: true, AutoApprove: true},
	})

	result, err := f.submit(program, "redeem_offer", "k1", map[string]any{"points_cost": 100})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, result.Request.Status)
	assert.Nil(t, result.EventID)
}

func TestSubmit_NonPositiveAmountRejected(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"earn_points":  {Enabled: true, AutoApprove: true},
		"spend_value":  {Enabled: true, AutoApprove: true},
		"redeem_offer": {Enabled: true},
	})

	// A negative spend would flip the delta sign and credit the member.
	_, err := f.submit(program, "spend_value", "k1", map[string]any{"amount": -100})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.submit(program, "earn_points", "k2", map[string]any{"points": 0})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.submit(program, "redeem_offer", "k3", map[string]any{"points_cost": -5})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.submit(program, "earn_points", "k4", nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	// Nothing was stored and no ledger event exists for any of the keys.
	assert.Zero(t, f.requestCount(t))
	event, err := f.ledgerSvc.FindByIdempotencyKey(context.Background(), "biz_1", program.ID, "approved_k1")
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"redeem_offer": {Enabled: true},
	})

	submitted, err := f.submit(program, "redeem_offer", "k1", map[string]any{"points_cost": 100})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, submitted.Request.Status)

	approved, err := f.svc.Approve(context.Background(), domain.ApproveRequest{
		BusinessID: "biz_1",
		ID:         submitted.Request.ID.String(),
		ActorType:  "operator",
		ActorID:    "op_1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Request.Status)
	require.NotNil(t, approved.Request.ApprovedAt)

	event, err := f.ledgerSvc.FindByIdempotencyKey(context.Background(), "biz_1", program.ID, "approved_k1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, approved.EventID, event.ID)
	deltas, err := event.Deltas()
	require.NoError(t, err)
	assert.EqualValues(t, -100, deltas.PointsDelta)

	// Retried approvals return the original event instead of appending twice.
	again, err := f.svc.Approve(context.Background(), domain.ApproveRequest{
		BusinessID: "biz_1",
		ID:         submitted.Request.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, approved.EventID, again.EventID)

	events, err := f.ledgerSvc.ListByCustomer(context.Background(), program.ID, "cust_1")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = f.svc.Reject(context.Background(), domain.RejectRequest{
		BusinessID: "biz_1",
		ID:         submitted.Request.ID.String(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"redeem_offer": {Enabled: true},
	})

	submitted, err := f.submit(program, "redeem_offer", "k1", map[string]any{"points_cost": 100})
	require.NoError(t, err)

	rejected, err := f.svc.Reject(context.Background(), domain.RejectRequest{
		BusinessID: "biz_1",
		ID:         submitted.Request.ID.String(),
		Reason:     "suspected abuse",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)

	// No ledger event for a rejected request.
	events, err := f.ledgerSvc.ListByCustomer(context.Background(), program.ID, "cust_1")
	require.NoError(t, err)
	assert.Empty(t, events)

	// Rejecting again is idempotent; approving a rejection is not allowed.
	again, err := f.svc.Reject(context.Background(), domain.RejectRequest{
		BusinessID: "biz_1",
		ID:         submitted.Request.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, again.Status)

	_, err = f.svc.Approve(context.Background(), domain.ApproveRequest{
		BusinessID: "biz_1",
		ID:         submitted.Request.ID.String(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestGetByID(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true},
	})

	submitted, err := f.submit(program, "check_in", "k1", nil)
	require.NoError(t, err)

	found, err := f.svc.GetByID(context.Background(), domain.GetRequest{
		BusinessID: "biz_1",
		ID:         submitted.Request.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, submitted.Request.ID, found.ID)

	_, err = f.svc.GetByID(context.Background(), domain.GetRequest{
		BusinessID: "biz_1",
		ID:         "999999999999",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.GetByID(context.Background(), domain.GetRequest{
		BusinessID: "biz_1",
		ID:         "nope",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	// A foreign business cannot read the request.
	_, err = f.svc.GetByID(context.Background(), domain.GetRequest{
		BusinessID: "biz_2",
		ID:         submitted.Request.ID.String(),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in":    {Enabled: true, AutoApprove: true},
		"earn_points": {Enabled: true},
	})

	_, err := f.submit(program, "check_in", "k1", nil)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.submit(program, "earn_points", "k2", map[string]any{"points": 10})
	require.NoError(t, err)

	all, err := f.svc.List(context.Background(), domain.ListRequest{BusinessID: "biz_1"})
	require.NoError(t, err)
	assert.Len(t, all.Requests, 2)

	pending, err := f.svc.List(context.Background(), domain.ListRequest{
		BusinessID: "biz_1",
		Status:     string(domain.StatusPending),
	})
	require.NoError(t, err)
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, domain.ActionTypeEarnPoints, pending.Requests[0].Type)

	none, err := f.svc.List(context.Background(), domain.ListRequest{BusinessID: "biz_2"})
	require.NoError(t, err)
	assert.Empty(t, none.Requests)
}

func TestSubmit_RejectedCountsTowardCooldown(t *testing.T) {
	f := newFixture(t)
	program := f.createProgram(t, map[string]programdomain.ActionPolicy{
		"check_in": {Enabled: true, CooldownMinutes: 60},
	})

	// Rejected requests still count toward the cooldown window.
	submitted, err := f.submit(program, "check_in", "k1", nil)
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), domain.RejectRequest{
		BusinessID: "biz_1",
		ID:         submitted.Request.ID.String(),
	})
	require.NoError(t, err)

	_, err = f.submit(program, "check_in", "k2", nil)
	var limited *domain.RateLimitedError
	require.True(t, errors.As(err, &limited))
	assert.Contains(t, limited.Reason, "Cooldown active")
}
