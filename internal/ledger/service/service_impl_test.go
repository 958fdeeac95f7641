package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/memberledger/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.CustomerEvent{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
}

func appendRequest(key string, at time.Time) domain.AppendEventRequest {
	return domain.AppendEventRequest{
		BusinessID:     "biz_1",
		ProgramID:      snowflake.ID(101),
		CustomerID:     "cust_1",
		Type:           domain.EventTypeEarn,
		Amounts:        domain.Amounts{PointsDelta: 25},
		Source:         "pos",
		IdempotencyKey: key,
		ObservedAt:     at,
	}
}

func TestAppend_DuplicateKeyReturnsExistingEvent(t *testing.T) {
	svc := newTestService(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first, inserted, err := svc.Append(context.Background(), nil, appendRequest("e1", at))
	require.NoError(t, err)
	require.True(t, inserted)

	// Retrying with the same key must not write a second row even when the
	// retry carries different amounts.
	retry := appendRequest("e1", at.Add(time.Minute))
	retry.Amounts = domain.Amounts{PointsDelta: 999}
	second, inserted, err := svc.Append(context.Background(), nil, retry)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	deltas, err := second.Deltas()
	require.NoError(t, err)
	assert.EqualValues(t, 25, deltas.PointsDelta)

	events, err := svc.ListByCustomer(context.Background(), snowflake.ID(101), "cust_1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppend_ValidatesRequest(t *testing.T) {
	svc := newTestService(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	req := appendRequest("e1", at)
	req.BusinessID = " "
	_, _, err := svc.Append(context.Background(), nil, req)
	require.ErrorIs(t, err, domain.ErrInvalidBusiness)

	req = appendRequest("e1", at)
	req.ProgramID = 0
	_, _, err = svc.Append(context.Background(), nil, req)
	require.ErrorIs(t, err, domain.ErrInvalidProgram)

	req = appendRequest("e1", at)
	req.Type = "refund"
	_, _, err = svc.Append(context.Background(), nil, req)
	require.ErrorIs(t, err, domain.ErrInvalidEventType)

	req = appendRequest("", at)
	_, _, err = svc.Append(context.Background(), nil, req)
	require.ErrorIs(t, err, domain.ErrInvalidIdempotencyKey)
}

func TestListByCustomer_NewestFirst(t *testing.T) {
	svc := newTestService(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, key := range []string{"e1", "e2", "e3"} {
		req := appendRequest(key, base.Add(time.Duration(i)*time.Minute))
		_, inserted, err := svc.Append(context.Background(), nil, req)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	events, err := svc.ListByCustomer(context.Background(), snowflake.ID(101), "cust_1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e3", events[0].IdempotencyKey)
	assert.Equal(t, "e1", events[2].IdempotencyKey)

	other, err := svc.ListByCustomer(context.Background(), snowflake.ID(101), "cust_other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFindByIdempotencyKey(t *testing.T) {
	svc := newTestService(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	created, inserted, err := svc.Append(context.Background(), nil, appendRequest("e1", at))
	require.NoError(t, err)
	require.True(t, inserted)

	found, err := svc.FindByIdempotencyKey(context.Background(), "biz_1", snowflake.ID(101), "e1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := svc.FindByIdempotencyKey(context.Background(), "biz_1", snowflake.ID(101), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
