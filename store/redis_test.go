package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sljivkov/pricestream/domain"
)

func testEvent() domain.PriceUpdateEvent {
	return domain.PriceUpdateEvent{
		ProductID:   42,
		NewPrice:    decimal.RequireFromString("19.99"),
		PriceChange: decimal.RequireFromString("-0.51"),
		ChangeType:  domain.Decrease,
		ChangedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		ProductName: "Mug",
	}
}

func TestRecord(t *testing.T) {
	db, mock := redismock.NewClientMock()
	snapshot := NewRedisSnapshot(db, "pricefeed", 10)

	ev := testEvent()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectLPush("pricefeed:updates", string(payload)).SetVal(1)
	mock.ExpectLTrim("pricefeed:updates", 0, 9).SetVal("OK")
	mock.ExpectHSet("pricefeed:prices", "42", "19.99").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, snapshot.Record(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordReportsError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	snapshot := NewRedisSnapshot(db, "pf", 3)

	err := snapshot.Record(context.Background(), testEvent())
	assert.ErrorContains(t, err, "failed to record update")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrices(t *testing.T) {
	db, mock := redismock.NewClientMock()
	snapshot := NewRedisSnapshot(db, "pricefeed", 10)

	mock.ExpectHGetAll("pricefeed:prices").SetVal(map[string]string{
		"1":   "10.50",
		"2":   "3",
		"abc": "1.00",
		"3":   "not-a-price",
	})

	prices, err := snapshot.Prices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)

	assert.True(t, decimal.RequireFromString("10.5").Equal(prices[1]))
	assert.True(t, decimal.NewFromInt(3).Equal(prices[2]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPricesError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	snapshot := NewRedisSnapshot(db, "pricefeed", 10)

	mock.ExpectHGetAll("pricefeed:prices").SetErr(errors.New("connection refused"))

	_, err := snapshot.Prices(context.Background())
	assert.ErrorContains(t, err, "failed to read prices")
}

func TestDialInvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), "http://not-redis", Timeouts{})
	assert.ErrorContains(t, err, "invalid redis URL")
}
