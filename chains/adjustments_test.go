package chains

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sljivkov/pricestream/domain"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// MockLogSubscriber implements LogSubscriber for testing
type MockLogSubscriber struct {
	mock.Mock
}

//nolint:lll
func (m *MockLogSubscriber) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	args := m.Called(ctx, q, ch)

	sub, _ := args.Get(0).(ethereum.Subscription)

	return sub, args.Error(1)
}

// MockSubscription implements ethereum.Subscription
type MockSubscription struct {
	mock.Mock
}

func (m *MockSubscription) Unsubscribe() {
	m.Called()
}

func (m *MockSubscription) Err() <-chan error {
	args := m.Called()

	return args.Get(0).(chan error)
}

type recordingSink struct {
	messages chan []byte
	errs     chan error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		messages: make(chan []byte, 8),
		errs:     make(chan error, 2),
	}
}

func (s *recordingSink) OnMessage(data []byte) { s.messages <- data }

func (s *recordingSink) OnError(err error) { s.errs <- err }

func packAdjustment(t *testing.T, feed *AdjustmentFeed, id, price, change, at int64, name string) []byte {
	t.Helper()

	data, err := feed.parsedABI.Events[adjustedEvent].Inputs.NonIndexed().Pack(
		big.NewInt(id), big.NewInt(price), big.NewInt(change), big.NewInt(at), name,
	)
	require.NoError(t, err)

	return data
}

func TestNewAdjustmentFeed_InvalidAddress(t *testing.T) {
	_, err := NewAdjustmentFeed(new(MockLogSubscriber), "not-an-address")
	assert.Error(t, err)
}

func TestAdjustmentFeedDecodesLogs(t *testing.T) {
	client := new(MockLogSubscriber)
	mockSub := new(MockSubscription)

	feed, err := NewAdjustmentFeed(client, testContract)
	require.NoError(t, err)

	removed := types.Log{Data: packAdjustment(t, feed, 9, 100, 0, 1700000000, "Gone"), Removed: true}
	garbage := types.Log{Data: []byte{0x01, 0x02}}
	valid := types.Log{Data: packAdjustment(t, feed, 7, 1850, -150, 1700000000, "Desk Lamp")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error)

	mockSub.On("Err").Return(errChan)
	mockSub.On("Unsubscribe").Return()
	client.On("SubscribeFilterLogs", mock.Anything, mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return len(q.Addresses) == 1 && q.Addresses[0] == common.HexToAddress(testContract) &&
			q.Topics[0][0] == feed.parsedABI.Events[adjustedEvent].ID
	}), mock.Anything).Run(func(args mock.Arguments) {
		ch := args.Get(2).(chan<- types.Log)
		go func() {
			ch <- removed
			ch <- garbage
			ch <- valid
		}()
	}).Return(mockSub, nil)

	sink := newRecordingSink()
	feed.Open(ctx, sink)

	select {
	case payload := <-sink.messages:
		ev, err := domain.ParsePriceUpdate(payload)
		require.NoError(t, err)

		assert.Equal(t, int64(7), ev.ProductID)
		assert.True(t, decimal.RequireFromString("18.50").Equal(ev.NewPrice))
		assert.True(t, decimal.RequireFromString("-1.50").Equal(ev.PriceChange))
		assert.Equal(t, domain.Decrease, ev.ChangeType)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.ChangedAt)
		assert.Equal(t, "Desk Lamp", ev.ProductName)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for price update")
	}

	assert.Empty(t, sink.messages)

	cancel()
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, sink.errs)
	mockSub.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestDecodeRejectsOutOfRangeFields(t *testing.T) {
	feed, err := NewAdjustmentFeed(new(MockLogSubscriber), testContract)
	require.NoError(t, err)

	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	args := feed.parsedABI.Events[adjustedEvent].Inputs.NonIndexed()

	tests := []struct {
		name      string
		productID *big.Int
		changedAt *big.Int
		wantErr   string
	}{
		{"product id", huge, big.NewInt(1700000000), "product id out of range"},
		{"changed at", big.NewInt(7), huge, "changed at out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := args.Pack(tt.productID, big.NewInt(100), big.NewInt(0), tt.changedAt, "Lamp")
			require.NoError(t, err)

			_, err = feed.decode(types.Log{Data: data})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestAdjustmentFeedReportsSubscriptionError(t *testing.T) {
	client := new(MockLogSubscriber)
	mockSub := new(MockSubscription)

	feed, err := NewAdjustmentFeed(client, testContract)
	require.NoError(t, err)

	errChan := make(chan error, 1)

	mockSub.On("Err").Return(errChan)
	mockSub.On("Unsubscribe").Return()
	client.On("SubscribeFilterLogs", mock.Anything, mock.Anything, mock.Anything).Return(mockSub, nil)

	sink := newRecordingSink()
	feed.Open(context.Background(), sink)

	errChan <- errors.New("websocket closed")

	select {
	case err := <-sink.errs:
		assert.ErrorContains(t, err, "websocket closed")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error")
	}

	time.Sleep(50 * time.Millisecond)
	mockSub.AssertExpectations(t)
}

func TestAdjustmentFeedReportsSubscribeFailure(t *testing.T) {
	client := new(MockLogSubscriber)

	feed, err := NewAdjustmentFeed(client, testContract)
	require.NoError(t, err)

	client.On("SubscribeFilterLogs", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("notifications not supported"))

	sink := newRecordingSink()
	feed.Open(context.Background(), sink)

	select {
	case err := <-sink.errs:
		assert.ErrorContains(t, err, "failed to subscribe to PriceAdjusted logs")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error")
	}
}
