package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastheader/masthead/internal/domain"
)

func TestHarvestTaskRoundTrip(t *testing.T) {
	body, err := EncodeHarvestTask(HarvestTask{
		Slug:      "ethereum",
		Ticker:    "ETH",
		Watermark: "2026-08-10T00:00:00Z",
	})
	require.NoError(t, err)

	task, err := DecodeHarvestTask(body)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, task.V)
	assert.Equal(t, "ethereum", task.Slug)
	assert.Equal(t, "2026-08-10T00:00:00Z", task.Watermark)
}

func TestDecodeRejectsUnknownSchemaVersion(t *testing.T) {
	_, err := DecodeHarvestTask(`{"v":99,"slug":"ethereum"}`)
	assert.Error(t, err)

	_, err = DecodeMonitorTask(`{"v":0,"order_id":"x"}`)
	assert.Error(t, err)
}

func TestSignalRoundTrip(t *testing.T) {
	issued := time.Date(2026, 8, 20, 6, 30, 0, 0, time.UTC)
	body, err := EncodeSignal(domain.Signal{
		Slug:     "solana",
		Ticker:   "SOL",
		Action:   domain.ActionOpen,
		GUID:     "g1",
		IssuedAt: issued,
	})
	require.NoError(t, err)

	signal, err := DecodeSignal(body)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionOpen, signal.Action)
	assert.Equal(t, "g1", signal.GUID)
	assert.True(t, signal.IssuedAt.Equal(issued))
	assert.Equal(t, "SOL-USDT", signal.Symbol())
}

func TestDecodeSignalRejectsInvalidSide(t *testing.T) {
	body, err := EncodeSignal(domain.Signal{
		Slug:     "solana",
		Ticker:   "SOL",
		Action:   domain.ActionPass,
		GUID:     "g1",
		IssuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = DecodeSignal(body)
	assert.Error(t, err, "pass never travels on a signal queue")
}

func TestMonitorTaskRoundTrip(t *testing.T) {
	body, err := EncodeMonitorTask(MonitorTask{
		Slug:        "ethereum",
		OrderID:     "order-1",
		GUIDMeta:    "g1",
		GUIDDetails: "g1#close",
		Side:        "sell",
	})
	require.NoError(t, err)

	task, err := DecodeMonitorTask(body)
	require.NoError(t, err)
	assert.Equal(t, "order-1", task.OrderID)
	assert.Equal(t, "g1#close", task.GUIDDetails)
	assert.Equal(t, "sell", task.Side)
}
