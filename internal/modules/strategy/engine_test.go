package strategy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/queue"
	"github.com/mastheader/masthead/internal/storage"
)

type fakeMetricStore struct {
	samples []domain.MetricSample
}

func (f *fakeMetricStore) GetRange(ctx context.Context, slug string, from, to time.Time) ([]domain.MetricSample, error) {
	return f.samples, nil
}

type fakePositionStore struct {
	existing  map[string]domain.PositionMeta
	created   []domain.PositionMeta
	createErr error
}

func (f *fakePositionStore) Create(ctx context.Context, meta domain.PositionMeta) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, meta)
	return nil
}

func (f *fakePositionStore) Get(ctx context.Context, slug string) (domain.PositionMeta, error) {
	meta, ok := f.existing[slug]
	if !ok {
		return domain.PositionMeta{}, fmt.Errorf("position meta %s: %w", slug, storage.ErrNotFound)
	}
	return meta, nil
}

type fakeDecisionStore struct {
	records []domain.DecisionRecord
}

func (f *fakeDecisionStore) Create(ctx context.Context, record domain.DecisionRecord) error {
	f.records = append(f.records, record)
	return nil
}

type fakePublisher struct {
	batches [][]string
}

func (f *fakePublisher) SendBatch(ctx context.Context, bodies []string) error {
	f.batches = append(f.batches, bodies)
	return nil
}

type fakeSink struct {
	deleted []string
}

func (f *fakeSink) Delete(ctx context.Context, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

type engineFixture struct {
	engine    *Engine
	positions *fakePositionStore
	decisions *fakeDecisionStore
	buy       *fakePublisher
	sell      *fakePublisher
	sink      *fakeSink
}

func newEngineFixture(samples []domain.MetricSample, positions *fakePositionStore) *engineFixture {
	f := &engineFixture{
		positions: positions,
		decisions: &fakeDecisionStore{},
		buy:       &fakePublisher{},
		sell:      &fakePublisher{},
		sink:      &fakeSink{},
	}
	f.engine = NewEngine(
		NewCalculator(testStrategyConfig()),
		&fakeMetricStore{samples: samples},
		positions, f.decisions, f.buy, f.sell, f.sink,
		zerolog.Nop(),
	)
	return f
}

func readyMessage(t *testing.T, samples []domain.MetricSample) queue.Message {
	t.Helper()
	body, err := queue.EncodeDataReady(queue.DataReady{
		Slug:      "ethereum",
		Ticker:    "ETH",
		Watermark: samples[len(samples)-1].Timestamp.Format(domain.TimeFormat),
	})
	require.NoError(t, err)
	return queue.Message{MessageID: "m1", ReceiptHandle: "r1", Body: body}
}

func TestOpenDecisionCommitsAndPublishes(t *testing.T) {
	samples := window(40, func(i int) float64 { return 100 + 0.1*float64(i) }, 0.5)
	f := newEngineFixture(samples, &fakePositionStore{})

	require.NoError(t, f.engine.HandleBatch(context.Background(), []queue.Message{readyMessage(t, samples)}))

	require.Len(t, f.positions.created, 1)
	assert.Equal(t, "ethereum", f.positions.created[0].Slug)
	assert.NotEmpty(t, f.positions.created[0].GUID)

	require.Len(t, f.decisions.records, 1)
	record := f.decisions.records[0]
	assert.Equal(t, domain.ActionOpen, record.Action)
	assert.Equal(t, f.positions.created[0].GUID, record.GUID)
	assert.True(t, record.Indicators.TradeOpen)

	require.Len(t, f.buy.batches, 1)
	require.Len(t, f.buy.batches[0], 1)
	signal, err := queue.DecodeSignal(f.buy.batches[0][0])
	require.NoError(t, err)
	assert.Equal(t, domain.ActionOpen, signal.Action)
	assert.Equal(t, record.GUID, signal.GUID)

	assert.Empty(t, f.sell.batches)
	assert.Equal(t, []string{"r1"}, f.sink.deleted)
}

func TestOpenSuppressedWhenPositionExists(t *testing.T) {
	samples := window(40, func(i int) float64 { return 100 + 0.1*float64(i) }, 0.5)
	positions := &fakePositionStore{
		createErr: fmt.Errorf("position for ethereum: %w", storage.ErrConditionFailed),
	}
	f := newEngineFixture(samples, positions)

	require.NoError(t, f.engine.HandleBatch(context.Background(), []queue.Message{readyMessage(t, samples)}))

	assert.Empty(t, f.decisions.records)
	assert.Empty(t, f.buy.batches)
	assert.Equal(t, []string{"r1"}, f.sink.deleted, "suppressed signals still consume the event")
}

func TestCloseDecisionUsesOpenPositionGUID(t *testing.T) {
	samples := window(40, func(i int) float64 { return 200 - float64(i) }, 0.5)
	positions := &fakePositionStore{
		existing: map[string]domain.PositionMeta{
			"ethereum": {Slug: "ethereum", GUID: "guid-open"},
		},
	}
	f := newEngineFixture(samples, positions)

	require.NoError(t, f.engine.HandleBatch(context.Background(), []queue.Message{readyMessage(t, samples)}))

	require.Len(t, f.decisions.records, 1)
	assert.Equal(t, domain.ActionClose, f.decisions.records[0].Action)
	assert.Equal(t, "guid-open"+domain.CloseSuffix, f.decisions.records[0].GUID)

	require.Len(t, f.sell.batches, 1)
	signal, err := queue.DecodeSignal(f.sell.batches[0][0])
	require.NoError(t, err)
	assert.Equal(t, domain.ActionClose, signal.Action)
	assert.Equal(t, "guid-open", signal.GUID)

	assert.Empty(t, f.buy.batches)
}

func TestCloseSuppressedWithoutOpenPosition(t *testing.T) {
	samples := window(40, func(i int) float64 { return 200 - float64(i) }, 0.5)
	f := newEngineFixture(samples, &fakePositionStore{})

	require.NoError(t, f.engine.HandleBatch(context.Background(), []queue.Message{readyMessage(t, samples)}))

	assert.Empty(t, f.decisions.records)
	assert.Empty(t, f.sell.batches)
	assert.Equal(t, []string{"r1"}, f.sink.deleted)
}

func TestCloseDroppedOnMissingGUID(t *testing.T) {
	samples := window(40, func(i int) float64 { return 200 - float64(i) }, 0.5)
	positions := &fakePositionStore{
		existing: map[string]domain.PositionMeta{
			"ethereum": {Slug: "ethereum"},
		},
	}
	f := newEngineFixture(samples, positions)

	require.NoError(t, f.engine.HandleBatch(context.Background(), []queue.Message{readyMessage(t, samples)}))

	assert.Empty(t, f.decisions.records)
	assert.Empty(t, f.sell.batches)
	assert.Equal(t, []string{"r1"}, f.sink.deleted)
}

func TestPassProducesNoWrites(t *testing.T) {
	samples := window(40, func(i int) float64 { return 100 + 0.1*float64(i) }, 0.05)
	positions := &fakePositionStore{}
	f := newEngineFixture(samples, positions)

	require.NoError(t, f.engine.HandleBatch(context.Background(), []queue.Message{readyMessage(t, samples)}))

	assert.Empty(t, positions.created)
	assert.Empty(t, f.decisions.records)
	assert.Empty(t, f.buy.batches)
	assert.Empty(t, f.sell.batches)
	assert.Equal(t, []string{"r1"}, f.sink.deleted)
}
