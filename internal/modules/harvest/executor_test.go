package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastheader/masthead/internal/clients/santiment"
	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/queue"
)

type fakeFetcher struct {
	series map[string][]santiment.Point
	err    error
	from   time.Time
	calls  int
}

func (f *fakeFetcher) FetchMetrics(ctx context.Context, slug string, metrics []string, from time.Time) (map[string][]santiment.Point, error) {
	f.calls++
	f.from = from
	if f.err != nil {
		return nil, f.err
	}
	return f.series, nil
}

type fakeAssetStore struct {
	deleted []string
}

func (f *fakeAssetStore) Delete(ctx context.Context, slug string) error {
	f.deleted = append(f.deleted, slug)
	return nil
}

type fakeMetricStore struct {
	puts   [][]domain.MetricSample
	latest *time.Time
}

func (f *fakeMetricStore) PutSamples(ctx context.Context, samples []domain.MetricSample) error {
	f.puts = append(f.puts, samples)
	return nil
}

func (f *fakeMetricStore) LatestTimestamp(ctx context.Context, slug string) (*time.Time, error) {
	return f.latest, nil
}

type sentMessage struct {
	body  string
	delay time.Duration
}

type fakeQueue struct {
	sent    []sentMessage
	deleted []string
}

func (f *fakeQueue) Send(ctx context.Context, body string, delay time.Duration) (string, error) {
	f.sent = append(f.sent, sentMessage{body: body, delay: delay})
	return "msg-1", nil
}

func (f *fakeQueue) Delete(ctx context.Context, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func day(n int) time.Time {
	return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func points(values map[int]float64) []santiment.Point {
	var ps []santiment.Point
	for n, v := range values {
		ps = append(ps, santiment.Point{Timestamp: day(n), Value: v})
	}
	return ps
}

func taskMessage(t *testing.T, watermark string) queue.Message {
	t.Helper()
	body, err := queue.EncodeHarvestTask(queue.HarvestTask{
		Slug:      "ethereum",
		Ticker:    "ETH",
		Watermark: watermark,
	})
	require.NoError(t, err)
	return queue.Message{MessageID: "m1", ReceiptHandle: "r1", Body: body}
}

func newTestExecutor(fetcher *fakeFetcher, assets *fakeAssetStore, metrics *fakeMetricStore, tasks, events *fakeQueue) *Executor {
	return NewExecutor(fetcher, assets, metrics, tasks, events, 60, zerolog.Nop())
}

func TestRequeueDelayBounds(t *testing.T) {
	e := newTestExecutor(&fakeFetcher{}, &fakeAssetStore{}, &fakeMetricStore{}, &fakeQueue{}, &fakeQueue{})

	for i := 0; i < 200; i++ {
		delay := e.requeueDelay(500 * time.Second)
		assert.GreaterOrEqual(t, delay, 560*time.Second)
		assert.LessOrEqual(t, delay, 900*time.Second)
	}

	for i := 0; i < 200; i++ {
		delay := e.requeueDelay(0)
		assert.GreaterOrEqual(t, delay, 60*time.Second)
		assert.LessOrEqual(t, delay, 600*time.Second)
	}

	assert.Equal(t, 900*time.Second, e.requeueDelay(time.Hour))
}

func TestRateLimitRequeuesSamePayload(t *testing.T) {
	fetcher := &fakeFetcher{err: &santiment.RateLimitError{SuggestedWait: 500 * time.Second}}
	tasks := &fakeQueue{}
	events := &fakeQueue{}
	e := newTestExecutor(fetcher, &fakeAssetStore{}, &fakeMetricStore{}, tasks, events)

	msg := taskMessage(t, "2026-08-10T00:00:00Z")
	require.NoError(t, e.HandleBatch(context.Background(), []queue.Message{msg}))

	require.Len(t, tasks.sent, 1)
	requeued, err := queue.DecodeHarvestTask(tasks.sent[0].body)
	require.NoError(t, err)
	assert.Equal(t, "ethereum", requeued.Slug)
	assert.Equal(t, "2026-08-10T00:00:00Z", requeued.Watermark)
	assert.GreaterOrEqual(t, tasks.sent[0].delay, 560*time.Second)
	assert.LessOrEqual(t, tasks.sent[0].delay, 900*time.Second)

	assert.Equal(t, []string{"r1"}, tasks.deleted)
	assert.Empty(t, events.sent)
}

func TestMissingMandatoryMetricsRemovesAsset(t *testing.T) {
	fetcher := &fakeFetcher{series: map[string][]santiment.Point{
		metricPrice: points(map[int]float64{0: 10}),
		// no active-address series at all
	}}
	assets := &fakeAssetStore{}
	metrics := &fakeMetricStore{}
	tasks := &fakeQueue{}
	e := newTestExecutor(fetcher, assets, metrics, tasks, &fakeQueue{})

	msg := taskMessage(t, "2026-08-10T00:00:00Z")
	require.NoError(t, e.HandleBatch(context.Background(), []queue.Message{msg}))

	assert.Equal(t, []string{"ethereum"}, assets.deleted)
	assert.Equal(t, []string{"r1"}, tasks.deleted)
	assert.Empty(t, metrics.puts)
}

func TestDisjointMandatoryMetricsRemovesAsset(t *testing.T) {
	// Both mandatory series exist but never on the same day, so the join can
	// never produce a row.
	fetcher := &fakeFetcher{series: map[string][]santiment.Point{
		metricPrice:           points(map[int]float64{0: 10}),
		metricActiveAddresses: points(map[int]float64{1: 0.1}),
	}}
	assets := &fakeAssetStore{}
	metrics := &fakeMetricStore{}
	tasks := &fakeQueue{}
	events := &fakeQueue{}
	e := newTestExecutor(fetcher, assets, metrics, tasks, events)

	msg := taskMessage(t, "2026-08-01T00:00:00Z")
	require.NoError(t, e.HandleBatch(context.Background(), []queue.Message{msg}))

	assert.Equal(t, []string{"ethereum"}, assets.deleted)
	assert.Equal(t, []string{"r1"}, tasks.deleted)
	assert.Empty(t, metrics.puts)
	assert.Empty(t, events.sent)
}

func TestSuccessfulHarvestPersistsAndForwards(t *testing.T) {
	fetcher := &fakeFetcher{series: map[string][]santiment.Point{
		metricPrice:           points(map[int]float64{0: 10, 1: 11, 2: 12}),
		metricActiveAddresses: points(map[int]float64{0: 0.1, 1: 0.2, 2: 0.3}),
		metricVolume:          points(map[int]float64{1: 5000}),
	}}
	metrics := &fakeMetricStore{}
	tasks := &fakeQueue{}
	events := &fakeQueue{}
	e := newTestExecutor(fetcher, &fakeAssetStore{}, metrics, tasks, events)

	msg := taskMessage(t, "2026-08-01T00:00:00Z")
	require.NoError(t, e.HandleBatch(context.Background(), []queue.Message{msg}))

	require.Len(t, metrics.puts, 1)
	samples := metrics.puts[0]
	require.Len(t, samples, 3)
	assert.True(t, samples[0].Timestamp.Before(samples[1].Timestamp))
	assert.Equal(t, 11.0, samples[1].PriceUSD)
	require.NotNil(t, samples[1].VolumeUSD)
	assert.Equal(t, 5000.0, *samples[1].VolumeUSD)
	assert.Nil(t, samples[0].VolumeUSD)

	require.Len(t, events.sent, 1)
	ready, err := queue.DecodeDataReady(events.sent[0].body)
	require.NoError(t, err)
	assert.Equal(t, "ethereum", ready.Slug)
	assert.Equal(t, day(2).Format(domain.TimeFormat), ready.Watermark)

	assert.Equal(t, []string{"r1"}, tasks.deleted)
}

func TestWatermarkResolution(t *testing.T) {
	t.Run("carried watermark wins", func(t *testing.T) {
		fetcher := &fakeFetcher{series: map[string][]santiment.Point{}}
		assets := &fakeAssetStore{}
		e := newTestExecutor(fetcher, assets, &fakeMetricStore{}, &fakeQueue{}, &fakeQueue{})

		msg := taskMessage(t, "2026-08-10T00:00:00Z")
		require.NoError(t, e.HandleBatch(context.Background(), []queue.Message{msg}))
		assert.Equal(t, day(9), fetcher.from)
	})

	t.Run("sentinel falls back to stored watermark", func(t *testing.T) {
		latest := day(5)
		fetcher := &fakeFetcher{series: map[string][]santiment.Point{}}
		e := newTestExecutor(fetcher, &fakeAssetStore{}, &fakeMetricStore{latest: &latest}, &fakeQueue{}, &fakeQueue{})

		msg := taskMessage(t, queue.WatermarkUnknown)
		require.NoError(t, e.HandleBatch(context.Background(), []queue.Message{msg}))
		assert.Equal(t, day(5), fetcher.from)
	})

	t.Run("nothing harvested falls back to lookback", func(t *testing.T) {
		fetcher := &fakeFetcher{series: map[string][]santiment.Point{}}
		e := newTestExecutor(fetcher, &fakeAssetStore{}, &fakeMetricStore{}, &fakeQueue{}, &fakeQueue{})

		msg := taskMessage(t, queue.WatermarkUnknown)
		require.NoError(t, e.HandleBatch(context.Background(), []queue.Message{msg}))

		want := time.Now().UTC().AddDate(0, 0, -60)
		assert.WithinDuration(t, want, fetcher.from, time.Minute)
	})
}
