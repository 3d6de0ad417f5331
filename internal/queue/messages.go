package queue

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/mastheader/masthead/internal/domain"
)

// SchemaVersion tags every message body. Decoders reject versions they do
// not understand so a mixed-fleet rollout fails loudly instead of silently
// misreading payloads.
const SchemaVersion = 1

// WatermarkUnknown is the sentinel for "look the watermark up, defaulting to
// the configured lookback if absent".
const WatermarkUnknown = "null"

// HarvestTask asks the harvest stage to pull metrics for one asset from its
// watermark forward.
type HarvestTask struct {
	V         int    `json:"v"`
	Slug      string `json:"slug"`
	Ticker    string `json:"ticker"`
	Watermark string `json:"datetime_last_updated"` // TimeFormat or WatermarkUnknown
}

// DataReady tells the strategy engine fresh samples exist through Watermark.
type DataReady struct {
	V         int    `json:"v"`
	Slug      string `json:"slug"`
	Ticker    string `json:"ticker"`
	Watermark string `json:"datetime_last_updated"`
}

// SignalMessage carries one committed trade decision to the executor.
type SignalMessage struct {
	V        int    `json:"v"`
	Slug     string `json:"slug"`
	Ticker   string `json:"ticker"`
	Side     string `json:"side"` // "open" or "close"
	GUID     string `json:"strategy_guid"`
	IssuedAt string `json:"issued_at"`
}

// MonitorTask points the monitor stage at one placed order.
type MonitorTask struct {
	V           int    `json:"v"`
	Slug        string `json:"slug"`
	OrderID     string `json:"order_id"`
	GUIDMeta    string `json:"guid_meta"`
	GUIDDetails string `json:"guid_details"`
	Side        string `json:"side"`
}

// EncodeHarvestTask serializes the task, stamping the schema version.
func EncodeHarvestTask(t HarvestTask) (string, error) {
	t.V = SchemaVersion
	return encode(t)
}

// DecodeHarvestTask parses and version-checks a harvest task body.
func DecodeHarvestTask(body string) (HarvestTask, error) {
	var t HarvestTask
	if err := decode(body, &t); err != nil {
		return HarvestTask{}, err
	}
	if err := checkVersion(t.V); err != nil {
		return HarvestTask{}, err
	}
	return t, nil
}

// EncodeDataReady serializes the event, stamping the schema version.
func EncodeDataReady(e DataReady) (string, error) {
	e.V = SchemaVersion
	return encode(e)
}

// DecodeDataReady parses and version-checks a data-ready body.
func DecodeDataReady(body string) (DataReady, error) {
	var e DataReady
	if err := decode(body, &e); err != nil {
		return DataReady{}, err
	}
	if err := checkVersion(e.V); err != nil {
		return DataReady{}, err
	}
	return e, nil
}

// EncodeSignal serializes a domain signal for the action-specific queues.
func EncodeSignal(s domain.Signal) (string, error) {
	return encode(SignalMessage{
		V:        SchemaVersion,
		Slug:     s.Slug,
		Ticker:   s.Ticker,
		Side:     string(s.Action),
		GUID:     s.GUID,
		IssuedAt: s.IssuedAt.UTC().Format(domain.TimeFormat),
	})
}

// DecodeSignal parses a signal body back into the domain shape.
func DecodeSignal(body string) (domain.Signal, error) {
	var m SignalMessage
	if err := decode(body, &m); err != nil {
		return domain.Signal{}, err
	}
	if err := checkVersion(m.V); err != nil {
		return domain.Signal{}, err
	}

	action := domain.TradeAction(m.Side)
	if action != domain.ActionOpen && action != domain.ActionClose {
		return domain.Signal{}, fmt.Errorf("signal for %s has invalid side %q", m.Slug, m.Side)
	}

	issuedAt, err := time.Parse(domain.TimeFormat, m.IssuedAt)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("signal for %s has bad issued_at: %w", m.Slug, err)
	}

	return domain.Signal{
		Slug:     m.Slug,
		Ticker:   m.Ticker,
		Action:   action,
		GUID:     m.GUID,
		IssuedAt: issuedAt,
	}, nil
}

// EncodeMonitorTask serializes the task, stamping the schema version.
func EncodeMonitorTask(t MonitorTask) (string, error) {
	t.V = SchemaVersion
	return encode(t)
}

// DecodeMonitorTask parses and version-checks a monitor task body.
func DecodeMonitorTask(body string) (MonitorTask, error) {
	var t MonitorTask
	if err := decode(body, &t); err != nil {
		return MonitorTask{}, err
	}
	if err := checkVersion(t.V); err != nil {
		return MonitorTask{}, err
	}
	return t, nil
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	return string(data), nil
}

func decode(body string, v interface{}) error {
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("failed to decode message body: %w", err)
	}
	return nil
}

func checkVersion(v int) error {
	if v != SchemaVersion {
		return fmt.Errorf("unsupported message schema version %d (want %d)", v, SchemaVersion)
	}
	return nil
}
