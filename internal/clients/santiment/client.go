// Package santiment implements the market-data API client: batched metric
// time series and the project catalog. Rate limiting is a first-class,
// expected response here, surfaced as RateLimitError with the upstream's
// suggested wait.
package santiment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.santiment.net/graphql"

// defaultSuggestedWait applies when the upstream says "rate limited" without
// a parseable wait hint.
const defaultSuggestedWait = 300 * time.Second

// Point is one sample of a metric time series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Project is one asset tracked by the market-data provider.
type Project struct {
	Slug          string
	Name          string
	Ticker        string
	MarketSegment string
	TotalSupply   float64
}

// RateLimitError carries the upstream's suggested wait before retrying.
type RateLimitError struct {
	SuggestedWait time.Duration
	Message       string
}

// Error satisfies the error interface
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("santiment rate limited (wait %s): %s", e.SuggestedWait, e.Message)
}

// Client queries the market-data GraphQL API. A client-side limiter keeps
// request bursts under the documented ceiling; the server-side limit is still
// handled explicitly because batch complexity costs vary.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a new market-data client
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
		log:        log.With().Str("client", "santiment").Logger(),
	}
}

// FetchMetrics executes one batched query for all metrics of a slug from the
// given date forward, daily interval. Metrics the provider does not support
// for the slug are simply absent from the result map; the caller decides
// which columns are mandatory.
func (c *Client) FetchMetrics(ctx context.Context, slug string, metrics []string, from time.Time) (map[string][]Point, error) {
	var sb strings.Builder
	sb.WriteString("{")
	for i, metric := range metrics {
		fmt.Fprintf(&sb,
			` m%d: getMetric(metric: %q) { timeseriesData(slug: %q, from: %q, interval: "1d") { datetime value } }`,
			i, metric, slug, from.UTC().Format(time.RFC3339))
	}
	sb.WriteString(" }")

	raw, gqlErrs, err := c.execute(ctx, sb.String())
	if err != nil {
		return nil, err
	}

	// Per-metric errors (unsupported metric for this slug) drop the series;
	// the batch still yields the rest.
	failed := make(map[string]bool)
	for _, gqlErr := range gqlErrs {
		for i := range metrics {
			if strings.Contains(gqlErr.Path, fmt.Sprintf("m%d", i)) {
				failed[metrics[i]] = true
			}
		}
	}

	var data map[string]struct {
		TimeseriesData []struct {
			Datetime string   `json:"datetime"`
			Value    *float64 `json:"value"`
		} `json:"timeseriesData"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode metrics response: %w", err)
	}

	result := make(map[string][]Point, len(metrics))
	for i, metric := range metrics {
		if failed[metric] {
			continue
		}
		series, ok := data[fmt.Sprintf("m%d", i)]
		if !ok {
			continue
		}
		points := make([]Point, 0, len(series.TimeseriesData))
		for _, p := range series.TimeseriesData {
			if p.Value == nil {
				continue
			}
			ts, err := time.Parse(time.RFC3339, p.Datetime)
			if err != nil {
				return nil, fmt.Errorf("bad datetime in %s series for %s: %w", metric, slug, err)
			}
			points = append(points, Point{Timestamp: ts.UTC(), Value: *p.Value})
		}
		result[metric] = points
	}
	return result, nil
}

// GetProjects loads the full project catalog.
func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	query := `{ allProjects { slug name ticker marketSegment totalSupply } }`

	raw, _, err := c.execute(ctx, query)
	if err != nil {
		return nil, err
	}

	var data struct {
		AllProjects []struct {
			Slug          string   `json:"slug"`
			Name          string   `json:"name"`
			Ticker        string   `json:"ticker"`
			MarketSegment string   `json:"marketSegment"`
			TotalSupply   *float64 `json:"totalSupply"`
		} `json:"allProjects"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode projects response: %w", err)
	}

	projects := make([]Project, 0, len(data.AllProjects))
	for _, p := range data.AllProjects {
		supply := 0.0
		if p.TotalSupply != nil {
			supply = *p.TotalSupply
		}
		projects = append(projects, Project{
			Slug:          p.Slug,
			Name:          p.Name,
			Ticker:        strings.ToUpper(p.Ticker),
			MarketSegment: p.MarketSegment,
			TotalSupply:   supply,
		})
	}
	return projects, nil
}

type gqlError struct {
	Message string
	Path    string
}

// execute runs a GraphQL query and returns the raw data payload plus any
// per-field errors. Rate limiting is returned as *RateLimitError.
func (c *Client) execute(ctx context.Context, query string) (json.RawMessage, []gqlError, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Apikey "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, nil, rateLimitErrorFromBody(string(respBody), resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("santiment returned http %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string        `json:"message"`
			Path    []interface{} `json:"path"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, nil, fmt.Errorf("failed to decode graphql response: %w", err)
	}

	var gqlErrs []gqlError
	for _, e := range envelope.Errors {
		if isRateLimitMessage(e.Message) {
			return nil, nil, rateLimitErrorFromBody(e.Message, "")
		}
		pathParts := make([]string, 0, len(e.Path))
		for _, p := range e.Path {
			pathParts = append(pathParts, fmt.Sprintf("%v", p))
		}
		gqlErrs = append(gqlErrs, gqlError{Message: e.Message, Path: strings.Join(pathParts, ".")})
	}

	return envelope.Data, gqlErrs, nil
}

var waitHintPattern = regexp.MustCompile(`(\d+)\s*seconds?`)

func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests")
}

// rateLimitErrorFromBody extracts the suggested wait from the Retry-After
// header or the error message, falling back to a fixed default.
func rateLimitErrorFromBody(message, retryAfter string) *RateLimitError {
	wait := defaultSuggestedWait
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	} else if m := waitHintPattern.FindStringSubmatch(message); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	return &RateLimitError{SuggestedWait: wait, Message: truncate(message, 200)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
