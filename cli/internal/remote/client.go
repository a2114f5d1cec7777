package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zhaobenny/clawtop/internal/metrics"
	"github.com/zhaobenny/clawtop/internal/model"
	"github.com/zhaobenny/clawtop/internal/store"
)

// ErrRemote is returned when the server answers with an unexpected status.
var ErrRemote = errors.New("remote request failed")

// Client queries a running clawtop-server instead of the local database
type Client struct {
	server     string
	httpClient *http.Client
}

// errorResponse mirrors the server's error body
type errorResponse struct {
	Error string `json:"error"`
}

// statusError is a non-200 answer. It matches ErrRemote.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: server returned status %d: %s", ErrRemote, e.code, e.msg)
}

func (e *statusError) Unwrap() error { return ErrRemote }

// NewClient creates a new client for the server base URL
func NewClient(server string) *Client {
	return &Client{
		server: strings.TrimRight(server, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LiveMetrics fetches the latest sample with rates
func (c *Client) LiveMetrics(ctx context.Context, scope store.Scope) (model.LiveMetrics, error) {
	q := url.Values{}
	if !scope.All() {
		if key := scope.Key(); key != nil {
			q.Set("session", *key)
		} else {
			q.Set("nosession", "1")
		}
	}

	var live model.LiveMetrics
	err := c.get(ctx, "/api/live", q, &live)
	return live, err
}

// Rollups fetches one rollup per label in request order
func (c *Client) Rollups(ctx context.Context, labels []string) ([]model.Rollup, error) {
	q := url.Values{}
	if len(labels) > 0 {
		q.Set("windows", strings.Join(labels, ","))
	}

	var rollups []model.Rollup
	err := c.get(ctx, "/api/rollups", q, &rollups)
	// The only client error the rollups endpoint reports is a bad label
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", metrics.ErrInvalidWindow, se.msg)
	}
	return rollups, err
}

// ListResetMarkers fetches the newest reset markers
func (c *Client) ListResetMarkers(ctx context.Context, limit int) ([]model.ResetMarker, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var markers []model.ResetMarker
	err := c.get(ctx, "/api/resets", q, &markers)
	return markers, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.server + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if resp.StatusCode == http.StatusNotFound {
			return metrics.ErrNoSamples
		}
		return &statusError{code: resp.StatusCode, msg: e.Error}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
