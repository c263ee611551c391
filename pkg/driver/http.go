package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

const httpDriverID = "http"

// HTTPDriver speaks the connector protocol to REST sources: GET /units,
// POST /sync, GET /health. Each endpoint gets its own circuit breaker so
// one failing source cannot poison syncs against the others.
type HTTPDriver struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPDriver creates the driver. A nil client gets a 30 second timeout.
func NewHTTPDriver(client *http.Client) *HTTPDriver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPDriver{
		client:   client,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *HTTPDriver) ID() string {
	return httpDriverID
}

// ListUnits fetches the endpoint's unit descriptors.
func (d *HTTPDriver) ListUnits(ctx context.Context, endpoint *types.Endpoint) ([]types.UnitDescriptor, error) {
	var units []types.UnitDescriptor
	if err := d.call(ctx, endpoint, http.MethodGet, "units", nil, &units); err != nil {
		return nil, err
	}
	return units, nil
}

// syncCall is the wire shape of one sync request. The checkpoint travels
// exactly as stored.
type syncCall struct {
	UnitID      string          `json:"unitId"`
	Mode        types.RunMode   `json:"mode,omitempty"`
	Checkpoint  json.RawMessage `json:"checkpoint,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	CursorField string          `json:"cursorField,omitempty"`
}

// SyncUnit asks the source for the next increment of records.
func (d *HTTPDriver) SyncUnit(ctx context.Context, req SyncRequest) (*types.SyncResult, error) {
	call := syncCall{
		UnitID:     req.UnitID,
		Mode:       req.Mode,
		Checkpoint: req.Checkpoint,
		Limit:      req.Limit,
	}
	if req.Config != nil {
		call.CursorField = req.Config.CursorField()
	}

	var result types.SyncResult
	if err := d.call(ctx, req.Endpoint, http.MethodPost, "sync", call, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Probe checks reachability and detects the upstream version.
func (d *HTTPDriver) Probe(ctx context.Context, endpoint *types.Endpoint) (*ProbeResult, error) {
	var probe ProbeResult
	if err := d.call(ctx, endpoint, http.MethodGet, "health", nil, &probe); err != nil {
		return nil, err
	}
	return &probe, nil
}

// EstimateLag asks the source how far behind the unit's checkpoint is.
func (d *HTTPDriver) EstimateLag(ctx context.Context, endpoint *types.Endpoint, unitID string) (*float64, error) {
	var reply struct {
		Lag *float64 `json:"lag"`
	}
	path := "units/" + url.PathEscape(unitID) + "/lag"
	if err := d.call(ctx, endpoint, http.MethodGet, path, nil, &reply); err != nil {
		return nil, err
	}
	return reply.Lag, nil
}

func (d *HTTPDriver) breakerFor(endpointID string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[endpointID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "source:" + endpointID,
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		d.breakers[endpointID] = cb
	}
	return cb
}

// call runs one request through the endpoint's breaker. Only retriable
// failures count against the breaker; a 404 or 401 is the source answering,
// not the source being down.
func (d *HTTPDriver) call(ctx context.Context, endpoint *types.Endpoint, method, path string, body, out any) error {
	cb := d.breakerFor(endpoint.ID)

	var semanticErr error
	_, err := cb.Execute(func() (any, error) {
		err := d.roundTrip(ctx, endpoint, method, path, body, out)
		if err != nil && !errdefs.Retriable(err) {
			semanticErr = err
			return nil, nil
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errdefs.Wrap(errdefs.KindUpstream, err, "source circuit open")
	}
	if err != nil {
		return err
	}
	return semanticErr
}

func (d *HTTPDriver) roundTrip(ctx context.Context, endpoint *types.Endpoint, method, path string, body, out any) error {
	target, err := url.JoinPath(endpoint.URL, path)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, err, "invalid endpoint url")
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errdefs.Wrap(errdefs.KindInternal, err, "failed to encode request")
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := endpointToken(endpoint); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindRetriableTransport, err, "source request failed")
	}
	defer resp.Body.Close()

	if kind := errdefs.FromHTTPStatus(resp.StatusCode); kind != "" {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errdefs.New(kind, "source returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errdefs.Wrap(errdefs.KindUpstream, err, "failed to decode source response")
	}
	return nil
}

// endpointToken resolves the endpoint's credential. AuthPolicy names an
// environment variable; endpoint records never carry secret material.
func endpointToken(endpoint *types.Endpoint) string {
	if endpoint.AuthPolicy == "" {
		return ""
	}
	return os.Getenv(endpoint.AuthPolicy)
}

var (
	_ Driver       = (*HTTPDriver)(nil)
	_ Prober       = (*HTTPDriver)(nil)
	_ LagEstimator = (*HTTPDriver)(nil)
)
