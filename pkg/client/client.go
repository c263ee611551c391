package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tapestryhq/tapestry/pkg/community"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/expand"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/rag"
	"github.com/tapestryhq/tapestry/pkg/search"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// Client talks to one tapestry server on behalf of one tenant.
type Client struct {
	baseURL string
	tenant  string
	http    *http.Client
}

func New(baseURL, tenant string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tenant:  tenant,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// do issues one request and decodes the reply into out (when non-nil).
// Non-2xx replies become taxonomy errors built from the error body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errdefs.Wrap(errdefs.KindInvalidInput, err, "encoding request")
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, err, "building request")
	}
	req.Header.Set("X-Tenant-ID", c.tenant)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindRetriableTransport, err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var problem struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&problem); decodeErr == nil && problem.Kind != "" {
			return errdefs.New(errdefs.Kind(problem.Kind), "%s", problem.Error)
		}
		return errdefs.New(errdefs.FromHTTPStatus(resp.StatusCode), "server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errdefs.Wrap(errdefs.KindInternal, err, "decoding response")
	}
	return nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// ListEndpoints returns the tenant's endpoints, optionally narrowed by
// project and a name search, capped at first when > 0.
func (c *Client) ListEndpoints(ctx context.Context, project, search string, first int) ([]types.Endpoint, error) {
	q := url.Values{}
	if project != "" {
		q.Set("project", project)
	}
	if search != "" {
		q.Set("search", search)
	}
	if first > 0 {
		q.Set("first", fmt.Sprint(first))
	}
	path := "/api/v1/endpoints"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Endpoints []types.Endpoint `json:"endpoints"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Endpoints, nil
}

func (c *Client) CreateEndpoint(ctx context.Context, ep *types.Endpoint) (*types.Endpoint, error) {
	var out types.Endpoint
	if err := c.do(ctx, http.MethodPost, "/api/v1/endpoints", ep, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetEndpoint(ctx context.Context, id string) (*types.Endpoint, error) {
	var out types.Endpoint
	if err := c.do(ctx, http.MethodGet, "/api/v1/endpoints/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteEndpoint(ctx context.Context, id, reason string) error {
	path := "/api/v1/endpoints/" + url.PathEscape(id)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) Discover(ctx context.Context, endpointID string) ([]types.UnitDescriptor, error) {
	var out struct {
		Units []types.UnitDescriptor `json:"units"`
	}
	path := fmt.Sprintf("/api/v1/endpoints/%s/discover", url.PathEscape(endpointID))
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Units, nil
}

func (c *Client) ListUnits(ctx context.Context, endpointID string) ([]types.UnitWithStatus, error) {
	var out struct {
		Units []types.UnitWithStatus `json:"units"`
	}
	path := fmt.Sprintf("/api/v1/endpoints/%s/units", url.PathEscape(endpointID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Units, nil
}

func (c *Client) Configure(ctx context.Context, cfg *types.UnitConfig) error {
	path := fmt.Sprintf("/api/v1/endpoints/%s/units/%s/config",
		url.PathEscape(cfg.EndpointID), url.PathEscape(cfg.UnitID))
	return c.do(ctx, http.MethodPut, path, cfg, nil)
}

func (c *Client) StartRun(ctx context.Context, endpointID, unitID string) (*types.ActionResult, error) {
	return c.unitAction(ctx, endpointID, unitID, "start")
}

func (c *Client) PauseRun(ctx context.Context, endpointID, unitID string) (*types.ActionResult, error) {
	return c.unitAction(ctx, endpointID, unitID, "pause")
}

func (c *Client) ResetCheckpoint(ctx context.Context, endpointID, unitID string) (*types.ActionResult, error) {
	return c.unitAction(ctx, endpointID, unitID, "reset-checkpoint")
}

func (c *Client) unitAction(ctx context.Context, endpointID, unitID, verb string) (*types.ActionResult, error) {
	var out types.ActionResult
	path := fmt.Sprintf("/api/v1/endpoints/%s/units/%s/%s",
		url.PathEscape(endpointID), url.PathEscape(unitID), verb)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EstimateLag(ctx context.Context, endpointID, unitID string) (*float64, error) {
	var out struct {
		Lag *float64 `json:"lag"`
	}
	path := fmt.Sprintf("/api/v1/endpoints/%s/units/%s/lag",
		url.PathEscape(endpointID), url.PathEscape(unitID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Lag, nil
}

// ListNodes narrows by entity types and project when given.
func (c *Client) ListNodes(ctx context.Context, entityTypes []string, projectID string, limit int) ([]types.Node, error) {
	q := url.Values{}
	if len(entityTypes) > 0 {
		q.Set("entityTypes", strings.Join(entityTypes, ","))
	}
	if projectID != "" {
		q.Set("projectId", projectID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/graph/nodes"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Nodes []types.Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

func (c *Client) UpsertNode(ctx context.Context, in graph.NodeInput) (*types.Node, error) {
	var out types.Node
	if err := c.do(ctx, http.MethodPost, "/api/v1/graph/nodes", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListEdges(ctx context.Context, edgeType, sourceNodeID string, limit int) ([]types.Edge, error) {
	q := url.Values{}
	if edgeType != "" {
		q.Set("edgeType", edgeType)
	}
	if sourceNodeID != "" {
		q.Set("sourceNodeId", sourceNodeID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/graph/edges"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Edges []types.Edge `json:"edges"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Edges, nil
}

func (c *Client) UpsertEdge(ctx context.Context, in graph.EdgeInput) (*types.Edge, error) {
	var out types.Edge
	if err := c.do(ctx, http.MethodPost, "/api/v1/graph/edges", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Search(ctx context.Context, req search.Request) ([]search.Result, error) {
	var out struct {
		Results []search.Result `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) BuildContext(ctx context.Context, req rag.ContextRequest) (*rag.ContextResponse, error) {
	var out rag.ContextResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/rag/context", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExpandGraph(ctx context.Context, req rag.ExpandRequest) (*expand.Result, error) {
	var out expand.Result
	if err := c.do(ctx, http.MethodPost, "/api/v1/rag/expand", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Answer(ctx context.Context, req rag.AnswerRequest) (*rag.Answer, error) {
	var out rag.Answer
	if err := c.do(ctx, http.MethodPost, "/api/v1/rag/answer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Communities(ctx context.Context, entityIDs []string, max int) ([]community.Community, error) {
	q := url.Values{"entityIds": {strings.Join(entityIDs, ",")}}
	if max > 0 {
		q.Set("max", fmt.Sprint(max))
	}
	var out struct {
		Communities []community.Community `json:"communities"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/rag/communities?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Communities, nil
}

func (c *Client) ListObservations(ctx context.Context, status string, limit int) ([]types.Observation, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/observations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Observations []types.Observation `json:"observations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Observations, nil
}

func (c *Client) ApproveObservation(ctx context.Context, obsID, canonicalID string) (*types.Observation, error) {
	var out types.Observation
	path := "/api/v1/observations/" + url.PathEscape(obsID) + "/approve"
	body := map[string]string{"canonicalId": canonicalID}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RejectObservation(ctx context.Context, obsID string) (*types.Observation, error) {
	var out types.Observation
	path := "/api/v1/observations/" + url.PathEscape(obsID) + "/reject"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
