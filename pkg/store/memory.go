package store

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// MemoryStore implements Store in process. Records are copied through JSON on
// the way in and out so callers never share memory with the store, matching
// the durable backend's behavior.
type MemoryStore struct {
	mu           sync.RWMutex
	endpoints    map[string][]byte
	unitConfigs  map[string][]byte
	unitStatus   map[string][]byte
	runs         map[string][]byte
	nodes        map[string][]byte
	nodeKeys     map[string]string
	edges        map[string][]byte
	edgeKeys     map[string]string
	embeddings   map[string][]byte
	observations map[string][]byte
	entityIndex  map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:    make(map[string][]byte),
		unitConfigs:  make(map[string][]byte),
		unitStatus:   make(map[string][]byte),
		runs:         make(map[string][]byte),
		nodes:        make(map[string][]byte),
		nodeKeys:     make(map[string]string),
		edges:        make(map[string][]byte),
		edgeKeys:     make(map[string]string),
		embeddings:   make(map[string][]byte),
		observations: make(map[string][]byte),
		entityIndex:  make(map[string]string),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// Endpoint operations

func (s *MemoryStore) CreateEndpoint(ep *types.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; ok {
		return errdefs.New(errdefs.KindAlreadyExists, "endpoint already exists: %s", ep.ID)
	}
	data, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	s.endpoints[ep.ID] = data
	return nil
}

func (s *MemoryStore) GetEndpoint(id string) (*types.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.endpoints[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", id)
	}
	var ep types.Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *MemoryStore) GetEndpointBySourceID(sourceID string) (*types.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, data := range s.endpoints {
		var ep types.Endpoint
		if err := json.Unmarshal(data, &ep); err != nil {
			return nil, err
		}
		if ep.SourceID == sourceID {
			return &ep, nil
		}
	}
	return nil, errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", sourceID)
}

func (s *MemoryStore) ListEndpoints(includeDeleted bool) ([]*types.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var endpoints []*types.Endpoint
	for _, data := range s.endpoints {
		var ep types.Endpoint
		if err := json.Unmarshal(data, &ep); err != nil {
			return nil, err
		}
		if !includeDeleted && ep.Deleted() {
			continue
		}
		endpoints = append(endpoints, &ep)
	}
	return endpoints, nil
}

func (s *MemoryStore) UpdateEndpoint(ep *types.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", ep.ID)
	}
	data, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	s.endpoints[ep.ID] = data
	return nil
}

func (s *MemoryStore) DeleteEndpoint(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.endpoints, id)
	return nil
}

// Unit configuration operations

func (s *MemoryStore) PutUnitConfig(cfg *types.UnitConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s.unitConfigs[unitKey(cfg.EndpointID, cfg.UnitID)] = data
	return nil
}

func (s *MemoryStore) GetUnitConfig(endpointID, unitID string) (*types.UnitConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.unitConfigs[unitKey(endpointID, unitID)]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "unit config not found: %s/%s", endpointID, unitID)
	}
	var cfg types.UnitConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *MemoryStore) ListUnitConfigs(endpointID string) ([]*types.UnitConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var configs []*types.UnitConfig
	for _, data := range s.unitConfigs {
		var cfg types.UnitConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		if endpointID == "" || cfg.EndpointID == endpointID {
			configs = append(configs, &cfg)
		}
	}
	return configs, nil
}

func (s *MemoryStore) DeleteUnitConfig(endpointID, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unitConfigs, unitKey(endpointID, unitID))
	return nil
}

// Unit status operations

func (s *MemoryStore) PutUnitStatus(status *types.UnitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	s.unitStatus[unitKey(status.EndpointID, status.UnitID)] = data
	return nil
}

func (s *MemoryStore) GetUnitStatus(endpointID, unitID string) (*types.UnitStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.unitStatus[unitKey(endpointID, unitID)]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "unit status not found: %s/%s", endpointID, unitID)
	}
	var status types.UnitStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *MemoryStore) ListUnitStatuses(endpointID string) ([]*types.UnitStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var statuses []*types.UnitStatus
	for _, data := range s.unitStatus {
		var status types.UnitStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, err
		}
		if endpointID == "" || status.EndpointID == endpointID {
			statuses = append(statuses, &status)
		}
	}
	return statuses, nil
}

// Run operations

func (s *MemoryStore) CreateRun(run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return errdefs.New(errdefs.KindAlreadyExists, "run already exists: %s", run.ID)
	}
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	s.runs[run.ID] = data
	return nil
}

func (s *MemoryStore) GetRun(id string) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.runs[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "run not found: %s", id)
	}
	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *MemoryStore) UpdateRun(run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	s.runs[run.ID] = data
	return nil
}

func (s *MemoryStore) ListRuns(endpointID, unitID string, limit int) ([]*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs []*types.Run
	for _, data := range s.runs {
		var run types.Run
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, err
		}
		if endpointID != "" && run.EndpointID != endpointID {
			continue
		}
		if unitID != "" && run.UnitID != unitID {
			continue
		}
		runs = append(runs, &run)
	}
	sortRuns(runs)
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) GetActiveRun(endpointID, unitID string) (*types.Run, error) {
	runs, err := s.ListRuns(endpointID, unitID, 0)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if !run.State.Terminal() {
			return run, nil
		}
	}
	return nil, errdefs.New(errdefs.KindNotFound, "no active run for %s/%s", endpointID, unitID)
}

// Graph node operations

func (s *MemoryStore) PutNode(node *types.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	s.nodes[node.ID] = data
	if node.LogicalKey != "" {
		s.nodeKeys[node.LogicalKey] = node.ID
	}
	return nil
}

func (s *MemoryStore) GetNode(id string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getNodeLocked(id)
}

func (s *MemoryStore) getNodeLocked(id string) (*types.Node, error) {
	data, ok := s.nodes[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "node not found: %s", id)
	}
	var node types.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *MemoryStore) GetNodeByLogicalKey(logicalKey string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nodeKeys[logicalKey]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "node not found: %s", logicalKey)
	}
	return s.getNodeLocked(id)
}

func (s *MemoryStore) ListNodes(filter NodeFilter) ([]*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var nodes []*types.Node
	for _, data := range s.nodes {
		var node types.Node
		if err := json.Unmarshal(data, &node); err != nil {
			return nil, err
		}
		if matchNode(&node, filter) {
			nodes = append(nodes, &node)
		}
	}
	sortNodes(nodes)
	return pageNodes(nodes, filter.Offset, filter.Limit), nil
}

func (s *MemoryStore) CountNodes(tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, data := range s.nodes {
		var node types.Node
		if err := json.Unmarshal(data, &node); err != nil {
			return 0, err
		}
		if node.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) NodeTenants() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, data := range s.nodes {
		var node types.Node
		if err := json.Unmarshal(data, &node); err != nil {
			return nil, err
		}
		seen[node.TenantID] = struct{}{}
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MemoryStore) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.nodes[id]; ok {
		var node types.Node
		if err := json.Unmarshal(data, &node); err == nil && node.LogicalKey != "" {
			delete(s.nodeKeys, node.LogicalKey)
		}
	}
	delete(s.nodes, id)
	return nil
}

// Graph edge operations

func (s *MemoryStore) PutEdge(edge *types.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(edge)
	if err != nil {
		return err
	}
	s.edges[edge.ID] = data
	if edge.LogicalKey != "" {
		s.edgeKeys[edge.LogicalKey] = edge.ID
	}
	return nil
}

func (s *MemoryStore) GetEdge(id string) (*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEdgeLocked(id)
}

func (s *MemoryStore) getEdgeLocked(id string) (*types.Edge, error) {
	data, ok := s.edges[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "edge not found: %s", id)
	}
	var edge types.Edge
	if err := json.Unmarshal(data, &edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

func (s *MemoryStore) GetEdgeByLogicalKey(logicalKey string) (*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.edgeKeys[logicalKey]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "edge not found: %s", logicalKey)
	}
	return s.getEdgeLocked(id)
}

func (s *MemoryStore) ListEdges(filter EdgeFilter) ([]*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var edges []*types.Edge
	for _, data := range s.edges {
		var edge types.Edge
		if err := json.Unmarshal(data, &edge); err != nil {
			return nil, err
		}
		if matchEdge(&edge, filter) {
			edges = append(edges, &edge)
		}
	}
	sortEdges(edges)
	return pageEdges(edges, filter.Offset, filter.Limit), nil
}

func (s *MemoryStore) CountEdges(tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, data := range s.edges {
		var edge types.Edge
		if err := json.Unmarshal(data, &edge); err != nil {
			return 0, err
		}
		if edge.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteEdge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.edges[id]; ok {
		var edge types.Edge
		if err := json.Unmarshal(data, &edge); err == nil && edge.LogicalKey != "" {
			delete(s.edgeKeys, edge.LogicalKey)
		}
	}
	delete(s.edges, id)
	return nil
}

// Embedding operations

func (s *MemoryStore) PutEmbedding(emb *types.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(emb)
	if err != nil {
		return err
	}
	s.embeddings[embeddingKey(emb.EntityID, emb.Hash)] = data
	return nil
}

func (s *MemoryStore) GetEmbedding(entityID, hash string) (*types.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.embeddings[embeddingKey(entityID, hash)]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "embedding not found: %s", entityID)
	}
	var emb types.Embedding
	if err := json.Unmarshal(data, &emb); err != nil {
		return nil, err
	}
	return &emb, nil
}

func (s *MemoryStore) ListEmbeddings(modelID string) ([]*types.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var embeddings []*types.Embedding
	for _, data := range s.embeddings {
		var emb types.Embedding
		if err := json.Unmarshal(data, &emb); err != nil {
			return nil, err
		}
		if modelID == "" || emb.ModelID == modelID {
			embeddings = append(embeddings, &emb)
		}
	}
	return embeddings, nil
}

func (s *MemoryStore) ListEmbeddingsForEntity(entityID string) ([]*types.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var embeddings []*types.Embedding
	prefix := entityID + "/"
	for key, data := range s.embeddings {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var emb types.Embedding
		if err := json.Unmarshal(data, &emb); err != nil {
			return nil, err
		}
		embeddings = append(embeddings, &emb)
	}
	return embeddings, nil
}

func (s *MemoryStore) DeleteEmbeddings(entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := entityID + "/"
	for key := range s.embeddings {
		if strings.HasPrefix(key, prefix) {
			delete(s.embeddings, key)
		}
	}
	return nil
}

// Observation operations

func (s *MemoryStore) PutObservation(obs *types.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(obs)
	if err != nil {
		return err
	}
	s.observations[obs.ID] = data
	return nil
}

func (s *MemoryStore) GetObservation(id string) (*types.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.observations[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "observation not found: %s", id)
	}
	var obs types.Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, err
	}
	return &obs, nil
}

func (s *MemoryStore) ListObservations(filter ObservationFilter) ([]*types.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var observations []*types.Observation
	for _, data := range s.observations {
		var obs types.Observation
		if err := json.Unmarshal(data, &obs); err != nil {
			return nil, err
		}
		if matchObservation(&obs, filter) {
			observations = append(observations, &obs)
		}
	}
	sortObservations(observations)
	if filter.Limit > 0 && filter.Limit < len(observations) {
		observations = observations[:filter.Limit]
	}
	return observations, nil
}

// Entity index operations

func (s *MemoryStore) SetEntityIndex(tenantID string, entityType types.EntityType, normalized, canonicalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entityIndex[entityIndexKey(tenantID, entityType, normalized)] = canonicalID
	return nil
}

func (s *MemoryStore) GetEntityIndex(tenantID string, entityType types.EntityType, normalized string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonicalID, ok := s.entityIndex[entityIndexKey(tenantID, entityType, normalized)]
	if !ok {
		return "", errdefs.New(errdefs.KindNotFound, "entity not indexed: %s", normalized)
	}
	return canonicalID, nil
}

func (s *MemoryStore) DeleteEntityIndex(tenantID string, entityType types.EntityType, normalized string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entityIndex, entityIndexKey(tenantID, entityType, normalized))
	return nil
}

// Verify both backends satisfy the interface.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
)
