package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

var (
	// Bucket names
	bucketEndpoints    = []byte("endpoints")
	bucketUnitConfigs  = []byte("unit_configs")
	bucketUnitStatus   = []byte("unit_status")
	bucketRuns         = []byte("runs")
	bucketNodes        = []byte("nodes")
	bucketNodeKeys     = []byte("node_keys")
	bucketEdges        = []byte("edges")
	bucketEdgeKeys     = []byte("edge_keys")
	bucketEmbeddings   = []byte("embeddings")
	bucketObservations = []byte("observations")
	bucketEntityIndex  = []byte("entity_index")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "tapestry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEndpoints,
			bucketUnitConfigs,
			bucketUnitStatus,
			bucketRuns,
			bucketNodes,
			bucketNodeKeys,
			bucketEdges,
			bucketEdgeKeys,
			bucketEmbeddings,
			bucketObservations,
			bucketEntityIndex,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Endpoint operations

func (s *BoltStore) CreateEndpoint(ep *types.Endpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		if b.Get([]byte(ep.ID)) != nil {
			return errdefs.New(errdefs.KindAlreadyExists, "endpoint already exists: %s", ep.ID)
		}
		data, err := json.Marshal(ep)
		if err != nil {
			return err
		}
		return b.Put([]byte(ep.ID), data)
	})
}

func (s *BoltStore) GetEndpoint(id string) (*types.Endpoint, error) {
	var ep types.Endpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", id)
		}
		return json.Unmarshal(data, &ep)
	})
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *BoltStore) GetEndpointBySourceID(sourceID string) (*types.Endpoint, error) {
	var found *types.Endpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		return b.ForEach(func(k, v []byte) error {
			var ep types.Endpoint
			if err := json.Unmarshal(v, &ep); err != nil {
				return err
			}
			if ep.SourceID == sourceID {
				found = &ep
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", sourceID)
	}
	return found, nil
}

func (s *BoltStore) ListEndpoints(includeDeleted bool) ([]*types.Endpoint, error) {
	var endpoints []*types.Endpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		return b.ForEach(func(k, v []byte) error {
			var ep types.Endpoint
			if err := json.Unmarshal(v, &ep); err != nil {
				return err
			}
			if !includeDeleted && ep.Deleted() {
				return nil
			}
			endpoints = append(endpoints, &ep)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (s *BoltStore) UpdateEndpoint(ep *types.Endpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		if b.Get([]byte(ep.ID)) == nil {
			return errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", ep.ID)
		}
		data, err := json.Marshal(ep)
		if err != nil {
			return err
		}
		return b.Put([]byte(ep.ID), data)
	})
}

func (s *BoltStore) DeleteEndpoint(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		return b.Delete([]byte(id))
	})
}

// Unit configuration operations

func (s *BoltStore) PutUnitConfig(cfg *types.UnitConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnitConfigs)
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(unitKey(cfg.EndpointID, cfg.UnitID)), data)
	})
}

func (s *BoltStore) GetUnitConfig(endpointID, unitID string) (*types.UnitConfig, error) {
	var cfg types.UnitConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnitConfigs)
		data := b.Get([]byte(unitKey(endpointID, unitID)))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "unit config not found: %s/%s", endpointID, unitID)
		}
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStore) ListUnitConfigs(endpointID string) ([]*types.UnitConfig, error) {
	var configs []*types.UnitConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnitConfigs)
		return b.ForEach(func(k, v []byte) error {
			var cfg types.UnitConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			if endpointID == "" || cfg.EndpointID == endpointID {
				configs = append(configs, &cfg)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *BoltStore) DeleteUnitConfig(endpointID, unitID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnitConfigs)
		return b.Delete([]byte(unitKey(endpointID, unitID)))
	})
}

// Unit status operations

func (s *BoltStore) PutUnitStatus(status *types.UnitStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnitStatus)
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return b.Put([]byte(unitKey(status.EndpointID, status.UnitID)), data)
	})
}

func (s *BoltStore) GetUnitStatus(endpointID, unitID string) (*types.UnitStatus, error) {
	var status types.UnitStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnitStatus)
		data := b.Get([]byte(unitKey(endpointID, unitID)))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "unit status not found: %s/%s", endpointID, unitID)
		}
		return json.Unmarshal(data, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *BoltStore) ListUnitStatuses(endpointID string) ([]*types.UnitStatus, error) {
	var statuses []*types.UnitStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnitStatus)
		return b.ForEach(func(k, v []byte) error {
			var status types.UnitStatus
			if err := json.Unmarshal(v, &status); err != nil {
				return err
			}
			if endpointID == "" || status.EndpointID == endpointID {
				statuses = append(statuses, &status)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// Run operations

func (s *BoltStore) CreateRun(run *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b.Get([]byte(run.ID)) != nil {
			return errdefs.New(errdefs.KindAlreadyExists, "run already exists: %s", run.ID)
		}
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "run not found: %s", id)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) UpdateRun(run *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

func (s *BoltStore) ListRuns(endpointID, unitID string, limit int) ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if endpointID != "" && run.EndpointID != endpointID {
				return nil
			}
			if unitID != "" && run.UnitID != unitID {
				return nil
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *BoltStore) GetActiveRun(endpointID, unitID string) (*types.Run, error) {
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

func (s *BoltStore) PutNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketNodes).Put([]byte(node.ID), data); err != nil {
			return err
		}
		if node.LogicalKey != "" {
			return tx.Bucket(bucketNodeKeys).Put([]byte(node.LogicalKey), []byte(node.ID))
		}
		return nil
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "node not found: %s", id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) GetNodeByLogicalKey(logicalKey string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketNodeKeys).Get([]byte(logicalKey))
		if id == nil {
			return errdefs.New(errdefs.KindNotFound, "node not found: %s", logicalKey)
		}
		data := tx.Bucket(bucketNodes).Get(id)
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "node not found: %s", logicalKey)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes(filter NodeFilter) ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			if matchNode(&node, filter) {
				nodes = append(nodes, &node)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNodes(nodes)
	return pageNodes(nodes, filter.Offset, filter.Limit), nil
}

func (s *BoltStore) CountNodes(tenantID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			if node.TenantID == tenantID {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) NodeTenants() ([]string, error) {
	seen := map[string]struct{}{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			seen[node.TenantID] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data != nil {
			var node types.Node
			if err := json.Unmarshal(data, &node); err == nil && node.LogicalKey != "" {
				if err := tx.Bucket(bucketNodeKeys).Delete([]byte(node.LogicalKey)); err != nil {
					return err
				}
			}
		}
		return b.Delete([]byte(id))
	})
}

// Graph edge operations

func (s *BoltStore) PutEdge(edge *types.Edge) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(edge)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketEdges).Put([]byte(edge.ID), data); err != nil {
			return err
		}
		if edge.LogicalKey != "" {
			return tx.Bucket(bucketEdgeKeys).Put([]byte(edge.LogicalKey), []byte(edge.ID))
		}
		return nil
	})
}

func (s *BoltStore) GetEdge(id string) (*types.Edge, error) {
	var edge types.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEdges)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "edge not found: %s", id)
		}
		return json.Unmarshal(data, &edge)
	})
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

func (s *BoltStore) GetEdgeByLogicalKey(logicalKey string) (*types.Edge, error) {
	var edge types.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketEdgeKeys).Get([]byte(logicalKey))
		if id == nil {
			return errdefs.New(errdefs.KindNotFound, "edge not found: %s", logicalKey)
		}
		data := tx.Bucket(bucketEdges).Get(id)
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "edge not found: %s", logicalKey)
		}
		return json.Unmarshal(data, &edge)
	})
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

func (s *BoltStore) ListEdges(filter EdgeFilter) ([]*types.Edge, error) {
	var edges []*types.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEdges)
		return b.ForEach(func(k, v []byte) error {
			var edge types.Edge
			if err := json.Unmarshal(v, &edge); err != nil {
				return err
			}
			if matchEdge(&edge, filter) {
				edges = append(edges, &edge)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortEdges(edges)
	return pageEdges(edges, filter.Offset, filter.Limit), nil
}

func (s *BoltStore) CountEdges(tenantID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEdges)
		return b.ForEach(func(k, v []byte) error {
			var edge types.Edge
			if err := json.Unmarshal(v, &edge); err != nil {
				return err
			}
			if edge.TenantID == tenantID {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) DeleteEdge(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEdges)
		data := b.Get([]byte(id))
		if data != nil {
			var edge types.Edge
			if err := json.Unmarshal(data, &edge); err == nil && edge.LogicalKey != "" {
				if err := tx.Bucket(bucketEdgeKeys).Delete([]byte(edge.LogicalKey)); err != nil {
					return err
				}
			}
		}
		return b.Delete([]byte(id))
	})
}

// Embedding operations

func (s *BoltStore) PutEmbedding(emb *types.Embedding) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		data, err := json.Marshal(emb)
		if err != nil {
			return err
		}
		return b.Put([]byte(embeddingKey(emb.EntityID, emb.Hash)), data)
	})
}

func (s *BoltStore) GetEmbedding(entityID, hash string) (*types.Embedding, error) {
	var emb types.Embedding
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		data := b.Get([]byte(embeddingKey(entityID, hash)))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "embedding not found: %s", entityID)
		}
		return json.Unmarshal(data, &emb)
	})
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

func (s *BoltStore) ListEmbeddings(modelID string) ([]*types.Embedding, error) {
	var embeddings []*types.Embedding
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		return b.ForEach(func(k, v []byte) error {
			var emb types.Embedding
			if err := json.Unmarshal(v, &emb); err != nil {
				return err
			}
			if modelID == "" || emb.ModelID == modelID {
				embeddings = append(embeddings, &emb)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (s *BoltStore) ListEmbeddingsForEntity(entityID string) ([]*types.Embedding, error) {
	var embeddings []*types.Embedding
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEmbeddings).Cursor()
		prefix := []byte(entityID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var emb types.Embedding
			if err := json.Unmarshal(v, &emb); err != nil {
				return err
			}
			embeddings = append(embeddings, &emb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (s *BoltStore) DeleteEmbeddings(entityID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		c := b.Cursor()
		prefix := []byte(entityID + "/")
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Observation operations

func (s *BoltStore) PutObservation(obs *types.Observation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObservations)
		data, err := json.Marshal(obs)
		if err != nil {
			return err
		}
		return b.Put([]byte(obs.ID), data)
	})
}

func (s *BoltStore) GetObservation(id string) (*types.Observation, error) {
	var obs types.Observation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObservations)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "observation not found: %s", id)
		}
		return json.Unmarshal(data, &obs)
	})
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

func (s *BoltStore) ListObservations(filter ObservationFilter) ([]*types.Observation, error) {
	var observations []*types.Observation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObservations)
		return b.ForEach(func(k, v []byte) error {
			var obs types.Observation
			if err := json.Unmarshal(v, &obs); err != nil {
				return err
			}
			if matchObservation(&obs, filter) {
				observations = append(observations, &obs)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortObservations(observations)
	if filter.Limit > 0 && filter.Limit < len(observations) {
		observations = observations[:filter.Limit]
	}
	return observations, nil
}

// Entity index operations

func (s *BoltStore) SetEntityIndex(tenantID string, entityType types.EntityType, normalized, canonicalID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntityIndex)
		return b.Put([]byte(entityIndexKey(tenantID, entityType, normalized)), []byte(canonicalID))
	})
}

func (s *BoltStore) GetEntityIndex(tenantID string, entityType types.EntityType, normalized string) (string, error) {
	var canonicalID string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntityIndex)
		data := b.Get([]byte(entityIndexKey(tenantID, entityType, normalized)))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "entity not indexed: %s", normalized)
		}
		canonicalID = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return canonicalID, nil
}

func (s *BoltStore) DeleteEntityIndex(tenantID string, entityType types.EntityType, normalized string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntityIndex)
		return b.Delete([]byte(entityIndexKey(tenantID, entityType, normalized)))
	})
}
