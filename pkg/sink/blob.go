package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tapestryhq/tapestry/pkg/blob"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// BlobSinkID selects the archive sink.
const BlobSinkID = "blob"

// BlobSink archives batches as JSONL files instead of applying them to the
// graph. Commit writes a manifest; Abort deletes everything written since
// Begin, restoring the store to its pre-run state.
type BlobSink struct {
	store  blob.Store
	prefix string
	runID  string

	began   bool
	written []string
	records int
}

// DefaultProviderID selects the default staging store when a unit's policy
// does not name one.
const DefaultProviderID = "default"

// NewBlobFactory returns a Factory producing archive sinks under the given
// prefix. Units pick their staging provider through policy; unnamed units
// get the default store. The unit's endpoint id and a fresh run token
// partition the files.
func NewBlobFactory(staging blob.Store, providers map[string]blob.Store, prefix string) Factory {
	return func(endpoint *types.Endpoint, cfg *types.UnitConfig) (Sink, error) {
		store := staging
		if cfg != nil {
			if id := cfg.StagingProviderID(); id != "" && id != DefaultProviderID {
				store = providers[id]
			}
		}
		if store == nil {
			return nil, errdefs.ErrMissingStagingProvider
		}
		return &BlobSink{
			store:  store,
			prefix: fmt.Sprintf("%s/%s", prefix, endpoint.ID),
			runID:  uuid.New().String(),
		}, nil
	}
}

func (s *BlobSink) ID() string {
	return BlobSinkID
}

func (s *BlobSink) Begin(ctx context.Context) error {
	if s.began {
		return errdefs.New(errdefs.KindInternal, "sink already begun")
	}
	s.began = true
	s.written = nil
	s.records = 0
	return nil
}

func (s *BlobSink) WriteBatch(ctx context.Context, batch *types.Batch) (*BatchResult, error) {
	if !s.began {
		return nil, errdefs.New(errdefs.KindInternal, "write before begin")
	}

	var buf []byte
	for i := range batch.Records {
		line, err := json.Marshal(&batch.Records[i])
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInternal, err, "failed to encode record")
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	key := fmt.Sprintf("%s/%s-%d.jsonl", s.prefix, s.runID, time.Now().UnixNano())
	if err := s.store.Put(ctx, key, buf); err != nil {
		return nil, err
	}
	s.written = append(s.written, key)
	s.records += len(batch.Records)
	return &BatchResult{Upserts: len(batch.Records)}, nil
}

// manifest is the snapshot written on commit.
type manifest struct {
	RunID       string             `json:"runId"`
	Files       []string           `json:"files"`
	Records     int                `json:"records"`
	Stats       map[string]float64 `json:"stats,omitempty"`
	CompletedAt time.Time          `json:"completedAt"`
}

func (s *BlobSink) Commit(ctx context.Context, stats map[string]float64) error {
	if !s.began {
		return errdefs.New(errdefs.KindInternal, "commit before begin")
	}
	m := manifest{
		RunID:       s.runID,
		Files:       s.written,
		Records:     s.records,
		Stats:       stats,
		CompletedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInternal, err, "failed to encode manifest")
	}
	key := fmt.Sprintf("%s/%s.snapshot.json", s.prefix, s.runID)
	if err := s.store.Put(ctx, key, data); err != nil {
		return err
	}
	s.began = false
	return nil
}

func (s *BlobSink) Abort(ctx context.Context, cause error) error {
	logger := log.WithComponent("sink")
	for _, key := range s.written {
		if err := s.store.Delete(ctx, key); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Failed to remove aborted archive file")
		}
	}
	s.written = nil
	s.records = 0
	s.began = false
	return nil
}

var _ Sink = (*BlobSink)(nil)
