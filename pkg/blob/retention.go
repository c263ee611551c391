package blob

import (
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tapestryhq/tapestry/pkg/log"
)

// minStampNanos is the oldest unix-nanos value treated as a staging stamp.
// Digit runs inside run ids parse as integers too, but land far below this
// floor.
var minStampNanos = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()

// stampOf extracts the trailing numeric field of a staging filename
// ({runId}-{nanos}.jsonl). Returns false for names without one, such as
// {runId}.snapshot.json.
func stampOf(key string) (int64, bool) {
	name := path.Base(key)
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	i := strings.LastIndex(name, "-")
	if i < 0 || i == len(name)-1 {
		return 0, false
	}
	nanos, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil || nanos < minStampNanos {
		return 0, false
	}
	return nanos, true
}

// PruneExpired deletes staged files under prefix whose timestamp is older
// than retentionDays. Files without a staging stamp (snapshots) are left
// alone. Returns the number of objects deleted.
func PruneExpired(ctx context.Context, store Store, prefix string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 86400 * time.Second).UnixNano()

	objects, err := store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	logger := log.WithComponent("staging")
	deleted := 0
	for _, obj := range objects {
		nanos, ok := stampOf(obj.Key)
		if !ok || nanos >= cutoff {
			continue
		}
		if err := store.Delete(ctx, obj.Key); err != nil {
			logger.Warn().Err(err).Str("key", obj.Key).Msg("Failed to prune staged object")
			continue
		}
		deleted++
	}
	return deleted, nil
}
