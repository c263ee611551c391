package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tapestryhq/tapestry/pkg/types"
)

// NodeKey computes the deterministic logical key for a node. Identical inputs
// produce byte-identical keys in every process, which is what makes upserts
// from different sources converge on one record. Empty optional fields join
// as the empty string.
func NodeKey(entityType string, scope types.Scope, originEndpointID, originVendor, canonicalPath, fallbackID string, externalID map[string]any) string {
	ext := ""
	if len(externalID) > 0 {
		ext = stableStringify(externalID)
	}
	return digest(
		"entity", entityType,
		scope.OrgID, scope.ProjectID, scope.DomainID, scope.TeamID,
		originEndpointID, originVendor,
		canonicalPath, fallbackID, ext,
	)
}

// EdgeKey computes the deterministic logical key for an edge from its type,
// scope, origin, and the logical keys of both endpoints.
func EdgeKey(edgeType string, scope types.Scope, originEndpointID, originVendor, sourceLogicalKey, targetLogicalKey string) string {
	return digest(
		"edge", edgeType,
		scope.OrgID, scope.ProjectID, scope.DomainID, scope.TeamID,
		originEndpointID, originVendor,
		sourceLogicalKey, targetLogicalKey,
	)
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// stableStringify renders a value as JSON with object keys sorted
// lexicographically at every level, so semantically equal external ids
// stringify identically regardless of map iteration order.
func stableStringify(v any) string {
	var sb strings.Builder
	writeStable(&sb, v)
	return sb.String()
}

func writeStable(sb *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			writeStable(sb, x[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeStable(sb, item)
		}
		sb.WriteByte(']')
	default:
		data, err := json.Marshal(x)
		if err != nil {
			data, _ = json.Marshal(fmt.Sprint(x))
		}
		sb.Write(data)
	}
}
