package vectordb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	blob := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(f))
	}
	return blob
}

// decodeVector unpacks bytes written by encodeVector.
func decodeVector(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}

// similarity scores a against b under the given distance. Mismatched lengths
// and zero vectors score 0.
func similarity(d Distance, a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if d == DistanceDot {
		return float32(dot)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// DefaultSearchLimit is the number of hits SearchByVector returns when the
// caller passes a non-positive limit.
const DefaultSearchLimit = 10

func searchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return limit
}

// topK sorts results by descending score (ties by ascending id) and truncates
// to limit.
func topK(results []SearchResult, limit int) []SearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// normalizeMetadata round-trips metadata through JSON so that every value is
// one of the generic JSON types (string, float64, bool, nil, []any,
// map[string]any).
func normalizeMetadata(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("vectordb: encode metadata: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("vectordb: decode metadata: %w", err)
	}
	return out, nil
}
