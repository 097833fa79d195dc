package vectordb

import (
	"fmt"
	"strings"
)

// CollectionName returns the collection for a project at a given embedding
// dimensionality. Changing the embedding model therefore always lands in a
// fresh collection instead of mixing vector sizes.
func CollectionName(dim int, projectID string) string {
	return fmt.Sprintf("collection_%d_%s", dim, strings.TrimSpace(projectID))
}

// ParseDistance maps a config value onto a Distance, defaulting to cosine.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(DistanceCosine):
		return DistanceCosine, nil
	case string(DistanceDot):
		return DistanceDot, nil
	default:
		return "", fmt.Errorf("vectordb: unsupported distance %q", s)
	}
}
