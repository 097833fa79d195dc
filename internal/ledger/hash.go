package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// taskNameKey is merged into the hashed arguments so identical arguments
// under different task names never collide.
const taskNameKey = "task_name"

// ComputeHash returns the deterministic fingerprint of a task invocation:
// the sha256 hex digest of the canonical JSON form of args merged with the
// task name. Map keys are sorted and scalar values are rendered as strings,
// so key order and numeric representation (1, 1.0, "1") do not matter.
func ComputeHash(taskName string, args map[string]any) (string, error) {
	merged := make(map[string]any, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	merged[taskNameKey] = taskName

	// encoding/json sorts map keys, which is the canonical ordering we need.
	b, err := json.Marshal(canonicalize(merged))
	if err != nil {
		return "", fmt.Errorf("ledger: hash args of %s: %w", taskName, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ArgsOf converts a JSON-serialisable value (usually a task payload struct)
// into the map form stored in the ledger and fed to ComputeHash.
func ArgsOf(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode args: %w", err)
	}
	var m map[string]any
	if err := decodeJSON(b, &m); err != nil {
		return nil, fmt.Errorf("ledger: args must encode to a JSON object: %w", err)
	}
	return m, nil
}

// decodeJSON unmarshals b keeping numbers as json.Number, so integers beyond
// float64 precision keep every digit.
func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = canonicalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return canonicalNumber(t)
	default:
		// Anything else (structs, typed maps) goes through a JSON round trip
		// so it lands in one of the cases above.
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		var generic any
		if err := decodeJSON(b, &generic); err != nil {
			return string(b)
		}
		return canonicalize(generic)
	}
}

// canonicalNumber renders integers exactly and other numbers the way the
// float64 case does, so 1, 1.0 and "1" still agree.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}
