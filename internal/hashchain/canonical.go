// Package hashchain provides canonical JSON serialization and chained
// SHA-256 hashing over deliberation phase records. The same encoder backs
// both the per-session attestation chain and the cross-session ledger, so
// hashes are byte-stable across platforms and runs.
package hashchain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CanonicalJSON encodes v as canonical JSON: object keys sorted
// lexicographically, no insignificant whitespace, UTF-8 strings, numbers in
// minimal decimal form. v is first round-tripped through encoding/json so
// any value with JSON tags serializes consistently.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}

	var generic interface{}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}

	var sb strings.Builder
	if err := writeCanonical(&sb, generic); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func writeCanonical(sb *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")

	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}

	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(b)

	case json.Number:
		s, err := canonicalNumber(val)
		if err != nil {
			return err
		}
		sb.WriteString(s)

	case []interface{}:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')

	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(kb)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')

	default:
		return fmt.Errorf("canonical JSON: unsupported type %T", v)
	}
	return nil
}

// canonicalNumber renders a JSON number in minimal decimal form: integers
// without exponent or trailing zeros, floats via the shortest representation
// that round-trips.
func canonicalNumber(n json.Number) (string, error) {
	s := n.String()
	if i, err := n.Int64(); err == nil && !strings.ContainsAny(s, ".eE") {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("canonical JSON: bad number %q", s)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "", fmt.Errorf("canonical JSON: non-finite number %q", s)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
