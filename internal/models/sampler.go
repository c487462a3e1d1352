package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// FilterAll selects every sensor of a category, or every category
const FilterAll = "all"

var ErrInvalidFilter = errors.New("invalid category filter")

// SensorSelection sensors picked from one bucket
type SensorSelection struct {
	All       bool
	SensorIDs []string
}

// CategoryFilter which readings a sampler copies on every tick.
//
// JSON forms:
//
//	"all"
//	{"temperature": "all", "humidity": ["H1", "H2"], "waterLevel": true, "generic": false}
type CategoryFilter struct {
	All        bool
	Categories map[Bucket]SensorSelection
}

// AllSensorsFilter selects everything
func AllSensorsFilter() CategoryFilter {
	return CategoryFilter{All: true}
}

// IsEmpty true when the filter can never select anything
func (f CategoryFilter) IsEmpty() bool {
	if f.All {
		return false
	}
	for _, sel := range f.Categories {
		if sel.All || len(sel.SensorIDs) > 0 {
			return false
		}
	}
	return true
}

// Buckets selected buckets in cache order
func (f CategoryFilter) Buckets() []Bucket {
	var out []Bucket
	for _, b := range AllBuckets {
		if _, ok := f.Categories[b]; ok {
			out = append(out, b)
		}
	}
	return out
}

func (f CategoryFilter) MarshalJSON() ([]byte, error) {
	if f.All {
		return json.Marshal(FilterAll)
	}
	out := make(map[Bucket]any, len(f.Categories))
	for b, sel := range f.Categories {
		if sel.All {
			out[b] = FilterAll
			continue
		}
		ids := append([]string(nil), sel.SensorIDs...)
		sort.Strings(ids)
		out[b] = ids
	}
	return json.Marshal(out)
}

func (f *CategoryFilter) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var word string
	if err := json.Unmarshal(data, &word); err == nil {
		if word != FilterAll {
			return fmt.Errorf("%w: unknown selector %q", ErrInvalidFilter, word)
		}
		*f = CategoryFilter{All: true}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	out := CategoryFilter{Categories: make(map[Bucket]SensorSelection, len(raw))}
	for key, value := range raw {
		b := Bucket(key)
		if !b.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidFilter, key)
		}
		sel, keep, err := decodeSelection(value)
		if err != nil {
			return fmt.Errorf("%w: category %s: %v", ErrInvalidFilter, key, err)
		}
		if keep {
			out.Categories[b] = sel
		}
	}
	*f = out
	return nil
}

func decodeSelection(value json.RawMessage) (SensorSelection, bool, error) {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return SensorSelection{}, false, err
	}

	switch t := v.(type) {
	case nil:
		return SensorSelection{}, false, nil
	case bool:
		return SensorSelection{All: t}, t, nil
	case string:
		if t != FilterAll {
			return SensorSelection{}, false, fmt.Errorf("unknown selector %q", t)
		}
		return SensorSelection{All: true}, true, nil
	case []any:
		seen := make(map[string]struct{}, len(t))
		ids := make([]string, 0, len(t))
		for _, item := range t {
			id, ok := item.(string)
			if !ok || id == "" {
				return SensorSelection{}, false, fmt.Errorf("sensor ids must be non-empty strings")
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		return SensorSelection{SensorIDs: ids}, len(ids) > 0, nil
	default:
		return SensorSelection{}, false, fmt.Errorf("unsupported selector")
	}
}

// SamplerSettings persisted sampler configuration of one user
type SamplerSettings struct {
	UserID    int64          `json:"user_id"`
	Username  string         `json:"username"`
	Interval  time.Duration  `json:"interval"`
	Filter    CategoryFilter `json:"filter"`
	Enabled   bool           `json:"enabled"`
	UpdatedAt time.Time      `json:"updated_at"`
}
