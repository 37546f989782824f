// Package audit computes field-level change history and writes security events.
package audit

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Snapshot is an entity's attribute values keyed by internal field name.
type Snapshot map[string]any

// Field maps an internal key to the label recorded in history.
type Field struct {
	Key   string
	Label string
}

// FieldTable is an ordered list of tracked fields.
type FieldTable []Field

// Label returns the display label for key, falling back to the key itself.
func (t FieldTable) Label(key string) string {
	for _, f := range t {
		if f.Key == key {
			return f.Label
		}
	}
	return key
}

// Keys returns the keys in table order.
func (t FieldTable) Keys() []string {
	out := make([]string, len(t))
	for i, f := range t {
		out[i] = f.Key
	}
	return out
}

// Change is one differing attribute.
type Change struct {
	Key      string
	Label    string
	OldValue string
	NewValue string
}

// Diff compares attributes present in both snapshots after normalizing each
// value with Stringify. Keys listed in skip are ignored. Changes follow table
// order, then any untracked keys alphabetically.
func Diff(before, after Snapshot, table FieldTable, skip ...string) []Change {
	ignored := make(map[string]struct{}, len(skip))
	for _, k := range skip {
		ignored[k] = struct{}{}
	}

	ordered := make([]string, 0, len(before))
	seen := make(map[string]struct{}, len(before))
	for _, k := range table.Keys() {
		if _, ok := before[k]; ok {
			ordered = append(ordered, k)
			seen[k] = struct{}{}
		}
	}
	var rest []string
	for k := range before {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	var changes []Change
	for _, k := range ordered {
		if _, skip := ignored[k]; skip {
			continue
		}
		newRaw, ok := after[k]
		if !ok {
			continue
		}
		oldVal, newVal := Stringify(before[k]), Stringify(newRaw)
		if oldVal == newVal {
			continue
		}
		changes = append(changes, Change{
			Key:      k,
			Label:    table.Label(k),
			OldValue: oldVal,
			NewValue: newVal,
		})
	}
	return changes
}

// Stringify renders a value the same way regardless of its Go type, so 5 and
// "5" compare equal and nil compares equal to an empty string.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case bool:
		return strconv.FormatBool(x)
	case *bool:
		if x == nil {
			return ""
		}
		return strconv.FormatBool(*x)
	case int:
		return strconv.Itoa(x)
	case *int:
		if x == nil {
			return ""
		}
		return strconv.Itoa(*x)
	case int64:
		return strconv.FormatInt(x, 10)
	case *int64:
		if x == nil {
			return ""
		}
		return strconv.FormatInt(*x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.DateOnly)
	case *time.Time:
		if x == nil || x.IsZero() {
			return ""
		}
		return x.Format(time.DateOnly)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
