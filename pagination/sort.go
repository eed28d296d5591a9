package pagination

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Key is one token of a sort specification.
type Key struct {
	Field string
	Desc  bool
}

func (k Key) String() string {
	if k.Desc {
		return "-" + k.Field
	}

	return "+" + k.Field
}

// InvalidSortError is returned for a sort field outside the allow-list.
type InvalidSortError struct {
	Field   string
	Allowed []string
}

func (e *InvalidSortError) Error() string {
	return fmt.Sprintf(
		"invalid sort field %q, allowed: %s",
		e.Field,
		strings.Join(e.Allowed, ", "),
	)
}

// ParseSort parses a comma separated specification such as
// "-frozen_at,+name". An empty specification yields no keys.
func ParseSort(spec string, allowed []string) ([]Key, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	return ParseSortFields(strings.Split(spec, ","), allowed)
}

// ParseSortFields parses already split sort tokens.
func ParseSortFields(tokens []string, allowed []string) ([]Key, error) {
	keys := make([]Key, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		key := Key{Field: token}
		switch token[0] {
		case '-':
			key = Key{Field: token[1:], Desc: true}
		case '+':
			key = Key{Field: token[1:]}
		}

		if !slices.Contains(allowed, key.Field) {
			return nil, &InvalidSortError{Field: key.Field, Allowed: allowed}
		}

		keys = append(keys, key)
	}

	return keys, nil
}

// WithTiebreak appends an ascending key on field unless the field is already
// part of keys. A unique tiebreak field makes windows deterministic.
func WithTiebreak(keys []Key, field string) []Key {
	for _, k := range keys {
		if k.Field == field {
			return keys
		}
	}

	out := make([]Key, 0, len(keys)+1)
	out = append(out, keys...)

	return append(out, Key{Field: field})
}

// Sort orders items in place by keys. value resolves a field of an item to
// a comparable value: string, bool, int, int64, *int64, time.Time or nil.
// nil sorts before any other value in ascending order.
func Sort[T any](items []T, keys []Key, value func(T, string) any) {
	slices.SortStableFunc(items, func(a, b T) int {
		for _, k := range keys {
			c := Compare(value(a, k.Field), value(b, k.Field))
			if c == 0 {
				continue
			}
			if k.Desc {
				return -c
			}

			return c
		}

		return 0
	})
}

// Compare orders two field values the way the SQL index orders them.
func Compare(a, b any) int {
	a, b = deref(a), deref(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return cmp.Compare(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			return cmp.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmp.Compare(boolRank(av), boolRank(bv))
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func deref(v any) any {
	switch p := v.(type) {
	case *int64:
		if p == nil {
			return nil
		}

		return *p
	case *string:
		if p == nil {
			return nil
		}

		return *p
	case *time.Time:
		if p == nil {
			return nil
		}

		return *p
	}

	return v
}

func boolRank(b bool) int {
	if b {
		return 1
	}

	return 0
}
