package query

import (
	"fmt"
	"slices"
	"strings"
)

// Filter is a backend-neutral filter expression. Backends interpret it
// natively; the concrete node types are MatchAll, Text, Equal, Or,
// ContainsAll and And.
type Filter interface {
	String() string
	filter()
}

// MatchAll matches every document.
type MatchAll struct{}

// Text is a full-text search. Its structure is opaque to this package.
type Text struct {
	Query string
}

// Equal tests a single field value. For the tags field it tests membership.
type Equal struct {
	Field string
	Value string
}

// Or matches when any sub-filter matches.
type Or struct {
	Filters []Filter
}

// ContainsAll matches when the list field holds every value.
type ContainsAll struct {
	Field  string
	Values []string
}

// And matches when every sub-filter matches.
type And struct {
	Filters []Filter
}

func (MatchAll) filter()    {}
func (Text) filter()        {}
func (Equal) filter()       {}
func (Or) filter()          {}
func (ContainsAll) filter() {}
func (And) filter()         {}

func (MatchAll) String() string { return "{}" }

func (t Text) String() string { return fmt.Sprintf("text(%q)", t.Query) }

func (e Equal) String() string { return fmt.Sprintf("%s=%q", e.Field, e.Value) }

func (o Or) String() string { return "or(" + join(o.Filters) + ")" }

func (c ContainsAll) String() string {
	return fmt.Sprintf("%s all(%s)", c.Field, strings.Join(c.Values, ","))
}

func (a And) String() string { return "and(" + join(a.Filters) + ")" }

func join(filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.String())
	}

	return strings.Join(parts, ", ")
}

// Translate turns q into a filter. Sub-filters are produced in the fixed
// order free_text, creator_usernames, base_uris, uuids, tags; empty fields
// produce none. A single sub-filter is returned bare, several are wrapped
// in And, none yields MatchAll.
func Translate(q Query) Filter {
	var subs []Filter

	if q.FreeText != "" {
		subs = append(subs, Text{Query: q.FreeText})
	}

	for _, field := range []struct {
		name   string
		values []string
	}{
		{DocCreatorUsername, q.CreatorUsernames},
		{DocBaseURI, q.BaseURIs},
		{DocUUID, q.UUIDs},
	} {
		if f := anyOf(field.name, field.values); f != nil {
			subs = append(subs, f)
		}
	}

	switch len(q.Tags) {
	case 0:
	case 1:
		subs = append(subs, Equal{Field: DocTags, Value: q.Tags[0]})
	default:
		subs = append(subs, ContainsAll{Field: DocTags, Values: slices.Clone(q.Tags)})
	}

	switch len(subs) {
	case 0:
		return MatchAll{}
	case 1:
		return subs[0]
	default:
		return And{Filters: subs}
	}
}

func anyOf(field string, values []string) Filter {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return Equal{Field: field, Value: values[0]}
	default:
		eqs := make([]Filter, 0, len(values))
		for _, v := range values {
			eqs = append(eqs, Equal{Field: field, Value: v})
		}

		return Or{Filters: eqs}
	}
}
