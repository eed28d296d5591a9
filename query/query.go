package query

import (
	"fmt"
	"slices"
)

// Field names understood by the translator.
const (
	FieldFreeText         = "free_text"
	FieldCreatorUsernames = "creator_usernames"
	FieldBaseURIs         = "base_uris"
	FieldUUIDs            = "uuids"
	FieldTags             = "tags"
)

// Document fields that equality filters refer to.
const (
	DocCreatorUsername = "creator_username"
	DocBaseURI         = "base_uri"
	DocUUID            = "uuid"
	DocTags            = "tags"
)

// Query is a user-submitted dataset search. A nil BaseURIs means the field
// was not supplied; a non-nil empty slice was supplied empty.
type Query struct {
	FreeText         string   `json:"free_text,omitempty"`
	CreatorUsernames []string `json:"creator_usernames,omitempty"`
	BaseURIs         []string `json:"base_uris"`
	UUIDs            []string `json:"uuids,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// FromMap builds a Query from a loosely typed mapping. Unknown keys are
// dropped. Known keys with a wrong type are an error.
func FromMap(raw map[string]any) (Query, error) {
	var q Query
	for key, value := range raw {
		var err error
		switch key {
		case FieldFreeText:
			s, ok := value.(string)
			if !ok && value != nil {
				err = fmt.Errorf("%s must be a string", key)
			}
			q.FreeText = s
		case FieldCreatorUsernames:
			q.CreatorUsernames, err = stringList(key, value)
		case FieldBaseURIs:
			q.BaseURIs, err = stringList(key, value)
			if q.BaseURIs == nil {
				q.BaseURIs = []string{}
			}
		case FieldUUIDs:
			q.UUIDs, err = stringList(key, value)
		case FieldTags:
			q.Tags, err = stringList(key, value)
		}
		if err != nil {
			return Query{}, err
		}
	}

	return q, nil
}

func stringList(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of strings", key)
			}
			out = append(out, s)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings", key)
	}
}

// PreprocessBaseURIs narrows q to the base URIs the user may search. Without
// a base_uris field every permitted base URI is injected; otherwise the
// requested list is intersected with permitted, keeping request order.
// Requested base URIs that are not permitted are dropped silently.
func PreprocessBaseURIs(q Query, permitted []string) Query {
	out := q
	out.CreatorUsernames = slices.Clone(q.CreatorUsernames)
	out.UUIDs = slices.Clone(q.UUIDs)
	out.Tags = slices.Clone(q.Tags)

	if q.BaseURIs == nil {
		out.BaseURIs = slices.Clone(permitted)
		if out.BaseURIs == nil {
			out.BaseURIs = []string{}
		}

		return out
	}

	out.BaseURIs = []string{}
	for _, b := range q.BaseURIs {
		if slices.Contains(permitted, b) && !slices.Contains(out.BaseURIs, b) {
			out.BaseURIs = append(out.BaseURIs, b)
		}
	}

	return out
}

// EmptyScope reports whether a preprocessed query can match nothing. Callers
// must return an empty result without querying a backend.
func (q Query) EmptyScope() bool {
	return len(q.BaseURIs) == 0
}
