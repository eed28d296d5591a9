package sqlSearch

import (
	"dataset-registry/query"
	"fmt"
	"slices"
	"strings"

	"gorm.io/gorm/clause"
)

const textSQL = "(LOWER(search_entries.name) LIKE ? OR LOWER(search_entries.readme) LIKE ?" +
	" OR LOWER(search_entries.uri) LIKE ? OR LOWER(search_entries.uuid) LIKE ?" +
	" OR LOWER(search_entries.creator_username) LIKE ?" +
	" OR EXISTS (SELECT 1 FROM search_tags WHERE search_tags.uri = search_entries.uri" +
	" AND LOWER(search_tags.tag) LIKE ?))"

const hasTagSQL = "EXISTS (SELECT 1 FROM search_tags WHERE search_tags.uri = search_entries.uri" +
	" AND search_tags.tag = ?)"

const allTagsSQL = "(SELECT COUNT(*) FROM search_tags WHERE search_tags.uri = search_entries.uri" +
	" AND search_tags.tag IN ?) = ?"

// condition translates filter into a WHERE expression. A nil expression
// matches every row.
func condition(filter query.Filter) (clause.Expression, error) {
	switch f := filter.(type) {
	case nil, query.MatchAll:
		return nil, nil

	case query.Text:
		needle := strings.ToLower(strings.TrimSpace(f.Query))
		if needle == "" {
			return nil, nil
		}
		pattern := "%" + needle + "%"

		return clause.Expr{
			SQL:  textSQL,
			Vars: []any{pattern, pattern, pattern, pattern, pattern, pattern},
		}, nil

	case query.Equal:
		if f.Field == query.DocTags {
			return clause.Expr{SQL: hasTagSQL, Vars: []any{f.Value}}, nil
		}
		col, ok := filterColumns[f.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported filter field %q", f.Field)
		}

		return clause.Eq{Column: clause.Column{Table: entries, Name: col}, Value: f.Value}, nil

	case query.ContainsAll:
		if f.Field != query.DocTags {
			return nil, fmt.Errorf("contains-all filter on unsupported field %q", f.Field)
		}
		values := slices.Clone(f.Values)
		slices.Sort(values)
		values = slices.Compact(values)
		if len(values) == 0 {
			return nil, nil
		}

		return clause.Expr{SQL: allTagsSQL, Vars: []any{values, len(values)}}, nil

	case query.Or:
		exprs := make([]clause.Expression, 0, len(f.Filters))
		for _, sub := range f.Filters {
			expr, err := condition(sub)
			if err != nil {
				return nil, err
			}
			if expr == nil {
				return nil, nil
			}
			exprs = append(exprs, expr)
		}

		return clause.Or(exprs...), nil

	case query.And:
		exprs := make([]clause.Expression, 0, len(f.Filters))
		for _, sub := range f.Filters {
			expr, err := condition(sub)
			if err != nil {
				return nil, err
			}
			if expr != nil {
				exprs = append(exprs, expr)
			}
		}
		if len(exprs) == 0 {
			return nil, nil
		}

		return clause.And(exprs...), nil

	default:
		return nil, fmt.Errorf("unsupported filter %T", filter)
	}
}
