package pagination

import (
	"fmt"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Column maps a sortable field to its table column.
type Column struct {
	Table    string
	Name     string
	Nullable bool
}

// Fields returns the sorted field names of a column map.
func Fields(columns map[string]Column) []string {
	fields := make([]string, 0, len(columns))
	for f := range columns {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	return fields
}

// OrderBy resolves keys against columns. Nullable columns get a leading
// IS NULL rank so NULLs come first ascending and last descending on every
// dialect, matching Compare.
func OrderBy(keys []Key, columns map[string]Column) (clause.OrderBy, error) {
	orderBy := clause.OrderBy{}
	for _, k := range keys {
		col, ok := columns[k.Field]
		if !ok {
			return clause.OrderBy{}, &InvalidSortError{
				Field:   k.Field,
				Allowed: Fields(columns),
			}
		}

		if col.Nullable {
			orderBy.Columns = append(orderBy.Columns, clause.OrderByColumn{
				Column: clause.Column{
					Name: fmt.Sprintf(
						"CASE WHEN %s.%s IS NULL THEN 0 ELSE 1 END",
						col.Table,
						col.Name,
					),
					Raw: true,
				},
				Desc: k.Desc,
			})
		}

		orderBy.Columns = append(orderBy.Columns, clause.OrderByColumn{
			Column: clause.Column{Table: col.Table, Name: col.Name},
			Desc:   k.Desc,
		})
	}

	return orderBy, nil
}

// Apply adds ordering and the page window to tx.
func Apply(
	tx *gorm.DB,
	keys []Key,
	columns map[string]Column,
	p Page,
) (*gorm.DB, error) {
	if len(keys) > 0 {
		orderBy, err := OrderBy(keys, columns)
		if err != nil {
			return nil, err
		}
		tx = tx.Clauses(orderBy)
	}

	if p.Size > 0 {
		tx = tx.Offset(p.Offset()).Limit(p.Limit())
	}

	return tx, nil
}
