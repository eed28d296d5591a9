package pagination

// Page is a one-based page request.
type Page struct {
	Number int
	Size   int
}

// Defaults fill in and bound page requests.
type Defaults struct {
	PageSize    int
	MaxPageSize int
}

var DefaultLimits = Defaults{PageSize: 10, MaxPageSize: 100}

// Normalize replaces unset values with defaults and caps the page size.
func (d Defaults) Normalize(p Page) Page {
	if d.PageSize <= 0 {
		d.PageSize = DefaultLimits.PageSize
	}
	if d.MaxPageSize <= 0 {
		d.MaxPageSize = DefaultLimits.MaxPageSize
	}

	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = d.PageSize
	}
	if p.Size > d.MaxPageSize {
		p.Size = d.MaxPageSize
	}

	return p
}

func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}

	return (p.Number - 1) * p.Size
}

func (p Page) Limit() int {
	return p.Size
}

// Meta describes the window relative to the full result set.
type Meta struct {
	Total        int64 `json:"total"`
	TotalPages   int   `json:"total_pages"`
	FirstPage    int   `json:"first_page"`
	LastPage     int   `json:"last_page"`
	Page         int   `json:"page"`
	PreviousPage int   `json:"previous_page,omitempty"`
	NextPage     int   `json:"next_page,omitempty"`
}

// NewMeta computes pagination metadata for total matching items.
func NewMeta(total int64, p Page) Meta {
	meta := Meta{Total: total, Page: p.Number}
	if total == 0 || p.Size < 1 {
		return meta
	}

	meta.TotalPages = int((total + int64(p.Size) - 1) / int64(p.Size))
	meta.FirstPage = 1
	meta.LastPage = meta.TotalPages

	if p.Number > 1 && p.Number <= meta.TotalPages {
		meta.PreviousPage = p.Number - 1
	}
	if p.Number < meta.TotalPages {
		meta.NextPage = p.Number + 1
	}

	return meta
}

// Result is one page of items plus its metadata.
type Result[T any] struct {
	Items []T  `json:"items"`
	Meta  Meta `json:"meta"`
}

// NewResult builds a Result. A nil items slice is replaced by an empty one.
func NewResult[T any](items []T, total int64, p Page) Result[T] {
	if items == nil {
		items = []T{}
	}

	return Result[T]{Items: items, Meta: NewMeta(total, p)}
}

// Window returns the slice of items covered by p.
func Window[T any](items []T, p Page) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}

	end := start + p.Limit()
	if p.Limit() < 1 || end > len(items) {
		end = len(items)
	}

	return items[start:end]
}
