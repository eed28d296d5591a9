package registry

import (
	"context"
	"dataset-registry/pagination"
	"dataset-registry/query"
	"reflect"
)

// DatasetRegisterer is the registration hook a backend may implement. A
// malformed payload must be rejected with a *ValidationError.
type DatasetRegisterer interface {
	RegisterDataset(ctx context.Context, info *DatasetInfo) error
}

// DatasetDeleter is the deletion hook a backend may implement. Deleting an
// unknown URI must succeed.
type DatasetDeleter interface {
	DeleteDataset(ctx context.Context, uri string) error
}

// SearchBackend answers scoped queries over registered datasets. It must
// never return records outside the base URIs the filter names.
type SearchBackend interface {
	Search(
		ctx context.Context,
		filter query.Filter,
		keys []pagination.Key,
		page pagination.Page,
	) ([]DatasetRecord, int64, error)
	LookupURIs(ctx context.Context, uuid string, baseURIs []string) ([]URIRecord, error)
}

// RetrieveBackend serves descriptive metadata. Every getter returns an
// *UnknownURIError for unknown URIs.
type RetrieveBackend interface {
	GetReadme(ctx context.Context, uri string) (string, error)
	GetManifest(ctx context.Context, uri string) (map[string]any, error)
	GetAnnotations(ctx context.Context, uri string) (map[string]any, error)
	GetTags(ctx context.Context, uri string) ([]string, error)
}

// Extension is a best-effort side channel notified of registrations and
// deletions.
type Extension interface {
	DatasetRegisterer
	DatasetDeleter
}

type namedBackend struct {
	name    string
	backend any
}

// primaries lists the search and retrieve backends, once each when the
// same value serves both roles.
func (r *Registry) primaries() []namedBackend {
	backends := []namedBackend{{name: "search", backend: r.search}}
	if !sameBackend(r.search, r.retrieve) {
		backends = append(backends, namedBackend{name: "retrieve", backend: r.retrieve})
	}

	return backends
}

func sameBackend(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}

	return a == b
}
