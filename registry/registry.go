package registry

import (
	"dataset-registry/auth"
	"dataset-registry/orm"
	"dataset-registry/pagination"
)

// Registry coordinates the authoritative index with one search backend, one
// retrieve backend and any number of extensions. Every operation goes
// through an explicit Registry value; nothing is process global.
type Registry struct {
	db         *orm.DB
	auth       *auth.Engine
	search     SearchBackend
	retrieve   RetrieveBackend
	extensions []Extension
	pages      pagination.Defaults
}

type Option func(*Registry)

// WithExtensions adds best-effort extension backends.
func WithExtensions(extensions ...Extension) Option {
	return func(r *Registry) {
		r.extensions = append(r.extensions, extensions...)
	}
}

// WithPageDefaults sets the default and maximum page size.
func WithPageDefaults(defaults pagination.Defaults) Option {
	return func(r *Registry) {
		r.pages = defaults
	}
}

// New creates a registry over db with the given backends
func New(
	db *orm.DB,
	search SearchBackend,
	retrieve RetrieveBackend,
	opts ...Option,
) *Registry {
	r := &Registry{
		db:       db,
		auth:     auth.NewEngine(db),
		search:   search,
		retrieve: retrieve,
		pages:    pagination.DefaultLimits,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Auth exposes the authorization predicates to the route layer.
func (r *Registry) Auth() *auth.Engine {
	return r.auth
}

// ParseDatasetSort parses a dataset sort specification such as
// "-frozen_at,name".
func ParseDatasetSort(spec string) ([]pagination.Key, error) {
	keys, err := pagination.ParseSort(spec, orm.DatasetSortFields())
	if err != nil {
		return nil, newValidationError(err.Error())
	}

	return keys, nil
}

// ParseUserSort parses a user listing sort specification.
func ParseUserSort(spec string) ([]pagination.Key, error) {
	keys, err := pagination.ParseSort(spec, orm.UserSortFields())
	if err != nil {
		return nil, newValidationError(err.Error())
	}

	return keys, nil
}

// ParseBaseURISort parses a base URI listing sort specification.
func ParseBaseURISort(spec string) ([]pagination.Key, error) {
	keys, err := pagination.ParseSort(spec, orm.BaseURISortFields())
	if err != nil {
		return nil, newValidationError(err.Error())
	}

	return keys, nil
}
