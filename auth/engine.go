package auth

import (
	"context"
	"dataset-registry/orm"
	"strings"

	"github.com/rs/zerolog/log"
)

// Store is the part of the Permission Store the engine reads.
type Store interface {
	GetUser(ctx context.Context, username string) (*orm.User, error)
	BaseURIExists(ctx context.Context, baseURI string) (bool, error)
	HasPermission(ctx context.Context, rel orm.Relation, username, baseURI string) (bool, error)
	ListPermittedBaseURIs(ctx context.Context, rel orm.Relation, username string) ([]string, error)
}

var _ Store = (*orm.DB)(nil)

// Engine answers capability questions. It never returns errors: store
// failures are logged and answered with false or an empty list.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

func (e *Engine) lookupUser(ctx context.Context, username string) *orm.User {
	if username == "" {
		return nil
	}

	user, err := e.store.GetUser(ctx, username)
	if err != nil {
		if !orm.IsNotFound(err, orm.KindUser) {
			log.Error().Err(err).Str("username", username).Msg("Failed to look up user")
		}

		return nil
	}

	return user
}

func (e *Engine) UserExists(ctx context.Context, username string) bool {
	return e.lookupUser(ctx, username) != nil
}

// HasAdminRights is false for unknown users.
func (e *Engine) HasAdminRights(ctx context.Context, username string) bool {
	user := e.lookupUser(ctx, username)

	return user != nil && user.IsAdmin
}

// MaySearch is true iff the user exists, the base URI is registered and the
// pair is in the search relation. Admin status plays no part.
func (e *Engine) MaySearch(ctx context.Context, username, baseURI string) bool {
	return e.may(ctx, orm.Search, username, baseURI)
}

// MayRegister is the register relation counterpart of MaySearch.
func (e *Engine) MayRegister(ctx context.Context, username, baseURI string) bool {
	return e.may(ctx, orm.Register, username, baseURI)
}

func (e *Engine) may(ctx context.Context, rel orm.Relation, username, baseURI string) bool {
	if !e.UserExists(ctx, username) {
		return false
	}

	exists, err := e.store.BaseURIExists(ctx, baseURI)
	if err != nil {
		log.Error().Err(err).Str("base_uri", baseURI).Msg("Failed to look up base URI")

		return false
	}
	if !exists {
		return false
	}

	ok, err := e.store.HasPermission(ctx, rel, username, baseURI)
	if err != nil {
		log.Error().
			Err(err).
			Str("username", username).
			Str("base_uri", baseURI).
			Stringer("relation", rel).
			Msg("Failed to check permission")

		return false
	}

	return ok
}

// MayAccess checks search permission on the base URI owning datasetURI.
func (e *Engine) MayAccess(ctx context.Context, username, datasetURI string) bool {
	baseURI, ok := DatasetURIToBaseURI(datasetURI)
	if !ok {
		return false
	}

	return e.MaySearch(ctx, username, baseURI)
}

// ListSearchBaseURIs is empty for unknown users.
func (e *Engine) ListSearchBaseURIs(ctx context.Context, username string) []string {
	return e.list(ctx, orm.Search, username)
}

// ListRegisterBaseURIs is empty for unknown users.
func (e *Engine) ListRegisterBaseURIs(ctx context.Context, username string) []string {
	return e.list(ctx, orm.Register, username)
}

func (e *Engine) list(ctx context.Context, rel orm.Relation, username string) []string {
	if !e.UserExists(ctx, username) {
		return []string{}
	}

	baseURIs, err := e.store.ListPermittedBaseURIs(ctx, rel, username)
	if err != nil {
		log.Error().
			Err(err).
			Str("username", username).
			Stringer("relation", rel).
			Msg("Failed to list permitted base URIs")

		return []string{}
	}

	return baseURIs
}

// DatasetURIToBaseURI strips the last path segment of a dataset URI.
func DatasetURIToBaseURI(datasetURI string) (string, bool) {
	trimmed := strings.TrimSuffix(datasetURI, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return "", false
	}

	baseURI := trimmed[:idx]
	if strings.HasSuffix(baseURI, ":/") || strings.HasSuffix(baseURI, ":") {
		return "", false
	}

	return baseURI, true
}
