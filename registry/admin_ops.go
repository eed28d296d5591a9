package registry

import (
	"context"
	"dataset-registry/orm"
	"dataset-registry/pagination"
	"errors"

	"github.com/rs/zerolog/log"
)

// UserSpec is one entry of a bulk user creation or update.
type UserSpec struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// requireAdmin answers unknown requesters with an AuthenticationError and
// known non-admins with the same not-found error a missing resource gets.
func (r *Registry) requireAdmin(ctx context.Context, requester string, hidden error) error {
	if err := r.authenticate(ctx, requester); err != nil {
		return err
	}
	if !r.auth.HasAdminRights(ctx, requester) {
		log.Debug().Str("username", requester).Msg("Non-admin called an admin operation")

		return hidden
	}

	return nil
}

func (r *Registry) ListUsers(
	ctx context.Context,
	requester string,
	keys []pagination.Key,
	page pagination.Page,
) (pagination.Result[UserInfo], error) {
	page = r.pages.Normalize(page)
	if err := r.requireAdmin(ctx, requester, notFound("users")); err != nil {
		return pagination.Result[UserInfo]{}, err
	}

	users, total, err := r.db.ListUsers(ctx, keys, page)
	if err != nil {
		return pagination.Result[UserInfo]{}, wrapStoreError(err, "listing users", requester)
	}

	infos := make([]UserInfo, 0, len(users))
	for _, user := range users {
		infos = append(infos, UserInfo{
			Username:         user.Username,
			IsAdmin:          user.IsAdmin,
			SearchBaseURIs:   r.auth.ListSearchBaseURIs(ctx, user.Username),
			RegisterBaseURIs: r.auth.ListRegisterBaseURIs(ctx, user.Username),
		})
	}

	return pagination.NewResult(infos, total, page), nil
}

// CreateUsers adds users. Existing users are left untouched.
func (r *Registry) CreateUsers(ctx context.Context, requester string, users []UserSpec) error {
	if err := r.requireAdmin(ctx, requester, notFound("users")); err != nil {
		return err
	}

	for _, u := range users {
		err := r.db.CreateUser(ctx, u.Username, u.IsAdmin)
		var conflict *orm.ConflictError
		if errors.As(err, &conflict) {
			log.Debug().Str("username", u.Username).Msg("User already exists, skipping")

			continue
		}
		if err != nil {
			return wrapStoreError(err, "creating user", u.Username)
		}

		log.Info().Str("username", u.Username).Bool("is_admin", u.IsAdmin).Msg("User created")
	}

	return nil
}

// UpdateUsers creates users or changes their admin flag.
func (r *Registry) UpdateUsers(ctx context.Context, requester string, users []UserSpec) error {
	if err := r.requireAdmin(ctx, requester, notFound("users")); err != nil {
		return err
	}

	for _, u := range users {
		if err := r.db.PutUser(ctx, u.Username, u.IsAdmin); err != nil {
			return wrapStoreError(err, "updating user", u.Username)
		}

		log.Info().Str("username", u.Username).Bool("is_admin", u.IsAdmin).Msg("User updated")
	}

	return nil
}

// DeleteUsers removes users and their grants. Unknown usernames are ignored.
func (r *Registry) DeleteUsers(ctx context.Context, requester string, usernames []string) error {
	if err := r.requireAdmin(ctx, requester, notFound("users")); err != nil {
		return err
	}

	for _, username := range usernames {
		err := r.db.DeleteUser(ctx, username)
		if orm.IsNotFound(err, orm.KindUser) {
			continue
		}
		if err != nil {
			return wrapStoreError(err, "deleting user", username)
		}

		log.Info().Str("username", username).Msg("User deleted")
	}

	return nil
}

func (r *Registry) CreateBaseURI(ctx context.Context, requester, baseURI string) error {
	if err := r.requireAdmin(ctx, requester, notFound("base URIs")); err != nil {
		return err
	}

	if err := r.db.CreateBaseURI(ctx, baseURI); err != nil {
		return wrapStoreError(err, "creating base URI", baseURI)
	}

	log.Info().Str("base_uri", baseURI).Msg("Base URI registered")

	return nil
}

// ListBaseURIs pages through base URIs with their permission info.
func (r *Registry) ListBaseURIs(
	ctx context.Context,
	requester string,
	keys []pagination.Key,
	page pagination.Page,
) (pagination.Result[orm.PermissionInfo], error) {
	page = r.pages.Normalize(page)
	if err := r.requireAdmin(ctx, requester, notFound("base URIs")); err != nil {
		return pagination.Result[orm.PermissionInfo]{}, err
	}

	baseURIs, total, err := r.db.ListBaseURIs(ctx, keys, page)
	if err != nil {
		return pagination.Result[orm.PermissionInfo]{}, wrapStoreError(err, "listing base URIs", requester)
	}

	infos := make([]orm.PermissionInfo, 0, len(baseURIs))
	for _, b := range baseURIs {
		info, err := r.db.GetPermissionInfo(ctx, b.BaseURI)
		if err != nil {
			return pagination.Result[orm.PermissionInfo]{}, wrapStoreError(err, "listing base URIs", b.BaseURI)
		}
		infos = append(infos, *info)
	}

	return pagination.NewResult(infos, total, page), nil
}

// GetBaseURIPermissions answers non-admins exactly like a missing base URI.
func (r *Registry) GetBaseURIPermissions(ctx context.Context, requester, baseURI string) (*orm.PermissionInfo, error) {
	if err := r.requireAdmin(ctx, requester, &UnknownBaseURIError{BaseURI: baseURI}); err != nil {
		return nil, err
	}

	info, err := r.db.GetPermissionInfo(ctx, baseURI)
	if err != nil {
		return nil, wrapStoreError(err, "getting permissions", baseURI)
	}

	return info, nil
}

// GetPermissionInfo returns the users holding each relation on baseURI
// without an admin check, for callers that authorize on their own.
func (r *Registry) GetPermissionInfo(ctx context.Context, baseURI string) (*orm.PermissionInfo, error) {
	info, err := r.db.GetPermissionInfo(ctx, baseURI)
	if err != nil {
		return nil, wrapStoreError(err, "getting permissions", baseURI)
	}

	return info, nil
}

// UpdatePermissions replaces both relations on info.BaseURI. Every listed
// user must exist.
func (r *Registry) UpdatePermissions(ctx context.Context, requester string, info orm.PermissionInfo) error {
	if err := r.requireAdmin(ctx, requester, &UnknownBaseURIError{BaseURI: info.BaseURI}); err != nil {
		return err
	}

	var problems []string
	for _, users := range [][]string{info.SearchUsers, info.RegisterUsers} {
		for _, username := range users {
			if !r.auth.UserExists(ctx, username) {
				problems = append(problems, "unknown user "+username)
			}
		}
	}
	if len(problems) > 0 {
		return newValidationError(problems...)
	}

	if err := r.db.SetPermissions(ctx, info); err != nil {
		return wrapStoreError(err, "updating permissions", info.BaseURI)
	}

	log.Info().
		Str("base_uri", info.BaseURI).
		Strs("search_users", info.SearchUsers).
		Strs("register_users", info.RegisterUsers).
		Msg("Permissions updated")

	return nil
}

// DeleteBaseURI removes every dataset under baseURI from the backends, then
// drops the base URI with its grants and index rows. Backend failures for
// single datasets are logged and do not stop the deletion.
func (r *Registry) DeleteBaseURI(ctx context.Context, requester, baseURI string) error {
	if err := r.requireAdmin(ctx, requester, &UnknownBaseURIError{BaseURI: baseURI}); err != nil {
		return err
	}

	uris, err := r.db.DatasetURIsUnder(ctx, baseURI)
	if err != nil {
		return wrapStoreError(err, "listing datasets", baseURI)
	}

	for _, uri := range uris {
		if _, err := r.Delete(ctx, uri); err != nil {
			log.Warn().
				Err(err).
				Str("base_uri", baseURI).
				Str("uri", uri).
				Msg("Failed to delete dataset of removed base URI")
		}
	}

	if err := r.db.DeleteBaseURI(ctx, baseURI); err != nil {
		return wrapStoreError(err, "deleting base URI", baseURI)
	}

	log.Info().Str("base_uri", baseURI).Int("datasets", len(uris)).Msg("Base URI deleted")

	return nil
}
