package registry

import (
	"context"
	"dataset-registry/auth"
	"dataset-registry/orm"
	"dataset-registry/pagination"
	"dataset-registry/query"

	"github.com/rs/zerolog/log"
)

// Summary aggregates the datasets a user may search.
type Summary struct {
	BaseURIs []string `json:"base_uris"`
	orm.DatasetSummary
}

// UserInfo describes one user and the base URIs it holds grants on.
type UserInfo struct {
	Username         string   `json:"username"`
	IsAdmin          bool     `json:"is_admin"`
	SearchBaseURIs   []string `json:"search_permissions_on_base_uris"`
	RegisterBaseURIs []string `json:"register_permissions_on_base_uris"`
}

func (r *Registry) authenticate(ctx context.Context, username string) error {
	if !r.auth.UserExists(ctx, username) {
		return &AuthenticationError{Username: username}
	}

	return nil
}

// authorizeAccess applies the 401/403 split for reading one dataset.
func (r *Registry) authorizeAccess(ctx context.Context, username, uri string) error {
	if err := r.authenticate(ctx, username); err != nil {
		return err
	}
	if !r.auth.MayAccess(ctx, username, uri) {
		return &AuthorizationError{Username: username, Action: "access", Resource: uri}
	}

	return nil
}

// RegisterByUser registers info on behalf of username, who needs register
// permission on the target base URI.
func (r *Registry) RegisterByUser(ctx context.Context, username string, info *DatasetInfo) (string, error) {
	if err := r.authenticate(ctx, username); err != nil {
		return "", err
	}
	if info == nil {
		return "", newValidationError("dataset info must be provided")
	}
	if !r.auth.MayRegister(ctx, username, info.BaseURI) {
		return "", &AuthorizationError{Username: username, Action: "register in", Resource: info.BaseURI}
	}

	return r.Register(ctx, info)
}

// DeleteByUser deletes uri on behalf of username, who needs register
// permission on the owning base URI.
func (r *Registry) DeleteByUser(ctx context.Context, username, uri string) (string, error) {
	if err := r.authenticate(ctx, username); err != nil {
		return "", err
	}

	baseURI, ok := auth.DatasetURIToBaseURI(uri)
	if !ok {
		return "", newValidationError("uri " + uri + " has no base URI")
	}
	if !r.auth.MayRegister(ctx, username, baseURI) {
		return "", &AuthorizationError{Username: username, Action: "delete from", Resource: baseURI}
	}

	return r.Delete(ctx, uri)
}

// ListByUser pages through the index rows under every base URI the user may
// search.
func (r *Registry) ListByUser(
	ctx context.Context,
	username string,
	keys []pagination.Key,
	page pagination.Page,
) (pagination.Result[DatasetRecord], error) {
	page = r.pages.Normalize(page)
	if err := r.authenticate(ctx, username); err != nil {
		return pagination.Result[DatasetRecord]{}, err
	}

	baseURIs := r.auth.ListSearchBaseURIs(ctx, username)
	rows, total, err := r.db.ListDatasets(ctx, baseURIs, keys, page)
	if err != nil {
		return pagination.Result[DatasetRecord]{}, wrapStoreError(err, "listing datasets", username)
	}

	records := make([]DatasetRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}

	return pagination.NewResult(records, total, page), nil
}

// SearchByUser runs q against the search backend, narrowed to the base URIs
// the user may search. An empty scope answers without a backend call.
func (r *Registry) SearchByUser(
	ctx context.Context,
	username string,
	q query.Query,
	keys []pagination.Key,
	page pagination.Page,
) (pagination.Result[DatasetRecord], error) {
	page = r.pages.Normalize(page)
	if err := r.authenticate(ctx, username); err != nil {
		return pagination.Result[DatasetRecord]{}, err
	}

	scoped := query.PreprocessBaseURIs(q, r.auth.ListSearchBaseURIs(ctx, username))
	if scoped.EmptyScope() {
		return pagination.NewResult[DatasetRecord](nil, 0, page), nil
	}

	filter := query.Translate(scoped)
	log.Debug().Str("username", username).Stringer("filter", filter).Msg("Searching datasets")

	records, total, err := r.search.Search(ctx, filter, pagination.WithTiebreak(keys, "uri"), page)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Search backend failed")

		return pagination.Result[DatasetRecord]{}, strictError(err, "search", "search datasets")
	}

	return pagination.NewResult(records, total, page), nil
}

// LookupByUser lists the instances of the dataset uuid the user may search.
func (r *Registry) LookupByUser(ctx context.Context, username, uuid string) ([]URIRecord, error) {
	if err := r.authenticate(ctx, username); err != nil {
		return nil, err
	}

	baseURIs := r.auth.ListSearchBaseURIs(ctx, username)
	if len(baseURIs) == 0 {
		return []URIRecord{}, nil
	}

	records, err := r.search.LookupURIs(ctx, uuid, baseURIs)
	if err != nil {
		return nil, strictError(err, "search", "look up dataset URIs")
	}
	if records == nil {
		records = []URIRecord{}
	}

	return records, nil
}

// GetAdminMetadata returns the index record of uri.
func (r *Registry) GetAdminMetadata(ctx context.Context, username, uri string) (*DatasetRecord, error) {
	if err := r.authorizeAccess(ctx, username, uri); err != nil {
		return nil, err
	}

	row, err := r.db.GetDataset(ctx, uri)
	if err != nil {
		return nil, wrapStoreError(err, "getting dataset", uri)
	}

	record := recordFromRow(*row)

	return &record, nil
}

// indexed checks access and that uri is in the index, so a dataset the
// index does not advertise is never served from a backend.
func (r *Registry) indexed(ctx context.Context, username, uri string) error {
	_, err := r.GetAdminMetadata(ctx, username, uri)

	return err
}

func (r *Registry) GetReadme(ctx context.Context, username, uri string) (string, error) {
	if err := r.indexed(ctx, username, uri); err != nil {
		return "", err
	}

	readme, err := r.retrieve.GetReadme(ctx, uri)
	if err != nil {
		return "", retrieveError(err, "get readme")
	}

	return readme, nil
}

func (r *Registry) GetManifest(ctx context.Context, username, uri string) (map[string]any, error) {
	if err := r.indexed(ctx, username, uri); err != nil {
		return nil, err
	}

	manifest, err := r.retrieve.GetManifest(ctx, uri)
	if err != nil {
		return nil, retrieveError(err, "get manifest")
	}

	return manifest, nil
}

func (r *Registry) GetAnnotations(ctx context.Context, username, uri string) (map[string]any, error) {
	if err := r.indexed(ctx, username, uri); err != nil {
		return nil, err
	}

	annotations, err := r.retrieve.GetAnnotations(ctx, uri)
	if err != nil {
		return nil, retrieveError(err, "get annotations")
	}

	return annotations, nil
}

func (r *Registry) GetTags(ctx context.Context, username, uri string) ([]string, error) {
	if err := r.indexed(ctx, username, uri); err != nil {
		return nil, err
	}

	tags, err := r.retrieve.GetTags(ctx, uri)
	if err != nil {
		return nil, retrieveError(err, "get tags")
	}

	return tags, nil
}

func retrieveError(err error, operation string) error {
	if IsUnknownURI(err) {
		return err
	}

	return strictError(err, "retrieve", operation)
}

// SummaryByUser aggregates the index rows the user may search.
func (r *Registry) SummaryByUser(ctx context.Context, username string) (*Summary, error) {
	if err := r.authenticate(ctx, username); err != nil {
		return nil, err
	}

	baseURIs := r.auth.ListSearchBaseURIs(ctx, username)
	summary, err := r.db.SummarizeDatasets(ctx, baseURIs)
	if err != nil {
		return nil, wrapStoreError(err, "summarizing datasets", username)
	}

	return &Summary{BaseURIs: baseURIs, DatasetSummary: *summary}, nil
}

// GetUserInfo describes username to requester. Users may see themselves,
// admins may see anyone.
func (r *Registry) GetUserInfo(ctx context.Context, requester, username string) (*UserInfo, error) {
	if err := r.authenticate(ctx, requester); err != nil {
		return nil, err
	}
	if requester != username && !r.auth.HasAdminRights(ctx, requester) {
		return nil, &AuthorizationError{Username: requester, Action: "view", Resource: "user " + username}
	}

	return r.userInfo(ctx, username)
}

func (r *Registry) userInfo(ctx context.Context, username string) (*UserInfo, error) {
	user, err := r.db.GetUser(ctx, username)
	if err != nil {
		return nil, wrapStoreError(err, "getting user", username)
	}

	return &UserInfo{
		Username:         user.Username,
		IsAdmin:          user.IsAdmin,
		SearchBaseURIs:   r.auth.ListSearchBaseURIs(ctx, username),
		RegisterBaseURIs: r.auth.ListRegisterBaseURIs(ctx, username),
	}, nil
}
