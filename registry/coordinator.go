package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Register writes info to every backend and then to the index. Search and
// retrieve backends are strict: their failures abort the registration
// before the index is touched. Extension failures are logged and ignored.
// Registering an existing URI replaces it.
func (r *Registry) Register(ctx context.Context, info *DatasetInfo) (string, error) {
	if info == nil {
		return "", newValidationError("dataset info must be provided")
	}

	info = info.Clone()
	info.Normalize()
	if err := r.validateRegistration(ctx, info); err != nil {
		log.Warn().Err(err).Str("uri", info.URI).Msg("Rejected dataset registration")

		return "", err
	}

	for _, primary := range r.primaries() {
		hook, ok := primary.backend.(DatasetRegisterer)
		if !ok {
			log.Warn().
				Str("backend", primary.name).
				Str("uri", info.URI).
				Msg("Backend has no registration hook, skipping")

			continue
		}

		if err := hook.RegisterDataset(ctx, info.Clone()); err != nil {
			log.Error().
				Err(err).
				Str("backend", primary.name).
				Str("uri", info.URI).
				Msg("Backend failed to register dataset")

			return "", strictError(err, primary.name, "register dataset")
		}
	}

	for i, ext := range r.extensions {
		name := fmt.Sprintf("extension %d (%T)", i, ext)
		bestEffort(name, info.URI, "register dataset", func() error {
			return ext.RegisterDataset(ctx, info.Clone())
		})
	}

	if err := r.db.PutDataset(ctx, info.Input()); err != nil {
		log.Error().Err(err).Str("uri", info.URI).Msg("Failed to update dataset index")

		return "", wrapStoreError(err, "registering dataset", info.URI)
	}

	log.Info().
		Str("uri", info.URI).
		Str("base_uri", info.BaseURI).
		Str("uuid", info.UUID).
		Msg("Dataset registered")

	return info.URI, nil
}

func (r *Registry) validateRegistration(ctx context.Context, info *DatasetInfo) error {
	var problems []string
	var verr *ValidationError
	if err := info.Validate(); errors.As(err, &verr) {
		problems = append(problems, verr.Problems...)
	}

	if info.BaseURI != "" {
		exists, err := r.db.BaseURIExists(ctx, info.BaseURI)
		if err != nil {
			return wrapStoreError(err, "checking base URI", info.BaseURI)
		}
		if !exists {
			problems = append(problems, fmt.Sprintf("base_uri %q is not registered", info.BaseURI))
		}
	}

	if len(problems) > 0 {
		return newValidationError(problems...)
	}

	return nil
}

// Delete removes uri from every backend and then from the index, under the
// same strict and best-effort policy as Register. Deleting an unknown URI
// succeeds.
func (r *Registry) Delete(ctx context.Context, uri string) (string, error) {
	if uri == "" {
		return "", newValidationError("uri must be provided")
	}

	for _, primary := range r.primaries() {
		hook, ok := primary.backend.(DatasetDeleter)
		if !ok {
			log.Warn().
				Str("backend", primary.name).
				Str("uri", uri).
				Msg("Backend has no deletion hook, skipping")

			continue
		}

		err := hook.DeleteDataset(ctx, uri)
		if err != nil && !IsUnknownURI(err) {
			log.Error().
				Err(err).
				Str("backend", primary.name).
				Str("uri", uri).
				Msg("Backend failed to delete dataset")

			return "", strictError(err, primary.name, "delete dataset")
		}
	}

	for i, ext := range r.extensions {
		name := fmt.Sprintf("extension %d (%T)", i, ext)
		bestEffort(name, uri, "delete dataset", func() error {
			return ext.DeleteDataset(ctx, uri)
		})
	}

	existed, err := r.db.DeleteDataset(ctx, uri)
	if err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("Failed to update dataset index")

		return "", wrapStoreError(err, "deleting dataset", uri)
	}

	log.Info().Str("uri", uri).Bool("existed", existed).Msg("Dataset deleted")

	return uri, nil
}

// strictError passes validation errors through unchanged and wraps the rest.
func strictError(err error, backend, operation string) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}

	return &BackendError{Backend: backend, Operation: operation, Inner: err}
}

// bestEffort runs fn and absorbs any error or panic it produces.
func bestEffort(backend, uri, operation string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("backend", backend).
				Str("uri", uri).
				Interface("panic", p).
				Msg("Extension panicked, ignoring")
		}
	}()

	if err := fn(); err != nil {
		log.Warn().
			Err(err).
			Str("backend", backend).
			Str("uri", uri).
			Str("operation", operation).
			Msg("Extension failed, ignoring")
	}
}
