package orm

import (
	"context"
	"dataset-registry/pagination"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ValidateBaseURI rejects empty base URIs and base URIs with a trailing
// slash.
func ValidateBaseURI(baseURI string) error {
	if strings.TrimSpace(baseURI) == "" {
		return &BadInputError{Reason: "base URI must not be empty"}
	}
	if strings.HasSuffix(baseURI, "/") {
		return &BadInputError{
			Reason: fmt.Sprintf("base URI %q must not end with a slash", baseURI),
		}
	}

	return nil
}

func (db *DB) GetBaseURI(ctx context.Context, baseURI string) (*BaseURI, error) {
	if err := ValidateBaseURI(baseURI); err != nil {
		return nil, err
	}

	obj, err := gorm.G[BaseURI](db.dbGorm).
		Where("base_uri = ?", baseURI).
		First(ctx)
	if err != nil {
		return nil, storeError(
			err,
			KindBaseURI,
			"get base URI",
			fmt.Sprintf("base_uri=%q", baseURI),
		)
	}

	return &obj, nil
}

func (db *DB) BaseURIExists(ctx context.Context, baseURI string) (bool, error) {
	if ValidateBaseURI(baseURI) != nil {
		return false, nil
	}

	count, err := gorm.G[BaseURI](db.dbGorm).
		Where("base_uri = ?", baseURI).
		Count(ctx, "*")
	if err != nil {
		return false, storeError(
			err,
			KindBaseURI,
			"check base URI exists",
			fmt.Sprintf("base_uri=%q", baseURI),
		)
	}

	return count > 0, nil
}

// CreateBaseURI registers a storage location. Registering an existing base
// URI is a ConflictError.
func (db *DB) CreateBaseURI(ctx context.Context, baseURI string) error {
	if err := ValidateBaseURI(baseURI); err != nil {
		return err
	}

	return storeError(
		gorm.G[BaseURI](db.dbGorm).Create(ctx, &BaseURI{BaseURI: baseURI}),
		KindBaseURI,
		"create base URI",
		fmt.Sprintf("base_uri=%q", baseURI),
	)
}

// ensureBaseURI returns the base URI row, creating it if absent.
func (db *DB) ensureBaseURI(ctx context.Context, baseURI string) (*BaseURI, error) {
	if err := ValidateBaseURI(baseURI); err != nil {
		return nil, err
	}

	err := db.dbGorm.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&BaseURI{BaseURI: baseURI}).Error
	if err != nil {
		return nil, storeError(
			err,
			KindBaseURI,
			"ensure base URI",
			fmt.Sprintf("base_uri=%q", baseURI),
		)
	}

	return db.GetBaseURI(ctx, baseURI)
}

// DeleteBaseURI removes the base URI, its permission grants and every
// dataset row registered under it.
func (db *DB) DeleteBaseURI(ctx context.Context, baseURI string) error {
	return db.dbGorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		obj, err := db.UseTransaction(tx).GetBaseURI(ctx, baseURI)
		if err != nil {
			return err
		}

		details := fmt.Sprintf("base_uri=%q", baseURI)
		steps := []struct {
			operation string
			model     any
		}{
			{"delete search permissions", &SearchPermission{}},
			{"delete register permissions", &RegisterPermission{}},
			{"delete datasets", &Dataset{}},
		}
		for _, step := range steps {
			err := tx.Where("base_uri_id = ?", obj.ID).Delete(step.model).Error
			if err != nil {
				return storeError(err, KindBaseURI, step.operation, details)
			}
		}

		return storeError(
			tx.Delete(&BaseURI{}, obj.ID).Error,
			KindBaseURI,
			"delete base URI",
			details,
		)
	})
}

// ListBaseURIs returns one page of base URIs and the total count.
func (db *DB) ListBaseURIs(
	ctx context.Context,
	keys []pagination.Key,
	page pagination.Page,
) ([]BaseURI, int64, error) {
	var total int64
	if err := db.dbGorm.WithContext(ctx).Model(&BaseURI{}).Count(&total).Error; err != nil {
		return nil, 0, storeError(err, KindBaseURI, "count base URIs", "")
	}

	tx, err := pagination.Apply(
		db.dbGorm.WithContext(ctx).Model(&BaseURI{}),
		pagination.WithTiebreak(keys, "base_uri"),
		baseURIColumns,
		page,
	)
	if err != nil {
		return nil, 0, &BadInputError{Reason: err.Error()}
	}

	var baseURIs []BaseURI
	if err := tx.Find(&baseURIs).Error; err != nil {
		return nil, 0, storeError(err, KindBaseURI, "list base URIs", "")
	}

	return baseURIs, total, nil
}
