package orm

import (
	"context"
	"dataset-registry/pagination"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatasetInput is the admin metadata written to the index by PutDataset.
type DatasetInput struct {
	BaseURI         string
	URI             string
	UUID            string
	Name            string
	CreatorUsername string
	FrozenAt        time.Time
	CreatedAt       time.Time
	NumberOfItems   *int64
	SizeInBytes     *int64
}

// NormalizeTime keeps stored timestamps comparable across dialects.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

var upsertByURI = clause.OnConflict{
	Columns: []clause.Column{{Name: "uri"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"base_uri_id", "uuid", "name", "creator_username",
		"frozen_at", "created_at", "number_of_items", "size_in_bytes",
	}),
}

// PutDataset inserts the row of in.URI or overwrites the existing one in
// place, so concurrent puts of one URI never race on the unique index. The
// base URI must already be registered.
func (db *DB) PutDataset(ctx context.Context, in DatasetInput) error {
	if in.URI == "" || in.UUID == "" {
		return &BadInputError{
			Reason: fmt.Sprintf("uri and uuid must be provided: uri=%q, uuid=%q", in.URI, in.UUID),
		}
	}

	details := fmt.Sprintf("uri=%q, base_uri=%q", in.URI, in.BaseURI)

	return db.dbGorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		obj, err := db.UseTransaction(tx).GetBaseURI(ctx, in.BaseURI)
		if err != nil {
			return err
		}

		createdAt := in.CreatedAt
		if createdAt.IsZero() {
			createdAt = in.FrozenAt
		}

		row := &Dataset{
			URI:             in.URI,
			BaseURIID:       obj.ID,
			UUID:            in.UUID,
			Name:            in.Name,
			CreatorUsername: in.CreatorUsername,
			FrozenAt:        NormalizeTime(in.FrozenAt),
			CreatedAt:       NormalizeTime(createdAt),
			NumberOfItems:   in.NumberOfItems,
			SizeInBytes:     in.SizeInBytes,
		}

		return storeError(
			gorm.G[Dataset](tx, upsertByURI).Create(ctx, row),
			KindDataset,
			"put dataset",
			details,
		)
	})
}

// DeleteDataset removes the row of uri and reports whether one existed.
func (db *DB) DeleteDataset(ctx context.Context, uri string) (bool, error) {
	var deleted int64
	err := db.dbGorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := gorm.G[Dataset](tx).Where("uri = ?", uri).Delete(ctx)
		deleted = int64(n)

		return err
	})
	if err != nil {
		return false, storeError(
			err,
			KindDataset,
			"delete dataset",
			fmt.Sprintf("uri=%q", uri),
		)
	}

	return deleted > 0, nil
}

func (db *DB) GetDataset(ctx context.Context, uri string) (*Dataset, error) {
	dataset, err := gorm.G[Dataset](db.dbGorm).
		Preload("Base", nil).
		Where("uri = ?", uri).
		First(ctx)
	if err != nil {
		return nil, storeError(
			err,
			KindDataset,
			"get dataset",
			fmt.Sprintf("uri=%q", uri),
		)
	}

	return &dataset, nil
}

func (db *DB) datasetsUnder(ctx context.Context, baseURIs []string) *gorm.DB {
	return db.dbGorm.WithContext(ctx).
		Model(&Dataset{}).
		Joins("JOIN base_uris ON base_uris.id = datasets.base_uri_id").
		Where("base_uris.base_uri IN ?", baseURIs)
}

// ListDatasets returns one page of the rows registered under baseURIs and
// the total number of such rows. An empty baseURIs never matches.
func (db *DB) ListDatasets(
	ctx context.Context,
	baseURIs []string,
	keys []pagination.Key,
	page pagination.Page,
) ([]Dataset, int64, error) {
	if len(baseURIs) == 0 {
		return []Dataset{}, 0, nil
	}

	details := fmt.Sprintf("base_uris=%v", baseURIs)

	var total int64
	if err := db.datasetsUnder(ctx, baseURIs).Count(&total).Error; err != nil {
		return nil, 0, storeError(err, KindDataset, "count datasets", details)
	}

	tx, err := pagination.Apply(
		db.datasetsUnder(ctx, baseURIs).Preload("Base"),
		pagination.WithTiebreak(keys, "uri"),
		datasetColumns,
		page,
	)
	if err != nil {
		return nil, 0, &BadInputError{Reason: err.Error()}
	}

	var datasets []Dataset
	if err := tx.Select("datasets.*").Find(&datasets).Error; err != nil {
		return nil, 0, storeError(err, KindDataset, "list datasets", details)
	}

	return datasets, total, nil
}

// DatasetURIsUnder returns every dataset URI registered under baseURI.
func (db *DB) DatasetURIsUnder(ctx context.Context, baseURI string) ([]string, error) {
	var uris []string
	err := db.datasetsUnder(ctx, []string{baseURI}).
		Order("datasets.uri").
		Pluck("datasets.uri", &uris).Error
	if err != nil {
		return nil, storeError(
			err,
			KindDataset,
			"list dataset URIs",
			fmt.Sprintf("base_uri=%q", baseURI),
		)
	}

	return uris, nil
}

// SummarizeDatasets aggregates the rows registered under baseURIs.
func (db *DB) SummarizeDatasets(ctx context.Context, baseURIs []string) (*DatasetSummary, error) {
	summary := &DatasetSummary{
		CreatorUsernames:   []string{},
		DatasetsPerCreator: map[string]int64{},
		DatasetsPerBaseURI: map[string]int64{},
	}
	if len(baseURIs) == 0 {
		return summary, nil
	}

	details := fmt.Sprintf("base_uris=%v", baseURIs)

	var rows []struct {
		BaseURI         string `gorm:"column:base_uri"`
		CreatorUsername string `gorm:"column:creator_username"`
		Count           int64  `gorm:"column:count"`
		Size            int64  `gorm:"column:size"`
	}
	err := db.datasetsUnder(ctx, baseURIs).
		Select(
			"base_uris.base_uri AS base_uri, datasets.creator_username AS creator_username, " +
				"COUNT(*) AS count, COALESCE(SUM(datasets.size_in_bytes), 0) AS size",
		).
		Group("base_uris.base_uri, datasets.creator_username").
		Scan(&rows).Error
	if err != nil {
		return nil, storeError(err, KindDataset, "summarize datasets", details)
	}

	for _, row := range rows {
		summary.NumberOfDatasets += row.Count
		summary.TotalSizeInBytes += row.Size
		summary.DatasetsPerCreator[row.CreatorUsername] += row.Count
		summary.DatasetsPerBaseURI[row.BaseURI] += row.Count
	}

	for creator := range summary.DatasetsPerCreator {
		summary.CreatorUsernames = append(summary.CreatorUsernames, creator)
	}
	slices.Sort(summary.CreatorUsernames)

	return summary, nil
}
