package orm

import (
	"dataset-registry/pagination"
	"time"
)

const (
	KindUser    = "user"
	KindBaseURI = "base URI"
	KindDataset = "dataset"
)

type User struct {
	ID       uint   `gorm:"primaryKey"                          json:"-"`
	Username string `gorm:"uniqueIndex;size:255;not null"       json:"username"`
	IsAdmin  bool   `gorm:"not null;default:false"              json:"is_admin"`
}

type BaseURI struct {
	ID      uint   `gorm:"primaryKey"                                     json:"-"`
	BaseURI string `gorm:"column:base_uri;uniqueIndex;size:512;not null" json:"base_uri"`
}

// SearchPermission is one grant of the search relation. The composite
// primary key makes a second identical grant a no-op.
type SearchPermission struct {
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	BaseURIID uint `gorm:"primaryKey;autoIncrement:false;column:base_uri_id"`

	User    *User    `gorm:"constraint:OnDelete:CASCADE"`
	BaseURI *BaseURI `gorm:"foreignKey:BaseURIID;constraint:OnDelete:CASCADE"`
}

// RegisterPermission is one grant of the register relation.
type RegisterPermission struct {
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	BaseURIID uint `gorm:"primaryKey;autoIncrement:false;column:base_uri_id"`

	User    *User    `gorm:"constraint:OnDelete:CASCADE"`
	BaseURI *BaseURI `gorm:"foreignKey:BaseURIID;constraint:OnDelete:CASCADE"`
}

// Dataset is the admin metadata row of one dataset URI.
type Dataset struct {
	ID        uint     `gorm:"primaryKey"`
	URI       string   `gorm:"column:uri;uniqueIndex;size:768;not null"`
	BaseURIID uint     `gorm:"column:base_uri_id;index;not null"`
	Base      *BaseURI `gorm:"foreignKey:BaseURIID;constraint:OnDelete:CASCADE"`

	UUID            string    `gorm:"column:uuid;size:36;index;not null"`
	Name            string    `gorm:"size:255;not null"`
	CreatorUsername string    `gorm:"size:255;index;not null"`
	FrozenAt        time.Time `gorm:"not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime:false;not null"`
	NumberOfItems   *int64
	SizeInBytes     *int64
}

// BaseURIString returns the owning base URI when Base was loaded.
func (d *Dataset) BaseURIString() string {
	if d.Base == nil {
		return ""
	}

	return d.Base.BaseURI
}

// DatasetSummary aggregates the index rows visible under a set of base URIs.
type DatasetSummary struct {
	NumberOfDatasets   int64            `json:"number_of_datasets"`
	CreatorUsernames   []string         `json:"creator_usernames"`
	DatasetsPerCreator map[string]int64 `json:"datasets_per_creator"`
	DatasetsPerBaseURI map[string]int64 `json:"datasets_per_base_uri"`
	TotalSizeInBytes   int64            `json:"total_size_in_bytes"`
}

var (
	datasetColumns = map[string]pagination.Column{
		"uri":              {Table: "datasets", Name: "uri"},
		"base_uri":         {Table: "base_uris", Name: "base_uri"},
		"uuid":             {Table: "datasets", Name: "uuid"},
		"name":             {Table: "datasets", Name: "name"},
		"creator_username": {Table: "datasets", Name: "creator_username"},
		"frozen_at":        {Table: "datasets", Name: "frozen_at"},
		"created_at":       {Table: "datasets", Name: "created_at"},
		"number_of_items":  {Table: "datasets", Name: "number_of_items", Nullable: true},
		"size_in_bytes":    {Table: "datasets", Name: "size_in_bytes", Nullable: true},
	}
	userColumns = map[string]pagination.Column{
		"username": {Table: "users", Name: "username"},
		"is_admin": {Table: "users", Name: "is_admin"},
	}
	baseURIColumns = map[string]pagination.Column{
		"base_uri": {Table: "base_uris", Name: "base_uri"},
	}
)

// DatasetSortFields is the sort allow-list for dataset listings.
func DatasetSortFields() []string { return pagination.Fields(datasetColumns) }

// UserSortFields is the sort allow-list for user listings.
func UserSortFields() []string { return pagination.Fields(userColumns) }

// BaseURISortFields is the sort allow-list for base URI listings.
func BaseURISortFields() []string { return pagination.Fields(baseURIColumns) }
