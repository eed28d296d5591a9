package sqlSearch

import (
	"dataset-registry/pagination"
	"time"

	"gorm.io/datatypes"
)

// Entry is the searchable document of one dataset.
type Entry struct {
	URI             string `gorm:"column:uri;primaryKey;size:768"`
	BaseURI         string `gorm:"column:base_uri;size:512;index;not null"`
	UUID            string `gorm:"column:uuid;size:36;index;not null"`
	Name            string `gorm:"size:255;not null"`
	CreatorUsername string `gorm:"size:255;index;not null"`
	FrozenAt        time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime:false"`
	NumberOfItems   *int64
	SizeInBytes     *int64

	Readme      string
	Manifest    datatypes.JSONType[map[string]any]
	Annotations datatypes.JSON
}

func (Entry) TableName() string { return "search_entries" }

// Tag is one tag of an entry. Position keeps the registered order.
type Tag struct {
	URI      string `gorm:"column:uri;primaryKey;size:768"`
	Tag      string `gorm:"column:tag;primaryKey;size:255"`
	Position int    `gorm:"not null"`
}

func (Tag) TableName() string { return "search_tags" }

const entries = "search_entries"

var columns = map[string]pagination.Column{
	"uri":              {Table: entries, Name: "uri"},
	"base_uri":         {Table: entries, Name: "base_uri"},
	"uuid":             {Table: entries, Name: "uuid"},
	"name":             {Table: entries, Name: "name"},
	"creator_username": {Table: entries, Name: "creator_username"},
	"frozen_at":        {Table: entries, Name: "frozen_at"},
	"created_at":       {Table: entries, Name: "created_at"},
	"number_of_items":  {Table: entries, Name: "number_of_items", Nullable: true},
	"size_in_bytes":    {Table: entries, Name: "size_in_bytes", Nullable: true},
}

// filterColumns maps equality filter fields to columns.
var filterColumns = map[string]string{
	"creator_username": "creator_username",
	"base_uri":         "base_uri",
	"uuid":             "uuid",
}
