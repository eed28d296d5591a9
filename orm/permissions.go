package orm

import (
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Relation selects one of the two permission relations.
type Relation int

const (
	Search Relation = iota
	Register
)

func (r Relation) String() string {
	if r == Register {
		return "register"
	}

	return "search"
}

func (r Relation) table() string {
	if r == Register {
		return "register_permissions"
	}

	return "search_permissions"
}

func (r Relation) model() any {
	if r == Register {
		return &RegisterPermission{}
	}

	return &SearchPermission{}
}

func (r Relation) row(userID, baseURIID uint) any {
	if r == Register {
		return &RegisterPermission{UserID: userID, BaseURIID: baseURIID}
	}

	return &SearchPermission{UserID: userID, BaseURIID: baseURIID}
}

// PermissionInfo lists the users holding each relation on one base URI.
type PermissionInfo struct {
	BaseURI       string   `json:"base_uri"`
	SearchUsers   []string `json:"users_with_search_permissions"`
	RegisterUsers []string `json:"users_with_register_permissions"`
}

// Grant adds username to the relation on baseURI. The base URI is created
// if it is not registered yet. Granting twice is a no-op.
func (db *DB) Grant(ctx context.Context, rel Relation, username, baseURI string) error {
	return db.dbGorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbTx := db.UseTransaction(tx)
		user, err := dbTx.GetUser(ctx, username)
		if err != nil {
			return err
		}

		obj, err := dbTx.ensureBaseURI(ctx, baseURI)
		if err != nil {
			return err
		}

		return dbTx.grant(ctx, rel, user.ID, obj.ID, username, baseURI)
	})
}

func (db *DB) GrantSearch(ctx context.Context, username, baseURI string) error {
	return db.Grant(ctx, Search, username, baseURI)
}

func (db *DB) GrantRegister(ctx context.Context, username, baseURI string) error {
	return db.Grant(ctx, Register, username, baseURI)
}

func (db *DB) grant(
	ctx context.Context,
	rel Relation,
	userID, baseURIID uint,
	username, baseURI string,
) error {
	err := db.dbGorm.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rel.row(userID, baseURIID)).Error

	return storeError(
		err,
		KindBaseURI,
		"grant "+rel.String()+" permission",
		fmt.Sprintf("username=%q, base_uri=%q", username, baseURI),
	)
}

// Revoke removes username from the relation on baseURI. Revoking an absent
// grant is a no-op.
func (db *DB) Revoke(ctx context.Context, rel Relation, username, baseURI string) error {
	details := fmt.Sprintf("username=%q, base_uri=%q", username, baseURI)
	err := db.dbGorm.WithContext(ctx).
		Where(
			"user_id IN (?) AND base_uri_id IN (?)",
			db.dbGorm.Model(&User{}).Select("id").Where("username = ?", username),
			db.dbGorm.Model(&BaseURI{}).Select("id").Where("base_uri = ?", baseURI),
		).
		Delete(rel.model()).Error

	return storeError(err, KindBaseURI, "revoke "+rel.String()+" permission", details)
}

// SetPermissions replaces both relations on baseURI in one transaction.
// Every listed user must exist; the base URI is created if absent.
func (db *DB) SetPermissions(ctx context.Context, info PermissionInfo) error {
	return db.dbGorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbTx := db.UseTransaction(tx)
		obj, err := dbTx.ensureBaseURI(ctx, info.BaseURI)
		if err != nil {
			return err
		}

		for _, set := range []struct {
			rel   Relation
			users []string
		}{
			{Search, info.SearchUsers},
			{Register, info.RegisterUsers},
		} {
			err := tx.Where("base_uri_id = ?", obj.ID).Delete(set.rel.model()).Error
			if err != nil {
				return storeError(
					err,
					KindBaseURI,
					"clear "+set.rel.String()+" permissions",
					fmt.Sprintf("base_uri=%q", info.BaseURI),
				)
			}

			for _, username := range set.users {
				user, err := dbTx.GetUser(ctx, username)
				if err != nil {
					return err
				}

				err = dbTx.grant(ctx, set.rel, user.ID, obj.ID, username, info.BaseURI)
				if err != nil {
					return err
				}
			}
		}

		return nil
	})
}

// GetPermissionInfo returns the sorted usernames of both relations on a
// registered base URI.
func (db *DB) GetPermissionInfo(ctx context.Context, baseURI string) (*PermissionInfo, error) {
	obj, err := db.GetBaseURI(ctx, baseURI)
	if err != nil {
		return nil, err
	}

	info := &PermissionInfo{BaseURI: obj.BaseURI}
	for _, rel := range []Relation{Search, Register} {
		var usernames []string
		err := db.dbGorm.WithContext(ctx).
			Table("users").
			Joins(fmt.Sprintf("JOIN %[1]s ON %[1]s.user_id = users.id", rel.table())).
			Where(rel.table()+".base_uri_id = ?", obj.ID).
			Order("users.username").
			Pluck("users.username", &usernames).Error
		if err != nil {
			return nil, storeError(
				err,
				KindBaseURI,
				"list "+rel.String()+" users",
				fmt.Sprintf("base_uri=%q", baseURI),
			)
		}

		if usernames == nil {
			usernames = []string{}
		}
		if rel == Register {
			info.RegisterUsers = usernames
		} else {
			info.SearchUsers = usernames
		}
	}

	return info, nil
}

// HasPermission reports whether username holds rel on baseURI. Unknown
// users and unregistered base URIs yield false.
func (db *DB) HasPermission(
	ctx context.Context,
	rel Relation,
	username, baseURI string,
) (bool, error) {
	var count int64
	err := db.dbGorm.WithContext(ctx).
		Table(rel.table()).
		Joins(fmt.Sprintf("JOIN users ON users.id = %s.user_id", rel.table())).
		Joins(fmt.Sprintf("JOIN base_uris ON base_uris.id = %s.base_uri_id", rel.table())).
		Where("users.username = ? AND base_uris.base_uri = ?", username, baseURI).
		Count(&count).Error
	if err != nil {
		return false, storeError(
			err,
			KindBaseURI,
			"check "+rel.String()+" permission",
			fmt.Sprintf("username=%q, base_uri=%q", username, baseURI),
		)
	}

	return count > 0, nil
}

// ListPermittedBaseURIs returns the sorted base URIs on which username holds
// rel. Unknown users get an empty list.
func (db *DB) ListPermittedBaseURIs(
	ctx context.Context,
	rel Relation,
	username string,
) ([]string, error) {
	var baseURIs []string
	err := db.dbGorm.WithContext(ctx).
		Table("base_uris").
		Joins(fmt.Sprintf("JOIN %[1]s ON %[1]s.base_uri_id = base_uris.id", rel.table())).
		Joins(fmt.Sprintf("JOIN users ON users.id = %s.user_id", rel.table())).
		Where("users.username = ?", username).
		Order("base_uris.base_uri").
		Pluck("base_uris.base_uri", &baseURIs).Error
	if err != nil {
		return nil, storeError(
			err,
			KindBaseURI,
			"list "+rel.String()+" base URIs",
			fmt.Sprintf("username=%q", username),
		)
	}

	if baseURIs == nil {
		return []string{}, nil
	}

	return slices.Compact(baseURIs), nil
}
