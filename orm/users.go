package orm

import (
	"context"
	"dataset-registry/pagination"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (db *DB) GetUser(ctx context.Context, username string) (*User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, &BadInputError{Reason: "username must not be empty"}
	}

	user, err := gorm.G[User](db.dbGorm).
		Where("username = ?", username).
		First(ctx)
	if err != nil {
		return nil, storeError(
			err,
			KindUser,
			"get user",
			fmt.Sprintf("username=%q", username),
		)
	}

	return &user, nil
}

func (db *DB) UserExists(ctx context.Context, username string) (bool, error) {
	_, err := db.GetUser(ctx, username)
	if err == nil {
		return true, nil
	}

	var badInput *BadInputError
	if IsNotFound(err, KindUser) || errors.As(err, &badInput) {
		return false, nil
	}

	return false, err
}

// CreateUser inserts a new user and fails with ConflictError if the
// username is taken.
func (db *DB) CreateUser(ctx context.Context, username string, isAdmin bool) error {
	if strings.TrimSpace(username) == "" {
		return &BadInputError{Reason: "username must not be empty"}
	}

	err := gorm.G[User](db.dbGorm).Create(ctx, &User{
		Username: username,
		IsAdmin:  isAdmin,
	})

	return storeError(
		err,
		KindUser,
		"create user",
		fmt.Sprintf("username=%q", username),
	)
}

// PutUser creates the user or updates its admin flag.
func (db *DB) PutUser(ctx context.Context, username string, isAdmin bool) error {
	if strings.TrimSpace(username) == "" {
		return &BadInputError{Reason: "username must not be empty"}
	}

	err := db.dbGorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_admin"}),
	}).Create(&User{Username: username, IsAdmin: isAdmin}).Error

	return storeError(
		err,
		KindUser,
		"put user",
		fmt.Sprintf("username=%q", username),
	)
}

// DeleteUser removes the user and every grant it holds. Deleting an absent
// user is a NotFoundError.
func (db *DB) DeleteUser(ctx context.Context, username string) error {
	return db.dbGorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbTx := db.UseTransaction(tx)
		user, err := dbTx.GetUser(ctx, username)
		if err != nil {
			return err
		}

		details := fmt.Sprintf("username=%q", username)
		if err := tx.Where("user_id = ?", user.ID).Delete(&SearchPermission{}).Error; err != nil {
			return storeError(err, KindUser, "delete search permissions", details)
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&RegisterPermission{}).Error; err != nil {
			return storeError(err, KindUser, "delete register permissions", details)
		}

		return storeError(
			tx.Delete(&User{}, user.ID).Error,
			KindUser,
			"delete user",
			details,
		)
	})
}

// ListUsers returns one page of users and the total number of users.
func (db *DB) ListUsers(
	ctx context.Context,
	keys []pagination.Key,
	page pagination.Page,
) ([]User, int64, error) {
	var total int64
	if err := db.dbGorm.WithContext(ctx).Model(&User{}).Count(&total).Error; err != nil {
		return nil, 0, storeError(err, KindUser, "count users", "")
	}

	tx, err := pagination.Apply(
		db.dbGorm.WithContext(ctx).Model(&User{}),
		pagination.WithTiebreak(keys, "username"),
		userColumns,
		page,
	)
	if err != nil {
		return nil, 0, &BadInputError{Reason: err.Error()}
	}

	var users []User
	if err := tx.Find(&users).Error; err != nil {
		return nil, 0, storeError(err, KindUser, "list users", "")
	}

	return users, total, nil
}
