package orm

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DatabaseError is any failure of the database itself: connection loss, a
// failed statement or a migration error.
type DatabaseError struct {
	Operation string
	Inner     error
}

func (e *DatabaseError) Error() string {
	if e.Operation == "" {
		return "index store: " + e.Inner.Error()
	}

	return fmt.Sprintf("index store failed to %s: %v", e.Operation, e.Inner)
}

func (e *DatabaseError) Unwrap() error {
	return e.Inner
}

// NotFoundError reports a user, base URI or dataset that is not registered.
// Kind is one of KindUser, KindBaseURI and KindDataset.
type NotFoundError struct {
	Kind    string
	Subject string
}

func (e *NotFoundError) Error() string {
	if e.Subject == "" {
		return e.Kind + " is not registered"
	}

	return fmt.Sprintf("%s is not registered: %s", e.Kind, e.Subject)
}

// ConflictError reports a second registration of a unique user or base URI.
type ConflictError struct {
	Kind    string
	Subject string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is already registered: %s", e.Kind, e.Subject)
}

type BadInputError struct {
	Reason string
}

func (e *BadInputError) Error() string {
	return "invalid store input: " + e.Reason
}

// IsNotFound reports whether err is a NotFoundError of the given kind. An
// empty kind matches any NotFoundError.
func IsNotFound(err error, kind string) bool {
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return false
	}

	return kind == "" || nf.Kind == kind
}

// storeError classifies a gorm error for the given kind of row. subject
// identifies the row, e.g. `username="grumpy"`.
func storeError(err error, kind, operation, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &NotFoundError{Kind: kind, Subject: subject}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &ConflictError{Kind: kind, Subject: subject}
	default:
		return &DatabaseError{Operation: operation, Inner: err}
	}
}
