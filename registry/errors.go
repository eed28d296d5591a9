package registry

import (
	"dataset-registry/orm"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceError represents public-facing errors that have no dedicated type
type ServiceError struct {
	Code    codes.Code
	Message string
	Inner   error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Inner
}

func (e *ServiceError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// ValidationError lists every problem found in a malformed input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

func newValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// AuthenticationError is returned when the requesting identity is unknown.
type AuthenticationError struct {
	Username string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("unknown user %q", e.Username)
}

func (e *AuthenticationError) GRPCStatus() *status.Status {
	return status.New(codes.Unauthenticated, "authentication required")
}

// AuthorizationError is returned when a known user lacks a capability.
type AuthorizationError struct {
	Username string
	Action   string
	Resource string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q may not %s %s", e.Username, e.Action, e.Resource)
}

func (e *AuthorizationError) GRPCStatus() *status.Status {
	return status.New(codes.PermissionDenied, e.Error())
}

type UnknownBaseURIError struct {
	BaseURI string
}

func (e *UnknownBaseURIError) Error() string {
	return fmt.Sprintf("unknown base URI %q", e.BaseURI)
}

func (e *UnknownBaseURIError) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, e.Error())
}

type UnknownURIError struct {
	URI string
}

func (e *UnknownURIError) Error() string {
	return fmt.Sprintf("unknown dataset URI %q", e.URI)
}

func (e *UnknownURIError) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, e.Error())
}

type UnknownUserError struct {
	Username string
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("user %q not found", e.Username)
}

func (e *UnknownUserError) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, e.Error())
}

// BackendError wraps a non-validation failure of a search, retrieve or
// extension backend.
type BackendError struct {
	Backend   string
	Operation string
	Inner     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend failed to %s: %v", e.Backend, e.Operation, e.Inner)
}

func (e *BackendError) Unwrap() error {
	return e.Inner
}

func (e *BackendError) GRPCStatus() *status.Status {
	return status.New(codes.Internal, fmt.Sprintf("%s backend failed to %s", e.Backend, e.Operation))
}

// IsUnknownURI reports whether err says a dataset URI is absent.
func IsUnknownURI(err error) bool {
	var unknown *UnknownURIError

	return errors.As(err, &unknown)
}

// notFound is the answer of admin-only operations to non-admin callers.
func notFound(resource string) error {
	return &ServiceError{
		Code:    codes.NotFound,
		Message: resource + " not found",
	}
}

// wrapStoreError converts store errors to user-friendly service errors.
// subject names the user, base URI or dataset URI the operation was about.
func wrapStoreError(err error, operation, subject string) error {
	if err == nil {
		return nil
	}

	var notFoundErr *orm.NotFoundError
	if errors.As(err, &notFoundErr) {
		switch notFoundErr.Kind {
		case orm.KindUser:
			return &UnknownUserError{Username: subject}
		case orm.KindBaseURI:
			return &UnknownBaseURIError{BaseURI: subject}
		default:
			return &UnknownURIError{URI: subject}
		}
	}

	var conflictErr *orm.ConflictError
	if errors.As(err, &conflictErr) {
		return &ServiceError{
			Code:    codes.AlreadyExists,
			Message: "Already exists for " + operation,
			Inner:   err,
		}
	}

	var badInputErr *orm.BadInputError
	if errors.As(err, &badInputErr) {
		return newValidationError(badInputErr.Reason)
	}

	return &ServiceError{
		Code:    codes.Internal,
		Message: "Internal server error during " + operation,
		Inner:   err,
	}
}
