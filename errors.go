package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the machine readable failure class reported to callers.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "InvalidCredentials"
	KindUnauthenticated    ErrorKind = "Unauthenticated"
	KindConflict           ErrorKind = "Conflict"
	KindBadRequest         ErrorKind = "BadRequest"
	KindNotFound           ErrorKind = "NotFound"
	KindForbidden          ErrorKind = "Forbidden"
	KindInternal           ErrorKind = "Internal"
)

const (
	TextCodeEmailTaken            = "EMAIL_TAKEN"
	TextCodePhoneTaken            = "PHONE_TAKEN"
	TextCodeRoleNameTaken         = "ROLE_NAME_TAKEN"
	TextCodePermissionNameTaken   = "PERMISSION_NAME_TAKEN"
	TextCodeVerificationNotFound  = "VERIFICATION_TOKEN_NOT_FOUND"
	TextCodeVerificationInvalid   = "VERIFICATION_TOKEN_INVALID"
	TextCodeEmailAlreadyVerified  = "EMAIL_ALREADY_VERIFIED"
	TextCodeUserNotFound          = "USER_NOT_FOUND"
	TextCodeRoleNotFound          = "ROLE_NOT_FOUND"
	TextCodePermissionNotFound    = "PERMISSION_NOT_FOUND"
	TextCodeSystemRoleProtected   = "SYSTEM_ROLE_PROTECTED"
	TextCodePermissionInUse       = "PERMISSION_IN_USE"
	TextCodeMalformedRoleName     = "MALFORMED_ROLE_NAME"
	TextCodeUnknownRole           = "UNKNOWN_ROLE"
	TextCodeEmptyRoleSet          = "EMPTY_ROLE_SET"
	TextCodeTokenInvalid          = "TOKEN_INVALID"
	TextCodeRefreshDenied         = "REFRESH_DENIED"
	TextCodeInsufficientPrivilege = "INSUFFICIENT_PRIVILEGE"
	TextCodeInternal              = "INTERNAL_ERROR"
	TextCodeBadRequest            = "BAD_REQUEST"
	TextCodeSelfDeletion          = "SELF_DELETION_DENIED"
)

// InvalidTokenReason distinguishes token validation failures in logs.
type InvalidTokenReason string

const (
	TokenMalformed    InvalidTokenReason = "malformed"
	TokenExpired      InvalidTokenReason = "expired"
	TokenUnsupported  InvalidTokenReason = "unsupported"
	TokenBadSignature InvalidTokenReason = "bad-signature"
)

// ErrInvalidCredentials never tells an unknown identifier from a wrong password
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeInvalidCredentials).
	WithCode(http.StatusUnauthorized)

// ErrInvalidToken is the single caller visible token validation failure
var ErrInvalidToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(http.StatusUnauthorized)

// ErrRefreshDenied is returned for any refresh token that cannot mint an access token
var ErrRefreshDenied = goerrors.New("refresh token rejected", goerrors.CategoryAuthz).
	WithTextCode(TextCodeRefreshDenied).
	WithCode(http.StatusForbidden)

var ErrInsufficientPrivilege = goerrors.New("insufficient privilege", goerrors.CategoryAuthz).
	WithTextCode(TextCodeInsufficientPrivilege).
	WithCode(http.StatusForbidden)

var ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(http.StatusConflict)

var ErrPhoneTaken = goerrors.New("phone is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodePhoneTaken).
	WithCode(http.StatusConflict)

var ErrRoleNameTaken = goerrors.New("role name already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeRoleNameTaken).
	WithCode(http.StatusConflict)

var ErrPermissionNameTaken = goerrors.New("permission name already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodePermissionNameTaken).
	WithCode(http.StatusConflict)

var ErrVerificationTokenNotFound = goerrors.New("verification token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeVerificationNotFound).
	WithCode(http.StatusNotFound)

var ErrVerificationTokenExpired = goerrors.New("verification token expired", goerrors.CategoryBadInput).
	WithTextCode(goerrors.TextCodeVerificationExpired).
	WithCode(http.StatusBadRequest)

// ErrInvalidVerificationToken is reported for unknown or already used verification tokens
var ErrInvalidVerificationToken = goerrors.New("invalid verification token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeVerificationInvalid).
	WithCode(http.StatusBadRequest)

var ErrEmailAlreadyVerified = goerrors.New("email is already verified", goerrors.CategoryBadInput).
	WithTextCode(TextCodeEmailAlreadyVerified).
	WithCode(http.StatusBadRequest)

var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(http.StatusNotFound)

var ErrRoleNotFound = goerrors.New("role not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRoleNotFound).
	WithCode(http.StatusNotFound)

var ErrPermissionNotFound = goerrors.New("permission not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodePermissionNotFound).
	WithCode(http.StatusNotFound)

var ErrSystemRoleProtected = goerrors.New("system roles cannot be deleted", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSystemRoleProtected).
	WithCode(http.StatusForbidden)

var ErrPermissionInUse = goerrors.New("permission is assigned to one or more roles", goerrors.CategoryBadInput).
	WithTextCode(TextCodePermissionInUse).
	WithCode(http.StatusBadRequest)

var ErrMalformedRoleName = goerrors.New("malformed role name", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMalformedRoleName).
	WithCode(http.StatusBadRequest)

var ErrUnknownRole = goerrors.New("unknown role", goerrors.CategoryBadInput).
	WithTextCode(TextCodeUnknownRole).
	WithCode(http.StatusBadRequest)

var ErrEmptyRoleSet = goerrors.New("at least one role is required", goerrors.CategoryBadInput).
	WithTextCode(TextCodeEmptyRoleSet).
	WithCode(http.StatusBadRequest)

var ErrSelfDeletion = goerrors.New("an account cannot delete itself", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSelfDeletion).
	WithCode(http.StatusForbidden)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(goerrors.TextCodeEmptyPassword).
	WithCode(http.StatusBadRequest)

// ErrMismatchedHashAndPassword is returned by the hasher on a wrong password
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeInvalidCredentials).
	WithCode(http.StatusUnauthorized)

// ErrImmutableClaimMutation is returned when a decorator changes identity claims
var ErrImmutableClaimMutation = goerrors.New("immutable claim mutated", goerrors.CategoryInternal).
	WithTextCode(goerrors.TextCodeImmutableClaim)

// withMeta returns a copy of base carrying metadata. Sentinels are shared and
// must never be mutated in place.
func withMeta(base *goerrors.Error, meta map[string]any) *goerrors.Error {
	return base.Clone().WithMetadata(meta)
}

// HasTextCode reports whether err carries the given text code. Wrapping a rich
// error clones it, so identity comparison with errors.Is does not hold.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// KindOf maps any error to the kind reported to callers.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return KindInternal
	}

	switch richErr.Category {
	case goerrors.CategoryAuth:
		if richErr.TextCode == goerrors.TextCodeInvalidCredentials {
			return KindInvalidCredentials
		}
		return KindUnauthenticated
	case goerrors.CategoryConflict:
		return KindConflict
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return KindBadRequest
	case goerrors.CategoryNotFound:
		return KindNotFound
	case goerrors.CategoryAuthz:
		return KindForbidden
	default:
		return KindInternal
	}
}

// StatusCode returns the HTTP status matching the error kind.
func StatusCode(kind ErrorKind) int {
	switch kind {
	case KindInvalidCredentials, KindUnauthenticated:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// PublicError returns the caller visible form of err: category, code, text
// code, message and field errors. Sources and metadata stay in the logs.
// Internal failures lose their message too.
func PublicError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	kind := KindOf(err)
	if kind == KindInternal {
		return goerrors.New("internal error", goerrors.CategoryInternal).
			WithTextCode(TextCodeInternal).
			WithCode(http.StatusInternalServerError)
	}

	var richErr *goerrors.Error
	goerrors.As(err, &richErr)

	public := goerrors.New(richErr.Message, richErr.Category).
		WithTextCode(richErr.TextCode).
		WithCode(richErr.Code)
	public.ValidationErrors = richErr.ValidationErrors
	public.Location = nil
	if public.Code == 0 {
		public.Code = StatusCode(kind)
	}
	if public.TextCode == "" {
		public.TextCode = goerrors.HTTPStatusToTextCode(public.Code)
	}

	return public
}

// TokenErrorReason returns the logged cause of a token validation failure.
func TokenErrorReason(err error) InvalidTokenReason {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return ""
	}
	if reason, ok := richErr.Metadata["reason"].(InvalidTokenReason); ok {
		return reason
	}
	return ""
}

// internalError hides cause behind an internal error whatever its category
func internalError(cause error, msg string) *goerrors.Error {
	out := goerrors.New(msg, goerrors.CategoryInternal).WithTextCode(TextCodeInternal)
	out.Source = cause
	return out
}
