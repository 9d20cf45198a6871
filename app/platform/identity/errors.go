package identity

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")

	ErrTicketInvalid       = errors.New("login ticket invalid")
	ErrTicketExpired       = errors.New("login ticket expired")
	ErrMFAAttemptsExceeded = errors.New("too many MFA attempts")

	ErrFactorNotFound   = errors.New("factor not found")
	ErrChallengeInvalid = errors.New("challenge invalid")
	ErrChallengeExpired = errors.New("challenge expired")
	ErrCodeInvalid      = errors.New("invalid code")
	ErrCodeReplayed     = errors.New("code already used")

	ErrAccountCodeInvalid = errors.New("account code invalid or expired")
	ErrRefreshInvalid     = errors.New("refresh token invalid or expired")
)
