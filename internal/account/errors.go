package account

import "errors"

var (
	// ErrNotLinked means no credential record exists for (user, provider).
	ErrNotLinked = errors.New("account not linked")
	// ErrLoginFailed means every authentication tier was exhausted.
	ErrLoginFailed = errors.New("login failed")
	// ErrOTPRequired means the provider wants a one-time code; the caller
	// must collect it and call SubmitOTP within the link window.
	ErrOTPRequired = errors.New("one-time code required")
	// ErrOTPTimeout means the one-time code did not arrive in time; the link
	// attempt is abandoned and nothing was persisted.
	ErrOTPTimeout = errors.New("one-time code window expired")
	// ErrNoPendingLink means SubmitOTP was called without a link in progress.
	ErrNoPendingLink = errors.New("no link attempt pending")
	// ErrInvalidProxy means the proxy URL scheme is not http or https.
	ErrInvalidProxy = errors.New("invalid proxy url")
)
