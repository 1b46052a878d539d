// Package provider defines the capability surface of the external payment
// services. The wire protocols live in separate client libraries registered
// at startup; everything here is the contract the core programs against.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider identifies an external payment service.
type Provider string

const (
	PayPay    Provider = "PAYPAY"
	PayPayWeb Provider = "PAYPAY_WEBAPI"
	Kyash     Provider = "KYASH"
)

// Parse converts a request string into a known Provider.
func Parse(s string) (Provider, error) {
	switch Provider(s) {
	case PayPay, PayPayWeb, Kyash:
		return Provider(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

var (
	// ErrAuthExpired means the session or token was rejected; the caller
	// should fall through to the next authentication tier.
	ErrAuthExpired = errors.New("provider session expired")
	// ErrOTPRequired means the provider demands a one-time code before the
	// login completes.
	ErrOTPRequired = errors.New("one-time code required")
	// ErrLoginFailed means the provider rejected the credentials outright.
	ErrLoginFailed = errors.New("provider login failed")
)

// Credentials is the decrypted material for one login attempt. It must not
// outlive the call stack that uses it.
type Credentials struct {
	Primary  string // phone number or email, provider-dependent
	Password string
	DeviceID string // second-factor identifiers; lets full logins skip OTP
	ClientID string
}

// TokenPair is the rotating short-lived session material.
type TokenPair struct {
	Access    string
	Refresh   string
	ExpiresAt time.Time
}

// Profile is the provider-side identity of a linked account.
type Profile struct {
	DisplayName string
	ExternalID  string // provider account id usable as a send target
}

// Balance is a provider balance breakdown in the smallest currency unit.
type Balance struct {
	Total      int64
	Money      int64
	MoneyLight int64 // promotional or restricted balance, zero where unsupported
}

// Spendable is the portion usable for transfers.
func (b Balance) Spendable() int64 {
	return b.Money + b.MoneyLight
}

// LinkInfo describes a claimable transfer link.
type LinkInfo struct {
	URL    string
	ID     string
	Amount int64
}

// LoginResult carries the artifacts of a completed login. DeviceID and
// ClientID are the second-factor identifiers minted during a fresh login;
// storing them lets later full logins skip the OTP step.
type LoginResult struct {
	Tokens   TokenPair
	Profile  Profile
	DeviceID string
	ClientID string
}

// Client is an authenticated handle to one provider account. A Client is
// stateful: Login/LoginWithToken/RefreshToken bind it to an account and the
// remaining calls operate on that account.
type Client interface {
	// Login performs a full credential login. Returns ErrOTPRequired when the
	// provider sends a one-time code out of band; complete with SubmitOTP.
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)
	// SubmitOTP finishes a login that returned ErrOTPRequired.
	SubmitOTP(ctx context.Context, code string) (*LoginResult, error)
	// LoginWithToken resumes a session from a stored access token.
	// Returns ErrAuthExpired if the token is no longer accepted.
	LoginWithToken(ctx context.Context, accessToken string) error
	// RefreshToken exchanges a refresh token for fresh session material,
	// leaving the client authenticated on success.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)

	GetBalance(ctx context.Context) (*Balance, error)
	GetProfile(ctx context.Context) (*Profile, error)

	// SendMoney pushes funds directly to another account by external id.
	SendMoney(ctx context.Context, amount int64, externalID string) error
	// CreateLink creates a claimable transfer link for amount.
	CreateLink(ctx context.Context, amount int64, message string) (*LinkInfo, error)
	// CheckLink resolves a link without claiming it.
	CheckLink(ctx context.Context, url string) (*LinkInfo, error)
	// ReceiveLink claims a link. passcode may be empty.
	ReceiveLink(ctx context.Context, url, passcode string) error
	// CancelLink voids a link this account created.
	CancelLink(ctx context.Context, url string) error
}

// Factory builds unauthenticated clients. proxy, when non-empty, must be
// applied to every call the client makes so provider risk signals stay
// consistent across authentication tiers.
type Factory interface {
	New(p Provider, proxy string) (Client, error)
}
