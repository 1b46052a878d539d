package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/provider"
	"github.com/punchamoorthee/paybridge/internal/store"
)

// CredentialStore is the persistence surface the account subsystem needs.
// *store.Store satisfies it.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string, p provider.Provider) (*domain.CredentialRecord, error)
	UpsertCredential(ctx context.Context, rec *domain.CredentialRecord) error
	UpdateTokens(ctx context.Context, userID string, p provider.Provider, encAccess, encRefresh string, expiry time.Time) error
	UpdateProxy(ctx context.Context, userID string, p provider.Provider, proxy string) error
	DeleteCredential(ctx context.Context, userID string, p provider.Provider) error
}

// Cipher is the vault surface used to open and seal stored secrets.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(sealed string) (string, error)
}

// Engine produces live authenticated provider clients by walking a strict
// fallback ladder: stored access token, then refresh exchange, then full
// credential login. Each tier runs at most once per call, every tier uses a
// fresh client routed through the account's proxy, and decrypted secrets
// never leave the attempt that used them.
type Engine struct {
	creds   CredentialStore
	cipher  Cipher
	factory provider.Factory
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewEngine(creds CredentialStore, cipher Cipher, factory provider.Factory, timeout time.Duration, log *slog.Logger) *Engine {
	return &Engine{creds: creds, cipher: cipher, factory: factory, timeout: timeout, log: log, now: time.Now}
}

// callCtx bounds one provider call. The callers of Authenticate often carry
// no deadline of their own, and a hung provider login must not stall them.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout())
}

func (e *Engine) callTimeout() time.Duration {
	if e.timeout > 0 {
		return e.timeout
	}
	return 30 * time.Second
}

// Authenticate returns a live client for (userID, p), or ErrNotLinked when no
// credential record exists, or ErrLoginFailed when every tier failed.
func (e *Engine) Authenticate(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
	rec, err := e.creds.GetCredential(ctx, userID, p)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s provider %s", ErrNotLinked, userID, p)
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	// Tier 1: resume with the stored access token if it has not expired.
	if rec.EncAccessToken != "" && (rec.TokenExpiry.IsZero() || e.now().Before(rec.TokenExpiry)) {
		client, err := e.resumeToken(ctx, rec)
		if err == nil {
			return client, nil
		}
		e.log.Debug("token resume failed", "user", userID, "provider", p, "err", err)
	}

	// Tier 2: exchange the refresh token and persist the rotated pair.
	if rec.EncRefreshToken != "" {
		client, err := e.refreshLogin(ctx, rec)
		if err == nil {
			return client, nil
		}
		e.log.Debug("token refresh failed", "user", userID, "provider", p, "err", err)
	}

	// Tier 3: full credential login, only when the second-factor identifiers
	// are on record so the provider does not demand an interactive OTP.
	if rec.HasLoginSecrets() {
		client, err := e.fullLogin(ctx, rec)
		if err == nil {
			return client, nil
		}
		e.log.Warn("full login failed", "user", userID, "provider", p, "err", err)
	}

	return nil, fmt.Errorf("%w: user %s provider %s", ErrLoginFailed, userID, p)
}

func (e *Engine) resumeToken(ctx context.Context, rec *domain.CredentialRecord) (provider.Client, error) {
	token, err := e.cipher.Decrypt(rec.EncAccessToken)
	if err != nil {
		// Undecryptable token (rotated vault key) is just an unusable
		// credential; the next tier takes over.
		return nil, fmt.Errorf("open access token: %w", err)
	}
	client, err := e.factory.New(rec.Provider, rec.Proxy)
	if err != nil {
		return nil, err
	}
	cctx, cancel := e.callCtx(ctx)
	err = client.LoginWithToken(cctx, token)
	cancel()
	if err != nil {
		return nil, err
	}
	cctx, cancel = e.callCtx(ctx)
	_, err = client.GetBalance(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("session validation: %w", err)
	}
	return client, nil
}

func (e *Engine) refreshLogin(ctx context.Context, rec *domain.CredentialRecord) (provider.Client, error) {
	refresh, err := e.cipher.Decrypt(rec.EncRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	client, err := e.factory.New(rec.Provider, rec.Proxy)
	if err != nil {
		return nil, err
	}
	cctx, cancel := e.callCtx(ctx)
	tokens, err := client.RefreshToken(cctx, refresh)
	cancel()
	if err != nil {
		return nil, err
	}
	e.persistTokens(ctx, rec, *tokens)
	// One validation retry with the fresh token, as the ladder allows.
	cctx, cancel = e.callCtx(ctx)
	_, err = client.GetBalance(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("session validation: %w", err)
	}
	return client, nil
}

func (e *Engine) fullLogin(ctx context.Context, rec *domain.CredentialRecord) (provider.Client, error) {
	primary, err := e.cipher.Decrypt(rec.EncPrimary)
	if err != nil {
		return nil, fmt.Errorf("open primary credential: %w", err)
	}
	password, err := e.cipher.Decrypt(rec.EncPassword)
	if err != nil {
		return nil, fmt.Errorf("open password: %w", err)
	}
	client, err := e.factory.New(rec.Provider, rec.Proxy)
	if err != nil {
		return nil, err
	}
	cctx, cancel := e.callCtx(ctx)
	res, err := client.Login(cctx, provider.Credentials{
		Primary:  primary,
		Password: password,
		DeviceID: rec.DeviceID,
		ClientID: rec.ClientID,
	})
	cancel()
	if err != nil {
		return nil, err
	}
	e.persistTokens(ctx, rec, res.Tokens)
	return client, nil
}

// persistTokens seals and stores rotated session material. A persistence
// failure does not fail the login: the session is live, and the next process
// start walks the ladder again.
func (e *Engine) persistTokens(ctx context.Context, rec *domain.CredentialRecord, tokens provider.TokenPair) {
	encAccess, err := e.cipher.Encrypt(tokens.Access)
	if err != nil {
		e.log.Warn("seal access token", "user", rec.UserID, "provider", rec.Provider, "err", err)
		return
	}
	encRefresh, err := e.cipher.Encrypt(tokens.Refresh)
	if err != nil {
		e.log.Warn("seal refresh token", "user", rec.UserID, "provider", rec.Provider, "err", err)
		return
	}
	if err := e.creds.UpdateTokens(ctx, rec.UserID, rec.Provider, encAccess, encRefresh, tokens.ExpiresAt); err != nil {
		e.log.Warn("persist rotated tokens", "user", rec.UserID, "provider", rec.Provider, "err", err)
	}
}
