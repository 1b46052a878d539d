package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/provider"
	"github.com/punchamoorthee/paybridge/internal/store"
)

// Sessions is the cache surface the linker needs; *SessionCache satisfies it.
type Sessions interface {
	Get(ctx context.Context, userID string, p provider.Provider) (provider.Client, error)
	Put(userID string, p provider.Provider, client provider.Client)
	Evict(userID string, p provider.Provider)
}

// Linker owns the account boundary: initial linking (with the OTP window),
// status checks, proxy updates and explicit unlinking.
type Linker struct {
	creds     CredentialStore
	cipher    Cipher
	factory   provider.Factory
	sessions  Sessions
	otpWindow time.Duration
	timeout   time.Duration
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingLink
}

// pendingLink is a login waiting on its one-time code. The decrypted-at-entry
// credentials are held only until the window closes or the code arrives.
type pendingLink struct {
	client   provider.Client
	primary  string
	password string
	proxy    string
	deadline time.Time
}

func NewLinker(creds CredentialStore, cipher Cipher, factory provider.Factory, sessions Sessions, otpWindow, timeout time.Duration, log *slog.Logger) *Linker {
	return &Linker{
		creds:     creds,
		cipher:    cipher,
		factory:   factory,
		sessions:  sessions,
		otpWindow: otpWindow,
		timeout:   timeout,
		log:       log,
		now:       time.Now,
		pending:   make(map[string]*pendingLink),
	}
}

func (l *Linker) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := l.timeout
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Link performs the initial full login for (userID, p). When the provider
// demands a one-time code it returns ErrOTPRequired and parks the attempt;
// SubmitOTP must complete it before the window closes. Nothing is persisted
// until the login fully succeeds.
func (l *Linker) Link(ctx context.Context, userID string, p provider.Provider, primary, password, proxy string) error {
	if err := validateProxy(proxy); err != nil {
		return err
	}

	client, err := l.factory.New(p, proxy)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}

	cctx, cancel := l.callCtx(ctx)
	res, err := client.Login(cctx, provider.Credentials{Primary: primary, Password: password})
	cancel()
	if err != nil {
		if errors.Is(err, provider.ErrOTPRequired) {
			l.mu.Lock()
			l.sweepExpired()
			l.pending[sessionKey(userID, p)] = &pendingLink{
				client:   client,
				primary:  primary,
				password: password,
				proxy:    proxy,
				deadline: l.now().Add(l.otpWindow),
			}
			l.mu.Unlock()
			return ErrOTPRequired
		}
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	return l.persistLink(ctx, userID, p, client, primary, password, proxy, res)
}

// SubmitOTP completes a pending link with the code the user received. An
// expired window abandons the attempt without persisting anything.
func (l *Linker) SubmitOTP(ctx context.Context, userID string, p provider.Provider, code string) error {
	key := sessionKey(userID, p)

	l.mu.Lock()
	pl, ok := l.pending[key]
	if ok {
		delete(l.pending, key)
	}
	l.mu.Unlock()

	if !ok {
		return ErrNoPendingLink
	}
	if l.now().After(pl.deadline) {
		return ErrOTPTimeout
	}

	cctx, cancel := l.callCtx(ctx)
	res, err := pl.client.SubmitOTP(cctx, code)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	return l.persistLink(ctx, userID, p, pl.client, pl.primary, pl.password, pl.proxy, res)
}

func (l *Linker) persistLink(ctx context.Context, userID string, p provider.Provider, client provider.Client, primary, password, proxy string, res *provider.LoginResult) error {
	encPrimary, err := l.cipher.Encrypt(primary)
	if err != nil {
		return fmt.Errorf("seal primary credential: %w", err)
	}
	encPassword, err := l.cipher.Encrypt(password)
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	encAccess, err := l.cipher.Encrypt(res.Tokens.Access)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	encRefresh, err := l.cipher.Encrypt(res.Tokens.Refresh)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	rec := &domain.CredentialRecord{
		UserID:          userID,
		Provider:        p,
		EncPrimary:      encPrimary,
		EncPassword:     encPassword,
		DeviceID:        res.DeviceID,
		ClientID:        res.ClientID,
		EncAccessToken:  encAccess,
		EncRefreshToken: encRefresh,
		TokenExpiry:     res.Tokens.ExpiresAt,
		Proxy:           proxy,
		ExternalID:      res.Profile.ExternalID,
	}
	if err := l.creds.UpsertCredential(ctx, rec); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	l.sessions.Put(userID, p, client)
	l.log.Info("account linked", "user", userID, "provider", p)
	return nil
}

// Check returns the live display name and balance breakdown for a linked
// account.
func (l *Linker) Check(ctx context.Context, userID string, p provider.Provider) (*domain.AccountSnapshot, error) {
	client, err := l.sessions.Get(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	cctx, cancel := l.callCtx(ctx)
	profile, err := client.GetProfile(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	cctx, cancel = l.callCtx(ctx)
	balance, err := client.GetBalance(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &domain.AccountSnapshot{
		DisplayName: profile.DisplayName,
		Provider:    p,
		Balance:     *balance,
	}, nil
}

// SetProxy stores a new outbound proxy for future authentications.
func (l *Linker) SetProxy(ctx context.Context, userID string, p provider.Provider, proxy string) error {
	if err := validateProxy(proxy); err != nil {
		return err
	}
	if err := l.creds.UpdateProxy(ctx, userID, p, proxy); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotLinked
		}
		return err
	}
	return nil
}

// Unlink removes the credential record and drops any cached session. This is
// the only path that deletes credentials.
func (l *Linker) Unlink(ctx context.Context, userID string, p provider.Provider) error {
	if err := l.creds.DeleteCredential(ctx, userID, p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotLinked
		}
		return err
	}
	l.sessions.Evict(userID, p)
	l.log.Info("account unlinked", "user", userID, "provider", p)
	return nil
}

// sweepExpired drops pending link attempts whose code window has closed, so
// abandoned attempts do not retain plaintext credentials. Caller holds l.mu.
func (l *Linker) sweepExpired() {
	now := l.now()
	for key, pl := range l.pending {
		if now.After(pl.deadline) {
			delete(l.pending, key)
		}
	}
}

func validateProxy(proxy string) error {
	if proxy == "" {
		return nil
	}
	u, err := url.Parse(proxy)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidProxy, proxy)
	}
	return nil
}
