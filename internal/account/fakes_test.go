package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/provider"
	"github.com/punchamoorthee/paybridge/internal/store"
)

var errUnexpectedCall = errors.New("unexpected call")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	loginFn          func(ctx context.Context, creds provider.Credentials) (*provider.LoginResult, error)
	submitOTPFn      func(ctx context.Context, code string) (*provider.LoginResult, error)
	loginWithTokenFn func(ctx context.Context, token string) error
	refreshTokenFn   func(ctx context.Context, refresh string) (*provider.TokenPair, error)
	getBalanceFn     func(ctx context.Context) (*provider.Balance, error)
	getProfileFn     func(ctx context.Context) (*provider.Profile, error)
	sendMoneyFn      func(ctx context.Context, amount int64, externalID string) error
	createLinkFn     func(ctx context.Context, amount int64, message string) (*provider.LinkInfo, error)
	checkLinkFn      func(ctx context.Context, url string) (*provider.LinkInfo, error)
	receiveLinkFn    func(ctx context.Context, url, passcode string) error
	cancelLinkFn     func(ctx context.Context, url string) error
}

var _ provider.Client = (*fakeClient)(nil)

func (f *fakeClient) Login(ctx context.Context, creds provider.Credentials) (*provider.LoginResult, error) {
	if f.loginFn == nil {
		return nil, errUnexpectedCall
	}
	return f.loginFn(ctx, creds)
}

func (f *fakeClient) SubmitOTP(ctx context.Context, code string) (*provider.LoginResult, error) {
	if f.submitOTPFn == nil {
		return nil, errUnexpectedCall
	}
	return f.submitOTPFn(ctx, code)
}

func (f *fakeClient) LoginWithToken(ctx context.Context, token string) error {
	if f.loginWithTokenFn == nil {
		return errUnexpectedCall
	}
	return f.loginWithTokenFn(ctx, token)
}

func (f *fakeClient) RefreshToken(ctx context.Context, refresh string) (*provider.TokenPair, error) {
	if f.refreshTokenFn == nil {
		return nil, errUnexpectedCall
	}
	return f.refreshTokenFn(ctx, refresh)
}

func (f *fakeClient) GetBalance(ctx context.Context) (*provider.Balance, error) {
	if f.getBalanceFn == nil {
		return nil, errUnexpectedCall
	}
	return f.getBalanceFn(ctx)
}

func (f *fakeClient) GetProfile(ctx context.Context) (*provider.Profile, error) {
	if f.getProfileFn == nil {
		return nil, errUnexpectedCall
	}
	return f.getProfileFn(ctx)
}

func (f *fakeClient) SendMoney(ctx context.Context, amount int64, externalID string) error {
	if f.sendMoneyFn == nil {
		return errUnexpectedCall
	}
	return f.sendMoneyFn(ctx, amount, externalID)
}

func (f *fakeClient) CreateLink(ctx context.Context, amount int64, message string) (*provider.LinkInfo, error) {
	if f.createLinkFn == nil {
		return nil, errUnexpectedCall
	}
	return f.createLinkFn(ctx, amount, message)
}

func (f *fakeClient) CheckLink(ctx context.Context, url string) (*provider.LinkInfo, error) {
	if f.checkLinkFn == nil {
		return nil, errUnexpectedCall
	}
	return f.checkLinkFn(ctx, url)
}

func (f *fakeClient) ReceiveLink(ctx context.Context, url, passcode string) error {
	if f.receiveLinkFn == nil {
		return errUnexpectedCall
	}
	return f.receiveLinkFn(ctx, url, passcode)
}

func (f *fakeClient) CancelLink(ctx context.Context, url string) error {
	if f.cancelLinkFn == nil {
		return errUnexpectedCall
	}
	return f.cancelLinkFn(ctx, url)
}

type fakeCredStore struct {
	getFn          func(ctx context.Context, userID string, p provider.Provider) (*domain.CredentialRecord, error)
	upsertFn       func(ctx context.Context, rec *domain.CredentialRecord) error
	updateTokensFn func(ctx context.Context, userID string, p provider.Provider, encAccess, encRefresh string, expiry time.Time) error
	updateProxyFn  func(ctx context.Context, userID string, p provider.Provider, proxy string) error
	deleteFn       func(ctx context.Context, userID string, p provider.Provider) error
}

var _ CredentialStore = (*fakeCredStore)(nil)

func (f *fakeCredStore) GetCredential(ctx context.Context, userID string, p provider.Provider) (*domain.CredentialRecord, error) {
	if f.getFn == nil {
		return nil, store.ErrNotFound
	}
	return f.getFn(ctx, userID, p)
}

func (f *fakeCredStore) UpsertCredential(ctx context.Context, rec *domain.CredentialRecord) error {
	if f.upsertFn == nil {
		return nil
	}
	return f.upsertFn(ctx, rec)
}

func (f *fakeCredStore) UpdateTokens(ctx context.Context, userID string, p provider.Provider, encAccess, encRefresh string, expiry time.Time) error {
	if f.updateTokensFn == nil {
		return nil
	}
	return f.updateTokensFn(ctx, userID, p, encAccess, encRefresh, expiry)
}

func (f *fakeCredStore) UpdateProxy(ctx context.Context, userID string, p provider.Provider, proxy string) error {
	if f.updateProxyFn == nil {
		return nil
	}
	return f.updateProxyFn(ctx, userID, p, proxy)
}

func (f *fakeCredStore) DeleteCredential(ctx context.Context, userID string, p provider.Provider) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, userID, p)
}

// fakeCipher seals by prefixing; decrypting anything unsealed fails like the
// real vault would.
type fakeCipher struct {
	encryptErr error
	decryptErr error
}

var _ Cipher = (*fakeCipher)(nil)

func (f *fakeCipher) Encrypt(plaintext string) (string, error) {
	if f.encryptErr != nil {
		return "", f.encryptErr
	}
	return "enc:" + plaintext, nil
}

func (f *fakeCipher) Decrypt(sealed string) (string, error) {
	if f.decryptErr != nil {
		return "", f.decryptErr
	}
	if !strings.HasPrefix(sealed, "enc:") {
		return "", errors.New("not a sealed value")
	}
	return strings.TrimPrefix(sealed, "enc:"), nil
}

type fakeFactory struct {
	newFn func(p provider.Provider, proxy string) (provider.Client, error)
	calls int
}

var _ provider.Factory = (*fakeFactory)(nil)

func (f *fakeFactory) New(p provider.Provider, proxy string) (provider.Client, error) {
	f.calls++
	if f.newFn == nil {
		return nil, errUnexpectedCall
	}
	return f.newFn(p, proxy)
}

type fakeSessions struct {
	getFn   func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error)
	puts    []string
	evicted []string
}

var _ Sessions = (*fakeSessions)(nil)

func (f *fakeSessions) Get(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
	if f.getFn == nil {
		return nil, errUnexpectedCall
	}
	return f.getFn(ctx, userID, p)
}

func (f *fakeSessions) Put(userID string, p provider.Provider, client provider.Client) {
	f.puts = append(f.puts, sessionKey(userID, p))
}

func (f *fakeSessions) Evict(userID string, p provider.Provider) {
	f.evicted = append(f.evicted, sessionKey(userID, p))
}
