package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/paybridge/internal/provider"
)

type fakeAuth struct {
	fn    func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error)
	calls int
}

var _ Authenticator = (*fakeAuth)(nil)

func (f *fakeAuth) Authenticate(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
	f.calls++
	return f.fn(ctx, userID, p)
}

func liveClient() *fakeClient {
	return &fakeClient{getBalanceFn: func(ctx context.Context) (*provider.Balance, error) {
		return &provider.Balance{}, nil
	}}
}

func TestGet_AuthenticatesOnMiss(t *testing.T) {
	client := liveClient()
	auth := &fakeAuth{fn: func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
		return client, nil
	}}
	c := NewSessionCache(auth, time.Second, testLogger())

	got, err := c.Get(context.Background(), "u1", provider.PayPay)
	require.NoError(t, err)
	require.Same(t, client, got)
	require.Equal(t, 1, auth.calls)

	// Second call hits the cache: the probe succeeds, no new authentication.
	got, err = c.Get(context.Background(), "u1", provider.PayPay)
	require.NoError(t, err)
	require.Same(t, client, got)
	require.Equal(t, 1, auth.calls)
}

func TestGet_EvictsOnFailedProbe(t *testing.T) {
	stale := &fakeClient{getBalanceFn: func(ctx context.Context) (*provider.Balance, error) {
		return nil, provider.ErrAuthExpired
	}}
	fresh := liveClient()
	auth := &fakeAuth{fn: func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
		return fresh, nil
	}}
	c := NewSessionCache(auth, time.Second, testLogger())
	c.Put("u1", provider.PayPay, stale)

	got, err := c.Get(context.Background(), "u1", provider.PayPay)
	require.NoError(t, err)
	require.Same(t, fresh, got)
	require.Equal(t, 1, auth.calls, "a dead session must trigger exactly one re-authentication")
}

func TestGet_AuthFailureIsNotCached(t *testing.T) {
	boom := errors.New("provider down")
	auth := &fakeAuth{fn: func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
		return nil, boom
	}}
	c := NewSessionCache(auth, time.Second, testLogger())

	_, err := c.Get(context.Background(), "u1", provider.PayPay)
	require.ErrorIs(t, err, boom)

	_, err = c.Get(context.Background(), "u1", provider.PayPay)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, auth.calls, "failures must not be cached")
}

func TestGet_KeysAreScopedByProvider(t *testing.T) {
	paypay := liveClient()
	kyash := liveClient()
	auth := &fakeAuth{fn: func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
		if p == provider.PayPay {
			return paypay, nil
		}
		return kyash, nil
	}}
	c := NewSessionCache(auth, time.Second, testLogger())

	got1, err := c.Get(context.Background(), "u1", provider.PayPay)
	require.NoError(t, err)
	got2, err := c.Get(context.Background(), "u1", provider.Kyash)
	require.NoError(t, err)
	require.Same(t, paypay, got1)
	require.Same(t, kyash, got2)
	require.Equal(t, 2, auth.calls)
}

func TestGet_ConcurrentCallersShareOneAuthentication(t *testing.T) {
	client := liveClient()
	started := make(chan struct{}, 2)
	gate := make(chan struct{})
	auth := &fakeAuth{fn: func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
		started <- struct{}{}
		<-gate
		return client, nil
	}}
	c := NewSessionCache(auth, time.Second, testLogger())

	var wg sync.WaitGroup
	results := make([]provider.Client, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "u1", provider.PayPay)
		}(i)
	}
	// Wait until the first caller is inside Authenticate, then give the
	// second one time to join the same flight before releasing both.
	<-started
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Same(t, client, results[0])
	require.Same(t, client, results[1])
	require.Equal(t, 1, auth.calls, "concurrent callers for one key must share one in-flight login")
}

func TestGet_ProbeIsBounded(t *testing.T) {
	hung := &fakeClient{getBalanceFn: func(ctx context.Context) (*provider.Balance, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fresh := liveClient()
	auth := &fakeAuth{fn: func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
		return fresh, nil
	}}
	c := NewSessionCache(auth, 20*time.Millisecond, testLogger())
	c.Put("u1", provider.PayPay, hung)

	start := time.Now()
	got, err := c.Get(context.Background(), "u1", provider.PayPay)
	require.NoError(t, err)
	require.Same(t, fresh, got, "a hung cached session is treated like a failed probe")
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestEvict_DropsOnlyTheGivenKey(t *testing.T) {
	auth := &fakeAuth{fn: func(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
		return liveClient(), nil
	}}
	c := NewSessionCache(auth, time.Second, testLogger())

	_, err := c.Get(context.Background(), "u1", provider.PayPay)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "u2", provider.PayPay)
	require.NoError(t, err)

	c.Evict("u1", provider.PayPay)

	_, err = c.Get(context.Background(), "u2", provider.PayPay)
	require.NoError(t, err)
	require.Equal(t, 2, auth.calls, "evicting one key must not disturb the other")
}
