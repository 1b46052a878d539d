package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/paybridge/internal/account"
	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/provider"
)

// saleFixture wires a buyer, a platform account and a seller over PayPay so
// both settlement legs can run as direct pushes.
func saleFixture(sellerProxy string) (buyer, platform *fakeClient, o *Orchestrator, led *fakeLedger, alerts *fakeAlerter) {
	buyer = &fakeClient{}
	platform = &fakeClient{}
	sessions := &fakeSessions{clients: map[string]provider.Client{
		"buyer":    buyer,
		"platform": platform,
	}}
	creds := &fakeCreds{recs: map[string]*domain.CredentialRecord{
		"platform": {UserID: "platform", ExternalID: "ext-platform"},
		"seller":   {UserID: "seller", ExternalID: "ext-seller", Proxy: sellerProxy},
	}}
	led = &fakeLedger{}
	alerts = &fakeAlerter{}
	o = newTestOrchestrator(sessions, creds, led, alerts)
	return
}

func TestSettleSale_FeeOnSharedProxy(t *testing.T) {
	buyer, platform, o, led, _ := saleFixture(testConfig().DefaultProxy)

	receipt, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay,
		Price: 500, GoodRef: "good-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(500), receipt.Price)
	require.Equal(t, int64(15), receipt.Fee)
	require.Equal(t, int64(485), receipt.SellerPayout)

	require.Equal(t, []int64{500}, buyer.sent)
	require.Equal(t, []int64{485}, platform.sent)
	require.Equal(t, []recordedRow{
		{500, "buyer", "platform", domain.MovementBuy, "good-1"},
		{485, "platform", "seller", domain.MovementSend, "good-1"},
	}, led.rows)
}

func TestSettleSale_NoFeeOnOwnProxy(t *testing.T) {
	_, platform, o, _, _ := saleFixture("http://seller-proxy.example:3128")

	receipt, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay, Price: 500,
	})
	require.NoError(t, err)
	require.Zero(t, receipt.Fee)
	require.Equal(t, int64(500), receipt.SellerPayout)
	require.Equal(t, []int64{500}, platform.sent)
}

func TestSaleFee_RoundsUp(t *testing.T) {
	o := newTestOrchestrator(&fakeSessions{}, &fakeCreds{}, &fakeLedger{}, &fakeAlerter{})

	require.Equal(t, int64(3), o.saleFee(100, o.cfg.DefaultProxy))
	require.Equal(t, int64(4), o.saleFee(101, o.cfg.DefaultProxy), "fractional fees round against the seller")
	require.Equal(t, int64(1), o.saleFee(1, o.cfg.DefaultProxy))
	require.Zero(t, o.saleFee(100, "http://other.example:1"))
}

func TestSettleSale_ZeroPriceSkipsProviders(t *testing.T) {
	sessions := &fakeSessions{} // any Get would fail the test
	led := &fakeLedger{}
	o := newTestOrchestrator(sessions, &fakeCreds{}, led, &fakeAlerter{})

	receipt, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay,
		Price: 0, GoodRef: "freebie",
	})
	require.NoError(t, err)
	require.Zero(t, receipt.Price)
	require.Equal(t, []recordedRow{{0, "buyer", "seller", domain.MovementBuy, "freebie"}}, led.rows)
}

func TestSettleSale_Validation(t *testing.T) {
	o := newTestOrchestrator(&fakeSessions{}, &fakeCreds{}, &fakeLedger{}, &fakeAlerter{})

	_, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay, Price: -1,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "same", SellerID: "same", Provider: provider.PayPay, Price: 100,
	})
	require.ErrorIs(t, err, ErrSelfTransfer)
}

func TestSettleSale_SellerNotLinked(t *testing.T) {
	o := newTestOrchestrator(&fakeSessions{}, &fakeCreds{}, &fakeLedger{}, &fakeAlerter{})

	_, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay, Price: 100,
	})
	require.ErrorIs(t, err, account.ErrNotLinked)
}

func TestSettleSale_PresentedLinkExactAmount(t *testing.T) {
	_, platform, o, led, _ := saleFixture("http://seller-proxy.example:3128")
	platform.checkLinkFn = func(ctx context.Context, url string) (*provider.LinkInfo, error) {
		return &provider.LinkInfo{URL: url, Amount: 500}, nil
	}

	receipt, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay,
		Price: 500, LinkURL: "https://pay.example/l/presented", Passcode: "1234",
	})
	require.NoError(t, err)
	require.Empty(t, receipt.RefundLinkURL)
	require.Equal(t, []string{"https://pay.example/l/presented"}, platform.received)
	require.Empty(t, platform.created, "no refund link without overpayment")
	require.Equal(t, recordedRow{500, "buyer", "platform", domain.MovementBuy, ""}, led.rows[0])
}

func TestSettleSale_PresentedLinkOverpaymentRefunded(t *testing.T) {
	_, platform, o, _, _ := saleFixture("http://seller-proxy.example:3128")
	platform.checkLinkFn = func(ctx context.Context, url string) (*provider.LinkInfo, error) {
		return &provider.LinkInfo{URL: url, Amount: 700}, nil
	}

	receipt, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay,
		Price: 500, LinkURL: "https://pay.example/l/presented",
	})
	require.NoError(t, err)
	require.Equal(t, []int64{200}, platform.created, "the excess goes back, not into the till")
	require.Equal(t, "https://pay.example/l/1", receipt.RefundLinkURL)
}

func TestSettleSale_PresentedLinkUnderpaymentRejected(t *testing.T) {
	_, platform, o, led, _ := saleFixture("http://seller-proxy.example:3128")
	platform.checkLinkFn = func(ctx context.Context, url string) (*provider.LinkInfo, error) {
		return &provider.LinkInfo{URL: url, Amount: 300}, nil
	}

	_, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay,
		Price: 500, LinkURL: "https://pay.example/l/presented",
	})
	require.ErrorIs(t, err, ErrInsufficientLink)
	require.Empty(t, platform.received, "a short link must not be claimed")
	require.Empty(t, led.rows)
}

func TestSettleSale_RefundFailureDoesNotUndoSale(t *testing.T) {
	_, platform, o, _, alerts := saleFixture("http://seller-proxy.example:3128")
	platform.checkLinkFn = func(ctx context.Context, url string) (*provider.LinkInfo, error) {
		return &provider.LinkInfo{URL: url, Amount: 700}, nil
	}
	platform.createLinkFn = func(ctx context.Context, amount int64, message string) (*provider.LinkInfo, error) {
		return nil, errors.New("provider 500")
	}

	receipt, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay,
		Price: 500, LinkURL: "https://pay.example/l/presented",
	})
	require.NoError(t, err, "the purchase stands even when the refund link fails")
	require.Empty(t, receipt.RefundLinkURL)
	require.Contains(t, alerts.events(), "sale.refund_link_failed")
}

func TestSettleSale_SellerPayoutFailure(t *testing.T) {
	buyer, platform, o, led, alerts := saleFixture(testConfig().DefaultProxy)
	platform.sendMoneyFn = func(ctx context.Context, amount int64, externalID string) error {
		return errors.New("provider 500")
	}

	_, err := o.SettleSale(context.Background(), domain.Sale{
		BuyerID: "buyer", SellerID: "seller", Provider: provider.PayPay,
		Price: 500, GoodRef: "good-1",
	})
	require.ErrorIs(t, err, ErrSellerPayout)
	require.Equal(t, []int64{500}, buyer.sent, "leg one is not reversed")
	require.Len(t, led.rows, 1, "only the buyer leg reaches the history")
	require.Contains(t, alerts.events(), "sale.seller_payout_failed")
}
