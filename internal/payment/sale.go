package payment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/punchamoorthee/paybridge/internal/account"
	"github.com/punchamoorthee/paybridge/internal/alert"
	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/store"
)

// SettleSale settles a catalog purchase in two legs: buyer pays the platform
// the full price, then the platform pays the seller the price minus any fee.
// The fee applies only when the seller rides the platform's default proxy;
// sellers with their own egress are not charged. Both legs must succeed
// independently: a leg-two failure after leg one leaves the funds with the
// platform and is escalated for manual reconciliation — the provider APIs
// cannot reverse leg one reliably, so no automatic reversal is attempted.
func (o *Orchestrator) SettleSale(ctx context.Context, sale domain.Sale) (*domain.SaleReceipt, error) {
	if sale.Price < 0 {
		return nil, ErrInvalidAmount
	}
	if sale.BuyerID == sale.SellerID {
		return nil, ErrSelfTransfer
	}

	// Free goods settle without touching a provider; only the history rows
	// are written.
	if sale.Price == 0 {
		o.recordSettlement(ctx, 0, sale.BuyerID, sale.SellerID, domain.MovementBuy, sale.GoodRef, sale.Provider)
		return &domain.SaleReceipt{}, nil
	}

	sellerRec, err := o.creds.GetCredential(ctx, sale.SellerID, sale.Provider)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: seller %s", account.ErrNotLinked, sale.SellerID)
		}
		return nil, fmt.Errorf("load seller credential: %w", err)
	}

	// Leg one: buyer -> platform, full price.
	var refundURL string
	if sale.LinkURL != "" {
		receipt, err := o.receivePresented(ctx, sale)
		if err != nil {
			return nil, err
		}
		refundURL = receipt.RefundLinkURL
		o.recordSettlement(ctx, sale.Price, sale.BuyerID, o.cfg.PlatformUserID, domain.MovementBuy, sale.GoodRef, sale.Provider)
	} else {
		_, err := o.Transfer(ctx, domain.TransferRequest{
			Amount:   sale.Price,
			PayerID:  sale.BuyerID,
			PayeeID:  o.cfg.PlatformUserID,
			Provider: sale.Provider,
			Movement: domain.MovementBuy,
			GoodRef:  sale.GoodRef,
		})
		if err != nil {
			return nil, err
		}
	}

	fee := o.saleFee(sale.Price, sellerRec.Proxy)
	payout := sale.Price - fee

	// Leg two: platform -> seller, price minus fee.
	if _, err := o.Transfer(ctx, domain.TransferRequest{
		Amount:   payout,
		PayerID:  o.cfg.PlatformUserID,
		PayeeID:  sale.SellerID,
		Provider: sale.Provider,
		Movement: domain.MovementSend,
		GoodRef:  sale.GoodRef,
	}); err != nil {
		// Funds are parked with the platform. Escalate; never reverse leg one.
		o.alerts.Emit(alert.Report{
			Event:    "sale.seller_payout_failed",
			Provider: string(sale.Provider),
			PayerID:  o.cfg.PlatformUserID,
			PayeeID:  sale.SellerID,
			Amount:   payout,
			Error:    err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrSellerPayout, err)
	}

	return &domain.SaleReceipt{
		Price:         sale.Price,
		Fee:           fee,
		SellerPayout:  payout,
		RefundLinkURL: refundURL,
	}, nil
}

// saleFee charges ceil(price * rate) when the seller uses the platform's own
// egress; a seller on a private proxy pays nothing.
func (o *Orchestrator) saleFee(price int64, sellerProxy string) int64 {
	if sellerProxy != o.cfg.DefaultProxy {
		return 0
	}
	return int64(math.Ceil(float64(price) * o.cfg.FeeRate))
}

// receivePresented claims a transfer link the buyer handed over instead of
// paying from a linked account. The link must carry at least the price; when
// it carries more, the excess goes back to the buyer as a fresh refund link
// rather than being pocketed.
func (o *Orchestrator) receivePresented(ctx context.Context, sale domain.Sale) (*domain.Receipt, error) {
	client, err := o.sessions.Get(ctx, o.cfg.PlatformUserID, sale.Provider)
	if err != nil {
		return nil, err
	}

	cctx, cancel := o.callCtx(ctx)
	info, err := client.CheckLink(cctx, sale.LinkURL)
	cancel()
	if err != nil {
		o.reportSaleFailure("sale.link_check_failed", sale, err)
		return nil, fmt.Errorf("%w: check link: %v", ErrTransferFailed, err)
	}
	if info.Amount < sale.Price {
		return nil, fmt.Errorf("%w: link carries %d, price is %d", ErrInsufficientLink, info.Amount, sale.Price)
	}

	cctx, cancel = o.callCtx(ctx)
	err = client.ReceiveLink(cctx, sale.LinkURL, sale.Passcode)
	cancel()
	if err != nil {
		// Not our link to cancel; the buyer still holds it.
		o.reportSaleFailure("sale.link_receive_failed", sale, err)
		return nil, fmt.Errorf("%w: receive link: %v", ErrReceiveFailed, err)
	}

	receipt := &domain.Receipt{Amount: sale.Price}
	if excess := info.Amount - sale.Price; excess > 0 {
		cctx, cancel = o.callCtx(ctx)
		refund, err := client.CreateLink(cctx, excess, "refund for overpayment")
		cancel()
		if err != nil {
			// The purchase stands; the refund becomes a manual follow-up.
			o.reportSaleFailure("sale.refund_link_failed", sale, err)
		} else {
			receipt.RefundLinkURL = refund.URL
		}
	}
	return receipt, nil
}

func (o *Orchestrator) reportSaleFailure(event string, sale domain.Sale, err error) {
	o.alerts.Emit(alert.Report{
		Event:    event,
		Provider: string(sale.Provider),
		PayerID:  sale.BuyerID,
		PayeeID:  sale.SellerID,
		Amount:   sale.Price,
		Error:    err.Error(),
	})
}
