// Package payment moves funds between linked accounts, exactly once per
// request, with explicit compensation for partially completed link transfers.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/paybridge/internal/account"
	"github.com/punchamoorthee/paybridge/internal/alert"
	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/provider"
	"github.com/punchamoorthee/paybridge/internal/store"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("payer and payee must differ")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrReceiveFailed     = errors.New("receive failed")
	ErrInsufficientLink  = errors.New("link amount below requested price")
	ErrSellerPayout      = errors.New("seller payout failed")
)

var transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paybridge_transfers_total",
	Help: "Transfer attempts by provider, mode and outcome",
}, []string{"provider", "mode", "outcome"})

// Sessions hands out live authenticated provider clients.
type Sessions interface {
	Get(ctx context.Context, userID string, p provider.Provider) (provider.Client, error)
}

// Credentials reads stored account records (external ids, proxies).
type Credentials interface {
	GetCredential(ctx context.Context, userID string, p provider.Provider) (*domain.CredentialRecord, error)
}

// Ledger appends the two mirrored rows of a settled transfer.
type Ledger interface {
	Record(ctx context.Context, amount int64, payerID, payeeID string, movement domain.Movement, goodRef string) error
}

// Alerter receives fire-and-forget failure reports.
type Alerter interface {
	Emit(r alert.Report)
}

// Config carries the settlement policy knobs.
type Config struct {
	FeeRate        float64
	DefaultProxy   string
	PlatformUserID string
	CallTimeout    time.Duration
}

type Orchestrator struct {
	sessions Sessions
	creds    Credentials
	ledger   Ledger
	alerts   Alerter
	cfg      Config
	log      *slog.Logger

	// Per-payer locks serialize balance-check-then-send so two concurrent
	// transfers from one account cannot both pass the balance check. The
	// providers offer no atomicity; this closes the window this process
	// controls.
	lockMu     sync.Mutex
	payerLocks map[string]*sync.Mutex
}

func NewOrchestrator(sessions Sessions, creds Credentials, ledger Ledger, alerts Alerter, cfg Config, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:   sessions,
		creds:      creds,
		ledger:     ledger,
		alerts:     alerts,
		cfg:        cfg,
		log:        log,
		payerLocks: make(map[string]*sync.Mutex),
	}
}

// Transfer moves req.Amount from payer to payee over the given provider.
// On success exactly two mirrored ledger rows are written; on any typed
// failure no rows are written and, for link transfers that created a link,
// a best-effort cancellation has been issued.
func (o *Orchestrator) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Receipt, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.PayerID == req.PayeeID {
		return nil, ErrSelfTransfer
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.DefaultMode(req.Provider)
	}
	movement := req.Movement
	if movement == "" {
		movement = domain.MovementSend
	}

	payeeRec, err := o.creds.GetCredential(ctx, req.PayeeID, req.Provider)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			transfersTotal.WithLabelValues(string(req.Provider), string(mode), "not_linked").Inc()
			return nil, fmt.Errorf("%w: payee %s", account.ErrNotLinked, req.PayeeID)
		}
		return nil, fmt.Errorf("load payee credential: %w", err)
	}

	unlock := o.lockPayer(req.PayerID, req.Provider)
	defer unlock()

	payerClient, err := o.sessions.Get(ctx, req.PayerID, req.Provider)
	if err != nil {
		transfersTotal.WithLabelValues(string(req.Provider), string(mode), "auth_failed").Inc()
		return nil, err
	}

	cctx, cancel := o.callCtx(ctx)
	balance, err := payerClient.GetBalance(cctx)
	cancel()
	if err != nil {
		o.reportFailure("transfer.balance_check_failed", req, err)
		transfersTotal.WithLabelValues(string(req.Provider), string(mode), "failed").Inc()
		return nil, fmt.Errorf("%w: balance check: %v", ErrTransferFailed, err)
	}
	if balance.Spendable() < req.Amount {
		transfersTotal.WithLabelValues(string(req.Provider), string(mode), "insufficient").Inc()
		return nil, ErrInsufficientFunds
	}

	switch mode {
	case domain.ModePush:
		err = o.push(ctx, payerClient, payeeRec, req)
	case domain.ModeLink:
		err = o.escrow(ctx, payerClient, req)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrTransferFailed, mode)
	}
	if err != nil {
		transfersTotal.WithLabelValues(string(req.Provider), string(mode), "failed").Inc()
		return nil, err
	}

	o.recordSettlement(ctx, req.Amount, req.PayerID, req.PayeeID, movement, req.GoodRef, req.Provider)
	transfersTotal.WithLabelValues(string(req.Provider), string(mode), "ok").Inc()
	o.log.Info("transfer settled",
		"provider", req.Provider, "mode", mode,
		"payer", req.PayerID, "payee", req.PayeeID, "amount", req.Amount)
	return &domain.Receipt{Amount: req.Amount}, nil
}

// push sends directly to the payee's provider account id. The provider
// either confirms or it does not; there is nothing to compensate.
func (o *Orchestrator) push(ctx context.Context, payerClient provider.Client, payeeRec *domain.CredentialRecord, req domain.TransferRequest) error {
	if payeeRec.ExternalID == "" {
		return fmt.Errorf("%w: payee %s has no provider account id", ErrTransferFailed, req.PayeeID)
	}
	cctx, cancel := o.callCtx(ctx)
	err := payerClient.SendMoney(cctx, req.Amount, payeeRec.ExternalID)
	cancel()
	if err != nil {
		o.reportFailure("transfer.send_failed", req, err)
		return fmt.Errorf("%w: send: %v", ErrTransferFailed, err)
	}
	return nil
}

// escrow runs the link protocol: payer creates a link, payee validates and
// claims it. Any failure after creation cancels the link before surfacing,
// so it cannot be claimed by a third party.
func (o *Orchestrator) escrow(ctx context.Context, payerClient provider.Client, req domain.TransferRequest) error {
	// Authenticate the payee before creating anything so an auth failure
	// leaves no link to clean up.
	payeeClient, err := o.sessions.Get(ctx, req.PayeeID, req.Provider)
	if err != nil {
		return err
	}

	cctx, cancel := o.callCtx(ctx)
	link, err := payerClient.CreateLink(cctx, req.Amount, "paybridge transfer")
	cancel()
	if err != nil {
		o.reportFailure("transfer.link_create_failed", req, err)
		return fmt.Errorf("%w: create link: %v", ErrTransferFailed, err)
	}

	cctx, cancel = o.callCtx(ctx)
	info, err := payeeClient.CheckLink(cctx, link.URL)
	cancel()
	if err != nil {
		o.cancelLink(ctx, payerClient, link.URL, req)
		o.reportFailure("transfer.link_check_failed", req, err)
		return fmt.Errorf("%w: check link: %v", ErrReceiveFailed, err)
	}
	if info.Amount < req.Amount {
		o.cancelLink(ctx, payerClient, link.URL, req)
		return fmt.Errorf("%w: link carries %d, requested %d", ErrReceiveFailed, info.Amount, req.Amount)
	}

	cctx, cancel = o.callCtx(ctx)
	err = payeeClient.ReceiveLink(cctx, link.URL, "")
	cancel()
	if err != nil {
		o.cancelLink(ctx, payerClient, link.URL, req)
		o.reportFailure("transfer.link_receive_failed", req, err)
		return fmt.Errorf("%w: receive link: %v", ErrReceiveFailed, err)
	}
	return nil
}

// cancelLink voids a created link after a downstream failure. Best effort:
// it runs even when the surrounding context already timed out, and a failed
// cancellation is escalated instead of propagated.
func (o *Orchestrator) cancelLink(ctx context.Context, payerClient provider.Client, url string, req domain.TransferRequest) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout())
	defer cancel()
	if err := payerClient.CancelLink(cctx, url); err != nil {
		o.log.Error("link cancellation failed, link may remain claimable",
			"provider", req.Provider, "payer", req.PayerID, "err", err)
		o.reportFailure("transfer.link_cancel_failed", req, err)
	}
}

// recordSettlement writes the double-entry rows. The money has moved by now,
// so a ledger failure is escalated for reconciliation, never bubbled into the
// caller-visible outcome.
func (o *Orchestrator) recordSettlement(ctx context.Context, amount int64, payerID, payeeID string, movement domain.Movement, goodRef string, p provider.Provider) {
	if err := o.ledger.Record(ctx, amount, payerID, payeeID, movement, goodRef); err != nil {
		o.alerts.Emit(alert.Report{
			Event:    "ledger.write_failed",
			Provider: string(p),
			PayerID:  payerID,
			PayeeID:  payeeID,
			Amount:   amount,
			Error:    err.Error(),
		})
	}
}

func (o *Orchestrator) reportFailure(event string, req domain.TransferRequest, err error) {
	o.alerts.Emit(alert.Report{
		Event:    event,
		Provider: string(req.Provider),
		PayerID:  req.PayerID,
		PayeeID:  req.PayeeID,
		Amount:   req.Amount,
		Error:    err.Error(),
	})
}

func (o *Orchestrator) lockPayer(payerID string, p provider.Provider) func() {
	key := payerID + "|" + string(p)
	o.lockMu.Lock()
	mu, ok := o.payerLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		o.payerLocks[key] = mu
	}
	o.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (o *Orchestrator) callTimeout() time.Duration {
	if o.cfg.CallTimeout > 0 {
		return o.cfg.CallTimeout
	}
	return 30 * time.Second
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.callTimeout())
}
