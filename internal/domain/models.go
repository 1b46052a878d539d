package domain

import (
	"time"

	"github.com/punchamoorthee/paybridge/internal/provider"
)

// CredentialRecord is the persisted link between a user and a provider
// account. Secret fields are vault ciphertexts; they are decrypted only for
// the duration of a login attempt. Device and client ids are second-factor
// identifiers, not secrets, and are stored as-is.
type CredentialRecord struct {
	UserID   string
	Provider provider.Provider

	EncPrimary  string // phone or email, encrypted
	EncPassword string
	DeviceID    string
	ClientID    string

	EncAccessToken  string
	EncRefreshToken string
	TokenExpiry     time.Time

	Proxy      string // outbound proxy for all provider calls, optional
	ExternalID string // provider-side account id, send target for PUSH

	UpdatedAt time.Time
}

// HasLoginSecrets reports whether a full credential login (tier 3) is possible.
func (c *CredentialRecord) HasLoginSecrets() bool {
	return c.EncPrimary != "" && c.EncPassword != "" && c.DeviceID != "" && c.ClientID != ""
}

// Movement tags one side of a settled transfer.
type Movement string

const (
	MovementBuy      Movement = "BUY"
	MovementGotBuy   Movement = "GOT_BUY"
	MovementSend     Movement = "SEND"
	MovementGotSend  Movement = "GOT_SEND"
	MovementClaim    Movement = "CLAIM"
	MovementGotClaim Movement = "GOT_CLAIM"
)

// PayerSide reports whether m is a movement a payer can initiate. The GOT_*
// tags exist only as ledger counterparts and must never arrive in a request.
func (m Movement) PayerSide() bool {
	switch m {
	case MovementBuy, MovementSend, MovementClaim:
		return true
	}
	return false
}

// Counterpart returns the movement recorded on the payee's row for a given
// payer-side movement.
func (m Movement) Counterpart() Movement {
	switch m {
	case MovementBuy:
		return MovementGotBuy
	case MovementSend:
		return MovementGotSend
	case MovementClaim:
		return MovementGotClaim
	}
	return m
}

// LedgerEntry is one immutable row of the double-entry history. Amount is
// negative on the payer's row and positive on the payee's.
type LedgerEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	PayerID   string    `json:"payer_id"`
	PayeeID   string    `json:"payee_id"`
	Movement  Movement  `json:"movement"`
	Amount    int64     `json:"amount"`
	GoodRef   string    `json:"good_ref,omitempty"`
}

// TransferMode selects the provider protocol for moving funds.
type TransferMode string

const (
	// ModePush sends directly to the payee's external account id.
	ModePush TransferMode = "PUSH"
	// ModeLink escrows through a claimable link: create, validate, receive.
	ModeLink TransferMode = "LINK"
)

// DefaultMode is the protocol each provider supports best: PayPay pushes to
// external ids, Kyash and the PayPay web API move money through links.
func DefaultMode(p provider.Provider) TransferMode {
	if p == provider.PayPay {
		return ModePush
	}
	return ModeLink
}

// TransferRequest asks for amount to move from payer to payee.
type TransferRequest struct {
	Amount   int64             `json:"amount"`
	PayerID  string            `json:"payer_id"`
	PayeeID  string            `json:"payee_id"`
	Provider provider.Provider `json:"provider"`
	Mode     TransferMode      `json:"mode"`
	// Movement is the payer-side ledger tag; defaults to SEND.
	Movement Movement `json:"movement,omitempty"`
	GoodRef  string   `json:"good_ref,omitempty"`
}

// Receipt reports a settled transfer.
type Receipt struct {
	Amount int64 `json:"amount"`
	// RefundLinkURL is set when a presented link overpaid and the excess was
	// returned as a fresh link for the sender to claim.
	RefundLinkURL string `json:"refund_link_url,omitempty"`
}

// Sale settles a catalog purchase: buyer pays the platform, the platform pays
// the seller minus any fee. When LinkURL is set the buyer paid by handing
// over a transfer link instead of a linked account.
type Sale struct {
	BuyerID  string            `json:"buyer_id"`
	SellerID string            `json:"seller_id"`
	Provider provider.Provider `json:"provider"`
	Price    int64             `json:"price"`
	GoodRef  string            `json:"good_ref,omitempty"`
	LinkURL  string            `json:"link_url,omitempty"`
	Passcode string            `json:"passcode,omitempty"`
}

// SaleReceipt reports a settled sale.
type SaleReceipt struct {
	Price         int64  `json:"price"`
	Fee           int64  `json:"fee"`
	SellerPayout  int64  `json:"seller_payout"`
	RefundLinkURL string `json:"refund_link_url,omitempty"`
}

// AccountSnapshot is the user-facing view of a linked provider account.
type AccountSnapshot struct {
	DisplayName string            `json:"display_name"`
	Provider    provider.Provider `json:"provider"`
	Balance     provider.Balance  `json:"balance"`
}

// Page is one page of ledger history.
type Page struct {
	Entries []LedgerEntry `json:"entries"`
	Page    int           `json:"page"`
	HasMore bool          `json:"has_more"`
}
