// Package alert delivers operational failure reports to a webhook without
// blocking payment paths. Emission is fire-and-forget over a bounded queue;
// a burst of failures drops reports instead of growing without bound.
package alert

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Report is one structured operational incident.
type Report struct {
	Event     string    `json:"event"`
	Provider  string    `json:"provider,omitempty"`
	PayerID   string    `json:"payer_id,omitempty"`
	PayeeID   string    `json:"payee_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Notifier struct {
	url    string
	client *http.Client
	log    *slog.Logger

	ch        chan Report
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New starts the delivery worker. An empty webhookURL still logs every
// report; it just skips the HTTP delivery.
func New(webhookURL string, log *slog.Logger) *Notifier {
	n := &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		ch:     make(chan Report, 64),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Emit queues a report. It never blocks: when the queue is full the report is
// dropped with a warning, because alerting must not stall a transfer.
func (n *Notifier) Emit(r Report) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	select {
	case n.ch <- r:
	default:
		n.log.Warn("alert queue full, dropping report", "event", r.Event)
	}
}

// Close drains queued reports and stops the worker. Call only at shutdown.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.ch) })
	n.wg.Wait()
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for r := range n.ch {
		n.deliver(r)
	}
}

func (n *Notifier) deliver(r Report) {
	n.log.Error("operational alert",
		"event", r.Event,
		"provider", r.Provider,
		"payer", r.PayerID,
		"payee", r.PayeeID,
		"amount", r.Amount,
		"err", r.Error,
	)
	if n.url == "" {
		return
	}

	body, err := json.Marshal(r)
	if err != nil {
		n.log.Warn("marshal alert report", "err", err)
		return
	}
	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.log.Warn("deliver alert report", "event", r.Event, "err", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		n.log.Warn("alert webhook rejected report", "event", r.Event, "status", resp.StatusCode)
	}
}
