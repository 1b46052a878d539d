package alert

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmit_DeliversToWebhook(t *testing.T) {
	var mu sync.Mutex
	var got []Report
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rep Report
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
		mu.Lock()
		got = append(got, rep)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, testLogger())
	n.Emit(Report{Event: "transfer.send_failed", PayerID: "alice", Amount: 100, Error: "boom"})
	n.Close() // drains the queue

	require.Len(t, got, 1)
	require.Equal(t, "transfer.send_failed", got[0].Event)
	require.Equal(t, int64(100), got[0].Amount)
	require.False(t, got[0].Timestamp.IsZero(), "a missing timestamp is stamped at emit time")
}

func TestEmit_NoWebhookConfigured(t *testing.T) {
	n := New("", testLogger())
	n.Emit(Report{Event: "ledger.write_failed"})
	n.Close()
}

func TestClose_Idempotent(t *testing.T) {
	n := New("", testLogger())
	n.Close()
	n.Close()
}
