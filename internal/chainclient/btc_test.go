package chainclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newEsploraStub(t *testing.T, handler http.HandlerFunc) *BTCClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBTC(srv.URL, false)
}

func TestBTCBalance(t *testing.T) {
	c := newEsploraStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/address/1Addr" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"chain_stats":{"funded_txo_sum":150000,"spent_txo_sum":50000}}`))
	})

	bal, err := c.Balance(context.Background(), "1Addr")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 100000 {
		t.Errorf("balance = %d, want 100000", bal)
	}
}

// An explorer 404 means the address was never seen on chain; that is a zero
// balance, not a sync failure.
func TestBTCBalanceUnknownAddress(t *testing.T) {
	c := newEsploraStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	bal, err := c.Balance(context.Background(), "1Unknown")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 0 {
		t.Errorf("balance = %d, want 0", bal)
	}
}

func TestBTCBalanceServerError(t *testing.T) {
	c := newEsploraStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	})

	if _, err := c.Balance(context.Background(), "1Addr"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestBTCUTXOs(t *testing.T) {
	c := newEsploraStub(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/utxo") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"txid":"aa","vout":1,"value":5000},{"txid":"bb","vout":0,"value":7000}]`))
	})

	utxos, err := c.UTXOs(context.Background(), "1Addr")
	if err != nil {
		t.Fatalf("UTXOs: %v", err)
	}
	if len(utxos) != 2 {
		t.Fatalf("got %d utxos, want 2", len(utxos))
	}
	if utxos[0].TxID != "aa" || utxos[0].Vout != 1 || utxos[0].Value != 5000 {
		t.Errorf("utxo[0] = %+v", utxos[0])
	}
}

func TestBTCBroadcast(t *testing.T) {
	var gotBody string
	c := newEsploraStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tx" {
			http.NotFound(w, r)
			return
		}
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte("txid123\n"))
	})

	txid, err := c.Broadcast(context.Background(), "0100beef")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if txid != "txid123" {
		t.Errorf("txid = %q, want txid123", txid)
	}
	if gotBody != "0100beef" {
		t.Errorf("posted body = %q", gotBody)
	}
}

// The explorer's rejection reason must survive into the returned error so it
// lands on the transaction row.
func TestBTCBroadcastRejection(t *testing.T) {
	c := newEsploraStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sendrawtransaction RPC error: min relay fee not met", http.StatusBadRequest)
	})

	_, err := c.Broadcast(context.Background(), "0100beef")
	if err == nil {
		t.Fatal("expected broadcast rejection error")
	}
	if !strings.Contains(err.Error(), "min relay fee not met") {
		t.Errorf("error %q does not carry the server reason", err)
	}
}

func TestBTCConfirmed(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"confirmed", `{"confirmed":true,"block_height":850000}`, true},
		{"mempool", `{"confirmed":false}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newEsploraStub(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			got, err := c.Confirmed(context.Background(), "txid")
			if err != nil {
				t.Fatalf("Confirmed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirmed = %v, want %v", got, tt.want)
			}
		})
	}
}
