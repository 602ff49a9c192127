package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// A receipt wait must end at the context deadline instead of polling the
// node forever for a transaction that never mines.
func TestWaitMinedStopsAtDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":null}`, req.ID)
	}))
	t.Cleanup(srv.Close)
	c := NewEVM(srv.URL, 1)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.waitMined(ctx, common.Hash{})
	if err == nil || !strings.Contains(err.Error(), "wait for receipt") {
		t.Fatalf("waitMined error = %v, want wait-for-receipt failure", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("waitMined kept polling past the deadline")
	}
}
