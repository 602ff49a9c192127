package balance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/chainclient"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
)

func TestFetchErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&FetchError{Chain: chain.Ethereum, Address: "0xabc", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("FetchError does not unwrap to its cause")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatal("errors.As failed for FetchError")
	}
	if fe.Chain != chain.Ethereum || fe.Address != "0xabc" {
		t.Errorf("FetchError fields = %+v", fe)
	}
	if !strings.Contains(err.Error(), "0xabc") {
		t.Errorf("error %q does not name the address", err)
	}
}

// A chain with no configured client surfaces a FetchError so the sync loop
// can skip the address instead of aborting the wallet.
func TestFetchUnconfiguredChain(t *testing.T) {
	clients, err := chainclient.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	o := New(storage.NewMemory(), clients)

	_, err = o.Fetch(context.Background(), chain.Ethereum, "0xabc")
	if err == nil {
		t.Fatal("expected error for unconfigured chain")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Errorf("error %v is not a FetchError", err)
	}
}

func TestFetchUnknownChain(t *testing.T) {
	clients, err := chainclient.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	o := New(storage.NewMemory(), clients)

	if _, err := o.Fetch(context.Background(), "dogecoin", "addr"); !errors.Is(err, chain.ErrUnsupportedChain) {
		t.Errorf("error = %v, want ErrUnsupportedChain", err)
	}
}
