package chain

import (
	"math/big"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGetCaseInsensitive(t *testing.T) {
	for _, key := range []Key{"ethereum", "Ethereum", "ETHEREUM"} {
		p, err := Get(key)
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if p.Key != Ethereum {
			t.Errorf("Get(%q) = %q, want %q", key, p.Key, Ethereum)
		}
	}
}

func TestGetUnknown(t *testing.T) {
	if _, err := Get("dogecoin"); err == nil {
		t.Fatal("expected error for unknown chain")
	}
}

func TestResolveNative(t *testing.T) {
	base, asset, contract, err := Resolve(Bitcoin)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if base.Key != Bitcoin || asset != "" || contract != "" {
		t.Errorf("Resolve(bitcoin) = (%q, %q, %q), want (bitcoin, \"\", \"\")", base.Key, asset, contract)
	}
}

func TestResolveAliases(t *testing.T) {
	tests := []struct {
		alias    Key
		base     Key
		asset    string
		contract string
	}{
		{USDT, Ethereum, "USDT", "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
		{USDC, Ethereum, "USDC", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
		{USDTTron, Tron, "USDT", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"},
		{USDCSol, Solana, "USDC", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
	}
	for _, tt := range tests {
		t.Run(string(tt.alias), func(t *testing.T) {
			base, asset, contract, err := Resolve(tt.alias)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if base.Key != tt.base {
				t.Errorf("base = %q, want %q", base.Key, tt.base)
			}
			if asset != tt.asset {
				t.Errorf("asset = %q, want %q", asset, tt.asset)
			}
			if contract != tt.contract {
				t.Errorf("contract = %q, want %q", contract, tt.contract)
			}
		})
	}
}

func TestTokenDecimals(t *testing.T) {
	if d := TokenDecimals(Ethereum, "USDT"); d != 6 {
		t.Errorf("USDT decimals = %d, want 6", d)
	}
	// Unknown asset falls back to the base chain's decimals.
	if d := TokenDecimals(Ethereum, "WETH"); d != 18 {
		t.Errorf("fallback decimals = %d, want 18", d)
	}
}

func TestSupportedSorted(t *testing.T) {
	out := Supported()
	if len(out) == 0 {
		t.Fatal("empty registry")
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].Key < out[j].Key }) {
		t.Error("Supported() not sorted by key")
	}
}

func TestUnitConversion(t *testing.T) {
	tests := []struct {
		smallest string
		decimals int32
		human    string
	}{
		{"1000000000000000000", 18, "1"},
		{"1500000000000000000", 18, "1.5"},
		{"100000000", 8, "1"},
		{"5000", 9, "0.000005"},
		{"1100000", 6, "1.1"},
	}
	for _, tt := range tests {
		raw, _ := new(big.Int).SetString(tt.smallest, 10)
		got := FromSmallest(raw, tt.decimals)
		want, _ := decimal.NewFromString(tt.human)
		if !got.Equal(want) {
			t.Errorf("FromSmallest(%s, %d) = %s, want %s", tt.smallest, tt.decimals, got, want)
		}
		back := ToSmallest(got, tt.decimals)
		if back.Cmp(raw) != 0 {
			t.Errorf("ToSmallest round trip = %s, want %s", back, raw)
		}
	}
}

func TestToSmallestTruncates(t *testing.T) {
	amt, _ := decimal.NewFromString("0.000000001") // below satoshi resolution
	if got := ToSmallest(amt, 8); got.Sign() != 0 {
		t.Errorf("ToSmallest = %s, want 0", got)
	}
	amt, _ = decimal.NewFromString("0.000000019")
	if got := ToSmallest(amt, 8); got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("ToSmallest = %s, want 1 (fractional satoshi truncated)", got)
	}
}

func TestParseAmount(t *testing.T) {
	if d, err := ParseAmount(""); err != nil || !d.IsZero() {
		t.Errorf("ParseAmount(\"\") = (%s, %v), want (0, nil)", d, err)
	}
	if _, err := ParseAmount("not-a-number"); err == nil {
		t.Error("expected error for malformed amount")
	}
}
