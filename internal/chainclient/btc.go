package chainclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-custody/internal/log"
)

// DustThreshold is the smallest change output worth creating, in satoshi.
// Anything below it is left to the miners as extra fee.
const DustThreshold = 546

// BTCClient talks to an Esplora-compatible block-explorer REST API
// (blockstream.info and self-hosted esplora instances).
type BTCClient struct {
	baseURL string
	params  *chaincfg.Params
	http    *http.Client
}

// NewBTC creates a client for the given explorer base URL.
func NewBTC(baseURL string, testnet bool) *BTCClient {
	params := &chaincfg.MainNetParams
	if testnet {
		params = &chaincfg.TestNet3Params
	}
	return &BTCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		params:  params,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

// UTXO is one unspent output of an address.
type UTXO struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"` // satoshi
}

type addressStats struct {
	ChainStats struct {
		FundedSum int64 `json:"funded_txo_sum"`
		SpentSum  int64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
}

func (c *BTCClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("GET %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &httpError{status: resp.StatusCode, body: string(body), path: path}
	}
	return json.Unmarshal(body, out)
}

type httpError struct {
	status int
	body   string
	path   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.path, e.status, strings.TrimSpace(e.body))
}

func (e *httpError) notFound() bool { return e.status == http.StatusNotFound }

// Balance returns the confirmed balance in satoshi. An unknown address is a
// legitimate zero (new, unfunded), not an error; only transport or server
// failures are surfaced.
func (c *BTCClient) Balance(ctx context.Context, address string) (int64, error) {
	var stats addressStats
	err := c.get(ctx, "/address/"+address, &stats)
	if err != nil {
		var he *httpError
		if errors.As(err, &he) && he.notFound() {
			return 0, nil
		}
		return 0, err
	}
	return stats.ChainStats.FundedSum - stats.ChainStats.SpentSum, nil
}

// UTXOs lists the confirmed unspent outputs of an address.
func (c *BTCClient) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var utxos []UTXO
	err := c.get(ctx, "/address/"+address+"/utxo", &utxos)
	if err != nil {
		var he *httpError
		if errors.As(err, &he) && he.notFound() {
			return nil, nil
		}
		return nil, err
	}
	return utxos, nil
}

// Broadcast submits a raw transaction and returns its txid. A non-200
// response surfaces the server's error body so the engine can record it.
func (c *BTCClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("broadcast: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broadcast rejected (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
}

// Confirmed reports whether a transaction has at least one confirmation.
func (c *BTCClient) Confirmed(ctx context.Context, txid string) (bool, error) {
	var st txStatus
	if err := c.get(ctx, "/tx/"+txid+"/status", &st); err != nil {
		return false, err
	}
	return st.Confirmed, nil
}

// TransferNative builds, signs, and broadcasts a P2PKH transaction spending
// from one address: inputs cover amount+fee, one output to the recipient,
// and a change output back to the source when above the dust threshold.
// amount and fee are in satoshi.
func (c *BTCClient) TransferNative(ctx context.Context, priv []byte, from, to string, amount, fee int64) (string, error) {
	utxos, err := c.UTXOs(ctx, from)
	if err != nil {
		return "", fmt.Errorf("fetch utxos: %w", err)
	}

	fromAddr, err := btcutil.DecodeAddress(from, c.params)
	if err != nil {
		return "", fmt.Errorf("decode source address: %w", err)
	}
	toAddr, err := btcutil.DecodeAddress(to, c.params)
	if err != nil {
		return "", fmt.Errorf("decode recipient address: %w", err)
	}
	fromScript, err := txscript.PayToAddrScript(fromAddr)
	if err != nil {
		return "", fmt.Errorf("source script: %w", err)
	}
	toScript, err := txscript.PayToAddrScript(toAddr)
	if err != nil {
		return "", fmt.Errorf("recipient script: %w", err)
	}

	// Select inputs oldest-first until the target is covered.
	target := amount + fee
	tx := wire.NewMsgTx(wire.TxVersion)
	var selected []UTXO
	var total int64
	for _, u := range utxos {
		h, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return "", fmt.Errorf("parse utxo txid: %w", err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, u.Vout), nil, nil))
		selected = append(selected, u)
		total += u.Value
		if total >= target {
			break
		}
	}
	if total < target {
		return "", fmt.Errorf("insufficient utxo value: have %d, need %d", total, target)
	}

	tx.AddTxOut(wire.NewTxOut(amount, toScript))
	if change := total - target; change > DustThreshold {
		tx.AddTxOut(wire.NewTxOut(change, fromScript))
	}

	key, _ := btcec.PrivKeyFromBytes(priv)
	for i := range tx.TxIn {
		sigScript, err := txscript.SignatureScript(tx, i, fromScript, txscript.SigHashAll, key, true)
		if err != nil {
			return "", fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}

	txid, err := c.Broadcast(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", err
	}
	log.Chain.Debug().Str("txid", txid).Int("inputs", len(selected)).Msg("btc transfer broadcast")
	return txid, nil
}
