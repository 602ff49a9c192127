package chainclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Klingon-tech/klingnet-custody/internal/derive"
	"github.com/Klingon-tech/klingnet-custody/internal/log"
)

// TronClient talks to a Tron full node's HTTP API (the /wallet endpoints
// exposed by java-tron and TronGrid).
type TronClient struct {
	baseURL string
	http    *http.Client
}

// NewTron creates a client for the given full-node HTTP endpoint.
func NewTron(baseURL string) *TronClient {
	return &TronClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *TronClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("POST %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

// Balance returns the TRX balance in sun. The node returns an empty object
// for accounts that have never been activated, which is a legitimate zero.
func (c *TronClient) Balance(ctx context.Context, address string) (int64, error) {
	hexAddr, err := derive.TronHexAddress(address)
	if err != nil {
		return 0, err
	}
	var out struct {
		Balance int64 `json:"balance"`
	}
	payload := map[string]any{"address": hexAddr}
	if err := c.post(ctx, "/wallet/getaccount", payload, &out); err != nil {
		return 0, fmt.Errorf("get account: %w", err)
	}
	return out.Balance, nil
}

type triggerResult struct {
	Result struct {
		Result  bool   `json:"result"`
		Message string `json:"message"`
	} `json:"result"`
	ConstantResult []string        `json:"constant_result"`
	Transaction    json.RawMessage `json:"transaction"`
}

// TokenBalance returns the raw TRC20 balance of the owner at the given
// contract via a constant balanceOf call.
func (c *TronClient) TokenBalance(ctx context.Context, owner, contract string) (*big.Int, error) {
	ownerHex, err := derive.TronHexAddress(owner)
	if err != nil {
		return nil, err
	}
	contractHex, err := derive.TronHexAddress(contract)
	if err != nil {
		return nil, err
	}
	// balanceOf(address) takes the 20-byte body left-padded to 32 bytes.
	param := strings.Repeat("0", 24) + ownerHex[2:]
	payload := map[string]any{
		"owner_address":     ownerHex,
		"contract_address":  contractHex,
		"function_selector": "balanceOf(address)",
		"parameter":         param,
	}
	var out triggerResult
	if err := c.post(ctx, "/wallet/triggerconstantcontract", payload, &out); err != nil {
		return nil, fmt.Errorf("trigger balanceOf: %w", err)
	}
	if len(out.ConstantResult) == 0 {
		return nil, fmt.Errorf("trigger balanceOf: empty result (%s)", decodeHexMessage(out.Result.Message))
	}
	raw, err := hex.DecodeString(out.ConstantResult[0])
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf result: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}

type tronTx struct {
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Signature  []string        `json:"signature,omitempty"`
	Visible    bool            `json:"visible,omitempty"`
	Error      string          `json:"Error,omitempty"`
}

// TransferNative sends TRX (amount in sun) and returns the transaction id.
// The node builds the unsigned transaction; we sign its txID hash locally
// and broadcast.
func (c *TronClient) TransferNative(ctx context.Context, priv []byte, from, to string, amount int64) (string, error) {
	fromHex, err := derive.TronHexAddress(from)
	if err != nil {
		return "", err
	}
	toHex, err := derive.TronHexAddress(to)
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"owner_address": fromHex,
		"to_address":    toHex,
		"amount":        amount,
	}
	var tx tronTx
	if err := c.post(ctx, "/wallet/createtransaction", payload, &tx); err != nil {
		return "", fmt.Errorf("create transaction: %w", err)
	}
	if tx.Error != "" {
		return "", fmt.Errorf("create transaction: %s", tx.Error)
	}
	if tx.TxID == "" {
		return "", fmt.Errorf("create transaction: node returned no txID")
	}
	return c.signAndBroadcast(ctx, &tx, priv)
}

// TransferToken sends a TRC20 transfer and returns the transaction id.
// feeLimit caps the energy spend in sun.
func (c *TronClient) TransferToken(ctx context.Context, priv []byte, from, to, contract string, amount *big.Int, feeLimit int64) (string, error) {
	fromHex, err := derive.TronHexAddress(from)
	if err != nil {
		return "", err
	}
	toHex, err := derive.TronHexAddress(to)
	if err != nil {
		return "", err
	}
	contractHex, err := derive.TronHexAddress(contract)
	if err != nil {
		return "", err
	}
	param := strings.Repeat("0", 24) + toHex[2:] +
		fmt.Sprintf("%064x", amount)
	payload := map[string]any{
		"owner_address":     fromHex,
		"contract_address":  contractHex,
		"function_selector": "transfer(address,uint256)",
		"parameter":         param,
		"fee_limit":         feeLimit,
	}
	var out triggerResult
	if err := c.post(ctx, "/wallet/triggersmartcontract", payload, &out); err != nil {
		return "", fmt.Errorf("trigger transfer: %w", err)
	}
	if !out.Result.Result {
		return "", fmt.Errorf("trigger transfer: %s", decodeHexMessage(out.Result.Message))
	}
	var tx tronTx
	if err := json.Unmarshal(out.Transaction, &tx); err != nil {
		return "", fmt.Errorf("decode trigger transaction: %w", err)
	}
	return c.signAndBroadcast(ctx, &tx, priv)
}

// signAndBroadcast signs the transaction id (which the node computes as the
// SHA-256 of raw_data) with the secp256k1 key and submits the result.
func (c *TronClient) signAndBroadcast(ctx context.Context, tx *tronTx, priv []byte) (string, error) {
	txHash, err := hex.DecodeString(tx.TxID)
	if err != nil {
		return "", fmt.Errorf("decode txID: %w", err)
	}
	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	sig, err := ethcrypto.Sign(txHash, key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	tx.Signature = []string{hex.EncodeToString(sig)}

	var out struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/wallet/broadcasttransaction", tx, &out); err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	if !out.Result {
		return "", fmt.Errorf("broadcast rejected (%s): %s", out.Code, decodeHexMessage(out.Message))
	}
	log.Chain.Debug().Str("txid", tx.TxID).Msg("tron transfer broadcast")
	return tx.TxID, nil
}

// TransactionResult reports whether a transaction has been included in a
// block and whether its contract execution succeeded. An unknown id reports
// neither confirmed nor failed.
func (c *TronClient) TransactionResult(ctx context.Context, txid string) (confirmed, failed bool, err error) {
	var out struct {
		ID          string `json:"id"`
		BlockNumber int64  `json:"blockNumber"`
		Receipt     struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	payload := map[string]any{"value": txid}
	if err := c.post(ctx, "/wallet/gettransactioninfobyid", payload, &out); err != nil {
		return false, false, fmt.Errorf("get transaction info: %w", err)
	}
	if out.ID == "" || out.BlockNumber == 0 {
		return false, false, nil
	}
	// Plain TRX transfers carry no receipt result; contract calls must
	// report SUCCESS.
	if out.Receipt.Result != "" && out.Receipt.Result != "SUCCESS" {
		return true, true, nil
	}
	return true, false, nil
}

// Node error messages come back hex-encoded.
func decodeHexMessage(msg string) string {
	if msg == "" {
		return "no message"
	}
	if decoded, err := hex.DecodeString(msg); err == nil {
		return string(decoded)
	}
	return msg
}
