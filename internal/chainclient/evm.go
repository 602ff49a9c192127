package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/wallet"
)

// NativeTransferGas is the fixed gas limit of a plain value transfer.
const NativeTransferGas = 21000

// receiptPollInterval is how often a broadcast waits between receipt checks.
const receiptPollInterval = 3 * time.Second

// receiptWaitMax bounds the inline wait for a broadcast's receipt even when
// the caller's context has no deadline. The status monitor owns the
// transaction after that.
const receiptWaitMax = 5 * time.Minute

// EVMClient talks to an EVM chain over JSON-RPC.
type EVMClient struct {
	url     string
	chainID *big.Int

	// Gas is the bounded gas-price history for this chain, fed by the
	// daemon's sampling job and consulted before live fee calls.
	Gas *GasTracker

	dialOnce sync.Once
	ec       *ethclient.Client
	dialErr  error
}

// NewEVM creates a client for the given JSON-RPC endpoint. The connection
// is established lazily on first use.
func NewEVM(url string, chainID int64) *EVMClient {
	return &EVMClient{url: url, chainID: big.NewInt(chainID), Gas: &GasTracker{}}
}

func (c *EVMClient) client() (*ethclient.Client, error) {
	c.dialOnce.Do(func() {
		c.ec, c.dialErr = ethclient.Dial(c.url)
	})
	if c.dialErr != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, c.dialErr)
	}
	return c.ec, nil
}

// Close releases the underlying RPC connection.
func (c *EVMClient) Close() {
	if c.ec != nil {
		c.ec.Close()
	}
}

// Balance returns the native balance in wei.
func (c *EVMClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	ec, err := c.client()
	if err != nil {
		return nil, err
	}
	bal, err := ec.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance %s: %w", address, err)
	}
	return bal, nil
}

// erc20Call ABI-encodes selector(args...) for the minimal ERC-20 surface.
func erc20Call(signature string, args ...common.Address) []byte {
	selector := ethcrypto.Keccak256([]byte(signature))[:4]
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector...)
	for _, a := range args {
		data = append(data, common.LeftPadBytes(a.Bytes(), 32)...)
	}
	return data
}

func (c *EVMClient) callContract(ctx context.Context, contract string, data []byte) ([]byte, error) {
	ec, err := c.client()
	if err != nil {
		return nil, err
	}
	to := common.HexToAddress(contract)
	out, err := ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %w", contract, err)
	}
	return out, nil
}

// TokenBalance returns an ERC-20 balance in the token's smallest unit.
func (c *EVMClient) TokenBalance(ctx context.Context, contract, address string) (*big.Int, error) {
	out, err := c.callContract(ctx, contract, erc20Call("balanceOf(address)", common.HexToAddress(address)))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// TokenDecimals reads decimals() from the token contract.
func (c *EVMClient) TokenDecimals(ctx context.Context, contract string) (int32, error) {
	out, err := c.callContract(ctx, contract, erc20Call("decimals()"))
	if err != nil {
		return 0, err
	}
	d := new(big.Int).SetBytes(out)
	if !d.IsInt64() || d.Int64() > 77 {
		return 0, fmt.Errorf("implausible decimals from %s", contract)
	}
	return int32(d.Int64()), nil
}

// GasPrice returns the current gas price, preferring a fresh sample from the
// tracker over a live call.
func (c *EVMClient) GasPrice(ctx context.Context) (*big.Int, error) {
	if price, ok := c.Gas.Latest(); ok {
		return price, nil
	}
	ec, err := c.client()
	if err != nil {
		return nil, err
	}
	price, err := ec.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_gasPrice: %w", err)
	}
	c.Gas.Record(price)
	return price, nil
}

// SampleGasPrice fetches the live gas price and records it in the tracker.
// Called by the daemon's recurring sampling job.
func (c *EVMClient) SampleGasPrice(ctx context.Context) error {
	ec, err := c.client()
	if err != nil {
		return err
	}
	price, err := ec.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("eth_gasPrice: %w", err)
	}
	c.Gas.Record(price)
	return nil
}

// NativeFee estimates the fee in wei of a plain value transfer.
func (c *EVMClient) NativeFee(ctx context.Context) (*big.Int, error) {
	price, err := c.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(price, big.NewInt(NativeTransferGas)), nil
}

// TransferNative signs and broadcasts a value transfer, waits for the
// receipt, and returns the tx hash and the actual fee paid. A receipt with
// status != 1 is a failure.
func (c *EVMClient) TransferNative(ctx context.Context, priv []byte, to string, amount *big.Int) (string, *big.Int, error) {
	return c.send(ctx, priv, common.HexToAddress(to), amount, NativeTransferGas, nil)
}

// TransferToken signs and broadcasts an ERC-20 transfer. Gas is estimated
// against the call.
func (c *EVMClient) TransferToken(ctx context.Context, priv []byte, contract, to string, amount *big.Int) (string, *big.Int, error) {
	ec, err := c.client()
	if err != nil {
		return "", nil, err
	}

	data := erc20Call("transfer(address,uint256)", common.HexToAddress(to))
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)

	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return "", nil, fmt.Errorf("parse private key: %w", err)
	}
	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	contractAddr := common.HexToAddress(contract)

	gasLimit, err := ec.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contractAddr, Data: data})
	if err != nil {
		return "", nil, fmt.Errorf("estimate gas: %w", err)
	}

	return c.send(ctx, priv, contractAddr, big.NewInt(0), gasLimit, data)
}

// send builds, signs, broadcasts, and waits for one transaction.
func (c *EVMClient) send(ctx context.Context, priv []byte, to common.Address, value *big.Int, gasLimit uint64, data []byte) (string, *big.Int, error) {
	ec, err := c.client()
	if err != nil {
		return "", nil, err
	}

	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return "", nil, fmt.Errorf("parse private key: %w", err)
	}
	defer wallet.Zero(priv)

	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	nonce, err := ec.PendingNonceAt(ctx, from)
	if err != nil {
		return "", nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return "", nil, err
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := ec.SendTransaction(ctx, signed); err != nil {
		return "", nil, fmt.Errorf("broadcast: %w", err)
	}
	hash := signed.Hash()

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return hash.Hex(), nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash.Hex(), nil, fmt.Errorf("transaction %s reverted (status %d)", hash.Hex(), receipt.Status)
	}

	fee := new(big.Int).Mul(gasPrice, big.NewInt(int64(receipt.GasUsed)))
	log.Chain.Debug().Str("tx", hash.Hex()).Uint64("gas_used", receipt.GasUsed).Msg("evm transfer mined")
	return hash.Hex(), fee, nil
}

func (c *EVMClient) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ec, err := c.client()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, receiptWaitMax)
	defer cancel()
	for {
		receipt, err := ec.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-time.After(receiptPollInterval):
		}
	}
}

// Receipt reports whether a transaction is mined and whether it succeeded.
// (false, false, nil) means still pending.
func (c *EVMClient) Receipt(ctx context.Context, txHash string) (mined, success bool, err error) {
	ec, err := c.client()
	if err != nil {
		return false, false, err
	}
	receipt, err := ec.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return false, false, nil
		}
		return false, false, fmt.Errorf("receipt %s: %w", txHash, err)
	}
	return true, receipt.Status == types.ReceiptStatusSuccessful, nil
}
