package transfer

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/chainclient"
	"github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
	"github.com/Klingon-tech/klingnet-custody/internal/wallet"
)

// trc20FeeLimitSun caps the energy spend for a TRC20 transfer, in sun.
const trc20FeeLimitSun = 10_000_000

// estimateFee returns the network-fee estimate in whole native units. EVM
// fees are computed live from the current gas price; the other families use
// the registry's flat approximation. The BTC figure ignores the UTXO count,
// so large sweeps may underpay until a size-aware estimate replaces it.
func (e *Engine) estimateFee(ctx context.Context, base chain.Params, asset string) (decimal.Decimal, error) {
	if base.Family == chain.FamilyEVM {
		cl, err := e.clients.EVM(base.Key)
		if err != nil {
			return decimal.Zero, err
		}
		wei, err := cl.NativeFee(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		fee := chain.FromSmallest(wei, base.Decimals)
		if asset != "" {
			// Token transfers burn more gas than a plain send. Triple the
			// native estimate; the receipt reports the true cost.
			fee = fee.Mul(decimal.NewFromInt(3))
		}
		return fee, nil
	}
	return chain.ParseAmount(base.WithdrawFee)
}

// erc20Decimals reads decimals() from the token contract. The contract is
// authoritative; the registry value covers contracts whose read fails.
func (e *Engine) erc20Decimals(ctx context.Context, cl *chainclient.EVMClient, base chain.Params, asset, contract string) int32 {
	d, err := cl.TokenDecimals(ctx, contract)
	if err != nil {
		log.Sweep.Warn().Err(err).Str("contract", contract).
			Msg("decimals() call failed, using registry value")
		return chain.TokenDecimals(base.Key, asset)
	}
	return d
}

// send dispatches to the chain-specific signing path. It returns the
// transaction hash and the actual fee in whole native units. The private
// key exists only for the duration of this call.
func (e *Engine) send(ctx context.Context, w *storage.HDWallet, base chain.Params, asset, contract string, src *storage.WalletAddress, to string, amount, feeEstimate decimal.Decimal) (string, decimal.Decimal, error) {
	key, err := e.deriveSource(w, base, src)
	if err != nil {
		return "", decimal.Zero, err
	}
	defer wallet.Zero(key.PrivateKey)

	switch base.Family {
	case chain.FamilyEVM:
		cl, err := e.clients.EVM(base.Key)
		if err != nil {
			return "", decimal.Zero, err
		}
		if asset == "" {
			wei := chain.ToSmallest(amount, base.Decimals)
			hash, feeWei, err := cl.TransferNative(ctx, key.PrivateKey, to, wei)
			if err != nil {
				return "", decimal.Zero, &BroadcastError{Chain: base.Key, Err: err}
			}
			return hash, chain.FromSmallest(feeWei, base.Decimals), nil
		}
		units := chain.ToSmallest(amount, e.erc20Decimals(ctx, cl, base, asset, contract))
		hash, feeWei, err := cl.TransferToken(ctx, key.PrivateKey, contract, to, units)
		if err != nil {
			return "", decimal.Zero, &BroadcastError{Chain: base.Key, Err: err}
		}
		return hash, chain.FromSmallest(feeWei, base.Decimals), nil

	case chain.FamilyBTC:
		cl, err := e.clients.BTC(base.Key)
		if err != nil {
			return "", decimal.Zero, err
		}
		sats := chain.ToSmallest(amount, base.Decimals).Int64()
		feeSats := chain.ToSmallest(feeEstimate, base.Decimals).Int64()
		txid, err := cl.TransferNative(ctx, key.PrivateKey, src.Address, to, sats, feeSats)
		if err != nil {
			return "", decimal.Zero, &BroadcastError{Chain: base.Key, Err: err}
		}
		return txid, feeEstimate, nil

	case chain.FamilySOL:
		if asset != "" {
			return "", decimal.Zero, fmt.Errorf("SPL token transfers are not supported; sweep %s manually", asset)
		}
		cl, err := e.clients.Solana(base.Key)
		if err != nil {
			return "", decimal.Zero, err
		}
		lamports := chain.ToSmallest(amount, base.Decimals).Uint64()
		sig, err := cl.TransferNative(ctx, ed25519.PrivateKey(key.PrivateKey), to, lamports)
		if err != nil {
			return "", decimal.Zero, &BroadcastError{Chain: base.Key, Err: err}
		}
		return sig, feeEstimate, nil

	case chain.FamilyTRX:
		cl, err := e.clients.Tron(base.Key)
		if err != nil {
			return "", decimal.Zero, err
		}
		if asset == "" {
			sun := chain.ToSmallest(amount, base.Decimals).Int64()
			txid, err := cl.TransferNative(ctx, key.PrivateKey, src.Address, to, sun)
			if err != nil {
				return "", decimal.Zero, &BroadcastError{Chain: base.Key, Err: err}
			}
			return txid, feeEstimate, nil
		}
		units := chain.ToSmallest(amount, chain.TokenDecimals(base.Key, asset))
		txid, err := cl.TransferToken(ctx, key.PrivateKey, src.Address, to, contract, units, trc20FeeLimitSun)
		if err != nil {
			return "", decimal.Zero, &BroadcastError{Chain: base.Key, Err: err}
		}
		return txid, feeEstimate, nil
	}
	return "", decimal.Zero, fmt.Errorf("%w: family %q", chain.ErrUnsupportedChain, base.Family)
}
