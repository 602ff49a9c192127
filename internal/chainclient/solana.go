package chainclient

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/Klingon-tech/klingnet-custody/internal/log"
)

// SolanaClient wraps a JSON-RPC connection to a Solana node.
type SolanaClient struct {
	rpc *rpc.Client
}

// NewSolana creates a client for the given RPC endpoint.
func NewSolana(endpoint string) *SolanaClient {
	return &SolanaClient{rpc: rpc.New(endpoint)}
}

// Balance returns the lamport balance of an address. Accounts the cluster
// has never seen report zero, which is correct for fresh deposit addresses.
func (c *SolanaClient) Balance(ctx context.Context, address string) (uint64, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("parse address: %w", err)
	}
	out, err := c.rpc.GetBalance(ctx, pub, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return out.Value, nil
}

// TokenBalance returns the raw SPL token amount held by the owner's
// associated token account for the given mint. A missing associated account
// means the owner never received the token and is a legitimate zero.
func (c *SolanaClient) TokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	ownerPub, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return 0, fmt.Errorf("parse owner: %w", err)
	}
	mintPub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("parse mint: %w", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerPub, mintPub)
	if err != nil {
		return 0, fmt.Errorf("derive token account: %w", err)
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentFinalized)
	if err != nil {
		if strings.Contains(err.Error(), "could not find account") {
			return 0, nil
		}
		return 0, fmt.Errorf("get token balance: %w", err)
	}
	var amount uint64
	if _, err := fmt.Sscan(out.Value.Amount, &amount); err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

// TransferNative sends lamports from the key's account and waits for the
// signature to reach confirmed commitment. priv is a 64-byte ed25519 key.
func (c *SolanaClient) TransferNative(ctx context.Context, priv ed25519.PrivateKey, to string, lamports uint64) (string, error) {
	signer := solana.PrivateKey(priv)
	fromPub := signer.PublicKey()
	toPub, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("parse recipient: %w", err)
	}

	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, fromPub, toPub).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(fromPub),
	)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(fromPub) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	log.Chain.Debug().Str("signature", sig.String()).Msg("solana transfer broadcast")

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return sig.String(), err
	}
	return sig.String(), nil
}

// confirmWaitMax bounds the inline wait for confirmed commitment even when
// the caller's context has no deadline. The status monitor owns the
// signature after that.
const confirmWaitMax = 90 * time.Second

func (c *SolanaClient) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, confirmWaitMax)
	defer cancel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for confirmation %s: %w", sig, ctx.Err())
		case <-ticker.C:
			out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction failed on chain: %v", st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// SignatureStatus reports whether a signature has been confirmed and whether
// it failed on chain. A signature the cluster does not know yet reports
// neither confirmed nor failed.
func (c *SolanaClient) SignatureStatus(ctx context.Context, signature string) (confirmed, failed bool, err error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, false, fmt.Errorf("parse signature: %w", err)
	}
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, false, fmt.Errorf("get signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return false, false, nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return false, true, nil
	}
	ok := st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	return ok, false, nil
}
