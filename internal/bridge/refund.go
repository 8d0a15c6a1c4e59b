package bridge

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/juiceswap/lds-bridge/internal/claim"
	"github.com/juiceswap/lds-bridge/internal/evm"
	"github.com/juiceswap/lds-bridge/internal/keys"
	"github.com/juiceswap/lds-bridge/pkg/helpers"
)

const defaultRefundFeeRate = 2

// Refund reclaims the user's lockup of a swap after its timeout. EVM
// lockups are refunded from the locking account; Bitcoin lockups are spent
// through the refund leaf to destination. It returns the refund
// transaction hash.
func (b *Bridge) Refund(ctx context.Context, sw Swap, destination string) (string, error) {
	var (
		txHash string
		err    error
	)
	switch sw.Kind {
	case KindChainForward, KindERC20Chain, KindSubmarine:
		txHash, err = b.refundEVM(ctx, sw)
	case KindChainReverse:
		txHash, err = b.refundBitcoin(ctx, sw, destination)
	default:
		return "", fmt.Errorf("%w: %s swaps lock nothing for the user", ErrNotRefundable, sw.Kind)
	}
	if err != nil {
		return "", err
	}

	b.log.Info("Refund sent", "swap", sw.ID, "kind", sw.Kind, "tx", txHash)
	b.mu.Lock()
	h, ok := b.flows[sw.FlowID]
	b.mu.Unlock()
	if ok {
		h.f.update(func(s *Swap) { s.RefundTxHash = txHash })
	}
	return txHash, nil
}

func (b *Bridge) refundEVM(ctx context.Context, sw Swap) (string, error) {
	if sw.LockTxHash == "" || sw.LockAmount == 0 {
		return "", fmt.Errorf("%w: nothing was locked", ErrNotRefundable)
	}
	if b.deps.Wallet == nil {
		return "", fmt.Errorf("no wallet configured")
	}
	cur, ok := b.cfg.Currency(sw.From)
	if !ok {
		return "", fmt.Errorf("%w: unknown currency %s", ErrUnsupportedPair, sw.From)
	}
	hash, err := helpers.HexToHash32(sw.PreimageHash)
	if err != nil {
		return "", err
	}

	var account common.Address
	if sw.Account != "" {
		if account, err = evm.ParseAddress(sw.Account); err != nil {
			return "", err
		}
	}
	signer, err := b.deps.Wallet.GetSigner(ctx, cur.ChainID, account)
	if err != nil {
		return "", err
	}

	p, err := lockParams(cur, sw.LockupAddress, sw.ServerAddress, hash, sw.TimeoutBlockHeight, sw.LockAmount)
	if err != nil {
		return "", err
	}
	tx, err := evm.Refund(ctx, signer, p)
	if err != nil {
		return "", err
	}
	return tx.Hex(), nil
}

func (b *Bridge) refundBitcoin(ctx context.Context, sw Swap, destination string) (string, error) {
	switch {
	case destination == "":
		return "", fmt.Errorf("refund destination is required")
	case sw.RefundKeyIndex == nil || b.deps.RefundKeys == nil:
		return "", fmt.Errorf("%w: refund key is not recoverable", ErrNotRefundable)
	case sw.SwapTree == nil || sw.ServerPublicKey == "":
		return "", fmt.Errorf("%w: swap tree unknown", ErrNotRefundable)
	}

	material, err := b.deps.RefundKeys.Material(*sw.RefundKeyIndex)
	if err != nil {
		return "", err
	}
	defer material.Wipe()

	serverKey, err := keys.ParsePublicKey(sw.ServerPublicKey)
	if err != nil {
		return "", err
	}
	tree, err := claim.ParseTree(sw.SwapTree)
	if err != nil {
		return "", err
	}
	lockTxHex, err := b.userLockTx(ctx, sw.ID)
	if err != nil {
		return "", err
	}
	d, err := claim.NewDetails(lockTxHex, tree, serverKey, material.PublicKey())
	if err != nil {
		return "", err
	}

	tx, err := claim.BuildRefundTx(claim.RefundParams{
		Details:            d,
		RefundKey:          material.PrivateKey(),
		Destination:        destination,
		TimeoutBlockHeight: sw.TimeoutBlockHeight,
		FeeRate:            b.refundFeeRate(ctx),
	}, b.cfg.ChainParams)
	if err != nil {
		return "", err
	}
	txHex, err := claim.SerializeTx(tx)
	if err != nil {
		return "", err
	}

	f := &flow{b: b, log: b.log.With("swap", sw.ID)}
	return f.broadcastBitcoin(ctx, txHex)
}

// userLockTx returns the hex of the user's Bitcoin lockup, from the service
// or else from the chain backend.
func (b *Bridge) userLockTx(ctx context.Context, swapID string) (string, error) {
	txs, err := b.deps.Service.GetChainSwapTransactions(ctx, swapID)
	if err != nil {
		return "", err
	}
	if txs.UserLock == nil || txs.UserLock.Transaction.ID == "" {
		return "", fmt.Errorf("%w: no user lockup found", ErrNotRefundable)
	}
	if txs.UserLock.Transaction.Hex != "" {
		return txs.UserLock.Transaction.Hex, nil
	}
	if b.deps.Bitcoin == nil {
		return "", fmt.Errorf("%w: user lockup hex unavailable", ErrInvalidResponse)
	}
	raw, err := b.deps.Bitcoin.GetRawTransaction(ctx, txs.UserLock.Transaction.ID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (b *Bridge) refundFeeRate(ctx context.Context) uint64 {
	if b.deps.Bitcoin == nil {
		return defaultRefundFeeRate
	}
	fees, err := b.deps.Bitcoin.GetFeeEstimates(ctx)
	if err != nil || fees == nil || fees.HalfHourFee == 0 {
		b.log.Warn("Using default refund fee rate", "error", err)
		return defaultRefundFeeRate
	}
	return fees.HalfHourFee
}
