package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/evm"
	"github.com/juiceswap/lds-bridge/internal/keys"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/status"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// flow is the state shared by every flow type: the record, the secret
// material and the status connection.
type flow struct {
	id  string
	b   *Bridge
	log *logging.Logger
	machine

	mu   sync.Mutex
	swap Swap

	material *keys.Material

	sub            StatusSubscriber
	disconnectOnce sync.Once
}

func (f *flow) snapshot() Swap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swap
}

func (f *flow) update(fn func(s *Swap)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.swap)
	f.swap.UpdatedAt = f.b.clock.Now()
}

func (f *flow) swapID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swap.ID
}

func (f *flow) transition(next StateType, err error) {
	prev, observers := f.move(next)
	f.update(func(s *Swap) {
		s.Step = next
		if err != nil {
			s.Error = err.Error()
			s.ErrorClass = Classify(err)
		}
	})

	if next != Failed {
		f.log.Debug("Flow step", "from", prev, "to", next)
	}

	n := Notification{
		FlowID:        f.id,
		PreviousState: prev,
		NextState:     next,
		Swap:          f.snapshot(),
		Err:           err,
		Time:          f.b.clock.Now(),
	}
	for _, o := range observers {
		o.Notify(n)
	}
}

func (f *flow) fail(state StateType, err error) error {
	var bridgeErr *Error
	if !errors.As(err, &bridgeErr) {
		bridgeErr = &Error{
			Class:  Classify(err),
			Step:   state,
			SwapID: f.swapID(),
			Err:    err,
		}
	}
	f.log.Error("Flow failed", "step", state, "class", bridgeErr.Class, "error", err)
	f.transition(Failed, bridgeErr)
	f.finalPopup(bridgeErr)
	return bridgeErr
}

// finalPopup replaces the pending popup of a created swap once the flow
// gave up. Declined and aborted flows report cancelled.
func (f *flow) finalPopup(err *Error) {
	if f.swapID() == "" {
		return
	}
	st := notify.StatusFailed
	switch err.Class {
	case ClassRejected, ClassCanceled:
		st = notify.StatusCancelled
	}
	f.popupMessage(st, "", err.Error())
}

// connect opens the status connection for the rest of the flow.
func (f *flow) connect(ctx context.Context) error {
	if f.b.deps.Status == nil {
		return fmt.Errorf("no status dialer configured")
	}
	sub, err := f.b.deps.Status(ctx)
	if err != nil {
		return err
	}
	f.sub = sub
	return nil
}

// disconnect closes the status connection. Safe to call on every exit path.
func (f *flow) disconnect() {
	f.disconnectOnce.Do(func() {
		if f.sub == nil {
			return
		}
		if err := f.sub.Disconnect(); err != nil {
			f.log.Warn("Failed to disconnect status channel", "error", err)
		}
	})
}

// await blocks until the swap reaches target. When the status channel drops
// or the await timeout elapses, the REST status decides before the wait
// fails with ErrDisconnected or ErrSwapTimedOut.
func (f *flow) await(ctx context.Context, target status.Status) error {
	waitCtx := ctx
	if timeout := f.b.cfg.AwaitTimeout; timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := f.sub.SubscribeToSwapUntil(waitCtx, f.swapID(), target)
	if err != nil {
		timedOut := ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
		if !timedOut && !errors.Is(err, status.ErrDisconnected) {
			return err
		}

		reached, restErr := f.restStatus(ctx, target)
		switch {
		case restErr != nil:
			var failed *status.FailedError
			if errors.As(restErr, &failed) {
				return restErr
			}
			f.log.Warn("Status fallback failed", "target", target, "error", restErr)
		case reached:
			f.log.Info("Status channel lost, REST status reached target", "target", target)
			f.update(func(s *Swap) { s.Status = target })
			return nil
		}

		if timedOut {
			return fmt.Errorf("%w: no %s after %s", ErrSwapTimedOut, target, f.b.cfg.AwaitTimeout)
		}
		return err
	}

	f.update(func(s *Swap) { s.Status = target })
	return nil
}

// restStatus asks the swap service directly whether the swap reached
// target. A failure status yields *status.FailedError.
func (f *flow) restStatus(ctx context.Context, target status.Status) (bool, error) {
	id := f.swapID()
	resp, err := f.b.deps.Service.GetSwapStatus(ctx, id)
	if err != nil {
		return false, err
	}
	st := status.Status(resp.Status)
	if st.IsFailure() {
		return false, &status.FailedError{SwapID: id, Status: st, Reason: resp.FailureReason}
	}
	return st.Reached(target), nil
}

func (f *flow) generateKeys() error {
	m, err := f.b.deps.Keys.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate swap keys: %w", err)
	}
	f.material = m
	f.update(func(s *Swap) {
		s.PreimageHash = m.PreimageHashHex()
		if m.Derived {
			idx := m.Index
			s.RefundKeyIndex = &idx
		}
	})
	return nil
}

func (f *flow) wipe() {
	if f.material != nil {
		f.material.Wipe()
	}
}

func (f *flow) currency(symbol string) (config.Currency, error) {
	cur, ok := f.b.cfg.Currency(symbol)
	if !ok {
		return config.Currency{}, fmt.Errorf("%w: unknown currency %s", ErrUnsupportedPair, symbol)
	}
	return cur, nil
}

func (f *flow) signer(ctx context.Context, cur config.Currency, account common.Address) (evm.Signer, error) {
	if f.b.deps.Wallet == nil {
		return nil, fmt.Errorf("no wallet configured")
	}
	s, err := f.b.deps.Wallet.GetSigner(ctx, cur.ChainID, account)
	if err != nil {
		return nil, err
	}
	f.update(func(sw *Swap) {
		sw.ChainID = cur.ChainID
		sw.Account = s.Address().Hex()
	})
	return s, nil
}

// lockEvm submits the lockup and raises the pending popup.
func (f *flow) lockEvm(ctx context.Context, signer evm.Signer, p evm.LockParams) error {
	res, err := evm.Lock(ctx, signer, f.b.deps.Allowance, p)
	if res != nil && res.ApproveTx != (common.Hash{}) {
		f.update(func(s *Swap) { s.ApproveTxHash = res.ApproveTx.Hex() })
	}
	if err != nil {
		return err
	}

	f.update(func(s *Swap) {
		s.LockTxHash = res.LockTx.Hex()
		s.LockAmount = p.Amount
	})
	f.log.Info("Lockup sent", "tx", res.LockTx.Hex(), "chain", signer.ChainID())
	f.popup(notify.StatusPending, res.LockTx.Hex())
	return nil
}

func (f *flow) popup(st notify.Status, txHash string) {
	f.popupMessage(st, txHash, "")
}

func (f *flow) popupMessage(st notify.Status, txHash, msg string) {
	if f.b.deps.Popups == nil {
		return
	}
	s := f.snapshot()
	f.b.deps.Popups.AddPopup(notify.Popup{
		Type:      "bridge",
		SwapID:    s.ID,
		Status:    st,
		Direction: string(s.Kind),
		TxHash:    txHash,
		Message:   msg,
	}, notify.StatusKey(s.ID, st), f.b.cfg.PopupDismiss)
}

// helpMeClaim releases the preimage so the service claims the EVM lockup
// for the user.
func (f *flow) helpMeClaim(ctx context.Context) error {
	known, err := f.b.deps.Indexer.CheckPreimageHash(ctx, f.material.PreimageHashHex())
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrLockupNotIndexed, f.material.PreimageHashHex())
	}

	res, err := f.b.deps.Indexer.HelpMeClaim(ctx, f.material.PreimageHex(), f.material.PreimageHashHex())
	if err != nil {
		return err
	}
	f.update(func(s *Swap) { s.ClaimTxID = res.TxHash })
	f.log.Info("Claim requested", "tx", res.TxHash)
	f.popup(notify.StatusCompleted, res.TxHash)
	return nil
}

func checkLimits(amount uint64, l swapapi.Limits) error {
	if amount < l.Minimal || (l.Maximal > 0 && amount > l.Maximal) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfBounds, amount, l.Minimal, l.Maximal)
	}
	return nil
}

// serviceSymbol maps a currency to the symbol the swap service uses.
// Lightning settles as BTC.
func serviceSymbol(cur config.Currency) string {
	if cur.Kind == config.KindLightning {
		return "BTC"
	}
	return cur.Symbol
}

func lockParams(cur config.Currency, contract, server string, preimageHash [32]byte,
	timelock uint32, amount uint64) (evm.LockParams, error) {

	contractAddr, err := evm.ParseAddress(contract)
	if err != nil {
		return evm.LockParams{}, fmt.Errorf("%w: lockup address: %w", ErrInvalidResponse, err)
	}
	serverAddr, err := evm.ParseAddress(server)
	if err != nil {
		return evm.LockParams{}, fmt.Errorf("%w: server address: %w", ErrInvalidResponse, err)
	}

	p := evm.LockParams{
		Contract:     contractAddr,
		PreimageHash: preimageHash,
		ClaimAddress: serverAddr,
		Timelock:     uint64(timelock),
		Amount:       amount,
	}
	if cur.Kind == config.KindERC20 {
		if err := cur.Validate(); err != nil {
			return evm.LockParams{}, fmt.Errorf("%w: %w", ErrUnsupportedPair, err)
		}
		if err := evm.CheckPrecision(amount, cur.Decimals); err != nil {
			return evm.LockParams{}, fmt.Errorf("%w: %w", ErrAmountOutOfBounds, err)
		}
		p.Token = cur.TokenAddress()
		p.Decimals = cur.Decimals
	}
	return p, nil
}
