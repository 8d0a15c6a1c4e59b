package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/ldsapi"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/status"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
)

// LightningState carries a submarine or reverse swap between steps.
type LightningState struct {
	*flow

	from, to config.Currency
	amount   uint64

	destination  string
	account      common.Address
	claimAddress common.Address

	submarinePair swapapi.SubmarinePair
	reversePair   swapapi.ReversePair

	invoice     string
	paymentHash [32]byte

	submarine *swapapi.SubmarineResponse
	reverse   *swapapi.ReverseResponse

	// lockup is set once the indexer reported the EVM lockup.
	lockup *ldsapi.Lockup
}

func (b *Bridge) newLightningState(f *flow, from, to string, amount uint64) (*LightningState, error) {
	s := &LightningState{flow: f, amount: amount}
	var err error
	if s.from, err = f.currency(from); err != nil {
		return nil, err
	}
	if s.to, err = f.currency(to); err != nil {
		return nil, err
	}
	return s, nil
}

// submarineSteps pay a Lightning invoice from an EVM lockup. The service
// pays the invoice and claims the lockup itself, so there is nothing to
// wait for once the lock is sent.
var submarineSteps = []step[LightningState]{
	{QuotePair, quoteSubmarinePairStep},
	{RequestInvoice, requestInvoiceStep},
	{KeyGen, submarineKeyGenStep},
	{CreateSwap, createSubmarineSwapStep},
	{LockEvm, submarineLockStep},
}

func (b *Bridge) runSubmarine(ctx context.Context, f *flow, d Submarine) error {
	s, err := b.newLightningState(f, d.From, d.To, d.Amount)
	if err != nil {
		return f.fail(StateInit, err)
	}
	if !s.from.IsEVM() || s.to.Kind != config.KindLightning {
		return f.fail(StateInit, fmt.Errorf("%w: %s -> %s is not a submarine swap",
			ErrUnsupportedPair, d.From, d.To))
	}
	s.destination = d.Destination
	s.account = d.Account
	return run(ctx, f, s, submarineSteps)
}

func quoteSubmarinePairStep(ctx context.Context, s *LightningState) error {
	pairs, err := s.b.deps.Service.GetSubmarinePairs(ctx)
	if err != nil {
		return err
	}
	pair, err := pairs.Get(serviceSymbol(s.from), serviceSymbol(s.to))
	if err != nil {
		return err
	}
	if err := checkLimits(s.amount, pair.Limits); err != nil {
		return err
	}
	s.submarinePair = pair
	return nil
}

func requestInvoiceStep(ctx context.Context, s *LightningState) error {
	invoice := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s.destination)), "lightning:")
	if !isInvoice(invoice) {
		if s.b.deps.Invoices == nil {
			return ErrNoInvoices
		}
		var err error
		invoice, err = s.b.deps.Invoices.Invoice(ctx, s.destination, s.amount)
		if err != nil {
			return fmt.Errorf("failed to fetch invoice: %w", err)
		}
	}

	hash, err := s.decodeInvoice(invoice, s.amount)
	if err != nil {
		return err
	}
	s.invoice = invoice
	s.paymentHash = hash
	s.update(func(sw *Swap) {
		sw.Invoice = invoice
		sw.PreimageHash = fmt.Sprintf("%x", hash)
	})
	return nil
}

func isInvoice(s string) bool {
	return strings.HasPrefix(s, "ln") && !strings.HasPrefix(s, "lnurl")
}

// decodeInvoice returns the payment hash of invoice after checking it pays
// exactly sats.
func (f *flow) decodeInvoice(invoice string, sats uint64) ([32]byte, error) {
	inv, err := zpay32.Decode(invoice, f.b.cfg.ChainParams)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %w", ErrInvalidInvoice, err)
	}
	if inv.PaymentHash == nil {
		return [32]byte{}, fmt.Errorf("%w: no payment hash", ErrInvalidInvoice)
	}
	if inv.MilliSat == nil {
		return [32]byte{}, fmt.Errorf("%w: no amount", ErrInvalidInvoice)
	}
	if got := uint64(inv.MilliSat.ToSatoshis()); got != sats {
		return [32]byte{}, fmt.Errorf("%w: amount %d, expected %d", ErrInvalidInvoice, got, sats)
	}
	return *inv.PaymentHash, nil
}

// submarineKeyGenStep generates the refund key. The swap is bound to the
// invoice's payment hash, not to our preimage.
func submarineKeyGenStep(_ context.Context, s *LightningState) error {
	if err := s.generateKeys(); err != nil {
		return err
	}
	s.update(func(sw *Swap) { sw.PreimageHash = fmt.Sprintf("%x", s.paymentHash) })
	return nil
}

func createSubmarineSwapStep(ctx context.Context, s *LightningState) error {
	resp, err := s.b.deps.Service.CreateSubmarineSwap(ctx, swapapi.SubmarineRequest{
		From:            serviceSymbol(s.from),
		To:              serviceSymbol(s.to),
		Invoice:         s.invoice,
		RefundPublicKey: s.material.PublicKeyHex(),
		PairHash:        s.submarinePair.Hash,
		ReferralID:      s.b.cfg.ReferralID,
	})
	if err != nil {
		return err
	}
	switch {
	case resp.ID == "":
		return fmt.Errorf("%w: missing swap id", ErrInvalidResponse)
	case resp.Address == "" || resp.ClaimAddress == "":
		return fmt.Errorf("%w: missing lockup contract or claim address", ErrInvalidResponse)
	case resp.ExpectedAmount < s.amount:
		return fmt.Errorf("%w: expected amount %d below invoice amount %d",
			ErrInvalidResponse, resp.ExpectedAmount, s.amount)
	}

	s.submarine = resp
	s.update(func(sw *Swap) {
		sw.ID = resp.ID
		sw.LockupAddress = resp.Address
		sw.ServerAddress = resp.ClaimAddress
		sw.ExpectedAmount = resp.ExpectedAmount
		sw.TimeoutBlockHeight = resp.TimeoutBlockHeight
		sw.Bip21 = resp.Bip21
	})
	s.log.Info("Submarine swap created", "id", resp.ID, "expected", resp.ExpectedAmount)
	return nil
}

func submarineLockStep(ctx context.Context, s *LightningState) error {
	signer, err := s.signer(ctx, s.from, s.account)
	if err != nil {
		return err
	}
	p, err := lockParams(s.from, s.submarine.Address, s.submarine.ClaimAddress,
		s.paymentHash, s.submarine.TimeoutBlockHeight, s.submarine.ExpectedAmount)
	if err != nil {
		return err
	}
	return s.lockEvm(ctx, signer, p)
}

// reverseSteps receive on an EVM chain for a Lightning payment.
var reverseSteps = []step[LightningState]{
	{QuotePair, quoteReversePairStep},
	{KeyGen, reverseKeyGenStep},
	{CreateSwap, createReverseLightningStep},
	{ShowInvoice, showInvoiceStep},
	{Race, raceStep},
	{AwaitIndexer, awaitIndexerStep},
	{HelpMeClaim, reverseHelpMeClaimStep},
	{Cleanup, reverseCleanupStep},
}

func (b *Bridge) runReverse(ctx context.Context, f *flow, d Reverse) error {
	s, err := b.newLightningState(f, d.From, d.To, d.Amount)
	if err != nil {
		return f.fail(StateInit, err)
	}
	if s.from.Kind != config.KindLightning || !s.to.IsEVM() {
		return f.fail(StateInit, fmt.Errorf("%w: %s -> %s is not a reverse swap",
			ErrUnsupportedPair, d.From, d.To))
	}
	if b.poller == nil {
		return f.fail(StateInit, ErrNoIndexer)
	}
	s.claimAddress = d.ClaimAddress
	f.update(func(sw *Swap) {
		sw.ChainID = s.to.ChainID
		sw.Account = d.ClaimAddress.Hex()
	})

	if err := f.connect(ctx); err != nil {
		return f.fail(StateInit, err)
	}
	return run(ctx, f, s, reverseSteps)
}

func quoteReversePairStep(ctx context.Context, s *LightningState) error {
	pairs, err := s.b.deps.Service.GetReversePairs(ctx)
	if err != nil {
		return err
	}
	pair, err := pairs.Get(serviceSymbol(s.from), serviceSymbol(s.to))
	if err != nil {
		return err
	}
	if err := checkLimits(s.amount, pair.Limits); err != nil {
		return err
	}
	s.reversePair = pair
	return nil
}

func reverseKeyGenStep(_ context.Context, s *LightningState) error {
	if err := s.generateKeys(); err != nil {
		return err
	}
	s.paymentHash = s.material.PreimageHash()
	return nil
}

func createReverseLightningStep(ctx context.Context, s *LightningState) error {
	resp, err := s.b.deps.Service.CreateReverseSwap(ctx, swapapi.ReverseRequest{
		From:          serviceSymbol(s.from),
		To:            serviceSymbol(s.to),
		PreimageHash:  s.material.PreimageHashHex(),
		ClaimAddress:  s.claimAddress.Hex(),
		InvoiceAmount: s.amount,
		PairHash:      s.reversePair.Hash,
		ReferralID:    s.b.cfg.ReferralID,
	})
	if err != nil {
		return err
	}
	if resp.ID == "" || resp.Invoice == "" {
		return fmt.Errorf("%w: missing swap id or invoice", ErrInvalidResponse)
	}

	// The invoice must be locked to our preimage, or paying it would not
	// let us claim.
	hash, err := s.decodeInvoice(resp.Invoice, s.amount)
	if err != nil {
		return err
	}
	if hash != s.paymentHash {
		return fmt.Errorf("%w: invoice payment hash %x does not match", ErrInvalidInvoice, hash)
	}

	s.reverse = resp
	s.invoice = resp.Invoice
	s.update(func(sw *Swap) {
		sw.ID = resp.ID
		sw.Invoice = resp.Invoice
		sw.LockupAddress = resp.LockupAddress
		sw.ServerAddress = resp.RefundAddress
		sw.ExpectedAmount = resp.OnchainAmount
		sw.TimeoutBlockHeight = resp.TimeoutBlockHeight
	})
	s.log.Info("Reverse swap created", "id", resp.ID, "onchain", resp.OnchainAmount)
	return nil
}

// showInvoiceStep hands the invoice to observers. The user pays it out of
// band.
func showInvoiceStep(_ context.Context, s *LightningState) error {
	s.log.Info("Awaiting invoice payment", "id", s.reverse.ID)
	return nil
}

type raceResult struct {
	socket bool
	lockup *ldsapi.Lockup
	err    error
}

// raceStep waits for the service to confirm its EVM lockup over the status
// socket and, independently, for the indexer to report it. The first
// branch to succeed wins and the other is cancelled before the step
// returns. A dropped socket leaves the poll to decide.
func raceStep(ctx context.Context, s *LightningState) error {
	raceCtx, cancel := context.WithCancel(ctx)
	results := make(chan raceResult, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := s.await(raceCtx, status.TransactionConfirmed)
		results <- raceResult{socket: true, err: err}
	}()
	go func() {
		defer wg.Done()
		lockup, err := s.b.poller.Poll(raceCtx, s.material.PreimageHashHex())
		results <- raceResult{lockup: lockup, err: err}
	}()

	err := s.settleRace(results)
	cancel()
	wg.Wait()
	if err != nil {
		return err
	}

	s.popup(notify.StatusPending, "")
	return nil
}

func (s *LightningState) settleRace(results <-chan raceResult) error {
	for pending := 2; pending > 0; pending-- {
		r := <-results
		switch {
		case r.err == nil && r.socket:
			s.log.Debug("Race won by status socket")
			return nil
		case r.err == nil:
			s.log.Debug("Race won by indexer poll")
			s.lockup = r.lockup
			return nil
		case r.socket && errors.Is(r.err, status.ErrDisconnected):
			s.log.Warn("Status socket dropped, waiting on indexer", "error", r.err)
		default:
			return r.err
		}
	}
	return fmt.Errorf("%w: no branch confirmed the lockup", ErrPollingExhausted)
}

// awaitIndexerStep makes sure the indexer knows the lockup before the
// preimage is released, even when the socket won the race.
func awaitIndexerStep(ctx context.Context, s *LightningState) error {
	if s.lockup != nil {
		return nil
	}
	lockup, err := s.b.poller.Poll(ctx, s.material.PreimageHashHex())
	if err != nil {
		return err
	}
	s.lockup = lockup
	return nil
}

func reverseHelpMeClaimStep(ctx context.Context, s *LightningState) error {
	return s.helpMeClaim(ctx)
}

func reverseCleanupStep(_ context.Context, s *LightningState) error {
	s.disconnect()
	return nil
}
