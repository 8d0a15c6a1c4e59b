package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"

	"github.com/juiceswap/lds-bridge/internal/claim"
	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/evm"
	"github.com/juiceswap/lds-bridge/internal/keys"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/status"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
	"github.com/juiceswap/lds-bridge/pkg/helpers"
)

// ChainSwapState carries a chain swap between steps. The same state serves
// the forward, mirror and ERC20 flows.
type ChainSwapState struct {
	*flow

	from, to config.Currency
	amount   uint64

	// account locks on the EVM side, claimAddress receives on it.
	account      common.Address
	claimAddress common.Address
	// destination receives the Bitcoin claim.
	destination string

	pair      swapapi.ChainPair
	resp      *swapapi.ChainSwapResponse
	evmSigner evm.Signer

	serverKey *btcec.PublicKey
	tree      *claim.Tree

	lockTxHex  string
	details    *claim.Details
	claimTx    *wire.MsgTx
	session    *claim.Session
	theirNonce [musig2.PubNonceSize]byte
	theirSig   *musig2.PartialSignature
}

func (b *Bridge) newChainSwapState(f *flow, from, to string, amount uint64) (*ChainSwapState, error) {
	s := &ChainSwapState{flow: f, amount: amount}
	var err error
	if s.from, err = f.currency(from); err != nil {
		return nil, err
	}
	if s.to, err = f.currency(to); err != nil {
		return nil, err
	}
	return s, nil
}

// chainForwardSteps locks on an EVM chain and claims the service's Bitcoin
// lockup cooperatively.
var chainForwardSteps = []step[ChainSwapState]{
	{KeyGen, keyGenStep},
	{QuotePair, quoteChainPairStep},
	{CreateSwap, createForwardSwapStep},
	{AwaitCreated, awaitCreatedStep},
	{LockEvm, lockEvmStep},
	{AwaitMempool, awaitMempoolStep},
	{FetchCounterpartyLockTx, fetchLockTxStep},
	{BuildCooperativeClaim, buildClaimStep},
	{ConstructClaimTx, constructClaimTxStep},
	{ExchangePartialSignatures, exchangeSignaturesStep},
	{AggregateAndSign, aggregateAndSignStep},
	{Broadcast, broadcastStep},
	{Cleanup, cleanupStep},
}

func (b *Bridge) runChainForward(ctx context.Context, f *flow, d ChainForward) error {
	s, err := b.newChainSwapState(f, d.From, d.To, d.Amount)
	if err != nil {
		return f.fail(StateInit, err)
	}
	if !s.from.IsEVM() || s.to.Kind != config.KindBitcoin {
		return f.fail(StateInit, fmt.Errorf("%w: %s -> %s is not an EVM to Bitcoin chain swap",
			ErrUnsupportedPair, d.From, d.To))
	}
	s.account = d.Account
	s.destination = d.Destination
	if _, err := claim.AddressScript(d.Destination, b.cfg.ChainParams); err != nil {
		return f.fail(StateInit, err)
	}

	if err := f.connect(ctx); err != nil {
		return f.fail(StateInit, err)
	}
	return run(ctx, f, s, chainForwardSteps)
}

func keyGenStep(_ context.Context, s *ChainSwapState) error {
	return s.generateKeys()
}

func quoteChainPairStep(ctx context.Context, s *ChainSwapState) error {
	pairs, err := s.b.deps.Service.GetChainPairs(ctx)
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
	s.pair = pair
	return nil
}

func createForwardSwapStep(ctx context.Context, s *ChainSwapState) error {
	signer, err := s.signer(ctx, s.from, s.account)
	if err != nil {
		return err
	}
	s.evmSigner = signer

	resp, err := s.b.deps.Service.CreateChainSwap(ctx, swapapi.ChainSwapRequest{
		From:           serviceSymbol(s.from),
		To:             serviceSymbol(s.to),
		PreimageHash:   s.material.PreimageHashHex(),
		ClaimPublicKey: s.material.PublicKeyHex(),
		RefundAddress:  signer.Address().Hex(),
		UserLockAmount: s.amount,
		PairHash:       s.pair.Hash,
		ReferralID:     s.b.cfg.ReferralID,
	})
	if err != nil {
		return err
	}
	if resp.ID == "" {
		return fmt.Errorf("%w: missing swap id", ErrInvalidResponse)
	}
	if resp.LockupDetails.Amount != s.amount {
		return fmt.Errorf("%w: lockup amount %d, requested %d", ErrInvalidResponse,
			resp.LockupDetails.Amount, s.amount)
	}

	// The Bitcoin side must be claimable with our preimage and key.
	if err := s.setServerTree(resp.ClaimDetails); err != nil {
		return err
	}
	if err := s.tree.CheckClaimLeaf(s.material.Hash160(), s.material.PublicKey()); err != nil {
		return err
	}

	s.resp = resp
	s.update(func(sw *Swap) {
		sw.ID = resp.ID
		sw.LockupAddress = resp.LockupDetails.LockupAddress
		sw.ServerAddress = resp.LockupDetails.ClaimAddress
		sw.TimeoutBlockHeight = resp.LockupDetails.TimeoutBlockHeight
		sw.ExpectedAmount = resp.ClaimDetails.Amount
	})
	s.log.Info("Chain swap created", "id", resp.ID, "lockup", resp.LockupDetails.LockupAddress)
	return nil
}

func (s *ChainSwapState) setServerTree(d swapapi.ChainSwapDetails) error {
	serverKey, err := keys.ParsePublicKey(d.ServerPublicKey)
	if err != nil {
		return fmt.Errorf("%w: server public key: %w", ErrInvalidResponse, err)
	}
	tree, err := claim.ParseTree(d.SwapTree)
	if err != nil {
		return err
	}
	s.serverKey = serverKey
	s.tree = tree
	return nil
}

func awaitCreatedStep(ctx context.Context, s *ChainSwapState) error {
	return s.await(ctx, status.SwapCreated)
}

func lockEvmStep(ctx context.Context, s *ChainSwapState) error {
	if s.evmSigner == nil {
		signer, err := s.signer(ctx, s.from, s.account)
		if err != nil {
			return err
		}
		s.evmSigner = signer
	}
	lockup := s.resp.LockupDetails
	p, err := lockParams(s.from, lockup.LockupAddress, lockup.ClaimAddress,
		s.material.PreimageHash(), lockup.TimeoutBlockHeight, lockup.Amount)
	if err != nil {
		return err
	}
	return s.lockEvm(ctx, s.evmSigner, p)
}

func awaitMempoolStep(ctx context.Context, s *ChainSwapState) error {
	return s.await(ctx, status.TransactionServerMempool)
}

func fetchLockTxStep(ctx context.Context, s *ChainSwapState) error {
	txs, err := s.b.deps.Service.GetChainSwapTransactions(ctx, s.resp.ID)
	if err != nil {
		return err
	}
	if txs.ServerLock == nil || txs.ServerLock.Transaction.Hex == "" {
		return fmt.Errorf("%w: server lock transaction missing", ErrInvalidResponse)
	}
	s.lockTxHex = txs.ServerLock.Transaction.Hex
	return nil
}

func buildClaimStep(_ context.Context, s *ChainSwapState) error {
	d, err := claim.NewDetails(s.lockTxHex, s.tree, s.serverKey, s.material.PublicKey())
	if err != nil {
		return err
	}
	s.details = d
	return nil
}

func constructClaimTxStep(_ context.Context, s *ChainSwapState) error {
	claimFee := s.pair.Fees.MinerFees.User.Claim
	amount := s.resp.ClaimDetails.Amount
	if amount <= claimFee {
		return fmt.Errorf("%w: claim amount %d does not cover claim fee %d",
			claim.ErrNegativeFeeBudget, amount, claimFee)
	}

	tx, err := claim.ConstructClaimTx(s.details, s.destination, int64(amount-claimFee), s.b.cfg.ChainParams)
	if err != nil {
		return err
	}
	s.claimTx = tx
	return nil
}

func exchangeSignaturesStep(ctx context.Context, s *ChainSwapState) error {
	session, err := claim.NewSession(s.details, s.material.PrivateKey())
	if err != nil {
		return err
	}
	unsigned, err := claim.SerializeTx(s.claimTx)
	if err != nil {
		return err
	}

	resp, err := s.b.deps.Service.PostChainClaim(ctx, s.resp.ID, swapapi.ChainClaimRequest{
		Preimage: s.material.PreimageHex(),
		ToSign: &swapapi.ToSign{
			PubNonce:    session.PubNonceHex(),
			Transaction: unsigned,
			Index:       0,
		},
	})
	if err != nil {
		return err
	}

	theirNonce, err := claim.ParsePubNonce(resp.PubNonce)
	if err != nil {
		return fmt.Errorf("%w: %w", claim.ErrInvalidPartialSignature, err)
	}
	theirSig, err := claim.ParsePartialSignature(resp.PartialSignature)
	if err != nil {
		return err
	}

	s.session = session
	s.theirNonce = theirNonce
	s.theirSig = theirSig
	return nil
}

func aggregateAndSignStep(_ context.Context, s *ChainSwapState) error {
	return s.session.Finalize(s.details, s.claimTx, s.theirNonce, s.theirSig)
}

func broadcastStep(ctx context.Context, s *ChainSwapState) error {
	txHex, err := claim.SerializeTx(s.claimTx)
	if err != nil {
		return err
	}
	txID, err := s.broadcastBitcoin(ctx, txHex)
	if err != nil {
		return err
	}
	s.update(func(sw *Swap) { sw.ClaimTxID = txID })
	s.log.Info("Claim broadcast", "txid", txID)
	return nil
}

// broadcastBitcoin sends through the service. The chain backend is only
// tried when the service could not be reached; a rejection is final.
func (f *flow) broadcastBitcoin(ctx context.Context, txHex string) (string, error) {
	txID, err := f.b.deps.Service.BroadcastTransaction(ctx, "BTC", txHex)
	if err == nil {
		return txID, nil
	}

	var apiErr *swapapi.APIError
	if f.b.deps.Bitcoin == nil || (errors.As(err, &apiErr) && !apiErr.IsSyncing()) {
		return "", err
	}
	f.log.Warn("Swap service broadcast failed, using chain backend", "error", err)
	return f.b.deps.Bitcoin.BroadcastTransaction(ctx, txHex)
}

func cleanupStep(_ context.Context, s *ChainSwapState) error {
	s.disconnect()
	return nil
}

// chainReverseSteps lock on Bitcoin out of band and receive on an EVM
// chain through the indexer's claim service.
var chainReverseSteps = []step[ChainSwapState]{
	{KeyGen, keyGenStep},
	{QuotePair, quoteChainPairStep},
	{CreateSwap, createReverseSwapStep},
	{AwaitCreated, awaitCreatedStep},
	{ShowLockup, showLockupStep},
	{AwaitServerLock, awaitServerLockStep},
	{HelpMeClaim, helpMeClaimStep},
	{CrossSign, crossSignStep},
	{Cleanup, cleanupStep},
}

func (b *Bridge) runChainReverse(ctx context.Context, f *flow, d ChainReverse) error {
	s, err := b.newChainSwapState(f, d.From, d.To, d.Amount)
	if err != nil {
		return f.fail(StateInit, err)
	}
	if s.from.Kind != config.KindBitcoin || !s.to.IsEVM() {
		return f.fail(StateInit, fmt.Errorf("%w: %s -> %s is not a Bitcoin to EVM chain swap",
			ErrUnsupportedPair, d.From, d.To))
	}
	s.claimAddress = d.ClaimAddress
	f.update(func(sw *Swap) {
		sw.ChainID = s.to.ChainID
		sw.Account = d.ClaimAddress.Hex()
	})

	if err := f.connect(ctx); err != nil {
		return f.fail(StateInit, err)
	}
	return run(ctx, f, s, chainReverseSteps)
}

func createReverseSwapStep(ctx context.Context, s *ChainSwapState) error {
	resp, err := s.b.deps.Service.CreateChainSwap(ctx, swapapi.ChainSwapRequest{
		From:            serviceSymbol(s.from),
		To:              serviceSymbol(s.to),
		PreimageHash:    s.material.PreimageHashHex(),
		RefundPublicKey: s.material.PublicKeyHex(),
		ClaimAddress:    s.claimAddress.Hex(),
		UserLockAmount:  s.amount,
		PairHash:        s.pair.Hash,
		ReferralID:      s.b.cfg.ReferralID,
	})
	if err != nil {
		return err
	}
	if resp.ID == "" {
		return fmt.Errorf("%w: missing swap id", ErrInvalidResponse)
	}
	if resp.LockupDetails.Amount != s.amount {
		return fmt.Errorf("%w: lockup amount %d, requested %d", ErrInvalidResponse,
			resp.LockupDetails.Amount, s.amount)
	}
	if err := checkClaimAddress(resp.ClaimDetails.ClaimAddress, s.claimAddress); err != nil {
		return err
	}

	// Our Bitcoin lockup must be refundable by us and claimable only with
	// our preimage.
	if err := s.setServerTree(resp.LockupDetails); err != nil {
		return err
	}
	if err := s.tree.CheckRefundLeaf(s.material.PublicKey()); err != nil {
		return err
	}
	if err := s.tree.CheckClaimLeaf(s.material.Hash160(), s.serverKey); err != nil {
		return err
	}

	s.resp = resp
	s.update(func(sw *Swap) {
		sw.ID = resp.ID
		sw.LockupAddress = resp.LockupDetails.LockupAddress
		sw.Bip21 = resp.LockupDetails.Bip21
		sw.ServerAddress = resp.ClaimDetails.RefundAddress
		sw.ExpectedAmount = resp.ClaimDetails.Amount
		sw.TimeoutBlockHeight = resp.LockupDetails.TimeoutBlockHeight
		sw.SwapTree = resp.LockupDetails.SwapTree
		sw.ServerPublicKey = resp.LockupDetails.ServerPublicKey
	})
	s.log.Info("Chain swap created", "id", resp.ID, "lockup", resp.LockupDetails.LockupAddress)
	return nil
}

func checkClaimAddress(got string, want common.Address) error {
	if got == "" || want == (common.Address{}) {
		return nil
	}
	addr, err := evm.ParseAddress(got)
	if err != nil {
		return fmt.Errorf("%w: claim address: %w", ErrInvalidResponse, err)
	}
	if addr != want {
		return fmt.Errorf("%w: claim address %s, requested %s", ErrInvalidResponse, addr.Hex(), want.Hex())
	}
	return nil
}

// showLockupStep surfaces the Bitcoin lockup. The user pays it out of band
// while the flow waits for the server's lock.
func showLockupStep(_ context.Context, s *ChainSwapState) error {
	lockup := s.resp.LockupDetails
	s.log.Info("Awaiting user lockup", "address", lockup.LockupAddress, "amount", lockup.Amount)
	s.popup(notify.StatusPending, "")
	return nil
}

func awaitServerLockStep(ctx context.Context, s *ChainSwapState) error {
	return s.await(ctx, status.TransactionServerConfirmed)
}

func helpMeClaimStep(ctx context.Context, s *ChainSwapState) error {
	return s.helpMeClaim(ctx)
}

// crossSignStep lets the server claim our Bitcoin lockup cooperatively.
// Without it the server falls back to the script path, so failures are
// only logged.
func crossSignStep(ctx context.Context, s *ChainSwapState) error {
	if err := s.crossSign(ctx); err != nil {
		s.log.Warn("Cross-signing server claim failed", "error", err)
	}
	return nil
}

func (s *ChainSwapState) crossSign(ctx context.Context) error {
	id := s.resp.ID
	details, err := s.b.deps.Service.GetChainClaimDetails(ctx, id)
	if err != nil {
		return err
	}
	theirNonce, err := claim.ParsePubNonce(details.PubNonce)
	if err != nil {
		return err
	}
	msg, err := helpers.HexToHash32(details.TransactionHash)
	if err != nil {
		return fmt.Errorf("%w: transaction hash: %v", ErrInvalidResponse, err)
	}

	d, err := claim.KeyDetails(s.tree, s.serverKey, s.material.PublicKey())
	if err != nil {
		return err
	}
	ourNonce, sig, err := claim.SignHash(d, s.material.PrivateKey(), theirNonce, msg)
	if err != nil {
		return err
	}
	return s.b.deps.Service.PostChainClaimSignature(ctx, id, swapapi.PartialSignature{
		PubNonce:         hex.EncodeToString(ourNonce[:]),
		PartialSignature: claim.EncodePartialSignature(sig),
	})
}

// erc20ChainSteps move a token between EVM chains.
var erc20ChainSteps = []step[ChainSwapState]{
	{KeyGen, keyGenStep},
	{QuotePair, quoteChainPairStep},
	{CreateSwap, createERC20SwapStep},
	{AwaitCreated, awaitCreatedStep},
	{LockEvm, lockEvmStep},
	{AwaitServerLock, awaitServerLockStep},
	{HelpMeClaim, helpMeClaimStep},
	{Cleanup, cleanupStep},
}

func (b *Bridge) runERC20Chain(ctx context.Context, f *flow, d ERC20ChainSwap) error {
	s, err := b.newChainSwapState(f, d.From, d.To, d.Amount)
	if err != nil {
		return f.fail(StateInit, err)
	}
	if !s.from.IsEVM() || !s.to.IsEVM() || s.from.ChainID == s.to.ChainID {
		return f.fail(StateInit, fmt.Errorf("%w: %s -> %s is not a cross-chain EVM swap",
			ErrUnsupportedPair, d.From, d.To))
	}
	s.account = d.Account
	s.claimAddress = d.ClaimAddress

	if err := f.connect(ctx); err != nil {
		return f.fail(StateInit, err)
	}
	return run(ctx, f, s, erc20ChainSteps)
}

func createERC20SwapStep(ctx context.Context, s *ChainSwapState) error {
	signer, err := s.signer(ctx, s.from, s.account)
	if err != nil {
		return err
	}
	s.evmSigner = signer
	if s.claimAddress == (common.Address{}) {
		s.claimAddress = signer.Address()
	}

	resp, err := s.b.deps.Service.CreateChainSwap(ctx, swapapi.ChainSwapRequest{
		From:           serviceSymbol(s.from),
		To:             serviceSymbol(s.to),
		PreimageHash:   s.material.PreimageHashHex(),
		ClaimAddress:   s.claimAddress.Hex(),
		RefundAddress:  signer.Address().Hex(),
		UserLockAmount: s.amount,
		PairHash:       s.pair.Hash,
		ReferralID:     s.b.cfg.ReferralID,
	})
	if err != nil {
		return err
	}
	if resp.ID == "" {
		return fmt.Errorf("%w: missing swap id", ErrInvalidResponse)
	}
	if resp.LockupDetails.Amount != s.amount {
		return fmt.Errorf("%w: lockup amount %d, requested %d", ErrInvalidResponse,
			resp.LockupDetails.Amount, s.amount)
	}
	if err := checkClaimAddress(resp.ClaimDetails.ClaimAddress, s.claimAddress); err != nil {
		return err
	}

	s.resp = resp
	s.update(func(sw *Swap) {
		sw.ID = resp.ID
		sw.LockupAddress = resp.LockupDetails.LockupAddress
		sw.ServerAddress = resp.LockupDetails.ClaimAddress
		sw.TimeoutBlockHeight = resp.LockupDetails.TimeoutBlockHeight
		sw.ExpectedAmount = resp.ClaimDetails.Amount
	})
	s.log.Info("ERC20 chain swap created", "id", resp.ID, "contract", resp.LockupDetails.LockupAddress)
	return nil
}
