package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ripemd160"

	"github.com/juiceswap/lds-bridge/internal/backend"
	"github.com/juiceswap/lds-bridge/internal/evm"
	"github.com/juiceswap/lds-bridge/internal/keys"
	"github.com/juiceswap/lds-bridge/internal/ldsapi"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/status"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

const (
	contractAddr = "0x1111111111111111111111111111111111111111"
	serverAddr   = "0x2222222222222222222222222222222222222222"
)

var (
	userAccount = common.HexToAddress("0x3333333333333333333333333333333333333333")
	claimAddr   = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// fakeService records every request body it receives.
type fakeService struct {
	mu     sync.Mutex
	bodies []string

	chainPairs     swapapi.ChainPairs
	submarinePairs swapapi.SubmarinePairs
	reversePairs   swapapi.ReversePairs

	createChain     func(req swapapi.ChainSwapRequest) (*swapapi.ChainSwapResponse, error)
	createSubmarine func(req swapapi.SubmarineRequest) (*swapapi.SubmarineResponse, error)
	createReverse   func(req swapapi.ReverseRequest) (*swapapi.ReverseResponse, error)
	transactions    func(id string) (*swapapi.ChainSwapTransactions, error)
	postClaim       func(id string, req swapapi.ChainClaimRequest) (*swapapi.PartialSignature, error)
	claimDetails    func(id string) (*swapapi.ChainClaimDetails, error)
	claimSignature  func(id string, sig swapapi.PartialSignature) error
	swapStatus      func(id string) (*swapapi.SwapStatus, error)

	broadcastErr error
	broadcasts   []string
}

func (s *fakeService) record(v interface{}) {
	data, _ := json.Marshal(v)
	s.mu.Lock()
	s.bodies = append(s.bodies, string(data))
	s.mu.Unlock()
}

func (s *fakeService) Bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

func (s *fakeService) Broadcasts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.broadcasts...)
}

func (s *fakeService) GetChainPairs(context.Context) (swapapi.ChainPairs, error) {
	return s.chainPairs, nil
}

func (s *fakeService) GetSubmarinePairs(context.Context) (swapapi.SubmarinePairs, error) {
	return s.submarinePairs, nil
}

func (s *fakeService) GetReversePairs(context.Context) (swapapi.ReversePairs, error) {
	return s.reversePairs, nil
}

func (s *fakeService) CreateChainSwap(_ context.Context, req swapapi.ChainSwapRequest) (*swapapi.ChainSwapResponse, error) {
	s.record(req)
	return s.createChain(req)
}

func (s *fakeService) CreateSubmarineSwap(_ context.Context, req swapapi.SubmarineRequest) (*swapapi.SubmarineResponse, error) {
	s.record(req)
	return s.createSubmarine(req)
}

func (s *fakeService) CreateReverseSwap(_ context.Context, req swapapi.ReverseRequest) (*swapapi.ReverseResponse, error) {
	s.record(req)
	return s.createReverse(req)
}

func (s *fakeService) GetChainSwapTransactions(_ context.Context, id string) (*swapapi.ChainSwapTransactions, error) {
	return s.transactions(id)
}

func (s *fakeService) PostChainClaim(_ context.Context, id string, req swapapi.ChainClaimRequest) (*swapapi.PartialSignature, error) {
	s.record(req)
	return s.postClaim(id, req)
}

func (s *fakeService) GetChainClaimDetails(_ context.Context, id string) (*swapapi.ChainClaimDetails, error) {
	return s.claimDetails(id)
}

func (s *fakeService) PostChainClaimSignature(_ context.Context, id string, sig swapapi.PartialSignature) error {
	s.record(sig)
	return s.claimSignature(id, sig)
}

func (s *fakeService) BroadcastTransaction(_ context.Context, currency, txHex string) (string, error) {
	s.record(map[string]string{"currency": currency, "hex": txHex})
	if s.broadcastErr != nil {
		return "", s.broadcastErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, txHex)
	return fmt.Sprintf("txid%d", len(s.broadcasts)), nil
}

func (s *fakeService) GetSwapStatus(_ context.Context, id string) (*swapapi.SwapStatus, error) {
	if s.swapStatus == nil {
		return nil, &swapapi.APIError{Status: 404, Message: "could not find swap with id: " + id}
	}
	return s.swapStatus(id)
}

// fakeSubscriber answers waits per target status. Targets without a
// handler are reached at once.
type fakeSubscriber struct {
	mu          sync.Mutex
	waits       []status.Status
	handlers    map[status.Status]func(ctx context.Context) error
	disconnects int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[status.Status]func(ctx context.Context) error)}
}

func (s *fakeSubscriber) on(target status.Status, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[target] = fn
}

func (s *fakeSubscriber) SubscribeToSwapUntil(ctx context.Context, _ string, target status.Status) error {
	s.mu.Lock()
	s.waits = append(s.waits, target)
	fn := s.handlers[target]
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (s *fakeSubscriber) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

func (s *fakeSubscriber) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// fakeIndexer answers Lockups from a script indexed by call number.
type fakeIndexer struct {
	mu      sync.Mutex
	calls   int
	lockups func(call int, hash string) ([]ldsapi.Lockup, error)
	claims  []string

	// unknown makes CheckPreimageHash deny every hash.
	unknown bool
	checks  []string
}

func (i *fakeIndexer) CheckPreimageHash(_ context.Context, hash string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.checks = append(i.checks, hash)
	return !i.unknown, nil
}

func (i *fakeIndexer) Lockups(_ context.Context, hash string) ([]ldsapi.Lockup, error) {
	i.mu.Lock()
	i.calls++
	call := i.calls
	i.mu.Unlock()
	if i.lockups == nil {
		return nil, nil
	}
	return i.lockups(call, hash)
}

func (i *fakeIndexer) HelpMeClaim(_ context.Context, preimage, hash string) (*ldsapi.HelpMeClaimResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.claims = append(i.claims, preimage+":"+hash)
	return &ldsapi.HelpMeClaimResult{TxHash: "0xclaim"}, nil
}

func (i *fakeIndexer) Calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

func (i *fakeIndexer) Claims() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.claims...)
}

// lockupAfter reports the lockup from call n on.
func lockupAfter(n int) func(int, string) ([]ldsapi.Lockup, error) {
	return func(call int, hash string) ([]ldsapi.Lockup, error) {
		if call < n {
			return nil, nil
		}
		return []ldsapi.Lockup{{PreimageHash: ldsapi.Hex0x(hash)}}, nil
	}
}

type fakeSigner struct {
	address common.Address
	chainID uint64

	mu   sync.Mutex
	sent []evm.TxRequest
	err  error
}

func (s *fakeSigner) Address() common.Address { return s.address }
func (s *fakeSigner) ChainID() uint64         { return s.chainID }

func (s *fakeSigner) SendTransaction(_ context.Context, req evm.TxRequest) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return common.Hash{}, s.err
	}
	s.sent = append(s.sent, req)
	return crypto.Keccak256Hash(req.Data), nil
}

func (s *fakeSigner) Sent() []evm.TxRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]evm.TxRequest(nil), s.sent...)
}

type fakeWallet struct {
	mu      sync.Mutex
	signers map[uint64]*fakeSigner
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{signers: make(map[uint64]*fakeSigner)}
}

func (w *fakeWallet) GetSigner(_ context.Context, chainID uint64, _ common.Address) (evm.Signer, error) {
	return w.signer(chainID), nil
}

func (w *fakeWallet) signer(chainID uint64) *fakeSigner {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.signers[chainID]
	if !ok {
		s = &fakeSigner{address: userAccount, chainID: chainID}
		w.signers[chainID] = s
	}
	return s
}

type fakePopups struct {
	mu     sync.Mutex
	popups []notify.Popup
	keys   []string
}

func (p *fakePopups) AddPopup(popup notify.Popup, key string, _ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.popups = append(p.popups, popup)
	p.keys = append(p.keys, key)
}

func (p *fakePopups) Popups() []notify.Popup {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Popup(nil), p.popups...)
}

type fakeBitcoin struct {
	mu         sync.Mutex
	broadcasts []string
	raw        map[string][]byte
}

func (b *fakeBitcoin) GetRawTransaction(_ context.Context, txID string) ([]byte, error) {
	raw, ok := b.raw[txID]
	if !ok {
		return nil, errors.New("not found")
	}
	return raw, nil
}

func (b *fakeBitcoin) BroadcastTransaction(_ context.Context, txHex string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, txHex)
	return "backend-txid", nil
}

func (b *fakeBitcoin) GetFeeEstimates(context.Context) (*backend.FeeEstimate, error) {
	return &backend.FeeEstimate{HalfHourFee: 3}, nil
}

// recorder collects every transition.
type recorder struct {
	mu     sync.Mutex
	states []StateType
	notes  []Notification
	onStep func(Notification)
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	r.states = append(r.states, n.NextState)
	r.notes = append(r.notes, n)
	fn := r.onStep
	r.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (r *recorder) States() []StateType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateType(nil), r.states...)
}

type harness struct {
	t       *testing.T
	service *fakeService
	sub     *fakeSubscriber
	indexer *fakeIndexer
	wallet  *fakeWallet
	popups  *fakePopups
	clock   clock.Clock
	cfg     Config
	deps    Deps
	dials   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		service: &fakeService{},
		sub:     newFakeSubscriber(),
		indexer: &fakeIndexer{},
		wallet:  newFakeWallet(),
		popups:  &fakePopups{},
		clock:   clock.NewDefaultClock(),
	}
	h.cfg = DefaultConfig()
	h.cfg.AwaitTimeout = 0
	h.cfg.ChainParams = &chaincfg.RegressionNetParams
	return h
}

func (h *harness) bridge() *Bridge {
	h.t.Helper()
	deps := h.deps
	deps.Service = h.service
	deps.Indexer = h.indexer
	deps.Status = func(context.Context) (StatusSubscriber, error) {
		h.dials++
		return h.sub, nil
	}
	deps.Keys = keys.NewRandom()
	deps.Wallet = h.wallet
	deps.Popups = h.popups
	deps.Clock = h.clock
	deps.Log = logging.Discard()

	b, err := New(h.cfg, deps)
	require.NoError(h.t, err)
	return b
}

func hash160(preimageHashHex string) ([]byte, error) {
	raw, err := hex.DecodeString(preimageHashHex)
	if err != nil {
		return nil, err
	}
	h := ripemd160.New()
	h.Write(raw)
	return h.Sum(nil), nil
}

func regtestAddress(t *testing.T) string {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(key.PubKey()), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

// newInvoice returns a signed regtest invoice for hash.
func newInvoice(t *testing.T, hash [32]byte, sats uint64) string {
	t.Helper()
	inv, err := zpay32.NewInvoice(&chaincfg.RegressionNetParams, hash, time.Now(),
		zpay32.Description("lds bridge test"),
		zpay32.Amount(lnwire.MilliSatoshi(sats*1000)),
	)
	require.NoError(t, err)

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	encoded, err := inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	require.NoError(t, err)
	return encoded
}

// txHash is the hash fakeSigner assigns to a transaction with data.
func txHash(data []byte) string {
	return crypto.Keccak256Hash(data).Hex()
}

func bigUint(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
