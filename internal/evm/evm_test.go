package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/juiceswap/lds-bridge/pkg/logging"
)

const testChainID = 5115

type fakeChain struct {
	mu        sync.Mutex
	nonce     uint64
	sent      []*types.Transaction
	estimate  uint64
	sendErr   error
	balance   *big.Int
	tokenBal  *big.Int
	allowance *big.Int
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	var (
		method string
		value  *big.Int
	)
	switch {
	case bytes.HasPrefix(call.Data, erc20ABI.Methods["balanceOf"].ID):
		method, value = "balanceOf", f.tokenBal
	case bytes.HasPrefix(call.Data, erc20ABI.Methods["allowance"].ID):
		method, value = "allowance", f.allowance
	default:
		return nil, fmt.Errorf("unexpected call %x", call.Data)
	}
	return erc20ABI.Methods[method].Outputs.Pack(value)
}

func newTestSigner(t *testing.T, chain *fakeChain) *KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewKeySigner(key, testChainID, chain, logging.Discard())
}

func TestUnits(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals uint8
		want     string
		inexact  bool
	}{
		{1, 18, "10000000000", false},
		{123_456_789, 8, "123456789", false},
		{123_456_700, 6, "1234567", false},
		{123_456_789, 6, "", true},
		{1_000_099, 6, "", true},
		{500_000_000, 0, "5", false},
		{5, 0, "", true},
	}
	for _, tt := range tests {
		got, err := ToTokenUnits(tt.amount, tt.decimals)
		if tt.inexact {
			require.ErrorIs(t, err, ErrInexactAmount, "amount %d", tt.amount)
			require.ErrorIs(t, CheckPrecision(tt.amount, tt.decimals), ErrInexactAmount)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got.String())
		require.NoError(t, CheckPrecision(tt.amount, tt.decimals))
	}

	require.Equal(t, "250000000000", SatsToWei(25).String())
	require.Equal(t, int64(3), WeiToSats(big.NewInt(39_999_999_999)).Int64())
	require.Equal(t, int64(1_500_000), FromTokenUnits(big.NewInt(15_000), 6).Int64())
}

func TestKeySignerSendTransaction(t *testing.T) {
	chain := &fakeChain{nonce: 7, estimate: 100_000}
	s := newTestSigner(t, chain)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	hash, err := s.SendTransaction(context.Background(), TxRequest{To: to, Data: []byte{1, 2}, Value: big.NewInt(42)})
	require.NoError(t, err)
	require.Len(t, chain.sent, 1)

	tx := chain.sent[0]
	require.Equal(t, hash, tx.Hash())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(120_000), tx.Gas())
	require.Equal(t, int64(42), tx.Value().Int64())
	require.Equal(t, to, *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(testChainID)), tx)
	require.NoError(t, err)
	require.Equal(t, s.Address(), sender)
}

func TestKeySignerSendFailure(t *testing.T) {
	chain := &fakeChain{estimate: 21_000, sendErr: errors.New("insufficient funds")}
	s := newTestSigner(t, chain)

	_, err := s.SendTransaction(context.Background(), TxRequest{To: common.Address{1}})
	require.ErrorIs(t, err, ErrTransactionSent)
}

func TestLockNative(t *testing.T) {
	chain := &fakeChain{estimate: 50_000}
	s := newTestSigner(t, chain)
	contract := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	claimAddr := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	res, err := Lock(context.Background(), s, nil, LockParams{
		Contract:     contract,
		PreimageHash: [32]byte{9},
		ClaimAddress: claimAddr,
		Timelock:     1234,
		Amount:       50_000,
	})
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, res.ApproveTx)
	require.Len(t, chain.sent, 1)

	tx := chain.sent[0]
	require.Equal(t, contract, *tx.To())
	require.Equal(t, SatsToWei(50_000), tx.Value())

	want, err := EtherSwapLock([32]byte{9}, claimAddr, big.NewInt(1234))
	require.NoError(t, err)
	require.Equal(t, want, tx.Data())
}

func TestLockERC20(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000d0")
	contract := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	params := LockParams{
		Contract:     contract,
		PreimageHash: [32]byte{1},
		ClaimAddress: common.Address{2},
		Timelock:     99,
		Amount:       1_000_000,
		Token:        token,
		Decimals:     6,
	}

	t.Run("approves first", func(t *testing.T) {
		chain := &fakeChain{estimate: 60_000, allowance: big.NewInt(0)}
		s := newTestSigner(t, chain)
		reader := NewBalanceReader(map[uint64]CallBackend{testChainID: chain})

		res, err := Lock(context.Background(), s, reader, params)
		require.NoError(t, err)
		require.Len(t, chain.sent, 2)
		require.Equal(t, chain.sent[0].Hash(), res.ApproveTx)
		require.Equal(t, chain.sent[1].Hash(), res.LockTx)

		approve, lock := chain.sent[0], chain.sent[1]
		require.Equal(t, token, *approve.To())
		wantApprove, err := Approve(contract, big.NewInt(10_000))
		require.NoError(t, err)
		require.Equal(t, wantApprove, approve.Data())

		require.Equal(t, contract, *lock.To())
		require.Equal(t, uint64(erc20LockGas), lock.Gas())
		require.Equal(t, approve.Nonce()+1, lock.Nonce())
	})

	t.Run("allowance covers amount", func(t *testing.T) {
		chain := &fakeChain{estimate: 60_000, allowance: big.NewInt(10_000)}
		s := newTestSigner(t, chain)
		reader := NewBalanceReader(map[uint64]CallBackend{testChainID: chain})

		res, err := Lock(context.Background(), s, reader, params)
		require.NoError(t, err)
		require.Len(t, chain.sent, 1)
		require.Equal(t, common.Hash{}, res.ApproveTx)
		require.Equal(t, uint64(72_000), chain.sent[0].Gas())
	})
}

func TestLockRejectsInexactTokenAmount(t *testing.T) {
	chain := &fakeChain{estimate: 60_000, allowance: big.NewInt(0)}
	s := newTestSigner(t, chain)
	reader := NewBalanceReader(map[uint64]CallBackend{testChainID: chain})

	_, err := Lock(context.Background(), s, reader, LockParams{
		Contract:     common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		PreimageHash: [32]byte{1},
		ClaimAddress: common.Address{2},
		Timelock:     99,
		Amount:       1_000_099,
		Token:        common.HexToAddress("0x00000000000000000000000000000000000000d0"),
		Decimals:     6,
	})
	require.ErrorIs(t, err, ErrInexactAmount)
	require.Empty(t, chain.sent)
}

func TestLockRejectsZeroAmount(t *testing.T) {
	s := newTestSigner(t, &fakeChain{})
	_, err := Lock(context.Background(), s, nil, LockParams{})
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestRefund(t *testing.T) {
	chain := &fakeChain{estimate: 40_000}
	s := newTestSigner(t, chain)
	p := LockParams{
		Contract:     common.Address{7},
		PreimageHash: [32]byte{3},
		ClaimAddress: common.Address{8},
		Timelock:     500,
		Amount:       10,
	}

	_, err := Refund(context.Background(), s, p)
	require.NoError(t, err)
	want, err := EtherSwapRefund(p.PreimageHash, SatsToWei(10), p.ClaimAddress, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, want, chain.sent[0].Data())
	require.Zero(t, chain.sent[0].Value().Sign())
}

func TestBalanceReader(t *testing.T) {
	chain := &fakeChain{
		balance:  new(big.Int).Mul(big.NewInt(1_234), big.NewInt(1e10)),
		tokenBal: big.NewInt(2_500_000),
	}
	r := NewBalanceReader(map[uint64]CallBackend{testChainID: chain})
	ctx := context.Background()
	owner := common.Address{5}

	native, err := r.Balance(ctx, testChainID, common.Address{}, 18, owner)
	require.NoError(t, err)
	require.Equal(t, int64(1_234), native.Int64())

	token, err := r.Balance(ctx, testChainID, common.Address{6}, 6, owner)
	require.NoError(t, err)
	require.Equal(t, int64(250_000_000), token.Int64())

	_, err = r.Balance(ctx, 1, common.Address{}, 18, owner)
	require.ErrorIs(t, err, ErrUnknownChain)
}

func TestKeyWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := NewKeyWallet(key, map[uint64]TxBackend{testChainID: &fakeChain{}}, logging.Discard())
	ctx := context.Background()

	s, err := w.GetSigner(ctx, testChainID, common.Address{})
	require.NoError(t, err)
	require.Equal(t, w.Address(), s.Address())

	again, err := w.GetSigner(ctx, testChainID, w.Address())
	require.NoError(t, err)
	require.Same(t, s, again)

	_, err = w.GetSigner(ctx, 1, common.Address{})
	require.ErrorIs(t, err, ErrUnknownChain)
	_, err = w.GetSigner(ctx, testChainID, common.Address{1})
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "evm.key")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(first.PublicKey), crypto.PubkeyToAddress(second.PublicKey))
}

type codeError struct{ code int }

func (e codeError) Error() string  { return "wallet error" }
func (e codeError) ErrorCode() int { return e.code }

func TestIsUserRejected(t *testing.T) {
	require.True(t, IsUserRejected(ErrUserRejected))
	require.True(t, IsUserRejected(fmt.Errorf("lock: %w", codeError{4001})))
	require.True(t, IsUserRejected(errors.New("MetaMask Tx Signature: User denied transaction signature.")))
	require.False(t, IsUserRejected(codeError{-32000}))
	require.False(t, IsUserRejected(nil))
}

func TestParseAddress(t *testing.T) {
	_, err := ParseAddress("0x1234")
	require.ErrorIs(t, err, ErrInvalidAddress)
	a, err := ParseAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	require.Equal(t, byte(0xaa), a[19])
}
