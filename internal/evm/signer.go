package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// gasHeadroom is added to every gas estimate, in percent.
const gasHeadroom = 20

// TxRequest is a contract call to submit.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasLimit skips estimation when set.
	GasLimit uint64
}

// Signer submits transactions from one account on one chain.
type Signer interface {
	Address() common.Address
	ChainID() uint64
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}

// WalletProvider hands out signers for the connected wallet.
type WalletProvider interface {
	GetSigner(ctx context.Context, chainID uint64, address common.Address) (Signer, error)
}

// TxBackend is the part of ethclient.Client a KeySigner needs.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeySigner signs with a local private key and submits through a node.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID uint64
	backend TxBackend
	log     *logging.Logger

	// Serializes nonce assignment.
	mu sync.Mutex
}

// NewKeySigner creates a signer for chainID.
func NewKeySigner(key *ecdsa.PrivateKey, chainID uint64, backend TxBackend, log *logging.Logger) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		backend: backend,
		log:     logging.OrDefault(log, "evm"),
	}
}

// Address returns the signing account.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer submits to.
func (s *KeySigner) ChainID() uint64 {
	return s.chainID
}

// SendTransaction signs req and submits it. It returns once the node
// accepted the transaction, without waiting for inclusion.
func (s *KeySigner) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		estimate, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.address,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimate + estimate*gasHeadroom/100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &req.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(s.chainID))
	signed, err := types.SignTx(tx, signer, s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrTransactionSent, err)
	}

	s.log.Debug("Transaction sent", "chain", s.chainID, "hash", signed.Hash().Hex(), "nonce", nonce, "to", req.To.Hex())
	return signed.Hash(), nil
}

var _ Signer = (*KeySigner)(nil)

// KeyWallet provides KeySigners for one local key across chains.
type KeyWallet struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	backends map[uint64]TxBackend
	log      *logging.Logger

	mu      sync.Mutex
	signers map[uint64]*KeySigner
}

// NewKeyWallet creates a wallet over backends keyed by chain ID.
func NewKeyWallet(key *ecdsa.PrivateKey, backends map[uint64]TxBackend, log *logging.Logger) *KeyWallet {
	return &KeyWallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		backends: backends,
		log:      log,
		signers:  make(map[uint64]*KeySigner),
	}
}

// Address returns the wallet account.
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// GetSigner returns the signer for address on chainID. The zero address
// selects the wallet account.
func (w *KeyWallet) GetSigner(_ context.Context, chainID uint64, address common.Address) (Signer, error) {
	if address != (common.Address{}) && address != w.address {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, address.Hex())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.signers[chainID]; ok {
		return s, nil
	}
	backend, ok := w.backends[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	s := NewKeySigner(w.key, chainID, backend, w.log)
	w.signers[chainID] = s
	return s, nil
}

var _ WalletProvider = (*KeyWallet)(nil)

// LoadOrCreateKey reads a hex private key from path, generating and saving
// a new one when the file does not exist.
func LoadOrCreateKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load EVM key: %w", err)
	}

	key, err = crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate EVM key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("failed to save EVM key: %w", err)
	}
	return key, nil
}

// ParseAddress parses a hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
