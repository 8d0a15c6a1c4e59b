package keys

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// Swap keys live under m/86'/0'/0'/0/index so a refund key can be
// re-derived from the mnemonic and the stored index after a restart.
const (
	purposeTaproot = 86
	coinTypeSwap   = 0
	accountSwap    = 0
	changeExternal = 0
)

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// Deriver derives swap keys from a BIP39 seed. Preimages are still random.
type Deriver struct {
	branch *hdkeychain.ExtendedKey

	mu   sync.Mutex
	next uint32
}

// NewDeriver builds a Deriver from a mnemonic. startIndex is the first index
// Generate hands out, normally one past the highest index in storage.
func NewDeriver(mnemonic, passphrase string, startIndex uint32) (*Deriver, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	branch := master
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + purposeTaproot,
		hdkeychain.HardenedKeyStart + coinTypeSwap,
		hdkeychain.HardenedKeyStart + accountSwap,
		changeExternal,
	} {
		branch, err = branch.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive swap branch: %w", err)
		}
	}

	return &Deriver{branch: branch, next: startIndex}, nil
}

// Material returns swap material whose key sits at index. The preimage is
// freshly random on every call.
func (d *Deriver) Material(index uint32) (*Material, error) {
	child, err := d.branch.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive index %d: %w", index, err)
	}
	key, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}

	preimage, err := newPreimage(rand.Reader)
	if err != nil {
		return nil, err
	}

	m := NewMaterial(preimage, key)
	m.Index = index
	m.Derived = true
	return m, nil
}

// Generate derives material at the next unused index.
func (d *Deriver) Generate() (*Material, error) {
	d.mu.Lock()
	index := d.next
	d.next++
	d.mu.Unlock()

	return d.Material(index)
}

// NextIndex returns the index the next Generate call will use.
func (d *Deriver) NextIndex() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}
