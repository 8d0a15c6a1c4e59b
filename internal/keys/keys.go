// Package keys produces the per-swap secret material: a 32-byte preimage,
// its SHA-256 hash and a secp256k1 key pair for Taproot/MuSig2 claims or
// refunds.
//
// SECURITY: the preimage stays inside Material. String and Format never
// render it, and nothing in this package logs or writes it.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160"
)

// PreimageSize is the length of a swap preimage in bytes.
const PreimageSize = 32

// Generator produces fresh swap material.
type Generator interface {
	Generate() (*Material, error)
}

// Material is the secret material of one swap.
type Material struct {
	preimage     [PreimageSize]byte
	preimageHash [sha256.Size]byte
	key          *btcec.PrivateKey

	// Index is the derivation index when the key came from a Deriver.
	Index   uint32
	Derived bool
}

// NewMaterial builds Material from an explicit preimage and key.
func NewMaterial(preimage [PreimageSize]byte, key *btcec.PrivateKey) *Material {
	return &Material{
		preimage:     preimage,
		preimageHash: sha256.Sum256(preimage[:]),
		key:          key,
	}
}

// Preimage returns the raw preimage. Only the claim step may send it.
func (m *Material) Preimage() [PreimageSize]byte {
	return m.preimage
}

// PreimageHex returns the preimage hex encoded.
func (m *Material) PreimageHex() string {
	return hex.EncodeToString(m.preimage[:])
}

// PreimageHash returns sha256(preimage).
func (m *Material) PreimageHash() [sha256.Size]byte {
	return m.preimageHash
}

// PreimageHashHex returns sha256(preimage) hex encoded.
func (m *Material) PreimageHashHex() string {
	return hex.EncodeToString(m.preimageHash[:])
}

// Hash160 returns RIPEMD160(sha256(preimage)), the value committed to by the
// claim leaf of a swap tree.
func (m *Material) Hash160() []byte {
	h := ripemd160.New()
	h.Write(m.preimageHash[:])
	return h.Sum(nil)
}

// PrivateKey returns the swap private key.
func (m *Material) PrivateKey() *btcec.PrivateKey {
	return m.key
}

// PublicKey returns the swap public key.
func (m *Material) PublicKey() *btcec.PublicKey {
	return m.key.PubKey()
}

// PublicKeyHex returns the compressed public key hex encoded.
func (m *Material) PublicKeyHex() string {
	return hex.EncodeToString(m.key.PubKey().SerializeCompressed())
}

// Matches reports whether preimage hashes to this material's hash.
func (m *Material) Matches(preimage []byte) bool {
	h := sha256.Sum256(preimage)
	return subtle.ConstantTimeCompare(h[:], m.preimageHash[:]) == 1
}

// Wipe zeroes the preimage and private key.
func (m *Material) Wipe() {
	for i := range m.preimage {
		m.preimage[i] = 0
	}
	if m.key != nil {
		m.key.Zero()
	}
}

// String renders the public parts only.
func (m *Material) String() string {
	return fmt.Sprintf("keys{hash=%s pub=%s}", m.PreimageHashHex(), m.PublicKeyHex())
}

// Format keeps %v, %+v and %#v from printing the preimage.
func (m *Material) Format(f fmt.State, verb rune) {
	_, _ = io.WriteString(f, m.String())
}

// RandomGenerator draws preimages and keys from a CSPRNG.
type RandomGenerator struct {
	rand io.Reader
}

// NewRandom returns a generator backed by crypto/rand.
func NewRandom() *RandomGenerator {
	return &RandomGenerator{rand: rand.Reader}
}

// Generate returns fresh random material.
func (g *RandomGenerator) Generate() (*Material, error) {
	preimage, err := newPreimage(g.rand)
	if err != nil {
		return nil, err
	}

	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	return NewMaterial(preimage, key), nil
}

func newPreimage(r io.Reader) ([PreimageSize]byte, error) {
	var preimage [PreimageSize]byte
	if _, err := io.ReadFull(r, preimage[:]); err != nil {
		return preimage, fmt.Errorf("failed to generate preimage: %w", err)
	}
	return preimage, nil
}

// ParsePublicKey decodes a hex compressed public key.
func ParsePublicKey(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pub, nil
}
