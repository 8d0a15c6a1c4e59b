package claim

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Session is our half of one MuSig2 signing round. A session signs at most
// once; reusing a nonce leaks the private key.
type Session struct {
	priv   *btcec.PrivateKey
	keys   []*btcec.PublicKey
	root   []byte
	nonces *musig2.Nonces
	used   bool
}

// NewSession generates a fresh nonce pair for signing with priv over the
// key set of d.
func NewSession(d *Details, priv *btcec.PrivateKey) (*Session, error) {
	root := d.Tree.MerkleRoot()
	nonces, err := musig2.GenNonces(
		musig2.WithPublicKey(priv.PubKey()),
		musig2.WithNonceSecretKeyAux(priv),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonces: %w", err)
	}
	return &Session{
		priv:   priv,
		keys:   d.Keys,
		root:   root[:],
		nonces: nonces,
	}, nil
}

// PubNonce returns our 66-byte public nonce.
func (s *Session) PubNonce() [musig2.PubNonceSize]byte {
	return s.nonces.PubNonce
}

// PubNonceHex returns our public nonce hex encoded.
func (s *Session) PubNonceHex() string {
	return hex.EncodeToString(s.nonces.PubNonce[:])
}

// Sign aggregates the nonces in [theirs, ours] order and produces our
// partial signature over msg. It also returns the combined nonce.
func (s *Session) Sign(theirNonce [musig2.PubNonceSize]byte, msg [32]byte) (*musig2.PartialSignature, [musig2.PubNonceSize]byte, error) {
	var combined [musig2.PubNonceSize]byte
	if s.used {
		return nil, combined, ErrNonceUsed
	}

	combined, err := musig2.AggregateNonces([][musig2.PubNonceSize]byte{theirNonce, s.nonces.PubNonce})
	if err != nil {
		return nil, combined, fmt.Errorf("failed to aggregate nonces: %w", err)
	}

	sig, err := musig2.Sign(
		s.nonces.SecNonce, s.priv, combined, s.keys, msg,
		musig2.WithTaprootSignTweak(s.root),
	)
	if err != nil {
		return nil, combined, fmt.Errorf("failed to sign: %w", err)
	}
	s.used = true
	s.nonces.SecNonce = [musig2.SecNonceSize]byte{}

	return sig, combined, nil
}

// Finalize signs the claim transaction, checks the service's partial
// signature and sets the aggregated key spend witness on input 0.
func (s *Session) Finalize(d *Details, tx *wire.MsgTx, theirNonce [musig2.PubNonceSize]byte,
	theirSig *musig2.PartialSignature) error {

	msg, err := d.SigHash(tx)
	if err != nil {
		return err
	}

	ours, combined, err := s.Sign(theirNonce, msg)
	if err != nil {
		return err
	}

	server := s.keys[0]
	if !theirSig.Verify(theirNonce, combined, s.keys, server, msg, musig2.WithTaprootSignTweak(s.root)) {
		return fmt.Errorf("%w: service signature does not verify", ErrInvalidPartialSignature)
	}
	theirSig.R = ours.R

	final := musig2.CombineSigs(ours.R, []*musig2.PartialSignature{theirSig, ours},
		musig2.WithTaprootTweakedCombine(msg, s.keys, s.root, false))
	if !final.Verify(msg[:], d.Key.FinalKey) {
		return fmt.Errorf("%w: aggregated signature does not verify", ErrInvalidPartialSignature)
	}

	tx.TxIn[0].Witness = wire.TxWitness{final.Serialize()}
	return nil
}

// ParsePubNonce decodes a hex public nonce.
func ParsePubNonce(s string) ([musig2.PubNonceSize]byte, error) {
	var nonce [musig2.PubNonceSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return nonce, fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(b) != musig2.PubNonceSize {
		return nonce, fmt.Errorf("invalid nonce length %d", len(b))
	}
	copy(nonce[:], b)
	return nonce, nil
}

// ParsePartialSignature decodes the 32-byte scalar of a partial signature.
// Values at or above the group order are rejected.
func ParsePartialSignature(s string) (*musig2.PartialSignature, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPartialSignature, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPartialSignature, len(b))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow {
		return nil, fmt.Errorf("%w: scalar overflows group order", ErrInvalidPartialSignature)
	}
	return &musig2.PartialSignature{S: &scalar}, nil
}

// EncodePartialSignature hex encodes the scalar of sig.
func EncodePartialSignature(sig *musig2.PartialSignature) string {
	b := sig.S.Bytes()
	return hex.EncodeToString(b[:])
}

// SignHash co-signs a message the service asked for, with keys ordered
// [service, ours]. It returns our public nonce and partial signature.
func SignHash(d *Details, priv *btcec.PrivateKey, theirNonce [musig2.PubNonceSize]byte,
	msg [32]byte) ([musig2.PubNonceSize]byte, *musig2.PartialSignature, error) {

	s, err := NewSession(d, priv)
	if err != nil {
		return [musig2.PubNonceSize]byte{}, nil, err
	}
	sig, _, err := s.Sign(theirNonce, msg)
	if err != nil {
		return [musig2.PubNonceSize]byte{}, nil, err
	}
	return s.PubNonce(), sig, nil
}
