// Package claim builds and co-signs the Taproot transactions that settle the
// Bitcoin side of a swap.
//
// A swap output is locked to a MuSig2 aggregate of the service key and our
// key, tweaked with a two leaf script tree: the claim leaf (preimage plus
// claim key) and the refund leaf (refund key plus absolute timelock). The
// cooperative path spends it with a single aggregated Schnorr signature.
package claim

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/juiceswap/lds-bridge/internal/swapapi"
)

var (
	ErrInvalidTree             = errors.New("invalid swap tree")
	ErrClaimLeafMismatch       = errors.New("claim leaf does not commit to our preimage hash and key")
	ErrRefundLeafMismatch      = errors.New("refund leaf does not commit to our refund key")
	ErrOutputNotFound          = errors.New("swap output not found in lock transaction")
	ErrNegativeFeeBudget       = errors.New("negative fee budget")
	ErrInvalidPartialSignature = errors.New("invalid partial signature")
	ErrNonceUsed               = errors.New("musig2 nonce already used")
)

// Tree is a parsed swap tree.
type Tree struct {
	ClaimLeaf  txscript.TapLeaf
	RefundLeaf txscript.TapLeaf

	indexed *txscript.IndexedTapScriptTree
}

// ParseTree decodes the leaves sent by the service and assembles the tree.
func ParseTree(t *swapapi.SwapTree) (*Tree, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: missing", ErrInvalidTree)
	}
	claimLeaf, err := parseLeaf(t.ClaimLeaf)
	if err != nil {
		return nil, fmt.Errorf("%w: claim leaf: %v", ErrInvalidTree, err)
	}
	refundLeaf, err := parseLeaf(t.RefundLeaf)
	if err != nil {
		return nil, fmt.Errorf("%w: refund leaf: %v", ErrInvalidTree, err)
	}

	return &Tree{
		ClaimLeaf:  claimLeaf,
		RefundLeaf: refundLeaf,
		indexed:    txscript.AssembleTaprootScriptTree(claimLeaf, refundLeaf),
	}, nil
}

func parseLeaf(l swapapi.TreeLeaf) (txscript.TapLeaf, error) {
	script, err := hex.DecodeString(l.Output)
	if err != nil {
		return txscript.TapLeaf{}, err
	}
	if len(script) == 0 {
		return txscript.TapLeaf{}, errors.New("empty script")
	}
	return txscript.NewTapLeaf(txscript.TapscriptLeafVersion(l.Version), script), nil
}

// MerkleRoot returns the root hash used as the taproot tweak.
func (t *Tree) MerkleRoot() chainhash.Hash {
	return t.indexed.RootNode.TapHash()
}

// CheckClaimLeaf verifies that the claim leaf pays to claimKey against the
// given RIPEMD160(SHA256(preimage)).
func (t *Tree) CheckClaimLeaf(hash160 []byte, claimKey *btcec.PublicKey) error {
	if !containsPush(t.ClaimLeaf.Script, hash160) ||
		!containsPush(t.ClaimLeaf.Script, schnorr.SerializePubKey(claimKey)) {

		return ErrClaimLeafMismatch
	}
	return nil
}

// CheckRefundLeaf verifies that the refund leaf pays to refundKey.
func (t *Tree) CheckRefundLeaf(refundKey *btcec.PublicKey) error {
	if !containsPush(t.RefundLeaf.Script, schnorr.SerializePubKey(refundKey)) {
		return ErrRefundLeafMismatch
	}
	return nil
}

// RefundControlBlock returns the serialized control block that proves the
// refund leaf against internalKey.
func (t *Tree) RefundControlBlock(internalKey *btcec.PublicKey) ([]byte, error) {
	idx, ok := t.indexed.LeafProofIndex[t.RefundLeaf.TapHash()]
	if !ok {
		return nil, fmt.Errorf("%w: refund leaf not in tree", ErrInvalidTree)
	}
	cb := t.indexed.LeafMerkleProofs[idx].ToControlBlock(internalKey)
	return cb.ToBytes()
}

func containsPush(script, data []byte) bool {
	push, err := txscript.NewScriptBuilder().AddData(data).Script()
	if err != nil {
		return false
	}
	return bytes.Contains(script, push)
}

// AggregateKey combines the service key and ours, in that order and
// unsorted, and applies the taproot tweak of tree.
func AggregateKey(server, ours *btcec.PublicKey, tree *Tree) (*musig2.AggregateKey, error) {
	root := tree.MerkleRoot()
	key, _, _, err := musig2.AggregateKeys(
		[]*btcec.PublicKey{server, ours}, false,
		musig2.WithTaprootKeyTweak(root[:]),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate keys: %w", err)
	}
	return key, nil
}

// PkScript returns the P2TR output script for key.
func PkScript(key *btcec.PublicKey) ([]byte, error) {
	return txscript.PayToTaprootScript(key)
}
