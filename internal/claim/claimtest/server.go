// Package claimtest plays the swap service side of a cooperative Taproot
// claim for tests.
package claimtest

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/juiceswap/lds-bridge/internal/claim"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
)

// Server holds the service's MuSig2 key.
type Server struct {
	Key *btcec.PrivateKey
}

// NewServer creates a server with a random key.
func NewServer() (*Server, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Server{Key: key}, nil
}

// PublicKeyHex returns the compressed service key, hex.
func (s *Server) PublicKeyHex() string {
	return hex.EncodeToString(s.Key.PubKey().SerializeCompressed())
}

// Tree builds a chain swap lockup tree:
//
//	claim:  OP_SIZE 32 OP_EQUALVERIFY OP_HASH160 <hash160> OP_EQUALVERIFY <claimKey> OP_CHECKSIG
//	refund: <refundKey> OP_CHECKSIGVERIFY <timeout> OP_CHECKLOCKTIMEVERIFY
func Tree(hash160 []byte, claimKey, refundKey *btcec.PublicKey, timeout uint32) (*swapapi.SwapTree, error) {
	claimScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_SIZE).
		AddInt64(32).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_HASH160).
		AddData(hash160).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(schnorr.SerializePubKey(claimKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, err
	}

	refundScript, err := txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(refundKey)).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddInt64(int64(timeout)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		Script()
	if err != nil {
		return nil, err
	}

	return &swapapi.SwapTree{
		ClaimLeaf:  swapapi.TreeLeaf{Version: uint8(txscript.BaseLeafVersion), Output: hex.EncodeToString(claimScript)},
		RefundLeaf: swapapi.TreeLeaf{Version: uint8(txscript.BaseLeafVersion), Output: hex.EncodeToString(refundScript)},
	}, nil
}

// LockTx returns the hex of a transaction whose second output locks value
// to the tweaked aggregate of [server, ours].
func LockTx(tree *swapapi.SwapTree, server, ours *btcec.PublicKey, value int64) (string, error) {
	parsed, err := claim.ParseTree(tree)
	if err != nil {
		return "", err
	}
	key, err := claim.AggregateKey(server, ours, parsed)
	if err != nil {
		return "", err
	}
	pkScript, err := claim.PkScript(key.FinalKey)
	if err != nil {
		return "", err
	}

	change, err := txscript.NewScriptBuilder().AddOp(txscript.OP_1).AddData(make([]byte, 32)).Script()
	if err != nil {
		return "", err
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(12_345, change))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return claim.SerializeTx(tx)
}

// SignClaim returns the service's nonce and partial signature for the claim
// transaction in toSign, which spends the output of lockTxHex.
func (s *Server) SignClaim(tree *swapapi.SwapTree, ours *btcec.PublicKey, lockTxHex string,
	toSign swapapi.ToSign) (*swapapi.PartialSignature, error) {

	parsed, err := claim.ParseTree(tree)
	if err != nil {
		return nil, err
	}
	d, err := claim.NewDetails(lockTxHex, parsed, s.Key.PubKey(), ours)
	if err != nil {
		return nil, err
	}
	tx, err := claim.DeserializeTx(toSign.Transaction)
	if err != nil {
		return nil, err
	}
	msg, err := d.SigHash(tx)
	if err != nil {
		return nil, err
	}
	userNonce, err := claim.ParsePubNonce(toSign.PubNonce)
	if err != nil {
		return nil, err
	}

	nonces, err := musig2.GenNonces(musig2.WithPublicKey(s.Key.PubKey()))
	if err != nil {
		return nil, err
	}
	combined, err := musig2.AggregateNonces([][musig2.PubNonceSize]byte{nonces.PubNonce, userNonce})
	if err != nil {
		return nil, err
	}
	root := parsed.MerkleRoot()
	sig, err := musig2.Sign(nonces.SecNonce, s.Key, combined, d.Keys, msg,
		musig2.WithTaprootSignTweak(root[:]))
	if err != nil {
		return nil, err
	}

	return &swapapi.PartialSignature{
		PubNonce:         hex.EncodeToString(nonces.PubNonce[:]),
		PartialSignature: claim.EncodePartialSignature(sig),
	}, nil
}
