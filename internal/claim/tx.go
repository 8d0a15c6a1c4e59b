package claim

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Details reference a swap output and everything needed to spend it
// cooperatively.
type Details struct {
	OutPoint wire.OutPoint
	Value    int64
	PkScript []byte

	Tree *Tree
	// Keys are the MuSig2 signers in aggregation order: service, ours.
	Keys []*btcec.PublicKey
	Key  *musig2.AggregateKey
}

// FindOutput locates the output of lockTx locked to the tweaked key.
func FindOutput(lockTx *wire.MsgTx, key *musig2.AggregateKey) (uint32, *wire.TxOut, error) {
	pkScript, err := PkScript(key.FinalKey)
	if err != nil {
		return 0, nil, err
	}
	for i, out := range lockTx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return uint32(i), out, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: %s", ErrOutputNotFound, lockTx.TxHash())
}

// KeyDetails aggregates the keys and tweaks them with tree, without
// reference to an output. It is enough to co-sign a message.
func KeyDetails(tree *Tree, server, ours *btcec.PublicKey) (*Details, error) {
	key, err := AggregateKey(server, ours, tree)
	if err != nil {
		return nil, err
	}
	return &Details{
		Tree: tree,
		Keys: []*btcec.PublicKey{server, ours},
		Key:  key,
	}, nil
}

// NewDetails aggregates the keys, tweaks them with tree and detects the swap
// output in the raw lock transaction.
func NewDetails(lockTxHex string, tree *Tree, server, ours *btcec.PublicKey) (*Details, error) {
	lockTx, err := DeserializeTx(lockTxHex)
	if err != nil {
		return nil, fmt.Errorf("invalid lock transaction: %w", err)
	}
	d, err := KeyDetails(tree, server, ours)
	if err != nil {
		return nil, err
	}
	vout, out, err := FindOutput(lockTx, d.Key)
	if err != nil {
		return nil, err
	}

	d.OutPoint = wire.OutPoint{Hash: lockTx.TxHash(), Index: vout}
	d.Value = out.Value
	d.PkScript = out.PkScript
	return d, nil
}

// FeeBudget returns locked minus expected, failing when the lock does not
// cover the expected output.
func FeeBudget(locked, expected int64) (int64, error) {
	if locked < expected {
		return 0, fmt.Errorf("%w: locked %d < expected %d", ErrNegativeFeeBudget, locked, expected)
	}
	return locked - expected, nil
}

// ConstructClaimTx builds the unsigned claim: one input spending the swap
// output, one output of expected sats to destination. The difference to the
// locked value is the miner fee.
func ConstructClaimTx(d *Details, destination string, expected int64, params *chaincfg.Params) (*wire.MsgTx, error) {
	if expected <= 0 {
		return nil, fmt.Errorf("invalid expected output %d", expected)
	}
	if _, err := FeeBudget(d.Value, expected); err != nil {
		return nil, err
	}
	destScript, err := AddressScript(destination, params)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	txIn := wire.NewTxIn(&d.OutPoint, nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum - 2
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(expected, destScript))

	return tx, nil
}

// SigHash returns the BIP341 key spend sighash of input 0.
func (d *Details) SigHash(tx *wire.MsgTx) ([32]byte, error) {
	var msg [32]byte
	fetcher := txscript.NewCannedPrevOutputFetcher(d.PkScript, d.Value)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	hash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, 0, fetcher)
	if err != nil {
		return msg, fmt.Errorf("failed to compute sighash: %w", err)
	}
	copy(msg[:], hash)
	return msg, nil
}

// Verify runs the script engine over input 0 of the signed tx.
func (d *Details) Verify(tx *wire.MsgTx) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(d.PkScript, d.Value)
	engine, err := txscript.NewEngine(
		d.PkScript, tx, 0, txscript.StandardVerifyFlags,
		nil, txscript.NewTxSigHashes(tx, fetcher), d.Value, fetcher,
	)
	if err != nil {
		return err
	}
	return engine.Execute()
}

// AddressScript decodes a Bitcoin address into its output script.
func AddressScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address %q is not for %s", address, params.Name)
	}
	return txscript.PayToAddrScript(addr)
}

// SerializeTx serializes a transaction to hex.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeTx deserializes a transaction from hex.
func DeserializeTx(hexStr string) (*wire.MsgTx, error) {
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %w", err)
	}
	return tx, nil
}
