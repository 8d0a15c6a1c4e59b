package claim

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// refundVSize is the estimated size of a one-in one-out refund leaf spend.
// Base 10, input 41, output 43, witness (sig 65 + script ~40 + control block
// 65) / 4 = ~43.
const refundVSize = 10 + 41 + 43 + 43

// RefundParams describe a timeout refund of a swap output we locked.
type RefundParams struct {
	Details            *Details
	RefundKey          *btcec.PrivateKey
	Destination        string
	TimeoutBlockHeight uint32
	FeeRate            uint64 // sat/vB
}

// BuildRefundTx spends the swap output through the refund leaf once the
// absolute timelock has passed. Witness: [signature, refund script, control
// block].
func BuildRefundTx(p RefundParams, params *chaincfg.Params) (*wire.MsgTx, error) {
	d := p.Details
	if err := d.Tree.CheckRefundLeaf(p.RefundKey.PubKey()); err != nil {
		return nil, err
	}

	fee := int64(refundVSize * p.FeeRate)
	if _, err := FeeBudget(d.Value, fee); err != nil {
		return nil, err
	}
	destScript, err := AddressScript(p.Destination, params)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = p.TimeoutBlockHeight
	txIn := wire.NewTxIn(&d.OutPoint, nil, nil)
	// Non-final sequence so the lock time is enforced.
	txIn.Sequence = wire.MaxTxInSequenceNum - 1
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(d.Value-fee, destScript))

	fetcher := txscript.NewCannedPrevOutputFetcher(d.PkScript, d.Value)
	sighash, err := txscript.CalcTapscriptSignaturehash(
		txscript.NewTxSigHashes(tx, fetcher),
		txscript.SigHashDefault, tx, 0, fetcher, d.Tree.RefundLeaf,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute tapscript sighash: %w", err)
	}

	sig, err := schnorr.Sign(p.RefundKey, sighash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refund transaction: %w", err)
	}

	controlBlock, err := d.Tree.RefundControlBlock(d.Key.PreTweakedKey)
	if err != nil {
		return nil, err
	}

	tx.TxIn[0].Witness = wire.TxWitness{
		sig.Serialize(),
		d.Tree.RefundLeaf.Script,
		controlBlock,
	}
	return tx, nil
}
