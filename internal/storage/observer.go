package storage

import (
	"encoding/json"

	"github.com/juiceswap/lds-bridge/internal/bridge"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// Observer persists every flow transition.
type Observer struct {
	store *Storage
	log   *logging.Logger
}

// NewObserver returns an observer writing to store.
func NewObserver(store *Storage, log *logging.Logger) *Observer {
	return &Observer{store: store, log: logging.OrDefault(log, "storage")}
}

// Notify implements bridge.Observer.
func (o *Observer) Notify(n bridge.Notification) {
	rec, err := RecordFromSwap(n.Swap)
	if err != nil {
		o.log.Error("Failed to encode swap", "flow", n.FlowID, "error", err)
		return
	}
	if err := o.store.SaveSwap(rec); err != nil {
		o.log.Error("Failed to persist swap", "flow", n.FlowID, "step", n.NextState, "error", err)
	}
}

// RecordFromSwap converts a swap record for storage.
func RecordFromSwap(sw bridge.Swap) (*SwapRecord, error) {
	data, err := json.Marshal(sw)
	if err != nil {
		return nil, err
	}
	rec := &SwapRecord{
		ID:                 sw.FlowID,
		SwapID:             sw.ID,
		Direction:          string(sw.Kind),
		Status:             string(sw.Status),
		Step:               string(sw.Step),
		PreimageHash:       sw.PreimageHash,
		FromCurrency:       sw.From,
		ToCurrency:         sw.To,
		Amount:             sw.Amount,
		LockupAddress:      sw.LockupAddress,
		LockTxHash:         sw.LockTxHash,
		ClaimTxID:          sw.ClaimTxID,
		RefundTxHash:       sw.RefundTxHash,
		RefundKeyIndex:     sw.RefundKeyIndex,
		TimeoutBlockHeight: sw.TimeoutBlockHeight,
		Error:              sw.Error,
		ErrorClass:         string(sw.ErrorClass),
		Data:               data,
		CreatedAt:          sw.CreatedAt,
		UpdatedAt:          sw.UpdatedAt,
	}
	if rec.Step == "" {
		rec.Step = "Init"
	}
	return rec, nil
}

// Swap decodes the full swap record.
func (r *SwapRecord) Swap() (bridge.Swap, error) {
	var sw bridge.Swap
	if len(r.Data) == 0 {
		return sw, ErrInvalidSwap
	}
	if err := json.Unmarshal(r.Data, &sw); err != nil {
		return sw, err
	}
	return sw, nil
}
