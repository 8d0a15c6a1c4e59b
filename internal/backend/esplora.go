package backend

import (
	"context"

	"github.com/juiceswap/lds-bridge/internal/fetch"
)

// EsploraBackend implements Backend using the Esplora API (blockstream.info).
// The Esplora API matches mempool.space except for fee estimates.
type EsploraBackend struct {
	*MempoolBackend
}

// NewEsploraBackend creates a new Esplora backend.
func NewEsploraBackend(client *fetch.Client) *EsploraBackend {
	return &EsploraBackend{
		MempoolBackend: NewMempoolBackend(client),
	}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

// GetFeeEstimates returns fee estimates from /fee-estimates, which maps
// confirmation targets to sat/vB.
func (e *EsploraBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var result map[string]float64
	if err := e.get(ctx, "/fee-estimates", &result, nil); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  uint64(result["1"]),   // 1 block
		HalfHourFee: uint64(result["3"]),   // 3 blocks (~30 min)
		HourFee:     uint64(result["6"]),   // 6 blocks (~1 hour)
		EconomyFee:  uint64(result["144"]), // 144 blocks (~1 day)
		MinimumFee:  1,                     // not provided by Esplora
	}, nil
}

// Ensure EsploraBackend implements Backend
var _ Backend = (*EsploraBackend)(nil)
