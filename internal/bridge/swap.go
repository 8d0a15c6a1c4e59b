package bridge

import (
	"time"

	"github.com/juiceswap/lds-bridge/internal/status"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
)

// Swap is the observable record of one flow. It never holds the preimage
// or a private key.
type Swap struct {
	FlowID       string        `json:"flowId"`
	ID           string        `json:"id,omitempty"`
	Kind         Kind          `json:"kind"`
	From         string        `json:"from"`
	To           string        `json:"to"`
	Amount       uint64        `json:"amount"`
	PreimageHash string        `json:"preimageHash,omitempty"`
	Step         StateType     `json:"step"`
	Status       status.Status `json:"status,omitempty"`

	// ChainID is the EVM chain the user locks on, or receives on.
	ChainID        uint64 `json:"chainId,omitempty"`
	Account        string `json:"account,omitempty"`
	LockupAddress  string `json:"lockupAddress,omitempty"`
	ServerAddress  string `json:"serverAddress,omitempty"`
	ExpectedAmount uint64 `json:"expectedAmount,omitempty"`
	// LockAmount is what the user locked on the EVM chain, swap precision.
	LockAmount         uint64 `json:"lockAmount,omitempty"`
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight,omitempty"`
	Bip21              string `json:"bip21,omitempty"`
	Invoice            string `json:"invoice,omitempty"`
	ApproveTxHash      string `json:"approveTxHash,omitempty"`
	LockTxHash         string `json:"lockTxHash,omitempty"`
	ClaimTxID          string `json:"claimTxId,omitempty"`
	RefundTxHash       string `json:"refundTxHash,omitempty"`

	// SwapTree and ServerPublicKey describe the user's Bitcoin lockup.
	SwapTree        *swapapi.SwapTree `json:"swapTree,omitempty"`
	ServerPublicKey string            `json:"serverPublicKey,omitempty"`

	// RefundKeyIndex is set when the swap key was derived from the seed.
	RefundKeyIndex *uint32 `json:"refundKeyIndex,omitempty"`

	Error      string `json:"error,omitempty"`
	ErrorClass Class  `json:"errorClass,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Done reports whether the flow finished.
func (s Swap) Done() bool {
	return s.Step.IsFinal()
}
