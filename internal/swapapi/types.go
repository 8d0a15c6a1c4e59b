package swapapi

// Limits are the per-pair amount bounds in satoshi-denominated units.
type Limits struct {
	Minimal         uint64 `json:"minimal"`
	Maximal         uint64 `json:"maximal"`
	MaximalZeroConf uint64 `json:"maximalZeroConf,omitempty"`
}

// ChainPair is one entry of GET /{version}/swap/chain.
type ChainPair struct {
	Hash   string    `json:"hash"`
	Rate   float64   `json:"rate"`
	Limits Limits    `json:"limits"`
	Fees   ChainFees `json:"fees"`
}

// ChainFees holds the service percentage and the miner fees of both legs.
type ChainFees struct {
	Percentage float64 `json:"percentage"`
	MinerFees  struct {
		Server uint64 `json:"server"`
		User   struct {
			Claim  uint64 `json:"claim"`
			Lockup uint64 `json:"lockup"`
		} `json:"user"`
	} `json:"minerFees"`
}

// SubmarinePair is one entry of GET /{version}/swap/submarine.
type SubmarinePair struct {
	Hash   string  `json:"hash"`
	Rate   float64 `json:"rate"`
	Limits Limits  `json:"limits"`
	Fees   struct {
		Percentage float64 `json:"percentage"`
		MinerFees  uint64  `json:"minerFees"`
	} `json:"fees"`
}

// ReversePair is one entry of GET /{version}/swap/reverse.
type ReversePair struct {
	Hash   string  `json:"hash"`
	Rate   float64 `json:"rate"`
	Limits Limits  `json:"limits"`
	Fees   struct {
		Percentage float64 `json:"percentage"`
		MinerFees  struct {
			Lockup uint64 `json:"lockup"`
			Claim  uint64 `json:"claim"`
		} `json:"minerFees"`
	} `json:"fees"`
}

// ChainPairs maps from -> to -> pair.
type ChainPairs map[string]map[string]ChainPair

// SubmarinePairs maps from -> to -> pair.
type SubmarinePairs map[string]map[string]SubmarinePair

// ReversePairs maps from -> to -> pair.
type ReversePairs map[string]map[string]ReversePair

// Get returns the pair for from -> to.
func (p ChainPairs) Get(from, to string) (ChainPair, error) {
	pair, ok := p[from][to]
	if !ok {
		return ChainPair{}, pairNotFound(from, to)
	}
	return pair, nil
}

// Get returns the pair for from -> to.
func (p SubmarinePairs) Get(from, to string) (SubmarinePair, error) {
	pair, ok := p[from][to]
	if !ok {
		return SubmarinePair{}, pairNotFound(from, to)
	}
	return pair, nil
}

// Get returns the pair for from -> to.
func (p ReversePairs) Get(from, to string) (ReversePair, error) {
	pair, ok := p[from][to]
	if !ok {
		return ReversePair{}, pairNotFound(from, to)
	}
	return pair, nil
}

// TreeLeaf is a tapscript leaf as sent by the service.
type TreeLeaf struct {
	Version uint8  `json:"version"`
	Output  string `json:"output"`
}

// SwapTree describes the Taproot script tree of a UTXO lockup.
type SwapTree struct {
	ClaimLeaf  TreeLeaf `json:"claimLeaf"`
	RefundLeaf TreeLeaf `json:"refundLeaf"`
}

// ChainSwapRequest is the body of POST /{version}/swap/chain.
type ChainSwapRequest struct {
	From             string `json:"from"`
	To               string `json:"to"`
	PreimageHash     string `json:"preimageHash"`
	ClaimPublicKey   string `json:"claimPublicKey,omitempty"`
	RefundPublicKey  string `json:"refundPublicKey,omitempty"`
	ClaimAddress     string `json:"claimAddress,omitempty"`
	RefundAddress    string `json:"refundAddress,omitempty"`
	UserLockAmount   uint64 `json:"userLockAmount,omitempty"`
	ServerLockAmount uint64 `json:"serverLockAmount,omitempty"`
	PairHash         string `json:"pairHash,omitempty"`
	ReferralID       string `json:"referralId,omitempty"`
}

// ChainSwapDetails describes one leg of a chain swap. UTXO legs carry a
// swap tree and the server key; EVM legs carry the contract as
// LockupAddress and the server's EVM address as ClaimAddress or
// RefundAddress.
type ChainSwapDetails struct {
	ServerPublicKey    string    `json:"serverPublicKey,omitempty"`
	Amount             uint64    `json:"amount"`
	LockupAddress      string    `json:"lockupAddress"`
	TimeoutBlockHeight uint32    `json:"timeoutBlockHeight"`
	SwapTree           *SwapTree `json:"swapTree,omitempty"`
	ClaimAddress       string    `json:"claimAddress,omitempty"`
	RefundAddress      string    `json:"refundAddress,omitempty"`
	Bip21              string    `json:"bip21,omitempty"`
}

// ChainSwapResponse is the reply to POST /{version}/swap/chain.
type ChainSwapResponse struct {
	ID            string           `json:"id"`
	ClaimDetails  ChainSwapDetails `json:"claimDetails"`
	LockupDetails ChainSwapDetails `json:"lockupDetails"`
}

// SubmarineRequest is the body of POST /{version}/swap/submarine.
type SubmarineRequest struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Invoice         string `json:"invoice"`
	RefundPublicKey string `json:"refundPublicKey,omitempty"`
	PairHash        string `json:"pairHash,omitempty"`
	ReferralID      string `json:"referralId,omitempty"`
}

// SubmarineResponse is the reply to POST /{version}/swap/submarine. For an
// EVM lockup Address is the swap contract and ClaimAddress the server.
type SubmarineResponse struct {
	ID                 string    `json:"id"`
	Address            string    `json:"address"`
	ClaimAddress       string    `json:"claimAddress,omitempty"`
	ClaimPublicKey     string    `json:"claimPublicKey,omitempty"`
	ExpectedAmount     uint64    `json:"expectedAmount"`
	AcceptZeroConf     bool      `json:"acceptZeroConf"`
	TimeoutBlockHeight uint32    `json:"timeoutBlockHeight"`
	Bip21              string    `json:"bip21,omitempty"`
	SwapTree           *SwapTree `json:"swapTree,omitempty"`
}

// ReverseRequest is the body of POST /{version}/swap/reverse.
type ReverseRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	PreimageHash   string `json:"preimageHash"`
	ClaimPublicKey string `json:"claimPublicKey,omitempty"`
	ClaimAddress   string `json:"claimAddress,omitempty"`
	InvoiceAmount  uint64 `json:"invoiceAmount,omitempty"`
	OnchainAmount  uint64 `json:"onchainAmount,omitempty"`
	PairHash       string `json:"pairHash,omitempty"`
	ReferralID     string `json:"referralId,omitempty"`
	Description    string `json:"description,omitempty"`
}

// ReverseResponse is the reply to POST /{version}/swap/reverse.
type ReverseResponse struct {
	ID                 string    `json:"id"`
	Invoice            string    `json:"invoice"`
	LockupAddress      string    `json:"lockupAddress"`
	RefundAddress      string    `json:"refundAddress,omitempty"`
	RefundPublicKey    string    `json:"refundPublicKey,omitempty"`
	OnchainAmount      uint64    `json:"onchainAmount"`
	TimeoutBlockHeight uint32    `json:"timeoutBlockHeight"`
	SwapTree           *SwapTree `json:"swapTree,omitempty"`
}

// Transaction is a transaction reference with optional raw hex.
type Transaction struct {
	ID  string `json:"id"`
	Hex string `json:"hex,omitempty"`
}

// LockTransaction is one side of GET /{version}/swap/chain/{id}/transactions.
type LockTransaction struct {
	Transaction Transaction `json:"transaction"`
	Timeout     struct {
		BlockHeight uint32 `json:"blockHeight"`
		Eta         uint64 `json:"eta,omitempty"`
	} `json:"timeout"`
}

// ChainSwapTransactions is the reply to GET /{version}/swap/chain/{id}/transactions.
type ChainSwapTransactions struct {
	UserLock   *LockTransaction `json:"userLock,omitempty"`
	ServerLock *LockTransaction `json:"serverLock,omitempty"`
}

// ToSign carries the unsigned claim transaction and our nonce.
type ToSign struct {
	PubNonce    string `json:"pubNonce"`
	Transaction string `json:"transaction"`
	Index       int    `json:"index"`
}

// PartialSignature is a MuSig2 public nonce plus partial signature, hex.
type PartialSignature struct {
	PubNonce         string `json:"pubNonce"`
	PartialSignature string `json:"partialSignature"`
}

// ChainClaimRequest is the body of POST /{version}/swap/chain/{id}/claim.
// Preimage and ToSign request the server's signature for our claim;
// Signature hands over our signature for the server's claim.
type ChainClaimRequest struct {
	Preimage  string            `json:"preimage,omitempty"`
	ToSign    *ToSign           `json:"toSign,omitempty"`
	Signature *PartialSignature `json:"signature,omitempty"`
}

// ChainClaimDetails is the reply to GET /{version}/swap/chain/{id}/claim: the
// server's claim transaction hash we are asked to co-sign.
type ChainClaimDetails struct {
	PubNonce        string `json:"pubNonce"`
	PublicKey       string `json:"publicKey"`
	TransactionHash string `json:"transactionHash"`
}

// SwapStatus is the reply to GET /{version}/swap/{id}.
type SwapStatus struct {
	Status           string       `json:"status"`
	FailureReason    string       `json:"failureReason,omitempty"`
	ZeroConfRejected bool         `json:"zeroConfRejected,omitempty"`
	Transaction      *Transaction `json:"transaction,omitempty"`
}

type broadcastRequest struct {
	Hex string `json:"hex"`
}

type broadcastResponse struct {
	ID string `json:"id"`
}
