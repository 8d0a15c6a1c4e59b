package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/juiceswap/lds-bridge/internal/claim"
	"github.com/juiceswap/lds-bridge/internal/evm"
	"github.com/juiceswap/lds-bridge/internal/fetch"
	"github.com/juiceswap/lds-bridge/internal/ldsapi"
	"github.com/juiceswap/lds-bridge/internal/status"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
)

// Class is the stable category of a flow failure. User interfaces map it
// to a message without parsing error text.
type Class string

const (
	ClassTransient        Class = "transient"
	ClassProtocol         Class = "protocol"
	ClassCrypto           Class = "crypto"
	ClassRejected         Class = "rejected"
	ClassPollingExhausted Class = "polling_exhausted"
	ClassTimeout          Class = "timeout"
	ClassCanceled         Class = "canceled"
	ClassUnknown          Class = "unknown"
)

var (
	// ErrSwapTimedOut is returned when a status wait exceeds the await
	// timeout. Funds may be locked; the refund path applies.
	ErrSwapTimedOut = errors.New("swap timed out waiting for the swap service, check refund")

	// ErrPollingExhausted is returned when the indexer never reported the
	// lockup within the attempt budget.
	ErrPollingExhausted = errors.New("indexer polling exhausted")

	// ErrInvalidResponse is returned when the swap service replies with data
	// that does not match the swap we requested.
	ErrInvalidResponse = errors.New("invalid swap service response")

	ErrUnsupportedPair   = errors.New("unsupported currency pair")
	ErrAmountOutOfBounds = errors.New("amount outside pair limits")
	ErrInvalidInvoice    = errors.New("invalid lightning invoice")
	ErrNoIndexer         = errors.New("no indexer configured")
	ErrNoInvoices        = errors.New("no invoice provider configured")
	ErrFlowNotFound      = errors.New("flow not found")
	ErrNotRefundable     = errors.New("swap is not refundable")

	// ErrLockupNotIndexed is returned when the claim service does not know
	// the lockup yet. The preimage is kept back.
	ErrLockupNotIndexed = errors.New("claim service does not know the lockup")
)

// Error is a failed flow step.
type Error struct {
	Class  Class
	Step   StateType
	SwapID string
	Err    error
}

func (e *Error) Error() string {
	if e.SwapID == "" {
		return fmt.Sprintf("%s failed (%s): %v", e.Step, e.Class, e.Err)
	}
	return fmt.Sprintf("swap %s: %s failed (%s): %v", e.SwapID, e.Step, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetryableError marks a poll failure that should be retried.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Classify maps err to its Class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var bridgeErr *Error
	if errors.As(err, &bridgeErr) && bridgeErr.Class != "" {
		return bridgeErr.Class
	}

	var (
		apiErr    *swapapi.APIError
		failedErr *status.FailedError
		netErr    *fetch.NetworkError
	)
	switch {
	case errors.Is(err, ErrSwapTimedOut):
		return ClassTimeout
	case errors.Is(err, ErrPollingExhausted):
		return ClassPollingExhausted
	case evm.IsUserRejected(err):
		return ClassRejected
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, claim.ErrOutputNotFound),
		errors.Is(err, claim.ErrNegativeFeeBudget),
		errors.Is(err, claim.ErrInvalidPartialSignature),
		errors.Is(err, claim.ErrInvalidTree),
		errors.Is(err, claim.ErrClaimLeafMismatch),
		errors.Is(err, claim.ErrRefundLeafMismatch),
		errors.Is(err, claim.ErrNonceUsed):
		return ClassCrypto
	case errors.Is(err, fetch.ErrRetriesExhausted),
		errors.As(err, &netErr),
		errors.Is(err, status.ErrDisconnected),
		errors.Is(err, ErrLockupNotIndexed),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.As(err, &apiErr),
		errors.As(err, &failedErr),
		errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrUnsupportedPair),
		errors.Is(err, ErrAmountOutOfBounds),
		errors.Is(err, ErrInvalidInvoice),
		errors.Is(err, swapapi.ErrPairNotFound),
		errors.Is(err, ldsapi.ErrGraphQL),
		errors.Is(err, fetch.ErrDecode):
		return ClassProtocol
	}
	return ClassUnknown
}
