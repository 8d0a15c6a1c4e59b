// Package status follows swap lifecycle updates pushed by the swap service
// over its websocket channel.
package status

import "fmt"

// Status is a swap lifecycle status as named by the swap service.
type Status string

const (
	SwapCreated Status = "swap.created"
	SwapExpired Status = "swap.expired"

	InvoiceSet         Status = "invoice.set"
	InvoicePending     Status = "invoice.pending"
	InvoicePaid        Status = "invoice.paid"
	InvoiceSettled     Status = "invoice.settled"
	InvoiceExpired     Status = "invoice.expired"
	InvoiceFailedToPay Status = "invoice.failedToPay"

	TransactionMempool         Status = "transaction.mempool"
	TransactionConfirmed       Status = "transaction.confirmed"
	TransactionServerMempool   Status = "transaction.server.mempool"
	TransactionServerConfirmed Status = "transaction.server.confirmed"
	TransactionClaimPending    Status = "transaction.claim.pending"
	TransactionClaimed         Status = "transaction.claimed"
	TransactionFailed          Status = "transaction.failed"
	TransactionLockupFailed    Status = "transaction.lockupFailed"
	TransactionRefunded        Status = "transaction.refunded"
)

// lifecycle is the forward order of non-failure statuses.
var lifecycle = []Status{
	SwapCreated,
	InvoiceSet,
	TransactionMempool,
	TransactionConfirmed,
	InvoicePending,
	InvoicePaid,
	TransactionServerMempool,
	TransactionServerConfirmed,
	TransactionClaimPending,
	InvoiceSettled,
	TransactionClaimed,
}

var ranks = func() map[Status]int {
	m := make(map[Status]int, len(lifecycle))
	for i, s := range lifecycle {
		m[s] = i
	}
	return m
}()

var failures = map[Status]bool{
	SwapExpired:             true,
	InvoiceExpired:          true,
	InvoiceFailedToPay:      true,
	TransactionFailed:       true,
	TransactionLockupFailed: true,
	TransactionRefunded:     true,
}

// Rank returns the position of s in the lifecycle, or -1 for failure and
// unknown statuses.
func (s Status) Rank() int {
	if r, ok := ranks[s]; ok {
		return r
	}
	return -1
}

// Reached reports whether s is at or past target.
func (s Status) Reached(target Status) bool {
	r := s.Rank()
	return r >= 0 && r >= target.Rank()
}

// IsFailure reports whether s ends the swap unsuccessfully.
func (s Status) IsFailure() bool {
	return failures[s]
}

// IsKnown reports whether s is part of the lifecycle or a failure status.
func (s Status) IsKnown() bool {
	return s.Rank() >= 0 || s.IsFailure()
}

// IsFinal reports whether no further updates are expected.
func (s Status) IsFinal() bool {
	return s == TransactionClaimed || s == InvoiceSettled || s.IsFailure()
}

func (s Status) String() string {
	return string(s)
}

// FailedError is returned by a wait that observed a failure status.
type FailedError struct {
	SwapID string
	Status Status
	Reason string
}

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("swap %s failed: %s", e.SwapID, e.Status)
	}
	return fmt.Sprintf("swap %s failed: %s (%s)", e.SwapID, e.Status, e.Reason)
}
