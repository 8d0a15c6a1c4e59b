package rpc

import (
	"sync"

	"github.com/juiceswap/lds-bridge/internal/bridge"
)

// StepEvent is the payload of swap_step.
type StepEvent struct {
	FlowID   string           `json:"flowId"`
	SwapID   string           `json:"swapId,omitempty"`
	Previous bridge.StateType `json:"previous"`
	Step     bridge.StateType `json:"step"`
	Swap     bridge.Swap      `json:"swap"`
}

// InvoiceEvent is the payload of swap_invoice.
type InvoiceEvent struct {
	FlowID  string `json:"flowId"`
	SwapID  string `json:"swapId,omitempty"`
	Invoice string `json:"invoice"`
}

// FailedEvent is the payload of swap_failed.
type FailedEvent struct {
	FlowID string           `json:"flowId"`
	SwapID string           `json:"swapId,omitempty"`
	Step   bridge.StateType `json:"step"`
	Class  bridge.Class     `json:"class"`
	Error  string           `json:"error"`
	Swap   bridge.Swap      `json:"swap"`
}

// eventObserver broadcasts flow transitions to WebSocket clients.
type eventObserver struct {
	hub *WSHub

	mu       sync.Mutex
	invoiced map[string]bool
}

func newEventObserver(hub *WSHub) *eventObserver {
	return &eventObserver{hub: hub, invoiced: make(map[string]bool)}
}

// Notify implements bridge.Observer.
func (o *eventObserver) Notify(n bridge.Notification) {
	sw := n.Swap
	o.hub.Broadcast(EventSwapStep, StepEvent{
		FlowID:   n.FlowID,
		SwapID:   sw.ID,
		Previous: n.PreviousState,
		Step:     n.NextState,
		Swap:     sw,
	})

	if sw.Invoice != "" && o.firstInvoice(n.FlowID) {
		o.hub.Broadcast(EventSwapInvoice, InvoiceEvent{
			FlowID:  n.FlowID,
			SwapID:  sw.ID,
			Invoice: sw.Invoice,
		})
	}

	switch n.NextState {
	case bridge.Done:
		o.forget(n.FlowID)
		o.hub.Broadcast(EventSwapCompleted, sw)
	case bridge.Failed:
		o.forget(n.FlowID)
		o.hub.Broadcast(EventSwapFailed, FailedEvent{
			FlowID: n.FlowID,
			SwapID: sw.ID,
			Step:   n.PreviousState,
			Class:  sw.ErrorClass,
			Error:  sw.Error,
			Swap:   sw,
		})
	}
}

func (o *eventObserver) firstInvoice(flowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.invoiced[flowID] {
		return false
	}
	o.invoiced[flowID] = true
	return true
}

func (o *eventObserver) forget(flowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.invoiced, flowID)
}
