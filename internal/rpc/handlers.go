package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/juiceswap/lds-bridge/internal/bridge"
	"github.com/juiceswap/lds-bridge/internal/limits"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/storage"
)

const defaultListLimit = 50

// BridgeSwaps adapts *bridge.Bridge to Swaps.
type BridgeSwaps struct {
	Bridge *bridge.Bridge
}

// Start implements Swaps.
func (b BridgeSwaps) Start(ctx context.Context, dir bridge.Direction, observers ...bridge.Observer) (bridge.Swap, error) {
	h, err := b.Bridge.Start(ctx, dir, observers...)
	if err != nil {
		return bridge.Swap{}, err
	}
	return h.Swap(), nil
}

// Swap implements Swaps.
func (b BridgeSwaps) Swap(flowID string) (bridge.Swap, error) {
	h, err := b.Bridge.Get(flowID)
	if err != nil {
		return bridge.Swap{}, err
	}
	return h.Swap(), nil
}

// List implements Swaps.
func (b BridgeSwaps) List() []bridge.Swap {
	return b.Bridge.List()
}

// Refund implements Swaps.
func (b BridgeSwaps) Refund(ctx context.Context, sw bridge.Swap, destination string) (string, error) {
	return b.Bridge.Refund(ctx, sw, destination)
}

// SwapIDParams selects one swap by flow id or service swap id.
type SwapIDParams struct {
	ID string `json:"id"`
}

// ListParams are the parameters of bridge_list.
type ListParams struct {
	// History reads persisted swaps instead of the flows of this run.
	History bool `json:"history,omitempty"`
	Limit   int  `json:"limit,omitempty"`
}

// LimitsParams are the parameters of bridge_limits.
type LimitsParams struct {
	From string      `json:"from"`
	To   string      `json:"to"`
	Side limits.Side `json:"side,omitempty"`
}

// LimitsResult is the result of bridge_limits.
type LimitsResult struct {
	Kind       string  `json:"kind"`
	Min        uint64  `json:"min"`
	Max        uint64  `json:"max"`
	ServiceMin uint64  `json:"serviceMin"`
	ServiceMax uint64  `json:"serviceMax"`
	Custodial  uint64  `json:"custodial"`
	OnChain    *uint64 `json:"onChain,omitempty"`
}

// RefundParams are the parameters of bridge_refund.
type RefundParams struct {
	ID string `json:"id"`
	// Destination receives a Bitcoin refund; EVM refunds go back to the
	// locking account.
	Destination string `json:"destination,omitempty"`
}

// RefundResult is the result of bridge_refund.
type RefundResult struct {
	ID     string `json:"id"`
	TxHash string `json:"txHash"`
}

// DismissParams are the parameters of popups_dismiss.
type DismissParams struct {
	SwapID string        `json:"swapId"`
	Status notify.Status `json:"status,omitempty"`
}

func (s *Server) bridgeStart(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p bridge.Params
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	dir, err := bridge.NewDirection(p)
	if err != nil {
		return nil, invalidParams(err)
	}

	// The flow must survive the request.
	sw, err := s.deps.Swaps.Start(s.ctx, dir, s.events)
	if err != nil {
		if errors.Is(err, bridge.ErrUnsupportedPair) || errors.Is(err, bridge.ErrAmountOutOfBounds) {
			return nil, invalidParams(err)
		}
		return nil, err
	}
	s.log.Info("Swap started", "flow", sw.FlowID, "kind", sw.Kind, "from", sw.From, "to", sw.To, "amount", sw.Amount)
	return sw, nil
}

func (s *Server) bridgeStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams(errors.New("id is required"))
	}
	return s.lookup(p.ID)
}

func (s *Server) bridgeList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ListParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	if !p.History {
		return s.deps.Swaps.List(), nil
	}
	if s.deps.Store == nil {
		return nil, errors.New("no swap history configured")
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	records, err := s.deps.Store.ListSwaps(limit)
	if err != nil {
		return nil, err
	}
	out := make([]bridge.Swap, 0, len(records))
	for _, rec := range records {
		sw, err := rec.Swap()
		if err != nil {
			s.log.Warn("Skipping unreadable swap record", "id", rec.ID, "error", err)
			continue
		}
		out = append(out, sw)
	}
	return out, nil
}

func (s *Server) bridgeLimits(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p LimitsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if s.deps.Limits == nil {
		return nil, errors.New("no limits resolver configured")
	}

	in, ok := s.deps.Currencies.Currency(p.From)
	if !ok {
		return nil, invalidParams(fmt.Errorf("unknown currency %q", p.From))
	}
	out, ok := s.deps.Currencies.Currency(p.To)
	if !ok {
		return nil, invalidParams(fmt.Errorf("unknown currency %q", p.To))
	}
	side := p.Side
	if side == "" {
		side = limits.Paying
	}
	if side != limits.Paying && side != limits.Receiving {
		return nil, invalidParams(fmt.Errorf("unknown side %q", side))
	}

	l, ok := s.deps.Limits.Resolve(ctx, in, out, side)
	if !ok {
		return nil, &Error{Code: LimitsNotFound, Message: "limits unavailable", Data: p}
	}
	return LimitsResult{
		Kind:       l.Kind.String(),
		Min:        l.Min,
		Max:        l.Max,
		ServiceMin: l.ServiceMin,
		ServiceMax: l.ServiceMax,
		Custodial:  l.Custodial,
		OnChain:    l.OnChain,
	}, nil
}

func (s *Server) bridgeRefund(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p RefundParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams(errors.New("id is required"))
	}

	sw, err := s.lookup(p.ID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.deps.Swaps.Refund(ctx, sw, p.Destination)
	if err != nil {
		if errors.Is(err, bridge.ErrNotRefundable) {
			return nil, &Error{Code: NotRefundable, Message: err.Error()}
		}
		return nil, err
	}
	return RefundResult{ID: p.ID, TxHash: txHash}, nil
}

func (s *Server) popupsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.deps.Popups == nil {
		return []notify.Popup{}, nil
	}
	return s.deps.Popups.List(), nil
}

func (s *Server) popupsDismiss(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p DismissParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.SwapID == "" {
		return nil, invalidParams(errors.New("swapId is required"))
	}
	if p.Status == "" {
		p.Status = notify.StatusPending
	}
	dismissed := false
	if s.deps.Popups != nil {
		dismissed = s.deps.Popups.Dismiss(notify.StatusKey(p.SwapID, p.Status))
	}
	return map[string]bool{"dismissed": dismissed}, nil
}

// lookup finds a swap among the running flows, then in the history.
func (s *Server) lookup(id string) (bridge.Swap, error) {
	sw, err := s.deps.Swaps.Swap(id)
	if err == nil {
		return sw, nil
	}
	if !errors.Is(err, bridge.ErrFlowNotFound) {
		return bridge.Swap{}, err
	}

	if s.deps.Store != nil {
		rec, err := s.deps.Store.GetSwap(id)
		switch {
		case err == nil:
			return rec.Swap()
		case !errors.Is(err, storage.ErrSwapNotFound):
			return bridge.Swap{}, err
		}
	}
	return bridge.Swap{}, &Error{Code: SwapNotFound, Message: "swap not found", Data: id}
}

func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return invalidParams(errors.New("missing params"))
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams(err)
	}
	return nil
}

func invalidParams(err error) *Error {
	return &Error{Code: InvalidParams, Message: err.Error()}
}
