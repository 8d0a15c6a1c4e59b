// Package bridge runs the cross-chain swap flows: chain swaps between EVM
// chains and Bitcoin, ERC20 chain swaps, and Lightning submarine and
// reverse swaps.
//
// Every flow is an explicit sequence of states. Observers see each
// transition together with a copy of the swap record, which never contains
// the preimage or a private key.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/evm"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// Bridge starts flows and keeps track of the running ones.
type Bridge struct {
	cfg    Config
	deps   Deps
	clock  clock.Clock
	log    *logging.Logger
	poller *IndexerPoller

	mu        sync.Mutex
	flows     map[string]*Flow
	observers []Observer

	wg sync.WaitGroup
}

// New creates a Bridge.
func New(cfg Config, deps Deps) (*Bridge, error) {
	if deps.Service == nil {
		return nil, errors.New("bridge: swap service is required")
	}
	if deps.Keys == nil {
		return nil, errors.New("bridge: key generator is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}
	if cfg.Currency == nil {
		cfg.Currency = config.GetCurrency
	}
	if cfg.ChainParams == nil {
		cfg.ChainParams = DefaultConfig().ChainParams
	}
	if cfg.FlowRetention <= 0 {
		cfg.FlowRetention = DefaultFlowRetention
	}

	b := &Bridge{
		cfg:   cfg,
		deps:  deps,
		clock: deps.Clock,
		log:   logging.OrDefault(deps.Log, "bridge"),
		flows: make(map[string]*Flow),
	}
	if deps.Indexer != nil {
		b.poller = NewIndexerPoller(deps.Indexer, cfg.PollAttempts, cfg.PollInterval, deps.Clock, b.log)
	}
	return b, nil
}

// RegisterObserver adds an observer to every flow started afterwards.
func (b *Bridge) RegisterObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Flow is a handle on a running flow.
type Flow struct {
	f      *flow
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// ended is set under Bridge.mu once the flow returned.
	ended time.Time
}

// ID returns the local flow id.
func (h *Flow) ID() string {
	return h.f.id
}

// Swap returns a copy of the current record.
func (h *Flow) Swap() Swap {
	return h.f.snapshot()
}

// State returns the current step.
func (h *Flow) State() StateType {
	return h.f.state()
}

// Done is closed when the flow ended.
func (h *Flow) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the flow ended and returns its final record and error.
func (h *Flow) Wait(ctx context.Context) (Swap, error) {
	select {
	case <-h.done:
		return h.f.snapshot(), h.err
	case <-ctx.Done():
		return h.f.snapshot(), ctx.Err()
	}
}

// Cancel aborts the flow at its next suspension point.
func (h *Flow) Cancel() {
	h.cancel()
}

// Start runs the flow for dir in the background.
func (b *Bridge) Start(ctx context.Context, dir Direction, observers ...Observer) (*Flow, error) {
	if err := b.validate(dir); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Flow{
		f:      b.newFlow(dir, observers),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.pruneLocked()
	b.flows[h.ID()] = h
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(h.done)
		defer cancel()
		h.err = b.execute(ctx, h.f, dir)

		b.mu.Lock()
		h.ended = b.clock.Now()
		b.mu.Unlock()
	}()

	return h, nil
}

// Run runs the flow for dir and returns when it ended.
func (b *Bridge) Run(ctx context.Context, dir Direction, observers ...Observer) (Swap, error) {
	h, err := b.Start(ctx, dir, observers...)
	if err != nil {
		return Swap{}, err
	}
	<-h.done
	return h.f.snapshot(), h.err
}

// Get returns a flow by its local id.
func (b *Bridge) Get(flowID string) (*Flow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	h, ok := b.flows[flowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}
	return h, nil
}

// List returns the records of the running flows and of those finished
// within the retention period, newest first.
func (b *Bridge) List() []Swap {
	b.mu.Lock()
	b.pruneLocked()
	out := make([]Swap, 0, len(b.flows))
	for _, h := range b.flows {
		out = append(out, h.f.snapshot())
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// pruneLocked drops flows that finished more than FlowRetention ago.
func (b *Bridge) pruneLocked() {
	now := b.clock.Now()
	for id, h := range b.flows {
		if !h.ended.IsZero() && now.Sub(h.ended) >= b.cfg.FlowRetention {
			delete(b.flows, id)
		}
	}
}

// Shutdown cancels every running flow and waits for them to exit.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	for _, h := range b.flows {
		h.cancel()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bridge) validate(dir Direction) error {
	from, to := dir.Pair()
	if dir.SwapAmount() == 0 {
		return fmt.Errorf("%w: zero amount", ErrUnsupportedPair)
	}
	for _, sym := range []string{from, to} {
		cur, ok := b.cfg.Currency(sym)
		if !ok {
			return fmt.Errorf("%w: unknown currency %s", ErrUnsupportedPair, sym)
		}
		if err := cur.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrUnsupportedPair, err)
		}
	}

	// Chain swaps lock exactly the requested amount on the source chain.
	switch dir.(type) {
	case ChainForward, ERC20ChainSwap:
		cur, _ := b.cfg.Currency(from)
		if cur.Kind == config.KindERC20 {
			if err := evm.CheckPrecision(dir.SwapAmount(), cur.Decimals); err != nil {
				return fmt.Errorf("%w: %w", ErrAmountOutOfBounds, err)
			}
		}
	}
	return nil
}

func (b *Bridge) newFlow(dir Direction, observers []Observer) *flow {
	id := uuid.NewString()
	from, to := dir.Pair()
	now := b.clock.Now()

	f := &flow{
		id:  id,
		b:   b,
		log: b.log.With("flow", id[:8], "kind", dir.Kind()),
		swap: Swap{
			FlowID:    id,
			Kind:      dir.Kind(),
			From:      from,
			To:        to,
			Amount:    dir.SwapAmount(),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	b.mu.Lock()
	for _, o := range b.observers {
		f.register(o)
	}
	b.mu.Unlock()
	for _, o := range observers {
		f.register(o)
	}
	return f
}

// execute dispatches on the direction. The status connection and the
// secret material are released on every exit path.
func (b *Bridge) execute(ctx context.Context, f *flow, dir Direction) error {
	defer f.wipe()
	defer f.disconnect()

	switch d := dir.(type) {
	case ChainForward:
		return b.runChainForward(ctx, f, d)
	case ChainReverse:
		return b.runChainReverse(ctx, f, d)
	case ERC20ChainSwap:
		return b.runERC20Chain(ctx, f, d)
	case Submarine:
		return b.runSubmarine(ctx, f, d)
	case Reverse:
		return b.runReverse(ctx, f, d)
	default:
		return f.fail(StateInit, fmt.Errorf("unhandled direction %T", dir))
	}
}
