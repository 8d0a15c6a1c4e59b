package bridge

import (
	"context"
	"sync"
	"time"
)

// StateType is a flow step.
type StateType string

const (
	StateInit StateType = ""

	KeyGen                    StateType = "KeyGen"
	QuotePair                 StateType = "QuotePair"
	RequestInvoice            StateType = "RequestInvoice"
	CreateSwap                StateType = "CreateSwap"
	AwaitCreated              StateType = "AwaitCreated"
	LockEvm                   StateType = "LockEvm"
	AwaitMempool              StateType = "AwaitMempool"
	FetchCounterpartyLockTx   StateType = "FetchCounterpartyLockTx"
	BuildCooperativeClaim     StateType = "BuildCooperativeClaim"
	ConstructClaimTx          StateType = "ConstructClaimTx"
	ExchangePartialSignatures StateType = "ExchangePartialSignatures"
	AggregateAndSign          StateType = "AggregateAndSign"
	Broadcast                 StateType = "Broadcast"
	ShowLockup                StateType = "ShowLockup"
	AwaitServerLock           StateType = "AwaitServerLock"
	HelpMeClaim               StateType = "HelpMeClaim"
	CrossSign                 StateType = "CrossSign"
	ShowInvoice               StateType = "ShowInvoice"
	Race                      StateType = "Race"
	AwaitIndexer              StateType = "AwaitIndexer"
	Cleanup                   StateType = "Cleanup"

	Done   StateType = "Done"
	Failed StateType = "Failed"
)

// IsFinal reports whether no further transition follows.
func (s StateType) IsFinal() bool {
	return s == Done || s == Failed
}

// Notification is sent to observers on every transition.
type Notification struct {
	FlowID        string
	PreviousState StateType
	NextState     StateType
	Swap          Swap
	Err           error
	Time          time.Time
}

// Observer watches flow transitions. Notify runs on the flow goroutine and
// must not block.
type Observer interface {
	Notify(Notification)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notification)

// Notify implements Observer.
func (f ObserverFunc) Notify(n Notification) {
	f(n)
}

// step binds a state to the action run on entering it.
type step[S any] struct {
	state  StateType
	action func(ctx context.Context, s *S) error
}

// run enters every step in order. The first failing action moves the flow
// to Failed and its error is returned as an *Error.
func run[S any](ctx context.Context, f *flow, s *S, steps []step[S]) error {
	for _, st := range steps {
		f.transition(st.state, nil)

		if err := ctx.Err(); err != nil {
			return f.fail(st.state, err)
		}
		if err := st.action(ctx, s); err != nil {
			return f.fail(st.state, err)
		}
	}
	f.transition(Done, nil)
	return nil
}

// machine tracks the current state of one flow and fans transitions out
// to observers.
type machine struct {
	mu        sync.Mutex
	current   StateType
	observers []Observer
}

func (m *machine) state() StateType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *machine) register(o Observer) {
	if o == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *machine) move(next StateType) (StateType, []Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current
	m.current = next
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	return prev, observers
}
