package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/juiceswap/lds-bridge/internal/keys"
	"github.com/juiceswap/lds-bridge/internal/status"
)

func TestNewRequiresServiceAndKeys(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Keys: keys.NewRandom()})
	require.ErrorContains(t, err, "swap service")

	_, err = New(DefaultConfig(), Deps{Service: &fakeService{}})
	require.ErrorContains(t, err, "key generator")

	b, err := New(Config{}, Deps{Service: &fakeService{}, Keys: keys.NewRandom()})
	require.NoError(t, err)
	require.Nil(t, b.poller)
	require.NotNil(t, b.cfg.ChainParams)
}

func TestStartValidates(t *testing.T) {
	b := newHarness(t).bridge()

	_, err := b.Start(context.Background(), Reverse{From: "lnBTC", To: "cBTC"})
	require.ErrorIs(t, err, ErrUnsupportedPair)

	_, err = b.Start(context.Background(), Reverse{From: "lnBTC", To: "DOGE", Amount: 1})
	require.ErrorIs(t, err, ErrUnsupportedPair)
	require.Empty(t, b.List())
}

func TestUnsupportedDirectionPair(t *testing.T) {
	h := newHarness(t)
	sw, err := h.bridge().Run(context.Background(), Submarine{From: "BTC", To: "lnBTC", Amount: 10, Destination: "x"})
	require.ErrorIs(t, err, ErrUnsupportedPair)
	require.Equal(t, Failed, sw.Step)
	require.Equal(t, ClassProtocol, sw.ErrorClass)
}

func TestGetAndList(t *testing.T) {
	h := newHarness(t)
	fx := setupSubmarine(t, h, reverseAmount)
	b := h.bridge()

	first, err := b.Run(context.Background(), submarineDirection(fx.invoice))
	require.NoError(t, err)
	second, err := b.Run(context.Background(), submarineDirection(fx.invoice))
	require.NoError(t, err)

	flow, err := b.Get(first.FlowID)
	require.NoError(t, err)
	require.Equal(t, first, flow.Swap())
	require.Equal(t, Done, flow.State())

	_, err = b.Get("missing")
	require.ErrorIs(t, err, ErrFlowNotFound)

	list := b.List()
	require.Len(t, list, 2)
	require.ElementsMatch(t, []string{first.FlowID, second.FlowID}, []string{list[0].FlowID, list[1].FlowID})
	require.False(t, list[0].CreatedAt.Before(list[1].CreatedAt))
}

func TestFinishedFlowsEvicted(t *testing.T) {
	h := newHarness(t)
	testClock := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	h.clock = testClock
	h.cfg.FlowRetention = time.Minute
	fx := setupSubmarine(t, h, reverseAmount)
	b := h.bridge()

	done, err := b.Run(context.Background(), submarineDirection(fx.invoice))
	require.NoError(t, err)

	testClock.SetTime(testClock.Now().Add(30 * time.Second))
	_, err = b.Get(done.FlowID)
	require.NoError(t, err)
	require.Len(t, b.List(), 1)

	testClock.SetTime(testClock.Now().Add(30 * time.Second))
	_, err = b.Get(done.FlowID)
	require.ErrorIs(t, err, ErrFlowNotFound)
	require.Empty(t, b.List())
}

func TestShutdownCancelsFlows(t *testing.T) {
	defer leaktest.Check(t)()

	h := newReverseHarness(t)
	h.sub.on(status.TransactionConfirmed, blockUntilDone)
	b := h.bridge()

	var seen []StateType
	b.RegisterObserver(ObserverFunc(func(n Notification) { seen = append(seen, n.NextState) }))

	flow, err := b.Start(context.Background(), reverseDirection())
	require.NoError(t, err)
	<-h.ticks

	b.Shutdown()
	<-flow.Done()

	sw, err := flow.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, ClassCanceled, sw.ErrorClass)
	require.Equal(t, Failed, seen[len(seen)-1])
	require.Equal(t, 1, h.sub.Disconnects())
}

func TestCancelFlow(t *testing.T) {
	defer leaktest.Check(t)()

	h := newReverseHarness(t)
	h.sub.on(status.TransactionConfirmed, blockUntilDone)

	flow, err := h.bridge().Start(context.Background(), reverseDirection())
	require.NoError(t, err)
	<-h.ticks
	flow.Cancel()

	sw, err := flow.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, Race, failedStep(t, err))
	require.Equal(t, Failed, sw.Step)
	require.Empty(t, h.indexer.Claims())
}
