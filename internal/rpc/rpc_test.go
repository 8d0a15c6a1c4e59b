package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/juiceswap/lds-bridge/internal/bridge"
	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/limits"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/storage"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

const claimAddr = "0x00000000000000000000000000000000000000c1"

type fakeSwaps struct {
	mu        sync.Mutex
	started   []bridge.Direction
	ctx       context.Context
	observers []bridge.Observer
	flows     map[string]bridge.Swap
	refunded  []string
	refundErr error
}

func newFakeSwaps() *fakeSwaps {
	return &fakeSwaps{flows: make(map[string]bridge.Swap)}
}

func (f *fakeSwaps) Start(ctx context.Context, dir bridge.Direction, observers ...bridge.Observer) (bridge.Swap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, to := dir.Pair()
	if from == "DOGE" {
		return bridge.Swap{}, bridge.ErrUnsupportedPair
	}
	f.started = append(f.started, dir)
	f.ctx = ctx
	f.observers = observers
	sw := bridge.Swap{FlowID: "flow1", Kind: dir.Kind(), From: from, To: to, Amount: dir.SwapAmount()}
	f.flows[sw.FlowID] = sw
	return sw, nil
}

func (f *fakeSwaps) Swap(flowID string) (bridge.Swap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sw, ok := f.flows[flowID]
	if !ok {
		return bridge.Swap{}, bridge.ErrFlowNotFound
	}
	return sw, nil
}

func (f *fakeSwaps) List() []bridge.Swap {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bridge.Swap, 0, len(f.flows))
	for _, sw := range f.flows {
		out = append(out, sw)
	}
	return out
}

func (f *fakeSwaps) Refund(ctx context.Context, sw bridge.Swap, destination string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return "", f.refundErr
	}
	f.refunded = append(f.refunded, sw.FlowID)
	return "0xrefund", nil
}

type fakeLimits struct {
	side limits.Side
	res  *limits.Limits
}

func (f *fakeLimits) Resolve(ctx context.Context, in, out config.Currency, side limits.Side) (*limits.Limits, bool) {
	f.side = side
	return f.res, f.res != nil
}

func newTestServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	if deps.Swaps == nil {
		deps.Swaps = newFakeSwaps()
	}
	if deps.Currencies == nil {
		deps.Currencies = config.DefaultConfig()
	}
	deps.Log = logging.Discard()

	s, err := NewServer(deps)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	go s.wsHub.Run()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return s, ts
}

func call(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "method": method, "id": 1}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return post(t, url, body)
}

func post(t *testing.T, url string, body []byte) Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

// result re-decodes a response result into v.
func result(t *testing.T, resp Response, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func wantCode(t *testing.T, resp Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Fatalf("Error.Code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

func TestNewServerRequiresDeps(t *testing.T) {
	if _, err := NewServer(Deps{Currencies: config.DefaultConfig()}); err == nil {
		t.Error("expected error without swaps")
	}
	if _, err := NewServer(Deps{Swaps: newFakeSwaps()}); err == nil {
		t.Error("expected error without currencies")
	}
}

func TestProtocolErrors(t *testing.T) {
	_, ts := newTestServer(t, Deps{})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"garbage", `{not json`, ParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"bridge_list","id":1}`, InvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"orders_list","id":1}`, MethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","method":"bridge_status","id":1}`, InvalidParams},
		{"bad params", `{"jsonrpc":"2.0","method":"bridge_status","params":[1],"id":1}`, InvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantCode(t, post(t, ts.URL, []byte(tt.body)), tt.code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, Deps{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestBridgeStart(t *testing.T) {
	swaps := newFakeSwaps()
	s, ts := newTestServer(t, Deps{Swaps: swaps})

	resp := call(t, ts.URL, "bridge_start", bridge.Params{
		Kind:         bridge.KindReverse,
		From:         "lnBTC",
		To:           "cBTC",
		Amount:       25_000,
		ClaimAddress: claimAddr,
	})
	var sw bridge.Swap
	result(t, resp, &sw)

	if sw.FlowID != "flow1" || sw.Kind != bridge.KindReverse {
		t.Errorf("swap = %+v", sw)
	}

	swaps.mu.Lock()
	defer swaps.mu.Unlock()
	if len(swaps.started) != 1 {
		t.Fatalf("started %d flows, want 1", len(swaps.started))
	}
	dir, ok := swaps.started[0].(bridge.Reverse)
	if !ok {
		t.Fatalf("direction = %T, want bridge.Reverse", swaps.started[0])
	}
	if dir.ClaimAddress != common.HexToAddress(claimAddr) {
		t.Errorf("ClaimAddress = %s", dir.ClaimAddress.Hex())
	}
	if swaps.ctx.Err() != nil {
		t.Error("flow context ended with the request")
	}
	if len(swaps.observers) != 1 || swaps.observers[0] != s.Observer() {
		t.Error("flow is not observed by the event hub")
	}
}

func TestBridgeStartRejectsBadDirection(t *testing.T) {
	_, ts := newTestServer(t, Deps{})

	wantCode(t, call(t, ts.URL, "bridge_start", bridge.Params{Kind: bridge.KindReverse, From: "lnBTC", To: "cBTC"}), InvalidParams)
	wantCode(t, call(t, ts.URL, "bridge_start", bridge.Params{Kind: "teleport", From: "lnBTC", To: "cBTC", Amount: 1}), InvalidParams)
	wantCode(t, call(t, ts.URL, "bridge_start", bridge.Params{
		Kind: bridge.KindSubmarine, From: "DOGE", To: "lnBTC", Amount: 1, Destination: "lnbc1",
	}), InvalidParams)
}

func TestBridgeStatusFallsBackToHistory(t *testing.T) {
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer store.Close()

	old := bridge.Swap{
		FlowID:    "flow-old",
		ID:        "svc-old",
		Kind:      bridge.KindChainForward,
		From:      "cBTC",
		To:        "BTC",
		Amount:    40_000,
		Step:      bridge.Failed,
		Error:     "swap timed out",
		CreatedAt: time.Unix(1_700_000_000, 0),
		UpdatedAt: time.Unix(1_700_000_100, 0),
	}
	rec, err := storage.RecordFromSwap(old)
	if err != nil {
		t.Fatalf("RecordFromSwap() error = %v", err)
	}
	if err := store.SaveSwap(rec); err != nil {
		t.Fatalf("SaveSwap() error = %v", err)
	}

	_, ts := newTestServer(t, Deps{Store: store})

	for _, id := range []string{"flow-old", "svc-old"} {
		var sw bridge.Swap
		result(t, call(t, ts.URL, "bridge_status", SwapIDParams{ID: id}), &sw)
		if sw.FlowID != "flow-old" || sw.Step != bridge.Failed {
			t.Errorf("status(%s) = %+v", id, sw)
		}
	}

	wantCode(t, call(t, ts.URL, "bridge_status", SwapIDParams{ID: "nope"}), SwapNotFound)

	var history []bridge.Swap
	result(t, call(t, ts.URL, "bridge_list", ListParams{History: true}), &history)
	if len(history) != 1 || history[0].ID != "svc-old" {
		t.Errorf("history = %+v", history)
	}
}

func TestBridgeListRunning(t *testing.T) {
	swaps := newFakeSwaps()
	swaps.flows["a"] = bridge.Swap{FlowID: "a"}
	swaps.flows["b"] = bridge.Swap{FlowID: "b"}
	_, ts := newTestServer(t, Deps{Swaps: swaps})

	var list []bridge.Swap
	result(t, call(t, ts.URL, "bridge_list", nil), &list)
	if len(list) != 2 {
		t.Errorf("len(list) = %d, want 2", len(list))
	}

	wantCode(t, call(t, ts.URL, "bridge_list", ListParams{History: true}), InternalError)
}

func TestBridgeLimits(t *testing.T) {
	onChain := uint64(900_000)
	lim := &fakeLimits{res: &limits.Limits{
		Kind:       limits.ChainSwap{},
		Min:        2_550,
		Max:        900_000,
		ServiceMin: 2_500,
		ServiceMax: 10_000_000,
		Custodial:  5_000_000,
		OnChain:    &onChain,
	}}
	_, ts := newTestServer(t, Deps{Limits: lim})

	var got LimitsResult
	result(t, call(t, ts.URL, "bridge_limits", LimitsParams{From: "cBTC", To: "BTC", Side: limits.Receiving}), &got)
	if got.Kind != "chain" || got.Min != 2_550 || got.Max != 900_000 {
		t.Errorf("limits = %+v", got)
	}
	if got.OnChain == nil || *got.OnChain != onChain {
		t.Errorf("OnChain = %v", got.OnChain)
	}
	if lim.side != limits.Receiving {
		t.Errorf("side = %s", lim.side)
	}

	result(t, call(t, ts.URL, "bridge_limits", LimitsParams{From: "cBTC", To: "BTC"}), &got)
	if lim.side != limits.Paying {
		t.Errorf("default side = %s, want paying", lim.side)
	}

	wantCode(t, call(t, ts.URL, "bridge_limits", LimitsParams{From: "XYZ", To: "BTC"}), InvalidParams)
	wantCode(t, call(t, ts.URL, "bridge_limits", LimitsParams{From: "cBTC", To: "BTC", Side: "sideways"}), InvalidParams)

	lim.res = nil
	wantCode(t, call(t, ts.URL, "bridge_limits", LimitsParams{From: "cBTC", To: "BTC"}), LimitsNotFound)
}

func TestBridgeRefund(t *testing.T) {
	swaps := newFakeSwaps()
	swaps.flows["flow1"] = bridge.Swap{FlowID: "flow1", Kind: bridge.KindChainForward}
	_, ts := newTestServer(t, Deps{Swaps: swaps})

	var got RefundResult
	result(t, call(t, ts.URL, "bridge_refund", RefundParams{ID: "flow1"}), &got)
	if got.TxHash != "0xrefund" {
		t.Errorf("TxHash = %s", got.TxHash)
	}

	wantCode(t, call(t, ts.URL, "bridge_refund", RefundParams{ID: "missing"}), SwapNotFound)

	swaps.mu.Lock()
	swaps.refundErr = bridge.ErrNotRefundable
	swaps.mu.Unlock()
	wantCode(t, call(t, ts.URL, "bridge_refund", RefundParams{ID: "flow1"}), NotRefundable)

	swaps.mu.Lock()
	swaps.refundErr = &bridge.Error{Class: bridge.ClassTransient, Err: errors.New("rpc down")}
	swaps.mu.Unlock()
	resp := call(t, ts.URL, "bridge_refund", RefundParams{ID: "flow1"})
	wantCode(t, resp, InternalError)
	data, _ := resp.Error.Data.(map[string]interface{})
	if data["class"] != string(bridge.ClassTransient) {
		t.Errorf("error data = %v", resp.Error.Data)
	}
}

func TestPopupsBroadcast(t *testing.T) {
	popups := notify.NewRegistry(nil)
	defer popups.Close()
	s, err := NewServer(Deps{Swaps: newFakeSwaps(), Currencies: config.DefaultConfig(), Popups: popups, Log: logging.Discard()})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer s.Stop()

	popups.AddPopup(notify.Popup{SwapID: "svc1", Status: notify.StatusPending}, notify.StatusKey("svc1", notify.StatusPending), 0)

	if len(s.wsHub.broadcast) != 1 {
		t.Fatalf("queued events = %d, want 1", len(s.wsHub.broadcast))
	}
	ev := <-s.wsHub.broadcast
	p, ok := ev.Data.(notify.Popup)
	if ev.Type != EventSwapPopup || !ok || p.SwapID != "svc1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestPopups(t *testing.T) {
	popups := notify.NewRegistry(nil)
	defer popups.Close()
	_, ts := newTestServer(t, Deps{Popups: popups})

	popups.AddPopup(notify.Popup{SwapID: "svc1", Status: notify.StatusPending}, notify.StatusKey("svc1", notify.StatusPending), 0)

	var list []notify.Popup
	result(t, call(t, ts.URL, "popups_list", nil), &list)
	if len(list) != 1 || list[0].SwapID != "svc1" {
		t.Fatalf("popups = %+v", list)
	}

	var dismissed map[string]bool
	result(t, call(t, ts.URL, "popups_dismiss", DismissParams{SwapID: "svc1"}), &dismissed)
	if !dismissed["dismissed"] {
		t.Error("popup not dismissed")
	}
	result(t, call(t, ts.URL, "popups_list", nil), &list)
	if len(list) != 0 {
		t.Errorf("popups after dismiss = %+v", list)
	}

	wantCode(t, call(t, ts.URL, "popups_dismiss", DismissParams{}), InvalidParams)
}

func TestEventObserver(t *testing.T) {
	hub := NewWSHub(logging.Discard())
	obs := newEventObserver(hub)

	sw := bridge.Swap{FlowID: "f1", ID: "svc1", Invoice: "lnbc1"}
	obs.Notify(bridge.Notification{FlowID: "f1", PreviousState: bridge.CreateSwap, NextState: bridge.ShowInvoice, Swap: sw})
	obs.Notify(bridge.Notification{FlowID: "f1", PreviousState: bridge.ShowInvoice, NextState: bridge.Race, Swap: sw})

	sw.Error = "indexer polling exhausted"
	sw.ErrorClass = bridge.ClassPollingExhausted
	obs.Notify(bridge.Notification{FlowID: "f1", PreviousState: bridge.Race, NextState: bridge.Failed, Swap: sw})

	var types []EventType
	var failed FailedEvent
	for len(hub.broadcast) > 0 {
		ev := <-hub.broadcast
		types = append(types, ev.Type)
		if ev.Type == EventSwapFailed {
			failed = ev.Data.(FailedEvent)
		}
	}

	want := []EventType{EventSwapStep, EventSwapInvoice, EventSwapStep, EventSwapStep, EventSwapFailed}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
	if failed.Step != bridge.Race || failed.Class != bridge.ClassPollingExhausted {
		t.Errorf("failed = %+v", failed)
	}
}

func TestWebSocketEvents(t *testing.T) {
	s, ts := newTestServer(t, Deps{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	sub := WSSubscription{Action: "subscribe", Events: []string{string(EventSwapCompleted)}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.wsHub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Let the subscription land before broadcasting.
	time.Sleep(50 * time.Millisecond)

	sw := bridge.Swap{FlowID: "f1", ID: "svc1", Step: bridge.Done, ClaimTxID: "claim1"}
	s.Observer().Notify(bridge.Notification{FlowID: "f1", PreviousState: bridge.Broadcast, NextState: bridge.Done, Swap: sw})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type EventType   `json:"type"`
		Data bridge.Swap `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != EventSwapCompleted {
		t.Errorf("event = %s, want %s", ev.Type, EventSwapCompleted)
	}
	if ev.Data.ClaimTxID != "claim1" {
		t.Errorf("claim = %s", ev.Data.ClaimTxID)
	}
}

func TestWSHubClose(t *testing.T) {
	hub := NewWSHub(logging.Discard())
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	hub.Close()
	hub.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
