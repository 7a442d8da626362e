package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	executor "github.com/relaygraph/protograph/internal/executor"
	schema "github.com/relaygraph/protograph/internal/schema"
)

// streamRuntime backs the Subscription root with a pre-seeded event list.
type streamRuntime struct {
	*executor.MockRuntime
	events []any
	opened chan context.Context
}

func (s *streamRuntime) Subscribe(ctx context.Context, objectType, field string, args map[string]any) (*executor.SourceEventStream, error) {
	events := make(chan any)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		for _, ev := range s.events {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	if s.opened != nil {
		s.opened <- ctx
	}
	return &executor.SourceEventStream{Events: events, Errs: errs}, nil
}

func newSubscriptionServer(t *testing.T, rt executor.Runtime) (*httptest.Server, string) {
	t.Helper()
	sdl := `type Query { hello: String } type Subscription { ticks: Int }`
	sch, err := schema.BuildFromSDL(sdl)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	ts := httptest.NewServer(NewWebSocketHandler(rt, sch, nil))
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestWebSocketSubscriptionDeliversInOrderThenCompletes(t *testing.T) {
	rt := &streamRuntime{MockRuntime: executor.NewMockRuntime(nil), events: []any{1, 2, 3}}

	ts, url := newSubscriptionServer(t, rt)
	defer ts.Close()

	conn := dialWS(t, url)
	defer conn.Close()

	if err := conn.WriteJSON(wsMessage{Type: msgConnectionInit}); err != nil {
		t.Fatalf("write connection_init: %v", err)
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != msgConnectionAck {
		t.Fatalf("expected connection_ack, got %+v (%v)", ack, err)
	}

	payload, _ := json.Marshal(subscribePayload{Query: `subscription { ticks }`})
	if err := conn.WriteJSON(wsMessage{ID: "s1", Type: msgSubscribe, Payload: payload}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var got []float64
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if msg.Type == msgComplete {
			if msg.ID != "s1" {
				t.Fatalf("complete for wrong id: %+v", msg)
			}
			break
		}
		if msg.Type != msgNext || msg.ID != "s1" {
			t.Fatalf("unexpected frame: %+v", msg)
		}
		var res specResult
		if err := json.Unmarshal(msg.Payload, &res); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		data := res.Data.(map[string]any)
		got = append(got, data["ticks"].(float64))
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("delivery order mismatch: %v", got)
	}
}

func TestWebSocketCloseCancelsSubscription(t *testing.T) {
	rt := &streamRuntime{
		MockRuntime: executor.NewMockRuntime(nil),
		// More events than will ever be consumed, so the source outlives the
		// socket unless cancellation reaches it.
		events: make([]any, 1000),
		opened: make(chan context.Context, 1),
	}
	for i := range rt.events {
		rt.events[i] = i
	}

	ts, url := newSubscriptionServer(t, rt)
	defer ts.Close()

	conn := dialWS(t, url)
	if err := conn.WriteJSON(wsMessage{Type: msgConnectionInit}); err != nil {
		t.Fatalf("write connection_init: %v", err)
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	payload, _ := json.Marshal(subscribePayload{Query: `subscription { ticks }`})
	if err := conn.WriteJSON(wsMessage{ID: "s1", Type: msgSubscribe, Payload: payload}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	opCtx := <-rt.opened
	var first wsMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	conn.Close()

	select {
	case <-opCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription context not cancelled within 1s of socket close")
	}
}
