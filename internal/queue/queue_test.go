package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"print_kiosk/internal/model"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderEvent(nil), p.events...)
}

type memSink struct {
	mu   sync.Mutex
	rows map[string]*model.OrderEvent
}

func (s *memSink) PutOrderEvent(_ context.Context, ev *model.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]*model.OrderEvent)
	}
	s.rows[ev.EventID] = ev
	return nil
}

func TestOrderEventValidate(t *testing.T) {
	ev := NewOrderEvent("order_1", model.OrderPaid, "")
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := []OrderEvent{
		{OrderID: "o", Status: model.OrderPaid, OccurredAt: time.Now()},
		{EventID: "e", Status: model.OrderPaid, OccurredAt: time.Now()},
		{EventID: "e", OrderID: "o", Status: "weird", OccurredAt: time.Now()},
		{EventID: "e", OrderID: "o", Status: model.OrderPaid},
	}
	for i, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestParseOrderEvent(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ev, err := parseOrderEvent(map[string]interface{}{
		"event_id":    "e1",
		"order_id":    "order_1",
		"status":      "printing",
		"reason":      "",
		"occurred_at": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatalf("parseOrderEvent: %v", err)
	}
	if ev.Status != model.OrderPrinting || !ev.OccurredAt.Equal(now) {
		t.Errorf("unexpected event %+v", ev)
	}

	if _, err := parseOrderEvent(map[string]interface{}{"event_id": "e1"}); err == nil {
		t.Error("expected error for missing fields")
	}
	if _, err := parseOrderEvent(map[string]interface{}{
		"event_id": "e1", "order_id": "o", "status": "paid", "occurred_at": "yesterday",
	}); err == nil {
		t.Error("expected error for bad timestamp")
	}
}

func newRedis(t *testing.T) *rd.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestOutboxRelayDelivers(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbox := NewOutbox(rdb, "events")
	pub := &recordingPublisher{}
	relay := NewRelay(rdb, pub, "events", "relay-group", "relay-1")

	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	sent := []OrderEvent{
		NewOrderEvent("order_1", model.OrderCreated, ""),
		NewOrderEvent("order_1", model.OrderPaid, ""),
		NewOrderEvent("order_1", model.OrderFailed, "paper jam"),
	}
	for _, ev := range sent {
		if err := outbox.Publish(ctx, ev); err != nil {
			t.Fatalf("outbox publish: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(pub.Events()) < len(sent) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := pub.Events()
	if len(got) != len(sent) {
		t.Fatalf("relayed %d events, want %d", len(got), len(sent))
	}
	for i := range sent {
		if got[i].EventID != sent[i].EventID || got[i].Status != sent[i].Status {
			t.Errorf("event %d = %+v, want %+v", i, got[i], sent[i])
		}
	}
	if got[2].Reason != "paper jam" {
		t.Errorf("reason lost: %+v", got[2])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayKeepsMessageOnPublishFailure(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	relay := NewRelay(rdb, &recordingPublisher{err: errors.New("kafka down")}, "events", "g", "c")
	if err := relay.ensureGroup(ctx); err != nil {
		t.Fatal(err)
	}
	if err := NewOutbox(rdb, "events").Publish(ctx, NewOrderEvent("order_1", model.OrderPaid, "")); err != nil {
		t.Fatal(err)
	}

	msgs, err := relay.readGroup(ctx, ">", time.Millisecond)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("readGroup = %d msgs, %v", len(msgs), err)
	}
	if err := relay.processOne(ctx, msgs[0]); err == nil {
		t.Fatal("expected publish error")
	}
	// 未 ACK，pending 中仍可读到
	pending, err := relay.readGroup(ctx, "0", 0)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d msgs, %v", len(pending), err)
	}

	// 换成可用的发布者后重放成功并 ACK
	ok := &recordingPublisher{}
	relay.publisher = ok
	if err := relay.processOne(ctx, pending[0]); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(ok.Events()) != 1 {
		t.Errorf("published %d", len(ok.Events()))
	}
	left, _ := relay.readGroup(ctx, "0", 0)
	if len(left) != 0 {
		t.Errorf("message still pending after ack: %d", len(left))
	}
}

func TestHandleEvent(t *testing.T) {
	sink := &memSink{}
	ev := NewOrderEvent("order_1", model.OrderCompleted, "")
	b, _ := json.Marshal(ev)

	if err := handleEvent(context.Background(), sink, b); err != nil {
		t.Fatalf("handleEvent: %v", err)
	}
	if err := handleEvent(context.Background(), sink, b); err != nil {
		t.Fatalf("duplicate handleEvent: %v", err)
	}
	if len(sink.rows) != 1 || sink.rows[ev.EventID].Status != model.OrderCompleted {
		t.Errorf("rows = %+v", sink.rows)
	}

	if err := handleEvent(context.Background(), sink, []byte("{not json")); err == nil {
		t.Error("expected unmarshal error")
	}
	if err := handleEvent(context.Background(), sink, []byte(`{"event_id":"x"}`)); err == nil {
		t.Error("expected validation error")
	}
}
