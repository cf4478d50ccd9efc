package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dvloznov/multibank/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, cancelA := bus.Subscribe(1)
	defer cancelA()
	b, cancelB := bus.Subscribe(1)
	defer cancelB()

	e := AccountsChanged{ProfileIDs: []domain.ProfileID{"900105-123456"}, Reason: "transfer"}
	if err := bus.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for _, ch := range []<-chan AccountsChanged{a, b} {
		got := <-ch
		if got.Reason != "transfer" || !got.Concerns("900105-123456") {
			t.Errorf("unexpected event %+v", got)
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), AccountsChanged{Reason: "r"}); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}
	if len(ch) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(ch))
	}
}

func TestBus_CancelUnsubscribes(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(0)
	if bus.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.Subscribers())
	}
	cancel()
	cancel()

	if bus.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(0)
	defer cancel()

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	if err := bus.Publish(context.Background(), AccountsChanged{}); err == nil {
		t.Error("expected error publishing to closed bus")
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, AccountsChanged) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	bus := NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	err := Multi{failingPublisher{err: boom}, bus}.Publish(context.Background(), AccountsChanged{Reason: "open"})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined broker error, got %v", err)
	}
	if len(ch) != 1 {
		t.Error("later publishers must still receive the event")
	}
}

func TestNotify_SetsTimestampAndSwallowsErrors(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	Notify(context.Background(), bus, AccountsChanged{Reason: "open"})
	if got := <-ch; got.At.IsZero() {
		t.Error("expected timestamp to be set")
	}

	Notify(context.Background(), failingPublisher{err: errors.New("x")}, AccountsChanged{})
	Notify(context.Background(), nil, AccountsChanged{})
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := &RabbitPublisher{channel: ch, exchange: DefaultExchange, routingKey: DefaultRoutingKey}

	e := AccountsChanged{ProfileIDs: []domain.ProfileID{"900105-123456", "850712-000042"}, Reason: "transfer"}
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if ch.exchange != DefaultExchange || ch.key != DefaultRoutingKey {
		t.Errorf("published to %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.ContentType != "application/json" || ch.msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected publishing %+v", ch.msg)
	}
	var got AccountsChanged
	if err := json.Unmarshal(ch.msg.Body, &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if len(got.ProfileIDs) != 2 || got.Reason != "transfer" {
		t.Errorf("unexpected body %+v", got)
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Errorf("Close: err=%v closed=%v", err, ch.closed)
	}
}
