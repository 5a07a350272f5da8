package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingPublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.exchange = exchange
	p.key = key
	p.msg = msg
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func TestAMQPNotifierPublishesJSONByEventType(t *testing.T) {
	pub := &recordingPublisher{}
	n := &AMQPNotifier{ch: pub, exchange: "sermonflow.events"}

	event := NewEvent(EventChurchActivated, map[string]any{"churchId": "church-1"})
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if pub.exchange != "sermonflow.events" || pub.key != EventChurchActivated {
		t.Fatalf("unexpected routing: %s/%s", pub.exchange, pub.key)
	}
	if pub.msg.ContentType != "application/json" || pub.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing: %+v", pub.msg)
	}
	var decoded Event
	if err := json.Unmarshal(pub.msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Type != EventChurchActivated || decoded.Data["churchId"] != "church-1" {
		t.Fatalf("unexpected body: %+v", decoded)
	}
}

func TestAMQPNotifierWrapsPublishError(t *testing.T) {
	boom := errors.New("channel closed")
	n := &AMQPNotifier{ch: &recordingPublisher{err: boom}, exchange: "x"}
	if err := n.Notify(context.Background(), NewEvent(EventOnboardingSubmitted, nil)); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestLogNotifierWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := n.Notify(context.Background(), NewEvent(EventOnboardingSubmitted, map[string]any{"requestId": "req-1"})); err != nil {
		t.Fatalf("notify: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"event":"onboarding.submitted"`) || !strings.Contains(out, `"requestId":"req-1"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
