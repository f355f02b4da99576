package bus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		var got *domain.Message
		_, err := bus.Subscribe(ctx, tenantID, domain.TopicReportReady, func(ctx context.Context, msg *domain.Message) error {
			got = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicReportReady, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitFor(t, &wg, time.Second)

		if string(got.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(got.Payload))
		}
		if got.TenantID != tenantID || got.Topic != domain.TopicReportReady {
			t.Errorf("unexpected envelope: %+v", got)
		}
		if got.ID == "" || got.Timestamp == 0 {
			t.Error("expected message ID and timestamp")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "tenant-001", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "tenant-002", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-001", domain.TopicAlert, []byte("risk"))
		time.Sleep(50 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("tenant-001 should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("tenant-002 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty tenantID")
		}
		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.mu.RLock()
		_, remaining := bus.subscriptions[subscriptionKey(tenantID, "unsub.topic")]
		bus.mu.RUnlock()
		if remaining {
			t.Error("expected subscription to be removed from the bus")
		}

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, tenantID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, tenantID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, tenantID, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != domain.TopicAnalysisRequested {
			t.Errorf("expected topic %q, got %q", domain.TopicAnalysisRequested, sub.Topic())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)

	bus.Subscribe(ctx, "tenant-001", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		<-release
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, "tenant-001", "slow.topic", []byte("msg")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	if bus.Dropped() < 1 {
		t.Errorf("expected at least one dropped message, got %d", bus.Dropped())
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	tenantID := "tenant-001"

	bus.Subscribe(ctx, tenantID, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, tenantID, "close.topic", []byte("data")); err == nil {
		t.Error("expected publish error after close")
	}
	if _, err := bus.Subscribe(ctx, tenantID, "close.topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)

	var got domain.AnalysisRequest
	var decodeErr error
	bus.Subscribe(ctx, "tenant-001", domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
		decodeErr = Decode(msg, &got)
		wg.Done()
		return nil
	})

	req := domain.AnalysisRequest{
		RequestID: "req-1",
		TenantID:  "tenant-001",
		EntityID:  "acct-7",
		Records:   json.RawMessage(`[{"amount": 12.50, "vendor": "Acme"}]`),
		Config:    json.RawMessage(`{"analysisDepth": "deep"}`),
	}
	if err := PublishJSON(ctx, bus, "tenant-001", domain.TopicAnalysisRequested, req); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	waitFor(t, &wg, time.Second)

	if decodeErr != nil {
		t.Fatalf("Decode failed: %v", decodeErr)
	}
	if got.RequestID != "req-1" || got.EntityID != "acct-7" {
		t.Errorf("unexpected request: %+v", got)
	}
	if !strings.Contains(string(got.Records), "12.50") {
		t.Errorf("expected amount to survive as text, got %s", got.Records)
	}
	if !strings.Contains(string(got.Config), "deep") {
		t.Errorf("expected config overrides, got %s", got.Config)
	}

	if err := Decode(&domain.Message{Topic: "x", Payload: []byte("{")}, &got); err == nil {
		t.Error("expected decode error for truncated payload")
	}
}

func TestNATSSubject(t *testing.T) {
	tests := []struct {
		tenant  string
		topic   string
		want    string
		wantErr bool
	}{
		{"tenant-001", domain.TopicAlert, "kestrel.alert.tenant-001", false},
		{"acme_corp", domain.TopicReportReady, "kestrel.report.ready.acme_corp", false},
		{"", domain.TopicAlert, "", true},
		{"a.b", domain.TopicAlert, "", true},
		{"all*", domain.TopicAlert, "", true},
		{"has space", domain.TopicAlert, "", true},
		{"tenant-001", "", "", true},
	}

	for _, tt := range tests {
		got, err := natsSubject(tt.tenant, tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("natsSubject(%q, %q) error = %v, wantErr %v", tt.tenant, tt.topic, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("natsSubject(%q, %q) = %q, want %q", tt.tenant, tt.topic, got, tt.want)
		}
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 100

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "tenant-load", "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "tenant-load", "load.topic", []byte("msg"))
	}

	waitFor(t, &wg, 5*time.Second)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
	if bus.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", bus.Dropped())
	}
}
