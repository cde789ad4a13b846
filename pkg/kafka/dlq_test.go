package kafka

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestDLQTopicPrefix(t *testing.T) {
	if DLQTopicPrefix != "moodist.dlq" {
		t.Errorf("DLQTopicPrefix = %q, want %q", DLQTopicPrefix, "moodist.dlq")
	}
}

func TestDLQTopic(t *testing.T) {
	tests := []struct {
		name          string
		originalTopic string
		want          string
	}{
		{
			name:          "standard topic",
			originalTopic: "moodist.account.registered",
			want:          "moodist.dlq.moodist.account.registered",
		},
		{
			name:          "simple topic name",
			originalTopic: "accounts",
			want:          "moodist.dlq.accounts",
		},
		{
			name:          "deeply nested topic",
			originalTopic: "moodist.connection.created",
			want:          "moodist.dlq.moodist.connection.created",
		},
		{
			name:          "single word topic",
			originalTopic: "notifications",
			want:          "moodist.dlq.notifications",
		},
		{
			name:          "topic with hyphens",
			originalTopic: "user-events",
			want:          "moodist.dlq.user-events",
		},
		{
			name:          "topic with underscores",
			originalTopic: "inventory_updates",
			want:          "moodist.dlq.inventory_updates",
		},
		{
			name:          "empty topic",
			originalTopic: "",
			want:          "moodist.dlq.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DLQTopic(tt.originalTopic)
			if got != tt.want {
				t.Errorf("DLQTopic(%q) = %q, want %q", tt.originalTopic, got, tt.want)
			}
		})
	}
}

func TestNewConsumer_DLQWiring(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := func(context.Context, *Event) error { return nil }

	cfg := ConsumerConfig{
		Brokers:   []string{"localhost:9092"},
		GroupID:   "test-group",
		Topic:     "moodist.account.registered",
		MinBytes:  1,
		MaxBytes:  10e6,
		EnableDLQ: true,
	}

	withDLQ := NewConsumer(cfg, handler, logger)
	defer withDLQ.Close()
	if withDLQ.dlq == nil {
		t.Error("consumer with EnableDLQ should carry a DLQ producer")
	}

	cfg.EnableDLQ = false
	withoutDLQ := NewConsumer(cfg, handler, logger)
	defer withoutDLQ.Close()
	if withoutDLQ.dlq != nil {
		t.Error("consumer without EnableDLQ should not carry a DLQ producer")
	}
}

func TestDLQTopic_ContainsPrefix(t *testing.T) {
	topic := DLQTopic("some.topic")
	if len(topic) <= len(DLQTopicPrefix) {
		t.Fatalf("DLQTopic result %q should be longer than prefix %q", topic, DLQTopicPrefix)
	}
	prefix := topic[:len(DLQTopicPrefix)]
	if prefix != DLQTopicPrefix {
		t.Errorf("DLQTopic(%q) prefix = %q, want %q", "some.topic", prefix, DLQTopicPrefix)
	}
}
