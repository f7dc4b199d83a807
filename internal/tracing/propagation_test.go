package tracing

import (
	"context"
	"net/http"
	"testing"

	"github.com/segmentio/kafka-go"
)

const sample = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestRoundTripTraceparent(t *testing.T) {
	Init()

	ctx := WithTraceparent(context.Background(), sample)
	if got := Traceparent(ctx); got != sample {
		t.Fatalf("expected %s, got %s", sample, got)
	}

	headers := InjectKafkaHeaders(ctx, []kafka.Header{{Key: "x-event-type", Value: []byte("payment.completed")}})
	back := ExtractKafkaHeaders(context.Background(), headers)
	if got := Traceparent(back); got != sample {
		t.Fatalf("kafka headers: expected %s, got %s", sample, got)
	}

	h := http.Header{}
	InjectHTTP(ctx, h)
	if got := Traceparent(ExtractHTTP(context.Background(), h)); got != sample {
		t.Fatalf("http headers: expected %s, got %s", sample, got)
	}
}

func TestEmptyTraceparent(t *testing.T) {
	Init()

	ctx := WithTraceparent(context.Background(), "")
	if got := Traceparent(ctx); got != "" {
		t.Fatalf("expected empty traceparent, got %s", got)
	}
}
