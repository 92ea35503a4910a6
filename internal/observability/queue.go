package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"procplane/internal/store"
)

// RegisterQueueGauges exposes the process queue's per-status counts as
// an observable gauge. The callback runs on every metrics scrape.
func RegisterQueueGauges(queue store.ProcessQueue) error {
	meter := otel.Meter("procplane-queue")

	gauge, err := meter.Int64ObservableGauge("procplane_queue_processes",
		metric.WithDescription("Number of queue entries per status"),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		m, err := queue.Metrics(ctx, store.QueueScope{}, store.ActiveStatuses)
		if err != nil {
			return err
		}
		for status, count := range m.CountByStatus {
			o.ObserveInt64(gauge, count, metric.WithAttributes(
				attribute.String("status", string(status)),
			))
		}
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("failed to register queue gauge callback: %w", err)
	}

	return nil
}
