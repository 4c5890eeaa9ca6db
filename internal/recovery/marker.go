// Package recovery repairs orders whose generation never landed.
package recovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
)

type toucher interface {
	Touch(ctx context.Context, orderID uuid.UUID) error
}

// Marker records that an order failed mid-generation. It only bumps updated_at;
// the status stays PAID or LYRICS_PENDING so the stuck check flags the order.
type Marker struct {
	orders  toucher
	metrics *metrics.FulfillmentMetrics
	logg    *logger.Logger
}

// NewMarker builds the recovery marker.
func NewMarker(orders toucher, m *metrics.FulfillmentMetrics, logg *logger.Logger) (*Marker, error) {
	if orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	return &Marker{orders: orders, metrics: m, logg: logg}, nil
}

// MarkRecoverable never fails the caller; a failed touch is logged.
func (m *Marker) MarkRecoverable(ctx context.Context, orderID uuid.UUID, cause error) {
	if m.logg != nil {
		ctx = m.logg.WithOrderID(ctx, orderID.String())
	}
	if err := m.orders.Touch(ctx, orderID); err != nil {
		if m.logg != nil {
			m.logg.Error(ctx, "failed to mark order recoverable", err)
		}
		return
	}
	m.metrics.IncRecoverable()
	if m.logg != nil {
		reason := "unknown"
		if cause != nil {
			reason = cause.Error()
		}
		m.logg.Warn(m.logg.WithField(ctx, "cause", reason), "order marked recoverable")
	}
}
