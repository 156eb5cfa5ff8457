// Package service implements the stock-service business logic: the batch
// registry, the stock ledger with reservations, FIFO consumption and transfers,
// storage locations with their degradation model, remnant consolidation and
// inventory audits.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Clock returns the current instant. Tests replace it to pin expiry maths.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func quantityAttr(key string, q decimal.Decimal) attribute.KeyValue {
	return attribute.String(key, q.String())
}

func requirePositive(field string, q decimal.Decimal) error {
	if !q.IsPositive() {
		return errors.Validation(map[string]string{field: "must be greater than 0"})
	}
	return nil
}

func validateLocation(field string, loc domain.Location) error {
	if !loc.Type.Valid() {
		return errors.Validation(map[string]string{field + ".location_type": "must be SHOP or WAREHOUSE"})
	}
	if strings.TrimSpace(loc.ID) == "" {
		return errors.Validation(map[string]string{field + ".location_id": "this field is required"})
	}
	return nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
