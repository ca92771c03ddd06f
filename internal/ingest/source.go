// Package ingest consumes observation batches produced by the external
// price-ingestion pipeline. Rows failing validation are rejected here and
// never reach scoring or alert evaluation.
package ingest

import (
	"context"

	"dealwatch/internal/model"
)

// Source supplies batches of price observations. Delivery cadence is the
// pipeline's concern; callers poll on their own schedule.
type Source interface {
	FetchBatch(ctx context.Context) ([]model.PriceObservation, error)
}
