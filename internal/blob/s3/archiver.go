package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// archiveBatch bounds how many order rows one archive object may hold. A
// long-running bot accumulates history faster than a single upload should
// carry.
const archiveBatch = 5000

// Archiver moves terminal order history out of Postgres into S3 cold
// storage as JSONL objects. Rows are deleted only after their batch uploaded
// cleanly, so a failed upload leaves everything in place for the next run.
type Archiver struct {
	writer domain.BlobWriter
	orders domain.OrderStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, orders domain.OrderStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		orders: orders,
		audit:  audit,
	}
}

// ArchiveClosedOrders drains every terminal order last touched before the
// cutoff: batch query, JSONL upload, audit entry, then delete. Returns the
// total number of rows archived.
func (a *Archiver) ArchiveClosedOrders(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for batch := 0; ; batch++ {
		records, err := a.orders.ListClosedBefore(ctx, before, archiveBatch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive orders query: %w", err)
		}
		if len(records) == 0 {
			break
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive orders marshal: %w", err)
		}

		path := archivePath("orders", before, batch)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive orders upload: %w", err)
		}

		// Delete only up to the last uploaded row so a partial drain never
		// loses anything.
		lastTouched := records[len(records)-1].UpdatedAt.Add(time.Nanosecond)
		deleted, err := a.orders.DeleteBefore(ctx, lastTouched)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive orders delete: %w", err)
		}
		total += deleted

		if err := a.audit.Log(ctx, "archive.orders", map[string]any{
			"path":   path,
			"count":  deleted,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive orders audit log: %w", err)
		}

		if len(records) < archiveBatch {
			break
		}
	}

	return total, nil
}

// archivePath builds the S3 key for one archive object, partitioned by the
// cutoff's year-month:
//
//	archive/orders/2026-08.0.jsonl
func archivePath(kind string, before time.Time, batch int) string {
	return fmt.Sprintf("archive/%s/%s.%d.jsonl", kind, before.Format("2006-01"), batch)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
