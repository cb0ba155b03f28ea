package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

type fakeBlobWriter struct {
	puts map[string][]byte
	err  error
}

func (f *fakeBlobWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[path] = body
	return nil
}

// fakeOrderStore serves pre-seeded closed records in batches and tracks
// deletions.
type fakeOrderStore struct {
	records []domain.OrderRecord
	deletes []time.Time
}

func (f *fakeOrderStore) Record(context.Context, domain.OrderRecord) error { return nil }

func (f *fakeOrderStore) UpdateStatus(context.Context, string, domain.OrderStatus) error {
	return nil
}

func (f *fakeOrderStore) ListClosedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.OrderRecord, error) {
	var out []domain.OrderRecord
	for _, r := range f.records {
		if r.UpdatedAt.Before(cutoff) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOrderStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deletes = append(f.deletes, cutoff)
	var kept []domain.OrderRecord
	var deleted int64
	for _, r := range f.records {
		if r.UpdatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return deleted, nil
}

type fakeAuditStore struct {
	events []string
}

func (f *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func seedRecords(n int, base time.Time) []domain.OrderRecord {
	out := make([]domain.OrderRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.OrderRecord{
			ID:        "o" + strconv.Itoa(i),
			Exchange:  "binance",
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Kind:      domain.OrderKindLimit,
			Status:    domain.OrderStatusDone,
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}

func TestArchiveClosedOrders(t *testing.T) {
	base := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	writer := &fakeBlobWriter{}
	orders := &fakeOrderStore{records: seedRecords(3, base)}
	audit := &fakeAuditStore{}

	a := NewArchiver(writer, orders, audit)
	cutoff := base.Add(time.Hour)

	total, err := a.ArchiveClosedOrders(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveClosedOrders: %v", err)
	}
	if total != 3 {
		t.Fatalf("archived = %d, want 3", total)
	}
	if len(orders.records) != 0 {
		t.Fatalf("%d records left behind", len(orders.records))
	}

	body, ok := writer.puts["archive/orders/2026-07.0.jsonl"]
	if !ok {
		t.Fatalf("unexpected object keys: %v", keysOf(writer.puts))
	}
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("object has %d lines, want 3", len(lines))
	}
	if !strings.Contains(string(lines[0]), `"o0"`) {
		t.Fatalf("first line missing order id: %s", lines[0])
	}

	if len(audit.events) != 1 || audit.events[0] != "archive.orders" {
		t.Fatalf("audit events = %v", audit.events)
	}
}

func TestArchiveClosedOrdersNothingToDo(t *testing.T) {
	writer := &fakeBlobWriter{}
	orders := &fakeOrderStore{}
	audit := &fakeAuditStore{}

	total, err := NewArchiver(writer, orders, audit).ArchiveClosedOrders(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveClosedOrders: %v", err)
	}
	if total != 0 || len(writer.puts) != 0 || len(audit.events) != 0 {
		t.Fatalf("empty run produced work: total=%d puts=%d audits=%d", total, len(writer.puts), len(audit.events))
	}
}

func TestArchiveUploadFailureKeepsRows(t *testing.T) {
	base := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	writer := &fakeBlobWriter{err: errors.New("denied")}
	orders := &fakeOrderStore{records: seedRecords(2, base)}
	audit := &fakeAuditStore{}

	_, err := NewArchiver(writer, orders, audit).ArchiveClosedOrders(context.Background(), base.Add(time.Hour))
	if err == nil {
		t.Fatal("upload failure not surfaced")
	}
	if len(orders.deletes) != 0 {
		t.Fatal("rows deleted despite failed upload")
	}
	if len(orders.records) != 2 {
		t.Fatalf("%d records remain, want 2", len(orders.records))
	}
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
