// Package export writes reconciled ledger snapshots to object storage.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/multibank/internal/aggregator"
	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/logger"
)

// Exporter writes overview snapshots under ledgers/<profile>/ in one bucket.
type Exporter struct {
	objects Objects
	bucket  string
	now     func() time.Time
}

// NewExporter creates an Exporter writing to bucket.
func NewExporter(objects Objects, bucket string) *Exporter {
	return &Exporter{objects: objects, bucket: bucket, now: time.Now}
}

// ObjectName is the object a snapshot of profile taken at t is stored as.
func ObjectName(profile domain.ProfileID, t time.Time) string {
	return fmt.Sprintf("ledgers/%s/%s.json", profile, t.UTC().Format("20060102T150405Z"))
}

// ExportLedger stores ov as JSON and returns its gs:// URI.
func (e *Exporter) ExportLedger(ctx context.Context, ov aggregator.Overview) (string, error) {
	if e.bucket == "" {
		return "", fmt.Errorf("ExportLedger: %w: no export bucket configured", domain.ErrInvalidConfig)
	}
	if ov.Profile.ID == "" {
		return "", fmt.Errorf("ExportLedger: overview has no profile")
	}

	data, err := json.MarshalIndent(ov, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ExportLedger: marshal: %w", err)
	}

	object := ObjectName(ov.Profile.ID, e.now())
	if err := e.objects.Put(ctx, e.bucket, object, "application/json", data); err != nil {
		return "", fmt.Errorf("ExportLedger: %w", err)
	}

	uri := fmt.Sprintf("gs://%s/%s", e.bucket, object)
	log := logger.FromContext(ctx)
	log.Info().
		Str("profile_id", string(ov.Profile.ID)).
		Str("uri", uri).
		Int("entries", len(ov.Ledger)).
		Msg("Exported ledger snapshot")
	return uri, nil
}

// Load reads a snapshot written by ExportLedger.
func (e *Exporter) Load(ctx context.Context, uri string) (aggregator.Overview, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return aggregator.Overview{}, fmt.Errorf("Load: %w", err)
	}
	data, err := e.objects.Get(ctx, bucket, object)
	if err != nil {
		return aggregator.Overview{}, fmt.Errorf("Load: %w", err)
	}

	var ov aggregator.Overview
	if err := json.Unmarshal(data, &ov); err != nil {
		return aggregator.Overview{}, fmt.Errorf("Load: decode %s: %w", uri, err)
	}
	return ov, nil
}
