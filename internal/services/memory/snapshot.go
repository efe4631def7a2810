package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"PatternMemory/internal/domain/models"
	applogger "PatternMemory/pkg/logger"
)

// legacy layout without record ids and anchor prices
const schemaV1 = 1

var legacyNamespace = uuid.MustParse("2b0f6a8e-57c4-4b8e-b2f5-5d6f2d1c0a77")

// Snapshot captures every record. Writers pause while the copy is taken.
func (s *Store) Snapshot() *models.MemorySnapshot {
	s.epoch.Lock()
	defer s.epoch.Unlock()

	return &models.MemorySnapshot{
		SchemaVersion: models.SnapshotSchemaVersion,
		SavedAt:       s.now().UTC(),
		Records:       s.records(),
	}
}

// Restore replaces the store contents with a snapshot, migrating older layouts.
// Records are re-bucketed with the current grid and retention is applied afterwards.
func (s *Store) Restore(snap *models.MemorySnapshot) error {
	if snap == nil {
		return nil
	}
	records, err := Migrate(snap)
	if err != nil {
		return err
	}
	sortRecords(records)

	s.epoch.Lock()
	defer s.epoch.Unlock()

	s.buckets.Range(func(k, _ any) bool { s.buckets.Delete(k); return true })
	s.groups.Range(func(k, _ any) bool { s.groups.Delete(k); return true })
	s.index.Range(func(k, _ any) bool { s.index.Delete(k); return true })

	for i := range records {
		rec := records[i]
		if _, dup := s.index.Load(rec.ID); dup {
			continue
		}
		if rec.AnchorPrice != 0 {
			rec.Bucket = Quantize(rec.AnchorPrice, s.Step(rec.Symbol))
		}
		g := s.groupFor(groupKey{Symbol: rec.Symbol, Timeframe: rec.Timeframe, Type: rec.Type})
		s.insertLocked(g, &rec)
	}

	evicted := 0
	s.groups.Range(func(_, v any) bool {
		evicted += s.enforceLocked(v.(*group))
		return true
	})
	if evicted > 0 {
		s.log.Info("memory restore applied retention", applogger.Int("evicted", evicted))
	}
	return nil
}

// Migrate validates a snapshot and upgrades its records to the current layout.
func Migrate(snap *models.MemorySnapshot) ([]models.MemoryRecord, error) {
	switch snap.SchemaVersion {
	case models.SnapshotSchemaVersion:
		out := make([]models.MemoryRecord, len(snap.Records))
		copy(out, snap.Records)
		for i, r := range out {
			if r.ID == "" {
				return nil, fmt.Errorf("snapshot record %d has no id", i)
			}
		}
		return out, nil
	case schemaV1:
		out := make([]models.MemoryRecord, len(snap.Records))
		for i, r := range snap.Records {
			if r.ID == "" {
				r.ID = legacyID(r, i)
			}
			if r.Outcome == "" {
				r.Outcome = models.OutcomePending
			}
			out[i] = r
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", models.ErrUnsupportedVersion, snap.SchemaVersion)
	}
}

func legacyID(r models.MemoryRecord, i int) string {
	key := string(r.Type) + "|" + r.Symbol + "|" + string(r.Timeframe) + "|" + string(r.Direction) +
		"|" + strconv.FormatInt(r.Bucket, 10) + "|" + strconv.FormatInt(r.RecordedAt.UnixNano(), 10) +
		"|" + strconv.Itoa(i)
	return uuid.NewSHA1(legacyNamespace, []byte(key)).String()
}

// EncodeSnapshot writes a snapshot as JSON.
func EncodeSnapshot(w io.Writer, snap *models.MemorySnapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// DecodeSnapshot reads a JSON snapshot.
func DecodeSnapshot(r io.Reader) (*models.MemorySnapshot, error) {
	var snap models.MemorySnapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
