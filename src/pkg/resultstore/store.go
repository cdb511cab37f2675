/*
Package resultstore holds the one analysis result the result view is about to
render, and mirrors it to durable storage so it survives process death.
*/
package resultstore

import (
	"context"
	"sync"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/geo"
)

// BackupKey is the KV key of the durable mirror.
const BackupKey = "result_backup"

const defaultBackupTimeout = 10 * time.Second

// Backend is the durable key-value store the backup lives in.
type Backend interface {
	GetJSON(ctx context.Context, key string, target any) (found bool, e *xerr.Error)
	SetJSON(ctx context.Context, key string, value any) (e *xerr.Error)
	Remove(ctx context.Context, key string) (e *xerr.Error)
}

// Snapshot is the current active result. Unset fields are nil.
type Snapshot struct {
	Result    *analysis.Result     `json:"result"`
	Location  *geo.LocationContext `json:"location"`
	ImageRef  *string              `json:"image_ref"`
	Timestamp *string              `json:"timestamp"`
}

// Empty reports whether there is nothing to render.
func (s Snapshot) Empty() bool {
	return s.Result == nil
}

// BackupRecord is the durable mirror of a Snapshot.
type BackupRecord struct {
	Result            *analysis.Result     `json:"result"`
	Location          *geo.LocationContext `json:"location"`
	ImageRef          *string              `json:"image_ref"`
	SavedAtEpochMs    int64                `json:"saved_at_epoch_ms"`
	OriginalTimestamp *string              `json:"original_timestamp"`
}

/*
Store owns the snapshot. Create one per process and inject it wherever the
result is written or read.

Every mutation bumps a generation counter and schedules a backup write in the
background. Writes are serialized and a write never lands on top of one from a
newer generation, so the backup trails the snapshot by at most the writes still
in flight.
*/
type Store struct {
	backend       Backend
	now           func() time.Time
	backupTimeout time.Duration

	mu         sync.Mutex
	snapshot   Snapshot
	generation uint64

	writeMu sync.Mutex
	written uint64 // generation of the last backup write or clear

	pending sync.WaitGroup
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithBackupTimeout(timeout time.Duration) Option {
	return func(s *Store) { s.backupTimeout = timeout }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now, backupTimeout: defaultBackupTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

/*
SetData replaces the whole snapshot. A nil timestamp means now (RFC 3339, UTC).
The backup is written in the background; a failed write is logged and never
reaches the caller.
*/
func (s *Store) SetData(result *analysis.Result, location *geo.LocationContext, imageRef *string, timestamp *string) {
	if timestamp == nil {
		now := s.now().UTC().Format(time.RFC3339)
		timestamp = &now
	}

	s.mu.Lock()
	s.snapshot = Snapshot{Result: result, Location: location, ImageRef: imageRef, Timestamp: timestamp}
	s.generation++
	generation, snapshot := s.generation, s.snapshot
	s.mu.Unlock()

	tl.Log(tl.Info1, palette.Cyan, "%s snapshot generation %v (timestamp '%s')", "Stored", generation, *timestamp)
	s.backupAsync(generation, snapshot)
}

// GetData returns a copy of the snapshot. Pointer fields are shared, not cloned.
func (s *Store) GetData() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// UpdateTimestamp changes only the timestamp and schedules a backup.
func (s *Store) UpdateTimestamp(iso string) {
	s.mu.Lock()
	s.snapshot.Timestamp = &iso
	s.generation++
	generation, snapshot := s.generation, s.snapshot
	s.mu.Unlock()

	s.backupAsync(generation, snapshot)
}

/*
SaveBackup writes the current snapshot synchronously. It is a no-op when there
is no result.
*/
func (s *Store) SaveBackup(ctx context.Context) (e *xerr.Error) {
	s.mu.Lock()
	generation, snapshot := s.generation, s.snapshot
	s.mu.Unlock()

	return s.writeBackup(ctx, generation, snapshot)
}

/*
RestoreBackup adopts the durable backup when it holds a result and reports
whether it did. The snapshot timestamp becomes the backup's original timestamp.
*/
func (s *Store) RestoreBackup(ctx context.Context) bool {
	var record BackupRecord
	found, e := s.backend.GetJSON(ctx, BackupKey, &record)
	if e != nil {
		tl.Log(tl.Warning, palette.Purple, "Reading result backup %s: '%s'", "failed", e)
		return false
	}
	if !found || record.Result == nil {
		tl.Log(tl.Debug, palette.CyanDim, "No %s to restore", "result backup")
		return false
	}

	s.mu.Lock()
	s.snapshot = Snapshot{
		Result:    record.Result,
		Location:  record.Location,
		ImageRef:  record.ImageRef,
		Timestamp: record.OriginalTimestamp,
	}
	s.mu.Unlock()

	tl.Log(tl.Info1, palette.Green, "%s result backup saved at '%s'", "Restored", time.UnixMilli(record.SavedAtEpochMs).UTC().Format(time.RFC3339))
	return true
}

/*
Load returns the snapshot and whether it holds a result. When it is empty and
fromStore is set, the durable backup is restored first.
*/
func (s *Store) Load(ctx context.Context, fromStore bool) (Snapshot, bool) {
	snapshot := s.GetData()
	if !snapshot.Empty() {
		return snapshot, true
	}
	if fromStore && s.RestoreBackup(ctx) {
		return s.GetData(), true
	}
	return snapshot, false
}

/*
Clear empties the snapshot and deletes the backup. Background writes scheduled
before Clear are dropped.
*/
func (s *Store) Clear(ctx context.Context) (e *xerr.Error) {
	s.mu.Lock()
	s.snapshot = Snapshot{}
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.written = generation

	e = s.backend.Remove(ctx, BackupKey)
	if e != nil {
		tl.Log(tl.Warning, palette.Purple, "Deleting result backup %s: '%s'", "failed", e)
		return e
	}
	tl.Log(tl.Info1, palette.Cyan, "%s result snapshot and backup", "Cleared")
	return nil
}

// Wait blocks until every scheduled backup write has finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

func (s *Store) backupAsync(generation uint64, snapshot Snapshot) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.backupTimeout)
		defer cancel()
		if e := s.writeBackup(ctx, generation, snapshot); e != nil {
			tl.Log(tl.Warning, palette.Purple, "Background result backup %s: '%s'", "failed", e)
		}
	}()
}

func (s *Store) writeBackup(ctx context.Context, generation uint64, snapshot Snapshot) (e *xerr.Error) {
	if snapshot.Result == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if generation < s.written {
		tl.Log(tl.Debug, palette.CyanDim, "Skipping stale backup generation %v (have %v)", generation, s.written)
		return nil
	}

	record := BackupRecord{
		Result:            snapshot.Result,
		Location:          snapshot.Location,
		ImageRef:          snapshot.ImageRef,
		SavedAtEpochMs:    s.now().UnixMilli(),
		OriginalTimestamp: snapshot.Timestamp,
	}
	e = s.backend.SetJSON(ctx, BackupKey, record)
	if e != nil {
		return e
	}
	s.written = generation
	tl.Log(tl.Debug, palette.GreenDim, "%s result backup generation %v", "Wrote", generation)
	return nil
}

/*
ReferencedImages lists the image references the result view may still open:
the one in memory and the one in the backup, which survives a restart before
the snapshot is restored. It plugs into imagestore.CleanupOrphans.
*/
func (s *Store) ReferencedImages(ctx context.Context) (refs []string, e *xerr.Error) {
	if ref := s.GetData().ImageRef; ref != nil && *ref != "" {
		refs = append(refs, *ref)
	}

	var record BackupRecord
	found, e := s.backend.GetJSON(ctx, BackupKey, &record)
	if e != nil {
		return refs, e
	}
	if found && record.ImageRef != nil && *record.ImageRef != "" {
		refs = append(refs, *record.ImageRef)
	}
	return refs, nil
}
