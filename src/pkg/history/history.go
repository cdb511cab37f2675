/*
Package history keeps every successful scan in the scan_history table of the
local database, and builds the monthly scan report from it.
*/
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/geo"
	"safe-bite/src/pkg/kvstore"
)

type Record struct {
	ID        string               `json:"id"`
	ImageRef  string               `json:"image_ref,omitempty"` // bare managed filename
	Barcode   string               `json:"barcode,omitempty"`
	Result    *analysis.Result     `json:"result"`
	Location  *geo.LocationContext `json:"location,omitempty"`
	Timestamp string               `json:"timestamp"` // RFC 3339, capture time
	CreatedAt time.Time            `json:"created_at"`
}

// the part of a Record kept in the payload column
type payload struct {
	Result   *analysis.Result     `json:"result"`
	Location *geo.LocationContext `json:"location,omitempty"`
}

// ImageDeleter removes a managed image when its record goes away.
type ImageDeleter interface {
	Delete(stored string) (e *xerr.Error)
}

type Store struct {
	db     *sql.DB
	images ImageDeleter
	now    func() time.Time
}

// New uses the kv store's connection; scan_history is created by its schema.
func New(kv *kvstore.Store, images ImageDeleter) *Store {
	return &Store{db: kv.DB(), images: images, now: time.Now}
}

// Add assigns an id and creation time and inserts record.
func (s *Store) Add(ctx context.Context, record Record) (saved Record, e *xerr.Error) {
	if record.Result == nil {
		return record, xerr.NewError(fmt.Errorf("record has no result"), "add history record", record.ImageRef)
	}
	record.ID = uuid.NewString()
	record.CreatedAt = s.now().UTC()
	if record.Timestamp == "" {
		record.Timestamp = record.CreatedAt.Format(time.RFC3339)
	}

	encoded, err := json.Marshal(payload{Result: record.Result, Location: record.Location})
	if err != nil {
		return record, xerr.NewError(err, "marshal history payload", record.ID)
	}

	err = kvstore.RetryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO scan_history (id, image_ref, barcode, payload, captured_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID, nullable(record.ImageRef), nullable(record.Barcode), encoded, record.Timestamp, record.CreatedAt.UnixMilli(),
		)
		return execErr
	})
	if err != nil {
		return record, xerr.NewError(err, "insert history record", record.ID)
	}

	tl.Log(tl.Info1, palette.Green, "Added history record '%s' (image '%s', barcode '%s')", record.ID, record.ImageRef, record.Barcode)
	return record, nil
}

// List returns records newest first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int, offset int) (records []Record, e *xerr.Error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, image_ref, barcode, payload, captured_at, created_at FROM scan_history ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, xerr.NewError(err, "list history", limit)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			tl.Log(tl.Warning, palette.Purple, "Skipping %s history row: '%s'", "unreadable", scanErr)
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return records, xerr.NewError(err, "iterate history", limit)
	}
	return records, nil
}

// Between returns records captured in [from, to), oldest first.
func (s *Store) Between(ctx context.Context, from time.Time, to time.Time) (records []Record, e *xerr.Error) {
	all, e := s.List(ctx, 0, 0)
	if e != nil {
		return nil, e
	}
	for i := len(all) - 1; i >= 0; i-- {
		captured := all[i].CapturedAt()
		if !captured.Before(from) && captured.Before(to) {
			records = append(records, all[i])
		}
	}
	return records, nil
}

// Get returns the record with id; found is false when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (record Record, found bool, e *xerr.Error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, image_ref, barcode, payload, captured_at, created_at FROM scan_history WHERE id = ?`, id,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record, false, nil
	}
	if err != nil {
		return record, false, xerr.NewError(err, "read history record", id)
	}
	return record, true, nil
}

/*
Delete removes the record and then its managed image. An image that cannot be
deleted is logged; the orphan sweep picks it up later.
*/
func (s *Store) Delete(ctx context.Context, id string) (deleted bool, e *xerr.Error) {
	record, found, e := s.Get(ctx, id)
	if e != nil || !found {
		return false, e
	}

	err := kvstore.RetryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM scan_history WHERE id = ?`, id)
		return execErr
	})
	if err != nil {
		return false, xerr.NewError(err, "delete history record", id)
	}

	if record.ImageRef != "" && s.images != nil {
		if imageErr := s.images.Delete(record.ImageRef); imageErr != nil {
			tl.Log(tl.Warning, palette.Purple, "Deleting image '%s' of record '%s' %s: '%s'", record.ImageRef, id, "failed", imageErr)
		}
	}
	tl.Log(tl.Info1, palette.Cyan, "Deleted history record '%s'", id)
	return true, nil
}

// ReferencedImages lists every image reference in the history, for the orphan sweep.
func (s *Store) ReferencedImages(ctx context.Context) (refs []string, e *xerr.Error) {
	rows, err := s.db.QueryContext(ctx, `SELECT image_ref FROM scan_history WHERE image_ref IS NOT NULL AND image_ref != ''`)
	if err != nil {
		return nil, xerr.NewError(err, "list referenced images", "scan_history")
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return refs, xerr.NewError(err, "scan image reference", "scan_history")
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return refs, xerr.NewError(err, "iterate image references", "scan_history")
	}
	return refs, nil
}

// CapturedAt parses Timestamp, falling back to CreatedAt.
func (r Record) CapturedAt() time.Time {
	if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
		return parsed
	}
	return r.CreatedAt
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record Record, err error) {
	var imageRef, barcode sql.NullString
	var raw []byte
	var createdAt int64
	if err = row.Scan(&record.ID, &imageRef, &barcode, &raw, &record.Timestamp, &createdAt); err != nil {
		return record, err
	}
	record.ImageRef = imageRef.String
	record.Barcode = barcode.String
	record.CreatedAt = time.UnixMilli(createdAt).UTC()

	var decoded payload
	if err = json.Unmarshal(raw, &decoded); err != nil {
		return record, fmt.Errorf("decode payload of %s: %w", record.ID, err)
	}
	record.Result = decoded.Result
	record.Location = decoded.Location
	return record, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
