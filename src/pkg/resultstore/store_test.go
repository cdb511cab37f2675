package resultstore

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/geo"
	"safe-bite/src/pkg/kvstore"
	"safe-bite/src/pkg/util"
)

func sampleResult(name string) *analysis.Result {
	return &analysis.Result{
		Source:            analysis.SourceCamera,
		DishName:          name,
		DishNameEnglish:   name,
		Ingredients:       []analysis.Ingredient{{Name: "peanut", NameEnglish: "peanut", Allergens: []string{"peanuts"}, Certainty: "visible"}},
		DetectedAllergens: []string{"peanuts"},
		MatchedAllergens:  []string{"peanuts"},
		Verdict:           analysis.VerdictUnsafe,
		Explanation:       "contains peanuts",
		CountryCode:       "TH",
	}
}

func sampleLocation() *geo.LocationContext {
	return geo.NewLocationContext(13.7563, 100.5018, geo.Address{
		Country: "Thailand", City: "Bangkok", District: "Pathum Wan", ISOCountryCode: "TH",
	})
}

func TestRoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "kv.db")

	kv, e := kvstore.Open(dbPath)
	if e != nil {
		t.Fatalf("open: %v", e)
	}
	first := New(kv)
	result, location := sampleResult("Pad Thai"), sampleLocation()
	imageRef := util.Ptr("photo_1767225600000_abc123.jpg")
	timestamp := util.Ptr("2026-01-01T00:00:00Z")
	first.SetData(result, location, imageRef, timestamp)
	if e := first.SaveBackup(ctx); e != nil {
		t.Fatalf("SaveBackup: %v", e)
	}
	first.Wait()
	_ = kv.Close()

	// simulated restart: new database handle, new store, nothing in memory
	kv2, e := kvstore.Open(dbPath)
	if e != nil {
		t.Fatalf("reopen: %v", e)
	}
	defer kv2.Close()
	second := New(kv2)
	if !second.GetData().Empty() {
		t.Fatal("fresh store should be empty")
	}
	if !second.RestoreBackup(ctx) {
		t.Fatal("RestoreBackup returned false")
	}

	got := second.GetData()
	if !reflect.DeepEqual(got.Result, result) {
		t.Fatalf("result mismatch:\n got %+v\nwant %+v", got.Result, result)
	}
	if !reflect.DeepEqual(got.Location, location) {
		t.Fatalf("location mismatch:\n got %+v\nwant %+v", got.Location, location)
	}
	if got.ImageRef == nil || *got.ImageRef != *imageRef {
		t.Fatalf("image ref = %v, want %s", got.ImageRef, *imageRef)
	}
	if got.Timestamp == nil || *got.Timestamp != *timestamp {
		t.Fatalf("timestamp = %v, want %s", got.Timestamp, *timestamp)
	}
}

func openKV(t *testing.T) *kvstore.Store {
	t.Helper()
	kv, e := kvstore.Open(filepath.Join(t.TempDir(), "kv.db"))
	if e != nil {
		t.Fatalf("open: %v", e)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestSetDataDefaultsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	store := New(openKV(t), WithClock(func() time.Time { return fixed }))
	store.SetData(sampleResult("x"), nil, nil, nil)
	store.Wait()

	got := store.GetData()
	if got.Timestamp == nil || *got.Timestamp != "2026-05-04T03:02:01Z" {
		t.Fatalf("timestamp = %v", got.Timestamp)
	}
}

func TestBackupTrailsLatestWrite(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	store := New(kv)
	for i := 0; i < 40; i++ {
		store.SetData(sampleResult(fmt.Sprintf("dish %d", i)), nil, nil, nil)
	}
	store.Wait()

	var record BackupRecord
	found, e := kv.GetJSON(ctx, BackupKey, &record)
	if e != nil || !found {
		t.Fatalf("backup missing: found=%v e=%v", found, e)
	}
	if record.Result.DishName != "dish 39" {
		t.Fatalf("backup holds %q, want the newest write", record.Result.DishName)
	}
}

func TestSaveBackupWithoutResultIsNoop(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	store := New(kv)
	if e := store.SaveBackup(ctx); e != nil {
		t.Fatalf("SaveBackup: %v", e)
	}
	var record BackupRecord
	if found, _ := kv.GetJSON(ctx, BackupKey, &record); found {
		t.Fatal("backup written without a result")
	}
}

func TestClearRemovesBackup(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	store := New(kv)
	store.SetData(sampleResult("x"), sampleLocation(), util.Ptr("a.jpg"), nil)
	store.Wait()

	if e := store.Clear(ctx); e != nil {
		t.Fatalf("Clear: %v", e)
	}
	if !store.GetData().Empty() {
		t.Fatal("snapshot not cleared")
	}
	if store.RestoreBackup(ctx) {
		t.Fatal("backup survived Clear")
	}
}

func TestUpdateTimestampRewritesBackup(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	store := New(kv)
	store.SetData(sampleResult("x"), nil, nil, util.Ptr("2026-01-01T00:00:00Z"))
	store.UpdateTimestamp("2026-02-02T00:00:00Z")
	store.Wait()

	var record BackupRecord
	if found, _ := kv.GetJSON(ctx, BackupKey, &record); !found {
		t.Fatal("backup missing")
	}
	if record.OriginalTimestamp == nil || *record.OriginalTimestamp != "2026-02-02T00:00:00Z" {
		t.Fatalf("original timestamp = %v", record.OriginalTimestamp)
	}
}

func TestLoadRestoresOnlyWhenAsked(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	writer := New(kv)
	writer.SetData(sampleResult("x"), nil, nil, nil)
	writer.Wait()

	reader := New(kv)
	if _, ok := reader.Load(ctx, false); ok {
		t.Fatal("Load(fromStore=false) should not touch the backup")
	}
	snapshot, ok := reader.Load(ctx, true)
	if !ok || snapshot.Result == nil || snapshot.Result.DishName != "x" {
		t.Fatalf("Load(fromStore=true) = %+v, %v", snapshot, ok)
	}
}

type failingBackend struct {
	mu    sync.Mutex
	calls int
}

func (f *failingBackend) GetJSON(ctx context.Context, key string, target any) (bool, *xerr.Error) {
	return false, nil
}

func (f *failingBackend) SetJSON(ctx context.Context, key string, value any) *xerr.Error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return xerr.NewError(fmt.Errorf("disk full"), "write", key)
}

func (f *failingBackend) Remove(ctx context.Context, key string) *xerr.Error {
	return nil
}

func TestBackupFailureNeverReachesCaller(t *testing.T) {
	backend := &failingBackend{}
	store := New(backend)
	store.SetData(sampleResult("x"), nil, nil, nil)
	store.Wait()

	if store.GetData().Result == nil {
		t.Fatal("snapshot lost after failed backup")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.calls != 1 {
		t.Fatalf("backup attempts = %d, want 1", backend.calls)
	}
}

func TestReferencedImagesIncludesBackup(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)

	writer := New(kv)
	writer.SetData(sampleResult("x"), nil, util.Ptr("photo_backup.jpg"), nil)
	writer.Wait()

	// a fresh process has nothing in memory but must still protect the backed up image
	reader := New(kv)
	refs, e := reader.ReferencedImages(ctx)
	if e != nil {
		t.Fatalf("ReferencedImages: %v", e)
	}
	if !reflect.DeepEqual(refs, []string{"photo_backup.jpg"}) {
		t.Fatalf("got %v, want [photo_backup.jpg]", refs)
	}

	reader.SetData(sampleResult("y"), nil, util.Ptr("photo_current.jpg"), nil)
	reader.Wait()
	refs, _ = reader.ReferencedImages(ctx)
	if len(refs) != 2 || refs[0] != "photo_current.jpg" {
		t.Fatalf("got %v, want current reference first", refs)
	}
}
