package imagestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tuumbleweed/xerr"
)

func plentyOfSpace(string) (uint64, error) { return 10 << 30, nil }

func writeFixture(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries)
}

func TestSaveCopiesWithGeneratedName(t *testing.T) {
	cacheDir := t.TempDir()
	managedDir := filepath.Join(t.TempDir(), "images")
	fixed := time.UnixMilli(1718000000123)
	store := New(managedDir, 0, WithFreeSpaceFunc(plentyOfSpace), WithClock(func() time.Time { return fixed }))

	source := writeFixture(t, cacheDir, "IMG_0001.PNG", "pixels")
	name, e := store.Save(context.Background(), "file://"+source)
	if e != nil {
		t.Fatalf("Save: %v", e)
	}
	if !strings.HasPrefix(name, "photo_1718000000123_") || !strings.HasSuffix(name, ".png") {
		t.Fatalf("name = %q, want photo_1718000000123_xxxxxx.png", name)
	}
	if len(name) != len("photo_1718000000123_abcdef.png") {
		t.Fatalf("name %q has unexpected random part length", name)
	}
	copied, err := os.ReadFile(filepath.Join(managedDir, name))
	if err != nil || string(copied) != "pixels" {
		t.Fatalf("copied content = %q err=%v", copied, err)
	}
}

func TestSaveDefaultsExtensionToJPG(t *testing.T) {
	store := New(t.TempDir(), 0, WithFreeSpaceFunc(plentyOfSpace))
	source := writeFixture(t, t.TempDir(), "capture", "x")
	name, e := store.Save(context.Background(), source)
	if e != nil {
		t.Fatalf("Save: %v", e)
	}
	if filepath.Ext(name) != ".jpg" {
		t.Fatalf("name = %q, want .jpg extension", name)
	}
}

func TestSaveIsIdempotentForManagedFiles(t *testing.T) {
	managedDir := t.TempDir()
	store := New(managedDir, 0, WithFreeSpaceFunc(plentyOfSpace))
	source := writeFixture(t, t.TempDir(), "dish.jpg", "x")

	first, e := store.Save(context.Background(), source)
	if e != nil {
		t.Fatalf("first Save: %v", e)
	}
	second, e := store.Save(context.Background(), filepath.Join(managedDir, first))
	if e != nil {
		t.Fatalf("second Save: %v", e)
	}
	if second != first {
		t.Fatalf("second Save = %q, want %q", second, first)
	}
	if n := countFiles(t, managedDir); n != 1 {
		t.Fatalf("managed dir has %d files, want 1", n)
	}
}

func TestSaveFailsFastWhenDiskFull(t *testing.T) {
	managedDir := t.TempDir()
	store := New(managedDir, 0, WithFreeSpaceFunc(func(string) (uint64, error) { return 10 << 20, nil }))
	source := writeFixture(t, t.TempDir(), "dish.jpg", "x")

	if _, e := store.Save(context.Background(), source); e == nil {
		t.Fatal("expected Save to fail below the free space floor")
	}
	if n := countFiles(t, managedDir); n != 0 {
		t.Fatalf("managed dir has %d files after refused save, want 0", n)
	}
}

func TestSaveMissingSource(t *testing.T) {
	managedDir := t.TempDir()
	store := New(managedDir, 0, WithFreeSpaceFunc(plentyOfSpace))
	if _, e := store.Save(context.Background(), filepath.Join(t.TempDir(), "gone.jpg")); e == nil {
		t.Fatal("expected Save to fail for a missing source")
	}
	if n := countFiles(t, managedDir); n != 0 {
		t.Fatalf("partial file left behind: %d files", n)
	}
}

func TestSaveAcceptsStoredReference(t *testing.T) {
	managedDir := t.TempDir()
	store := New(managedDir, 0, WithFreeSpaceFunc(plentyOfSpace))
	source := writeFixture(t, t.TempDir(), "dish.jpg", "x")

	first, e := store.Save(context.Background(), source)
	if e != nil {
		t.Fatalf("first Save: %v", e)
	}
	again, e := store.Save(context.Background(), first)
	if e != nil {
		t.Fatalf("Save(%q): %v", first, e)
	}
	if again != first {
		t.Fatalf("Save(%q) = %q, want the same reference", first, again)
	}
	if n := countFiles(t, managedDir); n != 1 {
		t.Fatalf("managed dir has %d files, want 1", n)
	}
}

func TestCopyFileKeepsExistingDestination(t *testing.T) {
	managedDir := t.TempDir()
	existing := writeFixture(t, managedDir, "photo_1_abcdef.jpg", "first photo")
	source := writeFixture(t, t.TempDir(), "dish.jpg", "second photo")

	if e := copyFile(source, existing); e == nil {
		t.Fatal("expected copyFile to refuse an existing destination")
	}
	content, err := os.ReadFile(existing)
	if err != nil {
		t.Fatalf("existing image was removed: %v", err)
	}
	if string(content) != "first photo" {
		t.Fatalf("existing image content = %q, want %q", content, "first photo")
	}
}

func TestResolve(t *testing.T) {
	managedDir := t.TempDir()
	store := New(managedDir, 0)

	if got, want := store.Resolve("photo_1_abcdef.jpg"), filepath.Join(managedDir, "photo_1_abcdef.jpg"); got != want {
		t.Errorf("Resolve(filename) = %q, want %q", got, want)
	}
	if got := store.Resolve("/var/mobile/legacy/IMG_1.jpg"); got != "/var/mobile/legacy/IMG_1.jpg" {
		t.Errorf("Resolve(legacy) = %q, want passthrough", got)
	}
	if got := store.Resolve("file:///var/mobile/legacy/IMG_2.jpg"); got != "/var/mobile/legacy/IMG_2.jpg" {
		t.Errorf("Resolve(file URI) = %q", got)
	}
	if got := store.Resolve("  "); got != "" {
		t.Errorf("Resolve(blank) = %q, want empty", got)
	}
}

func TestDeleteNeverTouchesLegacyPaths(t *testing.T) {
	store := New(t.TempDir(), 0, WithFreeSpaceFunc(plentyOfSpace))
	outside := writeFixture(t, t.TempDir(), "legacy.jpg", "keep me")

	if e := store.Delete(outside); e != nil {
		t.Fatalf("Delete(legacy): %v", e)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("legacy file was touched: %v", err)
	}
}

func TestDeleteManagedFile(t *testing.T) {
	managedDir := t.TempDir()
	store := New(managedDir, 0, WithFreeSpaceFunc(plentyOfSpace))
	name, e := store.Save(context.Background(), writeFixture(t, t.TempDir(), "a.jpg", "x"))
	if e != nil {
		t.Fatalf("Save: %v", e)
	}
	if e := store.Delete(name); e != nil {
		t.Fatalf("Delete: %v", e)
	}
	if n := countFiles(t, managedDir); n != 0 {
		t.Fatalf("managed dir has %d files after delete, want 0", n)
	}
	if e := store.Delete(name); e != nil {
		t.Fatalf("second Delete should be a no-op: %v", e)
	}
}

func TestCleanupOrphans(t *testing.T) {
	managedDir := t.TempDir()
	store := New(managedDir, 0, WithFreeSpaceFunc(plentyOfSpace))
	sourceDir := t.TempDir()

	var names []string
	for _, source := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		name, e := store.Save(context.Background(), writeFixture(t, sourceDir, source, source))
		if e != nil {
			t.Fatalf("Save: %v", e)
		}
		names = append(names, name)
	}

	history := ReferenceListerFunc(func(ctx context.Context) ([]string, *xerr.Error) {
		return []string{names[0], "/legacy/elsewhere.jpg"}, nil
	})
	snapshot := ReferenceListerFunc(func(ctx context.Context) ([]string, *xerr.Error) {
		return []string{filepath.Join(managedDir, names[2])}, nil
	})

	removed, e := store.CleanupOrphans(context.Background(), history, snapshot)
	if e != nil {
		t.Fatalf("CleanupOrphans: %v", e)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(managedDir, names[1])); !os.IsNotExist(err) {
		t.Fatalf("orphan %s should be gone, stat err = %v", names[1], err)
	}
	for _, kept := range []string{names[0], names[2]} {
		if _, err := os.Stat(filepath.Join(managedDir, kept)); err != nil {
			t.Fatalf("referenced %s was deleted: %v", kept, err)
		}
	}
}

func TestCleanupOrphansMissingDirectory(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "never-created"), 0)
	removed, e := store.CleanupOrphans(context.Background())
	if e != nil || removed != 0 {
		t.Fatalf("CleanupOrphans = %d, %v; want 0, nil", removed, e)
	}
}

func TestIsBareFilename(t *testing.T) {
	cases := map[string]bool{
		"photo_1_abcdef.jpg":    true,
		"/abs/photo.jpg":        false,
		`C:\photos\photo.jpg`:   false,
		"file:///tmp/photo.jpg": false,
		"":                      false,
	}
	for input, want := range cases {
		if got := IsBareFilename(input); got != want {
			t.Errorf("IsBareFilename(%q) = %v, want %v", input, got, want)
		}
	}
}
