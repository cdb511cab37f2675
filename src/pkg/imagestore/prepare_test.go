package imagestore

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func writeImage(t *testing.T, dir string, name string, width int, height int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeImage(t, dir, "dish.jpg", 64, 48)

	info, e := Validate("file://" + good)
	if e != nil {
		t.Fatalf("Validate: %v", e)
	}
	if info.Width != 64 || info.Height != 48 || info.Bytes == 0 || info.Path != good {
		t.Fatalf("unexpected info: %+v", info)
	}

	empty := filepath.Join(dir, "empty.jpg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(dir, "corrupt.jpg")
	if err := os.WriteFile(corrupt, []byte("not an image at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	for path, want := range map[string]error{
		filepath.Join(dir, "missing.jpg"): ErrMissingFile,
		empty:                             ErrEmptyFile,
		corrupt:                           ErrCorruptImage,
	} {
		_, e := Validate(path)
		if e == nil {
			t.Fatalf("Validate(%s): expected error", path)
		}
		if !strings.Contains(fmt.Sprint(e), want.Error()) {
			t.Errorf("Validate(%s) = %v, want %v", path, e, want)
		}
	}
}

func TestPrepareUploadDownscales(t *testing.T) {
	dir := t.TempDir()
	big := writeImage(t, dir, "big.png", 3000, 1500)
	info, e := Validate(big)
	if e != nil {
		t.Fatalf("Validate: %v", e)
	}

	path, cleanup, e := PrepareUpload(context.Background(), info, 1000)
	if e != nil {
		t.Fatalf("PrepareUpload: %v", e)
	}
	resized, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("open upload copy: %v", err)
	}
	if resized.Bounds().Dx() != 1000 || resized.Bounds().Dy() != 500 {
		t.Fatalf("upload copy is %v", resized.Bounds())
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("cleanup left the upload copy behind")
	}
}

func TestPrepareUploadKeepsSmallImages(t *testing.T) {
	small := writeImage(t, t.TempDir(), "small.png", 300, 200)
	info, _ := Validate(small)
	path, cleanup, e := PrepareUpload(context.Background(), info, 1000)
	defer cleanup()
	if e != nil || path != small {
		t.Fatalf("PrepareUpload = %s, %v; want original path", path, e)
	}
}
