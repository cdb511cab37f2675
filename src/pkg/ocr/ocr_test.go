package ocr

import (
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func TestExtractIngredientSection(t *testing.T) {
	raw := `GALLETAS MARÍAS
Peso neto 170 g

INGREDIENTES: harina de trigo, azúcar,   aceite vegetal,
leche en polvo, sal.
CONTIENE: trigo, leche.
Información nutricional
Energía 450 kcal`

	got := ExtractIngredientSection(raw)
	want := "INGREDIENTES: harina de trigo, azúcar, aceite vegetal,\nleche en polvo, sal.\nCONTIENE: trigo, leche."
	if got != want {
		t.Fatalf("got\n%q\nwant\n%q", got, want)
	}
}

func TestExtractIngredientSectionWithoutHeading(t *testing.T) {
	raw := "rice noodles, peanuts\n|||~~\n\nfish sauce"
	got := ExtractIngredientSection(raw)
	if got != "rice noodles, peanuts\nfish sauce" {
		t.Fatalf("got %q", got)
	}
}

func TestNewReaderLanguages(t *testing.T) {
	r := NewReader(" eng + spa ", "")
	if strings.Join(r.Languages, ",") != "eng,spa" {
		t.Fatalf("languages = %v", r.Languages)
	}
	if got := NewReader("", "").Languages; len(got) != 1 || got[0] != "eng" {
		t.Fatalf("default languages = %v", got)
	}
}

func TestCreateProcessedImageBinarizes(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "label.png")
	img := imaging.New(400, 200, color.NRGBA{R: 240, G: 240, B: 240, A: 255})
	for x := 50; x < 350; x++ {
		for y := 90; y < 110; y++ {
			img.Set(x, y, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
		}
	}
	if err := imaging.Save(img, source); err != nil {
		t.Fatalf("save fixture: %v", err)
	}

	destination := filepath.Join(dir, "clean.png")
	if e := createProcessedImage(source, destination, defaultThreshold); e != nil {
		t.Fatalf("createProcessedImage: %v", e)
	}
	processed, err := imaging.Open(destination)
	if err != nil {
		t.Fatalf("open processed: %v", err)
	}
	if processed.Bounds().Dx() != minProcessedWidth {
		t.Fatalf("width = %d, want %d", processed.Bounds().Dx(), minProcessedWidth)
	}
	assertBinary(t, processed)
}

func assertBinary(t *testing.T, img image.Image) {
	t.Helper()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 37 {
		for x := b.Min.X; x < b.Max.X; x += 41 {
			r, _, _, _ := img.At(x, y).RGBA()
			if v := r >> 8; v != 0 && v != 255 {
				t.Fatalf("pixel (%d,%d) = %d, want black or white", x, y, v)
			}
		}
	}
}
