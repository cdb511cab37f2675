/*
Package ocr reads ingredient text from photos of product labels. The text is
only a hint sent along with the photo to the remote analyzer.
*/
package ocr

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

const defaultThreshold = 200 // tweak between ~180 and 220 if needed

/*
Reader extracts label text. Languages are tesseract codes ("eng", "spa").
When DebugDir is set, every run keeps its processed image and raw text in a
timestamped directory below it.
*/
type Reader struct {
	Languages []string
	DebugDir  string
	Threshold uint8
}

// NewReader parses a tesseract language list such as "eng+spa".
func NewReader(languages string, debugDir string) *Reader {
	var langs []string
	for _, lang := range strings.Split(languages, "+") {
		if lang = strings.TrimSpace(lang); lang != "" {
			langs = append(langs, lang)
		}
	}
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &Reader{Languages: langs, DebugDir: debugDir, Threshold: defaultThreshold}
}

/*
LabelText preprocesses the label photo, runs OCR on it and returns the
ingredient section of the text.
*/
func (r *Reader) LabelText(ctx context.Context, imagePath string) (text string, e *xerr.Error) {
	if err := ctx.Err(); err != nil {
		return "", xerr.NewError(err, "read label text", imagePath)
	}
	tl.Log(tl.Notice, palette.BlueBold, "%s label text from '%s'", "Reading", imagePath)

	workDir, e := r.workDir()
	if e != nil {
		return "", e
	}
	if r.DebugDir == "" {
		defer func() {
			_ = os.RemoveAll(workDir)
		}()
	}

	processedPath := filepath.Join(workDir, "clean.png")
	e = createProcessedImage(imagePath, processedPath, r.Threshold)
	if e != nil {
		return "", e
	}
	if err := ctx.Err(); err != nil {
		return "", xerr.NewError(err, "read label text", imagePath)
	}

	raw, e := runOcrOnImage(processedPath, r.Languages)
	if e != nil {
		return "", e
	}
	text = ExtractIngredientSection(raw)

	if r.DebugDir != "" {
		_ = saveOcrTextToFile(filepath.Join(workDir, "ocr.txt"), raw)
		_ = saveOcrTextToFile(filepath.Join(workDir, "ingredients.txt"), text)
	}
	tl.Log(tl.Info1, palette.Green, "Label text has %v characters (raw %v)", len(text), len(raw))
	return text, nil
}

func (r *Reader) workDir() (dir string, e *xerr.Error) {
	if r.DebugDir == "" {
		dir, err := os.MkdirTemp("", "label-ocr-*")
		if err != nil {
			return "", xerr.NewError(err, "create OCR work directory", os.TempDir())
		}
		return dir, nil
	}
	// e.g. ./tmp/ocr/2026-11-26_16-35-31.123
	dir = filepath.Join(r.DebugDir, time.Now().Format("2006-01-02_15-04-05.000"))
	return dir, ensureOutputDirectory(dir)
}
