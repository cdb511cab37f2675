package ocr

import (
	"os"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

/*
ensureOutputDirectory creates the target directory (and parents) if needed.
*/
func ensureOutputDirectory(outputDirPath string) (e *xerr.Error) {
	err := os.MkdirAll(outputDirPath, 0o755)
	if err != nil {
		return xerr.NewError(err, "create output directory", outputDirPath)
	}
	tl.Log(tl.Debug, palette.Blue, "Ensured output directory '%s'", outputDirPath)
	return nil
}

/*
saveOcrTextToFile writes the OCR text into a .txt file at the given path,
overwriting any existing file.
*/
func saveOcrTextToFile(destinationPath string, ocrText string) (e *xerr.Error) {
	writeErr := os.WriteFile(destinationPath, []byte(ocrText), 0o644)
	if writeErr != nil {
		return xerr.NewError(writeErr, "write OCR text file", destinationPath)
	}
	tl.Log(tl.Debug, palette.Green, "Saved OCR text to '%s'", destinationPath)
	return nil
}
