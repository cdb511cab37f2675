package ocr

import (
	"github.com/otiai10/gosseract/v2"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

/*
runOcrOnImage performs OCR on the processed label image with gosseract.

languages is a tesseract language list such as "eng+spa". Missing tesseract or
language data comes back as a *xerr.Error.
*/
func runOcrOnImage(imagePath string, languages []string) (ocrText string, e *xerr.Error) {
	tl.Log(tl.Info1, palette.Cyan, "Running OCR on processed image '%s' (%v)", imagePath, languages)

	client := gosseract.NewClient()
	defer func() {
		_ = client.Close()
	}()

	err := client.SetLanguage(languages...)
	if err != nil {
		return "", xerr.NewError(err, "set OCR languages", languages)
	}

	// keep column gaps, ingredient lists are often two-column
	err = client.SetVariable("preserve_interword_spaces", "1")
	if err != nil {
		return "", xerr.NewError(err, "set preserve_interword_spaces", imagePath)
	}

	// labels mix headings and paragraphs
	err = client.SetPageSegMode(gosseract.PSM_AUTO)
	if err != nil {
		return "", xerr.NewError(err, "set page segmentation mode", imagePath)
	}

	err = client.SetImage(imagePath)
	if err != nil {
		return "", xerr.NewError(err, "set OCR image", imagePath)
	}

	ocrText, ocrErr := client.Text()
	if ocrErr != nil {
		return "", xerr.NewError(ocrErr, "run OCR on image", imagePath)
	}

	tl.Log(tl.Info1, palette.Green, "OCR completed for '%s' (text length: %v)", imagePath, len(ocrText))
	return ocrText, nil
}
