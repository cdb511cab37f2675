package ocr

import (
	"image/color"

	"github.com/disintegration/imaging"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

// labels are shot from arm's length, so small print needs upscaling
const minProcessedWidth = 1800

/*
createProcessedImage reads the label photo, prepares it for OCR and saves the
result to destinationPath as a PNG.

The preprocessing steps are:
  - Convert to grayscale.
  - Upscale until the width reaches minProcessedWidth (never downscale).
  - Apply a mild sharpening.
  - Strongly increase contrast.
  - Apply a hard threshold to produce a pure black/white image.
*/
func createProcessedImage(sourcePath string, destinationPath string, threshold uint8) (e *xerr.Error) {
	tl.Log(tl.Info1, palette.Blue, "Creating processed image from '%s' into '%s'", sourcePath, destinationPath)

	originalImage, openErr := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if openErr != nil {
		return xerr.NewError(openErr, "open label image for processing", sourcePath)
	}

	grayscaleImage := imaging.Grayscale(originalImage)

	processed := grayscaleImage
	if width := grayscaleImage.Bounds().Dx(); width > 0 && width < minProcessedWidth {
		processed = imaging.Resize(grayscaleImage, minProcessedWidth, 0, imaging.Lanczos)
	}

	sharpenedImage := imaging.Sharpen(processed, 1.0)
	highContrastImage := imaging.AdjustContrast(sharpenedImage, 80.0)

	binarizedImage := imaging.AdjustFunc(highContrastImage, func(c color.NRGBA) color.NRGBA {
		// already grayscale, red is enough as a brightness proxy
		if c.R > threshold {
			return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
		}
		return color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	})

	saveErr := imaging.Save(binarizedImage, destinationPath)
	if saveErr != nil {
		return xerr.NewError(saveErr, "save processed image", destinationPath)
	}

	tl.Log(tl.Info1, palette.Green, "Saved processed image to '%s'", destinationPath)
	return nil
}
