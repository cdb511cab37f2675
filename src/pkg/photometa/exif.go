/*
Package photometa reads capture metadata (GPS position, capture time) embedded
in photos.
*/
package photometa

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

/*
GPS is the raw EXIF position: unsigned magnitudes in decimal degrees plus the
hemisphere letters ("N"/"S", "E"/"W"). The sign is applied by geo.ApplyHemisphere.
*/
type GPS struct {
	Latitude     float64 `json:"latitude"`
	LatitudeRef  string  `json:"latitude_ref"`
	Longitude    float64 `json:"longitude"`
	LongitudeRef string  `json:"longitude_ref"`
}

/*
Metadata is what we take from a photo's EXIF block. HasGPS and HasTakenAt say
which parts were present.
*/
type Metadata struct {
	GPS        GPS       `json:"gps"`
	HasGPS     bool      `json:"has_gps"`
	TakenAt    time.Time `json:"taken_at"`
	HasTakenAt bool      `json:"has_taken_at"`
}

/*
Read decodes the EXIF block of the image at imagePath.

Photos without EXIF (screenshots, PNGs, stripped gallery exports) are not an
error: the returned Metadata simply has HasGPS and HasTakenAt unset. Only a file
that cannot be opened returns a *xerr.Error.
*/
func Read(imagePath string) (metadata Metadata, e *xerr.Error) {
	file, openErr := os.Open(imagePath)
	if openErr != nil {
		return metadata, xerr.NewError(openErr, "open image for EXIF", imagePath)
	}
	defer func() {
		_ = file.Close()
	}()

	decoded, decodeErr := exif.Decode(file)
	if decodeErr != nil {
		tl.Log(tl.Debug, palette.CyanDim, "No %s in '%s': '%s'", "EXIF data", imagePath, decodeErr)
		return metadata, nil
	}

	gps, gpsErr := readGPS(decoded)
	if gpsErr == nil {
		metadata.GPS = gps
		metadata.HasGPS = true
	} else {
		tl.Log(tl.Debug, palette.CyanDim, "No %s in '%s': '%s'", "EXIF GPS", imagePath, gpsErr)
	}

	takenAt, timeErr := decoded.DateTime()
	if timeErr == nil && !takenAt.IsZero() {
		metadata.TakenAt = takenAt
		metadata.HasTakenAt = true
	}

	tl.Log(tl.Info1, palette.Cyan, "Read EXIF from '%s' (gps: %v, taken at: %v)", imagePath, metadata.HasGPS, metadata.HasTakenAt)
	return metadata, nil
}

func readGPS(decoded *exif.Exif) (gps GPS, err error) {
	latTag, err := decoded.Get(exif.GPSLatitude)
	if err != nil {
		return gps, err
	}
	lngTag, err := decoded.Get(exif.GPSLongitude)
	if err != nil {
		return gps, err
	}

	gps.Latitude, err = tagDegrees(latTag)
	if err != nil {
		return gps, fmt.Errorf("latitude: %w", err)
	}
	gps.Longitude, err = tagDegrees(lngTag)
	if err != nil {
		return gps, fmt.Errorf("longitude: %w", err)
	}

	gps.LatitudeRef = tagLetter(decoded, exif.GPSLatitudeRef)
	gps.LongitudeRef = tagLetter(decoded, exif.GPSLongitudeRef)
	return gps, nil
}

// tagDegrees converts a degrees/minutes/seconds rational triple.
func tagDegrees(tag *tiff.Tag) (float64, error) {
	var parts [3]float64
	if tag.Count < uint32(len(parts)) {
		return 0, fmt.Errorf("expected 3 components, got %d", tag.Count)
	}
	for i := range parts {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return 0, err
		}
		if den == 0 {
			return 0, fmt.Errorf("zero denominator in component %d", i)
		}
		parts[i] = float64(num) / float64(den)
	}
	return DMSToDegrees(parts[0], parts[1], parts[2]), nil
}

func tagLetter(decoded *exif.Exif, name exif.FieldName) string {
	tag, err := decoded.Get(name)
	if err != nil {
		return ""
	}
	value, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(strings.Trim(value, "\x00")))
}

// DMSToDegrees converts degrees, minutes and seconds to decimal degrees.
func DMSToDegrees(degrees float64, minutes float64, seconds float64) float64 {
	return degrees + minutes/60 + seconds/3600
}
