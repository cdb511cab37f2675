package submission

import (
	"context"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/geo"
	"safe-bite/src/pkg/imagestore"
	"safe-bite/src/pkg/photometa"
)

/*
resolveLocation walks the fallback chain: the photo's EXIF position, then the
device position for camera shots, then nothing. Gallery photos without EXIF
never ask for the device position, it says nothing about where the food was.

An EXIF capture time fills in request.Timestamp when the host sent none.
*/
func (g *Gateway) resolveLocation(ctx context.Context, request *ImageRequest) *geo.LocationContext {
	if g.deps.Locator == nil {
		return nil
	}

	var metadata photometa.Metadata
	path, e := imagestore.LocalPath(request.ImageURI)
	if e == nil {
		metadata, e = photometa.Read(path)
	}
	if e != nil {
		tl.Log(tl.Debug, palette.CyanDim, "%s: '%s'", "Could not read photo metadata", e)
	}
	if request.Timestamp == "" && metadata.HasTakenAt {
		request.Timestamp = metadata.TakenAt.UTC().Format(time.RFC3339)
	}

	fromEXIF := func(ctx context.Context) *geo.LocationContext {
		if !metadata.HasGPS {
			return nil
		}
		gps := metadata.GPS
		return g.deps.Locator.FromEXIF(ctx, gps.Latitude, gps.LatitudeRef, gps.Longitude, gps.LongitudeRef)
	}

	var fromDevice geo.Source
	switch {
	case request.Source == analysis.SourceGallery:
	case request.DeviceLatitude != nil && request.DeviceLongitude != nil:
		fromDevice = func(ctx context.Context) *geo.LocationContext {
			return g.deps.Locator.FromCoordinates(ctx, *request.DeviceLatitude, *request.DeviceLongitude)
		}
	default:
		fromDevice = g.deps.Locator.FromDevice
	}

	location := geo.Chain(ctx, fromEXIF, fromDevice)
	if location == nil {
		tl.Log(tl.Info1, palette.Purple, "%s, using default country '%s'", "No location for photo", g.deps.DefaultCountryCode)
	}
	return location
}
