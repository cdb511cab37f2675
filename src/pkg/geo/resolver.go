package geo

import (
	"context"
	"strings"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

// DefaultDeviceTimeout bounds how long a capture waits for a device fix.
const DefaultDeviceTimeout = 3 * time.Second

// ReverseGeocoder turns coordinates into zero or one address record.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, latitude float64, longitude float64) (address *Address, e *xerr.Error)
}

// Positioner is the device location service.
type Positioner interface {
	RequestPermission(ctx context.Context) (granted bool, e *xerr.Error)
	CurrentPosition(ctx context.Context) (latitude float64, longitude float64, e *xerr.Error)
}

// Resolver produces LocationContext values from raw, EXIF or device coordinates.
type Resolver struct {
	geocoder      ReverseGeocoder
	positioner    Positioner
	deviceTimeout time.Duration
}

// NewResolver wires a resolver. Either collaborator may be nil.
func NewResolver(geocoder ReverseGeocoder, positioner Positioner, deviceTimeout time.Duration) *Resolver {
	if deviceTimeout <= 0 {
		deviceTimeout = DefaultDeviceTimeout
	}
	return &Resolver{geocoder: geocoder, positioner: positioner, deviceTimeout: deviceTimeout}
}

/*
FromCoordinates validates a raw coordinate pair and reverse-geocodes it.

Invalid coordinates yield nil. A geocoder failure still yields a context with
the coordinates and empty address fields.
*/
func (r *Resolver) FromCoordinates(ctx context.Context, latitude any, longitude any) *LocationContext {
	lat, lng, ok := Validate(latitude, longitude)
	if !ok {
		return nil
	}
	return r.enrich(ctx, lat, lng)
}

/*
FromEXIF resolves coordinates read from photo metadata.

EXIF stores unsigned magnitudes plus hemisphere letters, so "S" negates the
latitude and "W" negates the longitude before validation.
*/
func (r *Resolver) FromEXIF(ctx context.Context, latitude float64, latitudeRef string, longitude float64, longitudeRef string) *LocationContext {
	lat, lng := ApplyHemisphere(latitude, latitudeRef, longitude, longitudeRef)
	tl.Log(tl.Info1, palette.Cyan, "Resolving %s coordinates lat='%v' lng='%v'", "EXIF", lat, lng)
	return r.FromCoordinates(ctx, lat, lng)
}

// ApplyHemisphere signs EXIF magnitudes according to their reference letters.
func ApplyHemisphere(latitude float64, latitudeRef string, longitude float64, longitudeRef string) (float64, float64) {
	if strings.EqualFold(strings.TrimSpace(latitudeRef), "S") && latitude > 0 {
		latitude = -latitude
	}
	if strings.EqualFold(strings.TrimSpace(longitudeRef), "W") && longitude > 0 {
		longitude = -longitude
	}
	return latitude, longitude
}

/*
FromDevice asks for location permission and waits for a position fix.

The fix races a hard timer (3 seconds by default); a timeout, a denied
permission or a positioning error all yield nil rather than an error.
*/
func (r *Resolver) FromDevice(ctx context.Context) *LocationContext {
	if r.positioner == nil {
		return nil
	}

	granted, e := r.positioner.RequestPermission(ctx)
	if e != nil {
		tl.Log(tl.Warning, palette.Purple, "Location permission request %s: '%s'", "failed", e)
		return nil
	}
	if !granted {
		tl.Log(tl.Info, palette.Purple, "Location permission %s", "denied")
		return nil
	}

	fixCtx, cancel := context.WithTimeout(ctx, r.deviceTimeout)
	defer cancel()

	type fix struct {
		latitude  float64
		longitude float64
		e         *xerr.Error
	}
	fixes := make(chan fix, 1)
	go func() {
		lat, lng, positionErr := r.positioner.CurrentPosition(fixCtx)
		fixes <- fix{latitude: lat, longitude: lng, e: positionErr}
	}()

	select {
	case got := <-fixes:
		if got.e != nil {
			tl.Log(tl.Warning, palette.Purple, "Device position %s: '%s'", "unavailable", got.e)
			return nil
		}
		return r.FromCoordinates(ctx, got.latitude, got.longitude)
	case <-fixCtx.Done():
		tl.Log(tl.Info, palette.Purple, "Device position %s after %s", "timed out", r.deviceTimeout)
		return nil
	}
}

func (r *Resolver) enrich(ctx context.Context, lat float64, lng float64) *LocationContext {
	if r.geocoder == nil {
		return CoordinatesOnly(lat, lng)
	}

	address, e := r.geocoder.ReverseGeocode(ctx, lat, lng)
	if e != nil {
		tl.Log(tl.Warning, palette.Purple, "Reverse geocoding %s, keeping coordinates only: '%s'", "failed", e)
		return CoordinatesOnly(lat, lng)
	}
	if address == nil {
		tl.Log(tl.Info, palette.Purple, "Reverse geocoding returned %s for lat='%v' lng='%v'", "no address", lat, lng)
		return CoordinatesOnly(lat, lng)
	}

	location := NewLocationContext(lat, lng, *address)
	tl.Log(tl.Info1, palette.Green, "Resolved location '%s' (%s)", location.FormattedAddress, location.CountryCode())
	return location
}

// Source is one step of a location fallback chain.
type Source func(ctx context.Context) *LocationContext

/*
Chain evaluates sources in order and returns the first non-nil location.

It stops early when ctx is done and never returns an error.
*/
func Chain(ctx context.Context, sources ...Source) *LocationContext {
	for _, source := range sources {
		if source == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		location := source(ctx)
		if location != nil {
			return location
		}
	}
	return nil
}

// StaticPositioner reports a fixed position, or none. Used when the host
// passes the device fix in with the request.
type StaticPositioner struct {
	Latitude  float64
	Longitude float64
	Available bool
}

func (p StaticPositioner) RequestPermission(ctx context.Context) (bool, *xerr.Error) {
	return p.Available, nil
}

func (p StaticPositioner) CurrentPosition(ctx context.Context) (float64, float64, *xerr.Error) {
	return p.Latitude, p.Longitude, nil
}
