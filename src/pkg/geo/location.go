package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
)

/*
LocationContext is where a capture happened.

Latitude and Longitude are always set. The optional fields are pointers so an
unknown country can be told apart from an empty one.
*/
type LocationContext struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Country          *string `json:"country,omitempty"`
	City             *string `json:"city,omitempty"`
	District         string  `json:"district"`
	Subregion        string  `json:"subregion"`
	ISOCountryCode   *string `json:"iso_country_code,omitempty"`
	FormattedAddress string  `json:"formatted_address"`
}

// Address is one reverse geocoding record.
type Address struct {
	Country        string `json:"country"`
	City           string `json:"city"`
	District       string `json:"district"`
	Subregion      string `json:"subregion"`
	ISOCountryCode string `json:"iso_country_code"`
}

// CoordinatesOnly builds a context for a known position without address details.
func CoordinatesOnly(latitude float64, longitude float64) *LocationContext {
	return &LocationContext{Latitude: latitude, Longitude: longitude}
}

// NewLocationContext combines validated coordinates with a reverse geocoding record.
func NewLocationContext(latitude float64, longitude float64, address Address) *LocationContext {
	location := &LocationContext{
		Latitude:         latitude,
		Longitude:        longitude,
		Country:          optional(address.Country),
		City:             optional(address.City),
		District:         strings.TrimSpace(address.District),
		Subregion:        strings.TrimSpace(address.Subregion),
		ISOCountryCode:   optional(strings.ToUpper(address.ISOCountryCode)),
		FormattedAddress: FormatAddress(address.Subregion, address.District, address.City, address.Country),
	}
	return location
}

// CountryCode returns the upper-case ISO code, or "" when unknown.
func (l *LocationContext) CountryCode() string {
	if l == nil || l.ISOCountryCode == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(*l.ISOCountryCode))
}

// HasAddress reports whether reverse geocoding filled in anything.
func (l *LocationContext) HasAddress() bool {
	return l != nil && l.FormattedAddress != ""
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

/*
FormatAddress joins address parts from the most to the least specific:
subregion, district, city, country.

Blank parts are dropped and a part equal (case-insensitively) to one already
used is skipped, so "Tokyo, Tokyo, Japan" becomes "Tokyo, Japan".
*/
func FormatAddress(subregion, district, city, country string) string {
	parts := make([]string, 0, 4)
	seen := make(map[string]bool, 4)
	for _, part := range []string{subregion, district, city, country} {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, ", ")
}

/*
Validate parses a latitude/longitude pair.

Both values may be numbers or numeric strings. The pair is valid only when both
are finite, latitude is within [-90, 90] and longitude within [-180, 180].
Invalid input is logged and reported with ok=false.
*/
func Validate(latitude any, longitude any) (lat float64, lng float64, ok bool) {
	lat, latOK := parseCoordinate(latitude)
	lng, lngOK := parseCoordinate(longitude)
	if !latOK || !lngOK {
		tl.Log(tl.Info, palette.Purple, "Rejecting %s coordinates lat='%v' lng='%v'", "unparseable", latitude, longitude)
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		tl.Log(tl.Info, palette.Purple, "Rejecting %s coordinates lat='%v' lng='%v'", "out of range", lat, lng)
		return 0, 0, false
	}
	return lat, lng, true
}

func parseCoordinate(value any) (float64, bool) {
	var parsed float64
	switch v := value.(type) {
	case float64:
		parsed = v
	case float32:
		parsed = float64(v)
	case int:
		parsed = float64(v)
	case int64:
		parsed = float64(v)
	case int32:
		parsed = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		parsed = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		parsed = f
	case *float64:
		if v == nil {
			return 0, false
		}
		parsed = *v
	case fmt.Stringer:
		return parseCoordinate(v.String())
	default:
		return 0, false
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}
