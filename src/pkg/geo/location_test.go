package geo

import (
	"encoding/json"
	"math"
	"testing"
)

func TestValidateBoundaries(t *testing.T) {
	cases := []struct {
		name string
		lat  any
		lng  any
		ok   bool
	}{
		{"max corner", 90, 180, true},
		{"min corner", -90.0, -180.0, true},
		{"latitude over", 90.0001, 0, false},
		{"longitude under", 0, -180.0001, false},
		{"non numeric", "abc", 0, false},
		{"numeric strings", " 35.6762 ", "139.6503", true},
		{"json number", json.Number("48.85"), json.Number("2.35"), true},
		{"nan", math.NaN(), 0, false},
		{"infinite", 0, math.Inf(1), false},
		{"nil", nil, 0, false},
		{"empty string", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, ok := Validate(tc.lat, tc.lng)
			if ok != tc.ok {
				t.Fatalf("Validate(%v, %v) ok = %v, want %v", tc.lat, tc.lng, ok, tc.ok)
			}
		})
	}
}

func TestValidateReturnsParsedValues(t *testing.T) {
	lat, lng, ok := Validate("-33.8688", 151.2093)
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if lat != -33.8688 || lng != 151.2093 {
		t.Fatalf("got (%v, %v), want (-33.8688, 151.2093)", lat, lng)
	}
}

func TestFormatAddress(t *testing.T) {
	cases := []struct {
		subregion, district, city, country string
		want                               string
	}{
		{"Chiyoda", "Marunouchi", "Tokyo", "Japan", "Chiyoda, Marunouchi, Tokyo, Japan"},
		{"Tokyo", "", "tokyo", "Japan", "Tokyo, Japan"},
		{"  ", "Trastevere", "Rome", "", "Trastevere, Rome"},
		{"", "", "", "", ""},
		{"Singapore", "Singapore", "Singapore", "Singapore", "Singapore"},
	}
	for _, tc := range cases {
		got := FormatAddress(tc.subregion, tc.district, tc.city, tc.country)
		if got != tc.want {
			t.Errorf("FormatAddress(%q, %q, %q, %q) = %q, want %q", tc.subregion, tc.district, tc.city, tc.country, got, tc.want)
		}
	}
}

func TestNewLocationContext(t *testing.T) {
	location := NewLocationContext(41.9, 12.5, Address{Country: "Italy", City: "Rome", ISOCountryCode: "it"})
	if location.CountryCode() != "IT" {
		t.Errorf("CountryCode() = %q, want IT", location.CountryCode())
	}
	if location.Country == nil || *location.Country != "Italy" {
		t.Errorf("Country = %v, want Italy", location.Country)
	}
	if location.District != "" || location.Subregion != "" {
		t.Errorf("District/Subregion should be empty, got %q/%q", location.District, location.Subregion)
	}
	if location.FormattedAddress != "Rome, Italy" {
		t.Errorf("FormattedAddress = %q, want %q", location.FormattedAddress, "Rome, Italy")
	}
}

func TestCoordinatesOnly(t *testing.T) {
	location := CoordinatesOnly(1, 2)
	if location.Latitude != 1 || location.Longitude != 2 {
		t.Fatalf("coordinates not kept: %+v", location)
	}
	if location.HasAddress() || location.CountryCode() != "" || location.Country != nil {
		t.Fatalf("address fields should be empty: %+v", location)
	}
}
