package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

const nominatimTimeout = 10 * time.Second

/*
NominatimGeocoder reverse-geocodes through an OpenStreetMap Nominatim server
(GET /reverse?format=jsonv2).
*/
type NominatimGeocoder struct {
	BaseURL    string
	UserAgent  string
	Language   string // Accept-Language, e.g. "en"
	HTTPClient *http.Client
}

type nominatimResponse struct {
	Error   string `json:"error,omitempty"`
	Address struct {
		Country       string `json:"country"`
		CountryCode   string `json:"country_code"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		Municipality  string `json:"municipality"`
		CityDistrict  string `json:"city_district"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		Quarter       string `json:"quarter"`
		County        string `json:"county"`
		StateDistrict string `json:"state_district"`
		State         string `json:"state"`
	} `json:"address"`
}

// NewNominatimGeocoder returns a geocoder with a bounded HTTP client.
func NewNominatimGeocoder(baseURL string, userAgent string, language string) *NominatimGeocoder {
	return &NominatimGeocoder{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		UserAgent:  userAgent,
		Language:   language,
		HTTPClient: &http.Client{Timeout: nominatimTimeout},
	}
}

/*
ReverseGeocode returns the address at the given coordinates, or nil when the
server knows no address there (for example open sea).
*/
func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, latitude float64, longitude float64) (address *Address, e *xerr.Error) {
	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(latitude, 'f', 6, 64))
	query.Set("lon", strconv.FormatFloat(longitude, 'f', 6, 64))
	query.Set("addressdetails", "1")
	requestURL := fmt.Sprintf("%s/reverse?%s", g.BaseURL, query.Encode())

	tl.Log(tl.Debug, palette.Blue, "%s %s to '%s'", "Sending", "reverse geocoding request", requestURL)

	req, newReqErr := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if newReqErr != nil {
		return nil, xerr.NewError(newReqErr, "create reverse geocoding request", requestURL)
	}
	if g.UserAgent != "" {
		req.Header.Set("User-Agent", g.UserAgent)
	}
	if g.Language != "" {
		req.Header.Set("Accept-Language", g.Language)
	}

	client := g.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: nominatimTimeout}
	}
	resp, httpErr := client.Do(req)
	if httpErr != nil {
		return nil, xerr.NewError(httpErr, "HTTP error during reverse geocoding", requestURL)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, xerr.NewError(readErr, "read reverse geocoding response", requestURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerr.NewError(fmt.Errorf("status is '%s'", resp.Status), "reverse geocoding error", string(body))
	}

	var parsed nominatimResponse
	decodeErr := json.Unmarshal(body, &parsed)
	if decodeErr != nil {
		return nil, xerr.NewError(decodeErr, "decode reverse geocoding response", string(body))
	}
	if parsed.Error != "" {
		return nil, nil
	}

	a := parsed.Address
	address = &Address{
		Country:        a.Country,
		City:           firstNonEmpty(a.City, a.Town, a.Village, a.Municipality),
		District:       firstNonEmpty(a.CityDistrict, a.Suburb, a.Quarter, a.Neighbourhood),
		Subregion:      firstNonEmpty(a.County, a.StateDistrict, a.State),
		ISOCountryCode: strings.ToUpper(a.CountryCode),
	}
	if *address == (Address{}) {
		return nil, nil
	}
	return address, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
