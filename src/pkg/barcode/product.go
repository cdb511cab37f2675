/*
Package barcode looks products up by barcode, with a local cache in front of
the remote catalog that only remembers products that were found.
*/
package barcode

import (
	"strings"
	"unicode"
)

type Product struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	Brand           string   `json:"brand,omitempty"`
	Quantity        string   `json:"quantity,omitempty"`
	IngredientsText string   `json:"ingredients_text,omitempty"`
	AllergensTags   []string `json:"allergens_tags,omitempty"` // "en:milk"
	TracesTags      []string `json:"traces_tags,omitempty"`    // "may contain"
	ImageURL        string   `json:"image_url,omitempty"`
	Countries       string   `json:"countries,omitempty"`
}

// LookupResult is the answer of the remote catalog: {found, data}.
type LookupResult struct {
	Code    string   `json:"code"`
	Found   bool     `json:"found"`
	Product *Product `json:"data,omitempty"`
}

/*
Normalize strips spaces and dashes scanners sometimes keep and reports whether
what is left looks like an EAN/UPC/GTIN code (8 to 14 digits).
*/
func Normalize(raw string) (code string, ok bool) {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return "", false
		}
	}
	code = sb.String()
	return code, len(code) >= 8 && len(code) <= 14
}
