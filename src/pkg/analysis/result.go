/*
Package analysis shapes food-safety requests for the remote analyzer and the
results it returns. It also produces results locally for barcode products.
*/
package analysis

import (
	"safe-bite/src/pkg/openai"
)

type Verdict string

const (
	VerdictSafe    Verdict = "safe"
	VerdictCaution Verdict = "caution"
	VerdictUnsafe  Verdict = "unsafe"
	VerdictUnknown Verdict = "unknown"
)

// ParseVerdict maps free text to a Verdict; anything unrecognised is unknown.
func ParseVerdict(value string) Verdict {
	switch Verdict(normalize(value)) {
	case VerdictSafe:
		return VerdictSafe
	case VerdictCaution:
		return VerdictCaution
	case VerdictUnsafe:
		return VerdictUnsafe
	default:
		return VerdictUnknown
	}
}

type Source string

const (
	SourceCamera  Source = "camera"
	SourceGallery Source = "gallery"
	SourceLabel   Source = "label"
	SourceBarcode Source = "barcode"
)

type Ingredient struct {
	Name        string   `json:"name"`
	NameEnglish string   `json:"name_english"`
	Allergens   []string `json:"allergens"`
	Certainty   string   `json:"certainty"` // visible, likely, possible
}

// Translation is one field of the result rendered in another language.
type Translation struct {
	Field    string `json:"field"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

/*
Result is what the result view renders. The submission pipeline stores and
forwards it without looking inside, except for the verdict used by alerts.
*/
type Result struct {
	Source            Source        `json:"source"`
	DishName          string        `json:"dish_name"`
	DishNameEnglish   string        `json:"dish_name_english"`
	Cuisine           string        `json:"cuisine,omitempty"`
	Ingredients       []Ingredient  `json:"ingredients"`
	DetectedAllergens []string      `json:"detected_allergens"`
	MatchedAllergens  []string      `json:"matched_allergens"`
	Verdict           Verdict       `json:"verdict"`
	Explanation       string        `json:"explanation"`
	StaffQuestion     string        `json:"staff_question,omitempty"` // in the local language
	Translations      []Translation `json:"translations,omitempty"`
	Barcode           string        `json:"barcode,omitempty"`
	CountryCode       string        `json:"country_code,omitempty"`

	RunMetadata *openai.RunMetadata `json:"run_metadata,omitempty"`
}

// Unsafe reports whether the result warrants an allergen alert.
func (r *Result) Unsafe() bool {
	return r != nil && r.Verdict == VerdictUnsafe
}

/*
Profile is the user's dietary profile. It is owned by an external profile store
and passed in with every submission.
*/
type Profile struct {
	Allergens []string `json:"allergens"`
	Diet      string   `json:"diet,omitempty"` // e.g. vegetarian, vegan, halal
	Language  string   `json:"language,omitempty"`
}
