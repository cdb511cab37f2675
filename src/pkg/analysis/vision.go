package analysis

import (
	"context"
	"fmt"
	"strings"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"

	"safe-bite/src/pkg/openai"
)

type ProgressFunc = openai.ProgressFunc

// Request is one image analysis.
type Request struct {
	ImagePath   string  `json:"image_path"`
	Source      Source  `json:"source"`
	CountryCode string  `json:"country_code"`
	Place       string  `json:"place,omitempty"` // formatted address, when known
	Profile     Profile `json:"profile"`
	LabelText   string  `json:"label_text,omitempty"` // OCR hints for label photos
}

/*
RemoteError is a failed analyzer call. Status is the HTTP status of the last
exchange with the analyzer, 0 when no response arrived.
*/
type RemoteError struct {
	Status  int
	Message string
}

func (r *RemoteError) Error() string {
	if r.Status > 0 {
		return fmt.Sprintf("analyzer request failed with status %d: %s", r.Status, r.Message)
	}
	return "analyzer request failed: " + r.Message
}

func (r *RemoteError) StatusCode() int {
	return r.Status
}

// Analyzer calls a vision model through the Responses API.
type Analyzer struct {
	Client          *openai.Client
	Model           string
	Effort          openai.Effort
	MaxOutputTokens int
}

func NewAnalyzer(client *openai.Client, model string, effort openai.Effort, maxOutputTokens int) *Analyzer {
	return &Analyzer{Client: client, Model: model, Effort: effort, MaxOutputTokens: maxOutputTokens}
}

// what the model returns, before local reconciliation
type visionOutput struct {
	DishName          string        `json:"dish_name"`
	DishNameEnglish   string        `json:"dish_name_english"`
	Cuisine           string        `json:"cuisine"`
	Ingredients       []Ingredient  `json:"ingredients"`
	DetectedAllergens []string      `json:"detected_allergens"`
	Verdict           string        `json:"verdict"`
	Explanation       string        `json:"explanation"`
	StaffQuestion     string        `json:"staff_question"`
	Translations      []Translation `json:"translations"`
}

/*
Analyze sends the photo with the user's profile and returns a Result.

Failures come back as *RemoteError so callers can classify them by status.
*/
func (a *Analyzer) Analyze(ctx context.Context, request Request, progress ProgressFunc) (*Result, error) {
	tl.Log(
		tl.Notice, palette.BlueBold, "%s with model %s, reasoning effort is %s, country '%s'",
		"Analyzing food photo", a.Model, a.Effort, request.CountryCode,
	)

	out, meta, e := openai.RespondWithImage[visionOutput](ctx, a.Client, openai.ImagePrompt{
		Model:           a.Model,
		Effort:          a.Effort,
		MaxOutputTokens: a.MaxOutputTokens,
		Instructions:    buildInstructions(request),
		DeveloperText:   developerMessage,
		UserText:        buildUserText(request),
		ImagePath:       request.ImagePath,
		SchemaName:      "food_safety_analysis",
		Schema:          visionSchema(),
		Metadata:        map[string]string{"source": string(request.Source), "country": request.CountryCode},
	}, progress)
	if e != nil {
		return nil, &RemoteError{Status: meta.HTTPStatus, Message: fmt.Sprint(e)}
	}

	result := &Result{
		Source:            request.Source,
		DishName:          out.DishName,
		DishNameEnglish:   out.DishNameEnglish,
		Cuisine:           out.Cuisine,
		Ingredients:       out.Ingredients,
		DetectedAllergens: dedupeCanonical(out.DetectedAllergens),
		Verdict:           ParseVerdict(out.Verdict),
		Explanation:       out.Explanation,
		StaffQuestion:     out.StaffQuestion,
		Translations:      out.Translations,
		CountryCode:       request.CountryCode,
		RunMetadata:       &meta,
	}
	Reconcile(result, request.Profile)

	tl.Log(tl.Notice1, palette.GreenBold, "%s '%s' verdict is '%s'", "Analyzed", result.DishNameEnglish, result.Verdict)
	tl.LogJSON(tl.Verbose, palette.Cyan, "Food safety analysis", result)
	return result, nil
}

/*
Reconcile recomputes MatchedAllergens from the detected allergens and the
ingredients, and never lets a result that hits the profile read as safe.
*/
func Reconcile(result *Result, profile Profile) {
	detected := append([]string{}, result.DetectedAllergens...)
	for _, ingredient := range result.Ingredients {
		detected = append(detected, ingredient.Allergens...)
	}
	result.MatchedAllergens = MatchAllergens(profile.Allergens, detected)
	if len(result.MatchedAllergens) > 0 && (result.Verdict == VerdictSafe || result.Verdict == VerdictUnknown) {
		result.Verdict = VerdictUnsafe
	}
}

const developerMessage = `
Return only a single JSON object matching the provided schema.
Do not include any commentary outside the JSON.
When you cannot tell whether an allergen is present, list it and set the verdict to "caution", never "safe".
`

func buildInstructions(request Request) string {
	language := request.Profile.Language
	if strings.TrimSpace(language) == "" {
		language = "en"
	}
	return fmt.Sprintf(`
You help a traveler with food allergies decide whether a dish or packaged food is safe to eat.

The photo was taken in country '%s'. Use local cuisine knowledge for that country to infer
hidden ingredients (sauces, stocks, frying oils, garnishes) that are typical there.

For the photo:
- name the dish (dish_name in the local language, dish_name_english in English);
- list likely ingredients with the allergens each one carries and how certain you are
  (visible, likely, possible);
- list every allergen you detected in detected_allergens using English names
  (gluten, crustaceans, eggs, fish, peanuts, soybeans, milk, nuts, celery, mustard, sesame,
  sulphites, lupin, molluscs);
- decide the verdict for THIS traveler: "unsafe" if any of their allergens is likely present,
  "caution" if one is possible, "safe" otherwise, "unknown" if the photo is not food;
- explain the verdict in language '%s';
- write staff_question: one short question the traveler can show restaurant staff, in the
  local language of the country;
- add translations of dish_name and explanation into language '%s' when it is not English.
`, request.CountryCode, language, language)
}

func buildUserText(request Request) string {
	var sb strings.Builder
	sb.WriteString("Traveler allergies: ")
	if len(request.Profile.Allergens) == 0 {
		sb.WriteString("(none declared)")
	} else {
		sb.WriteString(strings.Join(request.Profile.Allergens, ", "))
	}
	sb.WriteString("\n")
	if request.Profile.Diet != "" {
		fmt.Fprintf(&sb, "Diet: %s\n", request.Profile.Diet)
	}
	if request.Place != "" {
		fmt.Fprintf(&sb, "Place: %s\n", request.Place)
	}
	if request.Source == SourceLabel {
		sb.WriteString("The photo shows a product label; read its ingredient list.\n")
		if strings.TrimSpace(request.LabelText) != "" {
			sb.WriteString("\n=== OCR TEXT START ===\n")
			sb.WriteString(request.LabelText)
			sb.WriteString("\n=== OCR TEXT END ===\n")
			sb.WriteString("Use the image as the source of truth; the OCR text is only a hint.\n")
		}
	}
	return sb.String()
}

func visionSchema() map[string]any {
	return openai.StrictObj(map[string]any{
		"dish_name":         openai.Field("string", "Name of the dish or product in the local language."),
		"dish_name_english": openai.Field("string", "English name of the dish or product."),
		"cuisine":           openai.Field("string", "Cuisine or product category, empty if unknown."),
		"ingredients": openai.StrictArray("Likely ingredients.", map[string]any{
			"name":         openai.Field("string", "Ingredient name in the local language."),
			"name_english": openai.Field("string", "Ingredient name in English."),
			"allergens":    openai.StringList("Allergens this ingredient carries (English names)."),
			"certainty":    openai.Enum("How certain the ingredient is present.", "visible", "likely", "possible"),
		}),
		"detected_allergens": openai.StringList("All allergens detected, English names."),
		"verdict":            openai.Enum("Safety verdict for this traveler.", "safe", "caution", "unsafe", "unknown"),
		"explanation":        openai.Field("string", "Short explanation of the verdict in the traveler's language."),
		"staff_question":     openai.Field("string", "Question for restaurant staff in the local language."),
		"translations": openai.StrictArray("Translations of result fields.", map[string]any{
			"field":    openai.Field("string", "Result field name, e.g. dish_name."),
			"language": openai.Field("string", "BCP 47 language tag."),
			"text":     openai.Field("string", "Translated text."),
		}),
	})
}
