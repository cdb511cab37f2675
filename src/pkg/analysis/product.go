package analysis

import (
	"fmt"
	"strings"

	"safe-bite/src/pkg/barcode"
)

/*
FromProduct builds a Result for a catalog product without calling the remote
analyzer. Declared allergens make the verdict unsafe, traces make it caution.
A product with neither allergen tags nor an ingredient list is unknown.
*/
func FromProduct(product barcode.Product, profile Profile) Result {
	declared := append([]string{}, product.AllergensTags...)
	declared = append(declared, ScanText(profile.Allergens, product.IngredientsText)...)

	result := Result{
		Source:            SourceBarcode,
		DishName:          product.Name,
		DishNameEnglish:   product.Name,
		Cuisine:           product.Brand,
		DetectedAllergens: dedupeCanonical(append(append([]string{}, product.AllergensTags...), product.TracesTags...)),
		Barcode:           product.Code,
	}
	for _, line := range splitIngredients(product.IngredientsText) {
		result.Ingredients = append(result.Ingredients, Ingredient{
			Name:      line,
			Allergens: MatchAllergens(allAllergenKeys(), []string{line}),
			Certainty: "visible",
		})
	}

	matched := MatchAllergens(profile.Allergens, declared)
	traces := MatchAllergens(profile.Allergens, product.TracesTags)
	result.MatchedAllergens = MatchAllergens(profile.Allergens, append(declared, product.TracesTags...))

	switch {
	case len(matched) > 0:
		result.Verdict = VerdictUnsafe
		result.Explanation = fmt.Sprintf("Contains %s.", strings.Join(matched, ", "))
	case len(traces) > 0:
		result.Verdict = VerdictCaution
		result.Explanation = fmt.Sprintf("May contain traces of %s.", strings.Join(traces, ", "))
	case len(product.AllergensTags) == 0 && strings.TrimSpace(product.IngredientsText) == "":
		result.Verdict = VerdictUnknown
		result.Explanation = "The catalog has no ingredient or allergen data for this product."
	default:
		result.Verdict = VerdictSafe
		result.Explanation = "None of your allergens are listed for this product."
	}
	return result
}

func splitIngredients(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), ".()[]")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func allAllergenKeys() []string {
	keys := make([]string, 0, len(allergenSynonyms))
	for key := range allergenSynonyms {
		keys = append(keys, key)
	}
	return keys
}
