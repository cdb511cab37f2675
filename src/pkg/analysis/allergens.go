package analysis

import (
	"sort"
	"strings"
)

// canonical allergen keys and the words that map to them
var allergenSynonyms = map[string][]string{
	"gluten":      {"gluten", "wheat", "barley", "rye", "oats", "spelt", "trigo", "blé", "weizen", "grano"},
	"crustaceans": {"crustaceans", "crustacean", "shrimp", "prawn", "crab", "lobster", "camarón", "gambas", "crevette"},
	"eggs":        {"eggs", "egg", "huevo", "oeuf", "œuf", "ei", "uovo"},
	"fish":        {"fish", "pescado", "poisson", "fisch", "pesce", "anchovy", "tuna", "salmon"},
	"peanuts":     {"peanuts", "peanut", "cacahuete", "maní", "arachide", "erdnuss", "arachidi"},
	"soybeans":    {"soybeans", "soy", "soya", "soja", "tofu", "edamame"},
	"milk":        {"milk", "dairy", "lactose", "leche", "lait", "milch", "latte", "cheese", "butter", "cream", "queso"},
	"nuts":        {"nuts", "tree nuts", "almond", "hazelnut", "walnut", "cashew", "pistachio", "pecan", "nueces", "noix"},
	"celery":      {"celery", "apio", "céleri", "sellerie", "sedano"},
	"mustard":     {"mustard", "mostaza", "moutarde", "senf", "senape"},
	"sesame":      {"sesame", "sesame seeds", "sésamo", "sésame", "sesam", "tahini"},
	"sulphites":   {"sulphites", "sulfites", "sulphur dioxide", "sulfitos"},
	"lupin":       {"lupin", "lupine", "altramuz"},
	"molluscs":    {"molluscs", "mollusks", "clam", "mussel", "oyster", "squid", "octopus", "calamar"},
}

var synonymIndex = buildSynonymIndex()

func buildSynonymIndex() map[string]string {
	index := map[string]string{}
	for key, words := range allergenSynonyms {
		index[key] = key
		for _, word := range words {
			index[normalize(word)] = key
		}
	}
	return index
}

// normalize lowercases, trims and strips Open Food Facts language prefixes ("en:milk").
func normalize(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if i := strings.Index(value, ":"); i > 0 && i <= 3 {
		value = value[i+1:]
	}
	value = strings.ReplaceAll(value, "-", " ")
	value = strings.ReplaceAll(value, "_", " ")
	return strings.Join(strings.Fields(value), " ")
}

// Canonical returns the canonical allergen key for value, or value normalized.
func Canonical(value string) string {
	n := normalize(value)
	if key, ok := synonymIndex[n]; ok {
		return key
	}
	// "whole milk powder" -> milk
	for _, word := range strings.Fields(n) {
		if key, ok := synonymIndex[word]; ok {
			return key
		}
	}
	return n
}

/*
MatchAllergens returns the profile allergens found among detected, as
canonical keys, sorted and without duplicates.
*/
func MatchAllergens(profile []string, detected []string) []string {
	wanted := map[string]bool{}
	for _, allergen := range profile {
		if c := Canonical(allergen); c != "" {
			wanted[c] = true
		}
	}
	found := map[string]bool{}
	for _, allergen := range detected {
		c := Canonical(allergen)
		if wanted[c] {
			found[c] = true
		}
	}
	matched := make([]string, 0, len(found))
	for key := range found {
		matched = append(matched, key)
	}
	sort.Strings(matched)
	return matched
}

// ScanText finds profile allergens mentioned anywhere in free text (ingredient lists).
func ScanText(profile []string, text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && r < 0x80
	})
	return MatchAllergens(profile, words)
}

func dedupeCanonical(values []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, v := range values {
		c := Canonical(v)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
