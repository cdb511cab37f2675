package ocr

import (
	"regexp"
	"strings"
)

// headings that start an ingredient list or an allergen statement, in the languages we OCR
var sectionHeading = regexp.MustCompile(`(?im)^.*?\b(ingredients?|ingredientes|ingrédients|zutaten|ingredienti|contains|contiene|contient|enthält|may contain|puede contener|peut contenir|kann spuren|allergens?|alérgenos|allergènes)\b\s*[:.]?`)

// lines that end the ingredient block
var sectionEnd = regexp.MustCompile(`(?i)\b(nutrition|información nutricional|valeurs nutritionnelles|nährwert|valori nutrizionali|best before|consumir preferentemente|à consommer|mindestens haltbar|net wt|peso neto|poids net)\b`)

var spaces = regexp.MustCompile(`[ \t]{2,}`)

/*
ExtractIngredientSection returns the ingredient and allergen statements found
in raw OCR text, with whitespace collapsed. When no heading is found the whole
text is returned cleaned, since it is still a useful hint.
*/
func ExtractIngredientSection(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var kept []string
	inSection := false
	for _, line := range lines {
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		if sectionHeading.MatchString(line) {
			inSection = true
		} else if inSection && sectionEnd.MatchString(line) {
			inSection = false
		}
		if inSection {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return CleanText(raw)
	}
	return strings.Join(kept, "\n")
}

// CleanText drops empty lines and lines that are mostly OCR noise.
func CleanText(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		if len([]rune(line)) < 3 || letterShare(line) < 0.5 {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func letterShare(line string) float64 {
	var letters, total int
	for _, r := range line {
		if r == ' ' {
			continue
		}
		total++
		if isLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 0x7f
}
