package util

import (
	"os"
	"strings"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
)

var RequiredFlags = map[*string]string{}

// groups of flags where at least one must be set, e.g. --image or --barcode
var oneOfFlags = [][]requiredFlag{}

type requiredFlag struct {
	pointer *string
	cliName string
}

// RequiredFlag(imagePtr, "--image"), can also use -image and image
func RequiredFlag(flagPointer *string, cliName string) {
	name := normalizeFlagName(cliName)
	RequiredFlags[flagPointer] = name
}

// RequireOneOf registers a group of flags where at least one has to be non-empty.
// Pass pointer/name pairs: RequireOneOf(imagePtr, "image", barcodePtr, "barcode").
func RequireOneOf(pairs ...any) {
	group := make([]requiredFlag, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		pointer, okPointer := pairs[i].(*string)
		name, okName := pairs[i+1].(string)
		if !okPointer || !okName {
			continue
		}
		group = append(group, requiredFlag{pointer: pointer, cliName: normalizeFlagName(name)})
	}
	if len(group) > 0 {
		oneOfFlags = append(oneOfFlags, group)
	}
}

func normalizeFlagName(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "--") {
		return s
	}
	if strings.HasPrefix(s, "-") {
		// single dash → double dash
		return "-" + s
	}
	return "--" + s
}

func isBlank(flagPointer *string) bool {
	return flagPointer == nil || strings.TrimSpace(*flagPointer) == ""
}

// Ensure logs every missing required flag and exits(1) if any were missing.
func EnsureFlags() {
	missing := false
	for flagPointer, cliName := range RequiredFlags {
		if isBlank(flagPointer) {
			tl.Log(tl.Warning, palette.YellowBold, "%s parameter is %s", cliName, "required")
			missing = true
		}
	}
	for _, group := range oneOfFlags {
		names := make([]string, 0, len(group))
		anySet := false
		for _, f := range group {
			names = append(names, f.cliName)
			if !isBlank(f.pointer) {
				anySet = true
			}
		}
		if !anySet {
			tl.Log(tl.Warning, palette.YellowBold, "one of %s parameters is %s", strings.Join(names, ", "), "required")
			missing = true
		}
	}
	if missing {
		os.Exit(1)
	}
}
