package domain

import "slices"

// DefaultLanguage is the intake language used when none is chosen.
const DefaultLanguage = "hi"

// SupportedLanguages are the intake languages the transcription backend accepts.
var SupportedLanguages = []string{"hi", "en", "mr", "bn", "ta"}

// IsSupportedLanguage reports whether tag is an accepted intake language.
func IsSupportedLanguage(tag string) bool {
	return slices.Contains(SupportedLanguages, tag)
}
