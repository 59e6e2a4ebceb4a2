package pipeline

import "regexp"

// plateFormatRE is the domain's plate-validity regex:
// an optional two-character Hangul region prefix, 2-3 digits, one Hangul
// character, then 4 digits.
var plateFormatRE = regexp.MustCompile(`^(?:[가-힣]{2})?\d{2,3}[가-힣]\d{4}$`)

// ValidPlateFormat reports whether text matches the domain's plate format.
func ValidPlateFormat(text string) bool {
	return plateFormatRE.MatchString(text)
}
