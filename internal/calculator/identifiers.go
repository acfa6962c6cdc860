package calculator

import "regexp"

var (
	trnPattern = regexp.MustCompile(`^100\d{12}$`)
	brnPattern = regexp.MustCompile(`^BRN-\d{5}$`)
)

// ValidateTRN checks a UAE Tax Registration Number: 15 digits starting with 100.
func ValidateTRN(trn string) bool {
	return trnPattern.MatchString(trn)
}

// ValidateBRN checks a RERA broker registration number of the form BRN-12345.
func ValidateBRN(brn string) bool {
	return brnPattern.MatchString(brn)
}
