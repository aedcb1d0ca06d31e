package extract

import "regexp"

var innCandidateRe = regexp.MustCompile(`(?i)инн\D{0,10}(\d{10,12})`)

// ParseINN finds the first checksum-valid Russian tax identifier in the
// text. Returns "" when none validates.
func ParseINN(text string) string {
	for _, m := range innCandidateRe.FindAllStringSubmatch(text, -1) {
		digits := m[1]
		if ValidINN(digits) {
			return digits
		}
	}
	return ""
}

// ValidINN checks the control digits of a 10- or 12-digit INN.
func ValidINN(inn string) bool {
	switch len(inn) {
	case 10:
		return controlDigit(inn, []int{2, 4, 10, 3, 5, 9, 4, 6, 8}) == digit(inn, 9)
	case 12:
		return controlDigit(inn, []int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}) == digit(inn, 10) &&
			controlDigit(inn, []int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}) == digit(inn, 11)
	}
	return false
}

func digit(s string, i int) int {
	return int(s[i] - '0')
}

func controlDigit(inn string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += w * digit(inn, i)
	}
	return sum % 11 % 10
}
