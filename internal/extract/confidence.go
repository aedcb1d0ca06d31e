package extract

import "unicode"

// scoreConfidence estimates OCR quality from the recognized text itself:
// the share of plausible characters, damped for very short output. Capped
// below 1.0 since raster OCR is never certain.
func scoreConfidence(text string) float64 {
	if text == "" {
		return 0
	}

	var total, plausible int
	for _, r := range text {
		total++
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			plausible++
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			plausible++
		}
	}
	ratio := float64(plausible) / float64(total)

	// Short fragments are weak evidence either way.
	length := float64(total)
	damping := length / (length + 50)

	conf := ratio * damping * 0.95
	if conf < 0 {
		return 0
	}
	if conf > 0.95 {
		return 0.95
	}
	return conf
}
