package extract

import "strings"

// splitSentences splits text into sentences (simple heuristic)
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		sentence := strings.TrimSpace(current.String())
		sentence = strings.TrimLeft(sentence, "-*> ")
		if len(sentence) >= 3 {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	for i, r := range text {
		// Lines are sentence boundaries in markdown (list items, table rows)
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			// Look ahead to avoid splitting on decimals and abbreviations like "v1.2"
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\t') {
				flush()
			}
		}
	}
	flush()

	return sentences
}
