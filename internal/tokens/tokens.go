// Package tokens provides token estimation and text chunking for the
// compression pipeline. The estimate is a character heuristic (~4 characters
// per token), not an exact tokenizer: the compression loop's termination
// guarantee depends on chunk boundaries being derived from the same
// character arithmetic, so swapping in a real tokenizer requires re-proving
// the single-chunk early exit.
package tokens

// CharsPerToken is the assumed average character width of one token.
const CharsPerToken = 4

// Estimate approximates the token count of text. It returns 0 for empty
// text and at least 1 for any non-empty text. The estimate is monotonic
// non-decreasing in text length.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / CharsPerToken
	if n < 1 {
		return 1
	}
	return n
}

// Chunk splits text into consecutive chunks of at most maxTokens*CharsPerToken
// characters. Concatenating the chunks reproduces text exactly. Empty text
// yields no chunks. maxTokens values below 1 are treated as 1.
func Chunk(text string, maxTokens int) []string {
	if len(text) == 0 {
		return nil
	}
	if maxTokens < 1 {
		maxTokens = 1
	}
	size := maxTokens * CharsPerToken
	chunks := make([]string, 0, (len(text)+size-1)/size)
	for start := 0; start < len(text); start += size {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}
