// Package tokenizer turns decree text and user queries into index terms.
// Input is lower-cased, every rune that is not a letter, digit or whitespace
// is deleted, the rest is split on whitespace and Spanish stopwords are
// dropped. Diacritics are kept: "alcaldía" and "alcaldia" are distinct terms.
package tokenizer

import (
	"strings"
	"unicode"
)

// Token is one surviving term and its position among surviving terms.
type Token struct {
	Term     string
	Position int
}

// Analysis is the result of tokenizing one text, with stopword statistics.
type Analysis struct {
	Tokens  []Token
	Removed int
}

// Kept is the number of surviving tokens, the TF denominator.
func (a Analysis) Kept() int {
	return len(a.Tokens)
}

// Counts returns occurrences per term.
func (a Analysis) Counts() map[string]int {
	counts := make(map[string]int, len(a.Tokens))
	for _, t := range a.Tokens {
		counts[t.Term]++
	}
	return counts
}

// Tokenize is Analyze without the statistics.
func Tokenize(text string) []Token {
	return Analyze(text).Tokens
}

// Terms returns the distinct terms of text in first-seen order.
func Terms(text string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, t := range Tokenize(text) {
		if _, dup := seen[t.Term]; dup {
			continue
		}
		seen[t.Term] = struct{}{}
		terms = append(terms, t.Term)
	}
	return terms
}

// Analyze lower-cases text, deletes every rune that is not a letter, digit or
// whitespace, splits on whitespace and drops stopwords. Diacritics are kept.
// Ingestion and queries both go through it, so index keys and query terms
// always agree. Removed counts the dropped stopwords.
func Analyze(text string) Analysis {
	words := strings.Fields(normalize(text))
	a := Analysis{Tokens: make([]Token, 0, len(words))}
	for _, word := range words {
		if IsStopword(word) {
			a.Removed++
			continue
		}
		a.Tokens = append(a.Tokens, Token{Term: word, Position: len(a.Tokens)})
	}
	return a
}

// normalize lower-cases text and deletes punctuation and symbols. Deleted
// runes join their neighbours ("n°123" becomes "n123").
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return b.String()
}
