package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && strings.Contains(trimmed, "|")
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

// sentenceSplitter accumulates lines into sentences. Markdown tables with a
// delimiter row are kept together as one sentence.
type sentenceSplitter struct {
	out     []string
	current strings.Builder
	inTable bool
}

func (s *sentenceSplitter) flush() {
	if text := strings.TrimSpace(s.current.String()); text != "" {
		s.out = append(s.out, text)
	}
	s.current.Reset()
}

func (s *sentenceSplitter) addProse(line string) {
	for _, part := range splitLineIntoSentences(line) {
		if s.current.Len() > 0 {
			s.current.WriteString(" ")
		}
		s.current.WriteString(part)
		if endsSentence(part) {
			s.flush()
		}
	}
}

func (s *sentenceSplitter) addLine(line, next string, hasNext bool) {
	trimmed := strings.TrimSpace(line)

	if s.inTable {
		if trimmed != "" && isTableRow(line) {
			s.current.WriteString("\n")
			s.current.WriteString(line)
			return
		}
		s.inTable = false
		s.flush()
		if trimmed != "" {
			s.addProse(trimmed)
		}
		return
	}

	if isTableRow(line) {
		s.flush()
		if hasNext && tableDelimRe.MatchString(strings.TrimSpace(next)) {
			s.inTable = true
			s.current.WriteString(line)
			return
		}
		s.out = append(s.out, trimmed)
		return
	}

	if trimmed == "" {
		s.flush()
		return
	}
	s.addProse(trimmed)
}

// splitIntoSentences breaks text into sentences. Line breaks inside a
// paragraph are joined with spaces; blank lines end the running sentence.
func splitIntoSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var s sentenceSplitter
	for i, line := range lines {
		next, hasNext := "", i+1 < len(lines)
		if hasNext {
			next = lines[i+1]
		}
		s.addLine(line, next, hasNext)
	}
	s.flush()
	return s.out
}

func isClosing(b byte) bool {
	switch b {
	case '"', '\'', ')', ']', '}':
		return true
	}
	return false
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// splitLineIntoSentences splits a single line on terminal punctuation.
// "1. " style list markers do not end a sentence.
func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])
		if !isTerminal(line[i]) {
			continue
		}
		if i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) && line[i+1] == ' ' {
			continue
		}

		j := i + 1
		for j < len(line) && isTerminal(line[j]) {
			current.WriteByte(line[j])
			j++
		}
		for j < len(line) && isClosing(line[j]) {
			current.WriteByte(line[j])
			j++
		}

		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
		i = j - 1
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}
	return sentences
}
