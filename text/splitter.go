package text

import "regexp"

// Token is a word of the input with its byte offsets, end exclusive.
type Token struct {
	Text  string
	Start int
	End   int
}

// Splitter segments raw text into words.
type Splitter interface {
	Split(input string, limit int) []Token
}

// DefaultWordPattern matches words (including hyphen and underscore
// compounds) and single punctuation characters. Word characters are Unicode
// letters and digits; RE2's \w is ASCII only.
const DefaultWordPattern = `[\p{L}\p{N}_]+(?:[-_][\p{L}\p{N}_]+)*|\S`

// RegexSplitter emits one token per regular expression match.
type RegexSplitter struct {
	re *regexp.Regexp
}

func NewRegexSplitter(pattern string) (*RegexSplitter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexSplitter{re: re}, nil
}

func DefaultSplitter() *RegexSplitter {
	return &RegexSplitter{re: regexp.MustCompile(DefaultWordPattern)}
}

// Split returns at most limit tokens; limit <= 0 means no limit.
func (s *RegexSplitter) Split(input string, limit int) []Token {
	n := -1
	if limit > 0 {
		n = limit
	}
	matches := s.re.FindAllStringIndex(input, n)
	tokens := make([]Token, len(matches))
	for i, m := range matches {
		tokens[i] = Token{Text: input[m[0]:m[1]], Start: m[0], End: m[1]}
	}
	return tokens
}
