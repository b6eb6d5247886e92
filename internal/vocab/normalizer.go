// Package vocab normalizes recognized transcripts against a field vocabulary
// before they land in the intake draft: local symptom names, drug brand
// spellings and recognizer slips ("bukhar" => "fever").
package vocab

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultIterationLimit = 30

type substitution interface {
	Apply(input string) (output string, changed bool)
}

// LineParser turns one line of a vocabulary file into a substitution.
type LineParser interface {
	CanParse(line string) bool
	Parse(line string) (substitution, error)
}

// Normalizer applies deterministic substitutions until the text is stable or
// the iteration limit is reached.
type Normalizer struct {
	subs  []substitution
	limit int
}

// Load reads a vocabulary file. .yaml and .yml files hold a terms map and an
// optional patterns list; anything else is one rule per line. An empty path
// or a missing file yields the identity normalizer.
func Load(path string, limit int) (*Normalizer, error) {
	return LoadWithParsers(path, limit, defaultLineParsers())
}

// LoadWithParsers is Load with a custom set of line parsers.
func LoadWithParsers(path string, limit int, parsers []LineParser) (*Normalizer, error) {
	if limit <= 0 {
		limit = DefaultIterationLimit
	}
	if len(parsers) == 0 {
		parsers = defaultLineParsers()
	}
	if strings.TrimSpace(path) == "" {
		return &Normalizer{limit: limit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Normalizer{limit: limit}, nil
		}
		return nil, fmt.Errorf("read vocabulary %q: %w", path, err)
	}

	var subs []substitution
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		subs, err = parseYAML(contents)
	default:
		subs, err = parseLines(string(contents), parsers)
	}
	if err != nil {
		return nil, fmt.Errorf("parse vocabulary %q: %w", path, err)
	}
	return &Normalizer{subs: subs, limit: limit}, nil
}

// Rules reports how many substitutions are loaded.
func (n *Normalizer) Rules() int {
	return len(n.subs)
}

// Apply implements ports.Normalizer.
func (n *Normalizer) Apply(text string) (string, error) {
	if n == nil || len(n.subs) == 0 {
		return text, nil
	}

	result := text
	for pass := 0; pass < n.limit; pass++ {
		changed := false
		for _, sub := range n.subs {
			if next, ok := sub.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

type yamlVocabulary struct {
	Terms    map[string]string `yaml:"terms"`
	Patterns []string          `yaml:"patterns"`
}

func parseYAML(contents []byte) ([]substitution, error) {
	var doc yamlVocabulary
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	// An empty file decodes as io.EOF and means an empty vocabulary.
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	// Longest terms first so "high fever" wins over "fever".
	keys := make([]string, 0, len(doc.Terms))
	for k := range doc.Terms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	subs := make([]substitution, 0, len(keys)+len(doc.Patterns))
	for _, from := range keys {
		sub, err := newTermSubstitution(from, doc.Terms[from])
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", from, err)
		}
		subs = append(subs, sub)
	}
	for i, raw := range doc.Patterns {
		sub, err := parsePattern(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i+1, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func parseLines(contents string, parsers []LineParser) ([]substitution, error) {
	lines := strings.Split(contents, "\n")
	subs := make([]substitution, 0, len(lines))

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var parser LineParser
		for _, candidate := range parsers {
			if candidate.CanParse(line) {
				parser = candidate
				break
			}
		}
		if parser == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", i+1)
		}
		sub, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func defaultLineParsers() []LineParser {
	return []LineParser{patternParser{}, arrowParser{}}
}

type arrowParser struct{}

func (arrowParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (arrowParser) Parse(line string) (substitution, error) {
	from, to, _ := strings.Cut(line, "=>")
	return newTermSubstitution(strings.TrimSpace(from), strings.TrimSpace(to))
}

type patternParser struct{}

func (patternParser) CanParse(line string) bool {
	return isPattern(line)
}

func (patternParser) Parse(line string) (substitution, error) {
	return parsePattern(line)
}

// termSubstitution replaces a literal term, case-insensitively.
type termSubstitution struct {
	re *regexp.Regexp
	to string
}

func newTermSubstitution(from, to string) (substitution, error) {
	if from == "" {
		return nil, errors.New("term cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, err
	}
	return termSubstitution{re: re, to: regexpLiteral(to)}, nil
}

func (s termSubstitution) Apply(input string) (string, bool) {
	out := s.re.ReplaceAllString(input, s.to)
	return out, out != input
}

// regexpLiteral escapes $ so replacements are taken verbatim.
func regexpLiteral(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// patternSubstitution is a sed-style s/re/repl/flags rule. Matching is
// case-insensitive; without g only the first match is replaced.
type patternSubstitution struct {
	re     *regexp.Regexp
	repl   string
	global bool
}

func parsePattern(line string) (substitution, error) {
	if !isPattern(line) {
		return nil, errors.New("pattern must look like s/expr/replacement/flags")
	}
	delim := line[1]

	expr, next, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("expression: %w", err)
	}
	repl, next, err := readDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("replacement: %w", err)
	}

	global := false
	inline := "i"
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(inline, flag) {
				inline += string(flag)
			}
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + expr)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return patternSubstitution{re: re, repl: repl, global: global}, nil
}

func (s patternSubstitution) Apply(input string) (string, bool) {
	if s.global {
		out := s.re.ReplaceAllString(input, s.repl)
		return out, out != input
	}

	loc := s.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := s.re.ExpandString(nil, s.repl, input, loc)
	out := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return out, out != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of rule")
	}

	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated")
}

func isWordish(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == ' ' || c == '\t'
}

func isPattern(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordish(line[1])
}
