// Package route compiles path patterns and exposes per-request context.
//
// Pattern syntax:
//
//	:name   named capture of one path segment
//	*       unnamed capture of one path segment
//	**      unnamed capture of one or more segments
//
// Everything else matches literally.
package route

import (
	"regexp"
	"strings"

	"github.com/wippyai/fetch-bridge/errors"
)

// Pattern is a compiled route pattern.
type Pattern struct {
	re     *regexp.Regexp
	source string
}

// Match holds the captures of a successful match.
type Match struct {
	Params    map[string]string
	Wildcards []string
}

// Compile converts pattern to an anchored matcher.
func Compile(pattern string) (*Pattern, error) {
	var sb strings.Builder
	sb.WriteByte('^')

	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString("(.+)")
			i += 2
		case pattern[i] == '*':
			sb.WriteString("([^/]+)")
			i++
		case pattern[i] == ':':
			j := i + 1
			for j < len(pattern) && isNameByte(pattern[j]) {
				j++
			}
			if j == i+1 {
				return nil, errors.New(errors.PhaseRoute, errors.KindInvalidInput).
					Value(pattern).
					Detail("empty parameter name at offset %d", i).
					Build()
			}
			sb.WriteString("(?P<")
			sb.WriteString(pattern[i+1 : j])
			sb.WriteString(">[^/]+)")
			i = j
		default:
			j := i
			for j < len(pattern) && pattern[j] != '*' && pattern[j] != ':' {
				j++
			}
			sb.WriteString(regexp.QuoteMeta(pattern[i:j]))
			i = j
		}
	}
	sb.WriteByte('$')

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, errors.New(errors.PhaseRoute, errors.KindInvalidInput).
			Value(pattern).
			Cause(err).
			Detail("compile route pattern").
			Build()
	}
	return &Pattern{re: re, source: pattern}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func isNameByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// String returns the source pattern.
func (p *Pattern) String() string { return p.source }

// Match matches path against the pattern.
func (p *Pattern) Match(path string) (Match, bool) {
	groups := p.re.FindStringSubmatch(path)
	if groups == nil {
		return Match{}, false
	}
	m := Match{Params: make(map[string]string)}
	for i, name := range p.re.SubexpNames() {
		if i == 0 {
			continue
		}
		if name == "" {
			m.Wildcards = append(m.Wildcards, groups[i])
		} else {
			m.Params[name] = groups[i]
		}
	}
	return m, true
}
