// Package filter decides which raw messages enter the pipeline. Patterns are
// matched against the undecoded header and body bytes, before any MIME
// parsing, so a filtered message costs almost nothing.
package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Options captures the filtering configuration. Include patterns form an
// allow-list, exclude patterns a block-list; the two modes are mutually
// exclusive.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

type scope int

const (
	scopeHeader scope = iota
	scopeBody
)

type rule struct {
	scope scope
	re    *regexp.Regexp
}

func (r rule) matches(header, body []byte) bool {
	if r.scope == scopeHeader {
		return r.re.Match(header)
	}
	return r.re.Match(body)
}

type mode int

const (
	modeNone mode = iota
	modeInclude
	modeExclude
)

// Filter holds the compiled rule set.
type Filter struct {
	mode  mode
	rules []rule
}

// New compiles the configured patterns into a Filter.
func New(opts Options) (*Filter, error) {
	include, err := compileRules(opts.IncludeHeader, opts.IncludeBody)
	if err != nil {
		return nil, err
	}
	exclude, err := compileRules(opts.ExcludeHeader, opts.ExcludeBody)
	if err != nil {
		return nil, err
	}

	switch {
	case len(include) > 0 && len(exclude) > 0:
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	case len(include) > 0:
		return &Filter{mode: modeInclude, rules: include}, nil
	case len(exclude) > 0:
		return &Filter{mode: modeExclude, rules: exclude}, nil
	default:
		return &Filter{mode: modeNone}, nil
	}
}

// Allows reports whether a raw message passes the rule set. With no rules
// configured everything passes.
func (f *Filter) Allows(raw []byte) bool {
	if f.mode == modeNone {
		return true
	}

	header, body := splitRaw(raw)
	for _, r := range f.rules {
		if r.matches(header, body) {
			return f.mode == modeInclude
		}
	}
	return f.mode == modeExclude
}

func compileRules(headerPatterns, bodyPatterns []string) ([]rule, error) {
	var rules []rule
	for _, spec := range []struct {
		scope    scope
		patterns []string
	}{
		{scopeHeader, headerPatterns},
		{scopeBody, bodyPatterns},
	} {
		for _, pattern := range spec.patterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("compile %q: %w", pattern, err)
			}
			rules = append(rules, rule{scope: spec.scope, re: re})
		}
	}
	return rules, nil
}

// splitRaw separates the raw header block from the body at the first blank
// line. A message without one is treated as all header.
func splitRaw(raw []byte) (header, body []byte) {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, nil
}
