// args.go - Argument parsing shared by the process command line and chat
// commands.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// =============================================================================
// FLAG SPECS
// =============================================================================

// FlagKind says how a flag takes its value.
type FlagKind int

const (
	// KindBool flags take no value: --json, -t.
	KindBool FlagKind = iota
	// KindValue flags take the next token: --config meri.toml.
	KindValue
	// KindRest flags take the remaining text verbatim: -s latest go release.
	KindRest
)

// FlagSpec declares a flag by long and short name.
type FlagSpec struct {
	Name  string
	Short string
	Kind  FlagKind
}

// Bool declares a boolean flag.
func Bool(name, short string) FlagSpec { return FlagSpec{Name: name, Short: short, Kind: KindBool} }

// Value declares a flag with a single-token value.
func Value(name, short string) FlagSpec { return FlagSpec{Name: name, Short: short, Kind: KindValue} }

// Rest declares a flag whose value is the rest of the input.
func Rest(name, short string) FlagSpec { return FlagSpec{Name: name, Short: short, Kind: KindRest} }

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser parses flags and positional arguments.
//
// Flags are matched against the declared specs by long or short name, with
// "--name value", "--name=value" and "-n value" all accepted. In argument
// mode (NewArgParser) flags may appear anywhere and undeclared flags are
// guessed the way a shell user means them. In line mode (ParseLine) only
// leading declared flags are flags; the first other token starts the text,
// which is kept exactly as typed.
type ArgParser struct {
	specs      []FlagSpec
	subcommand string            // first positional
	flags      map[string]string // value and rest flags
	boolFlags  map[string]bool
	present    map[string]bool
	positional []string
	unknown    []string
	missing    []string

	line   string
	textAt int // offset of the free text in line, -1 when none
	raw    []string
}

type token struct {
	text  string
	start int
}

func newParser(specs []FlagSpec) *ArgParser {
	return &ArgParser{
		specs:      specs,
		flags:      make(map[string]string),
		boolFlags:  make(map[string]bool),
		present:    make(map[string]bool),
		positional: make([]string, 0),
		textAt:     -1,
	}
}

// NewArgParser parses process arguments.
//
// Example:
//
//	args := NewArgParser([]string{"run", "--config", "meri.toml", "--console-only"},
//		Value("config", "c"), Bool("console-only", ""))
//	args.Subcommand()            // "run"
//	args.Flag("config")          // "meri.toml"
//	args.BoolFlag("console-only") // true
func NewArgParser(raw []string, specs ...FlagSpec) *ArgParser {
	p := newParser(specs)
	p.raw = raw
	p.line = strings.Join(raw, " ")

	toks := make([]token, 0, len(raw))
	offset := 0
	for _, arg := range raw {
		toks = append(toks, token{text: arg, start: offset})
		offset += len(arg) + 1
	}
	p.parse(toks, false)
	return p
}

// ParseLine parses a chat command's argument text.
//
// Example:
//
//	args := ParseLine("-s go 1.24 release notes", Rest("search", "s"), Bool("clear", "c"))
//	args.Flag("search") // "go 1.24 release notes"
//
//	args = ParseLine("what is -5 squared?", Bool("test", "t"))
//	args.Text() // "what is -5 squared?"
func ParseLine(line string, specs ...FlagSpec) *ArgParser {
	p := newParser(specs)
	p.line = line
	toks := tokenize(line)
	for _, t := range toks {
		p.raw = append(p.raw, t.text)
	}
	p.parse(toks, true)
	return p
}

func tokenize(line string) []token {
	var toks []token
	start := -1
	for i, r := range line {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, token{text: line[start:i], start: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, token{text: line[start:], start: start})
	}
	return toks
}

func (p *ArgParser) parse(toks []token, lineMode bool) {
	for i := 0; i < len(toks); i++ {
		t := toks[i]

		if t.text == "--" {
			p.takeText(toks[i+1:])
			break
		}
		if !isFlag(t.text) {
			if lineMode {
				p.takeText(toks[i:])
				break
			}
			p.positional = append(p.positional, t.text)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimLeft(t.text, "-"), "=")
		spec, ok := p.lookup(name)
		if !ok {
			if lineMode {
				p.takeText(toks[i:])
				break
			}
			i = p.guess(toks, i, name, value, hasValue)
			continue
		}

		p.present[spec.Name] = true
		switch spec.Kind {
		case KindBool:
			if !hasValue {
				p.boolFlags[spec.Name] = true
				continue
			}
			b, err := ParseBoolString(value)
			if err != nil {
				p.unknown = append(p.unknown, t.text)
				continue
			}
			p.boolFlags[spec.Name] = b

		case KindValue:
			switch {
			case hasValue:
				p.flags[spec.Name] = value
			case i+1 < len(toks) && !isFlag(toks[i+1].text):
				p.flags[spec.Name] = toks[i+1].text
				i++
			default:
				p.missing = append(p.missing, spec.Name)
			}

		case KindRest:
			var rest string
			switch {
			case hasValue:
				rest = value + p.line[t.start+len(t.text):]
			case i+1 < len(toks):
				rest = p.line[toks[i+1].start:]
			}
			p.flags[spec.Name] = strings.TrimSpace(rest)
			i = len(toks)
		}
	}

	if len(p.positional) > 0 {
		p.subcommand = p.positional[0]
	}
}

// guess handles an undeclared flag in argument mode: it takes the next
// token as its value unless that token is itself a flag.
func (p *ArgParser) guess(toks []token, i int, name, value string, hasValue bool) int {
	p.present[name] = true
	if p.specs != nil {
		p.unknown = append(p.unknown, toks[i].text)
	}
	if hasValue {
		if value == "true" || value == "false" {
			p.boolFlags[name] = value == "true"
		} else {
			p.flags[name] = value
		}
		return i
	}
	if i+1 < len(toks) && !isFlag(toks[i+1].text) {
		p.flags[name] = toks[i+1].text
		return i + 1
	}
	p.boolFlags[name] = true
	return i
}

func (p *ArgParser) takeText(toks []token) {
	if len(toks) == 0 {
		return
	}
	p.textAt = toks[0].start
	for _, t := range toks {
		p.positional = append(p.positional, t.text)
	}
}

func (p *ArgParser) lookup(name string) (FlagSpec, bool) {
	for _, s := range p.specs {
		if name == s.Name || (s.Short != "" && name == s.Short) {
			return s, true
		}
	}
	return FlagSpec{}, false
}

// isFlag reports whether arg looks like a flag. Negative numbers and a lone
// dash are not flags.
func isFlag(arg string) bool {
	if len(arg) < 2 || arg[0] != '-' {
		return false
	}
	if _, err := strconv.ParseFloat(arg, 64); err == nil {
		return false
	}
	return true
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Subcommand returns the first positional argument.
func (p *ArgParser) Subcommand() string {
	return p.subcommand
}

// Flag returns the value of a value or rest flag, or "".
func (p *ArgParser) Flag(name string) string {
	return p.flags[p.canonical(name)]
}

// FlagOrDefault returns the flag value or a default if not found.
func (p *ArgParser) FlagOrDefault(name, defaultValue string) string {
	if val := p.Flag(name); val != "" {
		return val
	}
	return defaultValue
}

// BoolFlag returns the value of a boolean flag.
func (p *ArgParser) BoolFlag(name string) bool {
	return p.boolFlags[p.canonical(name)]
}

// HasFlag reports whether the flag was given, with or without a value.
func (p *ArgParser) HasFlag(name string) bool {
	return p.present[p.canonical(name)]
}

func (p *ArgParser) canonical(name string) string {
	name = strings.TrimLeft(name, "-")
	if s, ok := p.lookup(name); ok {
		return s.Name
	}
	return name
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns the positional arguments starting at index.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return []string{}
	}
	return p.positional[index:]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// Text returns the free text after the leading flags exactly as typed, with
// surrounding whitespace trimmed. In argument mode it joins the positionals.
func (p *ArgParser) Text() string {
	if p.textAt >= 0 {
		return strings.TrimSpace(p.line[p.textAt:])
	}
	return strings.Join(p.positional, " ")
}

// Raw returns the original arguments.
func (p *ArgParser) Raw() []string {
	return p.raw
}

// Err reports undeclared flags and value flags given without a value. It
// is always nil for a parser built without specs.
func (p *ArgParser) Err() error {
	if len(p.missing) > 0 {
		return fmt.Errorf("flag --%s requires a value", p.missing[0])
	}
	if len(p.unknown) > 0 {
		return fmt.Errorf("unknown flag %s", p.unknown[0])
	}
	return nil
}

// =============================================================================
// COMMAND LINES
// =============================================================================

// ParseCommand splits a prefixed chat message into a lower-cased command
// name and its argument text. ok is false when content does not start with
// prefix followed by a name.
//
// Example: ParseCommand("^LM -s go news", "^") returns "lm", "-s go news".
func ParseCommand(content, prefix string) (name, args string, ok bool) {
	content = strings.TrimLeftFunc(content, unicode.IsSpace)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	rest := content[len(prefix):]
	end := strings.IndexFunc(rest, unicode.IsSpace)
	if end < 0 {
		end = len(rest)
	}
	name = strings.ToLower(rest[:end])
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(rest[end:]), true
}

// ParseBoolString parses a boolean from various string representations.
// Accepts: true/false, yes/no, y/n, 1/0, on/off (case-insensitive)
func ParseBoolString(s string) (bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}
