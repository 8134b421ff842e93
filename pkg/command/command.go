// Package command detects explicit commands in free-form text.
//
// Text usually comes from speech recognition, so the parser accepts three
// trigger shapes after normalising punctuation and whitespace:
//
//	/ask what time is it         leading slash
//	slash email check inbox      spoken "slash" or "command" + token
//	slash-email check inbox      trigger word joined to the token
//
// The captured token is resolved against a fixed table of canonical commands
// and their aliases. Text without a trigger never matches, even when it
// contains a command word ("check my email").
package command

import (
	"regexp"
	"strings"
)

// Parsed is a successfully detected command.
type Parsed struct {
	// Command is the canonical command name.
	Command string `json:"command"`
	// Args is the trimmed text following the command token.
	Args string `json:"args"`
	// Raw is the original, unnormalised input.
	Raw string `json:"raw"`
}

// Command describes one canonical command.
type Command struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases"`
	Description string   `json:"description"`
}

var builtin = []Command{
	{Name: "email", Aliases: []string{"mail", "inbox", "e-mail"}, Description: "Check or compose email"},
	{Name: "read", Aliases: []string{"check", "reed"}, Description: "Read inbox messages"},
	{Name: "send", Aliases: []string{"reply", "sent"}, Description: "Send a composed email"},
	{Name: "ask", Aliases: []string{"question", "q", "asked"}, Description: "Ask the assistant"},
	{Name: "open", Aliases: []string{"browse", "go"}, Description: "Open a URL"},
	{Name: "clear", Aliases: []string{"reset", "clean"}, Description: "Clear the workspace"},
	{Name: "help", Aliases: []string{"?", "commands"}, Description: "Show available commands"},
}

var (
	punctuation = regexp.MustCompile(`[.,!?;:'"]`)
	whitespace  = regexp.MustCompile(`\s+`)

	// Tried in order; the first match wins.
	triggers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^/(\w+)\s*(.*)$`),
		regexp.MustCompile(`(?i)(?:^|\s)(?:slash|command)\s+(\w+)\s*(.*)$`),
		regexp.MustCompile(`(?i)(?:^|\s)slash[\s.\-]+(\w+)\s*(.*)$`),
	}
)

// Option is a functional option for configuring a [Parser].
type Option func(*Parser)

// WithPhoneticAliases enables a sound-alike fallback for command tokens that
// match no name or alias exactly, e.g. "emale" resolving to "email". Off by
// default.
func WithPhoneticAliases() Option {
	return func(p *Parser) {
		p.phonetic = newPhoneticMatcher()
	}
}

// Parser resolves commands in text. It is read-only after construction and
// safe for concurrent use.
type Parser struct {
	commands []Command
	lookup   map[string]string
	phonetic *phoneticMatcher
}

// NewParser returns a Parser over the built-in command table.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		commands: builtin,
		lookup:   make(map[string]string),
	}
	for _, c := range p.commands {
		p.lookup[c.Name] = c.Name
		for _, a := range c.Aliases {
			if _, taken := p.lookup[a]; !taken {
				p.lookup[a] = c.Name
			}
		}
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse returns the command found in text, or false when there is none.
func (p *Parser) Parse(text string) (Parsed, bool) {
	cleaned := Normalize(text)

	var m []string
	for _, re := range triggers {
		if m = re.FindStringSubmatch(cleaned); m != nil {
			break
		}
	}
	if m == nil {
		return Parsed{}, false
	}

	name, ok := p.resolve(strings.ToLower(m[1]))
	if !ok {
		return Parsed{}, false
	}
	return Parsed{
		Command: name,
		Args:    strings.TrimSpace(m[2]),
		Raw:     text,
	}, true
}

// IsCommand reports whether text contains a resolvable command.
func (p *Parser) IsCommand(text string) bool {
	_, ok := p.Parse(text)
	return ok
}

// Commands returns the command table in display order.
func (p *Parser) Commands() []Command {
	out := make([]Command, len(p.commands))
	for i, c := range p.commands {
		c.Aliases = append([]string(nil), c.Aliases...)
		out[i] = c
	}
	return out
}

func (p *Parser) resolve(token string) (string, bool) {
	if name, ok := p.lookup[token]; ok {
		return name, true
	}
	if p.phonetic == nil {
		return "", false
	}
	return p.phonetic.match(token, p.lookup)
}

// Normalize strips the punctuation set . , ! ? ; : ' " then collapses runs of
// whitespace and trims.
func Normalize(text string) string {
	s := punctuation.ReplaceAllString(text, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
