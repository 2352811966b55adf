// Package cmdline tokenizes a single kernel command string into a typed
// configuration, the way the boot loader receives it from firmware as
// one UTF-8 line with no shell-style word splitting.
package cmdline

import (
	"fmt"
	"strings"
)

// Mode selects which rackscale role the kernel boots into.
type Mode int

const (
	ModeNative Mode = iota
	ModeController
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeNative:
		return "native"
	case ModeController:
		return "controller"
	case ModeClient:
		return "client"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func parseMode(s string) (Mode, bool) {
	switch s {
	case "native":
		return ModeNative, true
	case "controller":
		return ModeController, true
	case "client":
		return ModeClient, true
	default:
		return ModeNative, false
	}
}

// BootloaderArguments is the typed configuration a command line parses
// into. Defaults match the reference boot loader's own defaults so that
// an empty command line is a fully usable one.
type BootloaderArguments struct {
	KernelBinary string

	BSPOnly bool
	Test    string
	HasTest bool
	Log     string
	Mode    Mode
	Init    string
	InitArgs string
	AppCmd   string

	// Warnings collects one entry per unknown key or malformed token
	// encountered while parsing; parsing itself never fails on these.
	Warnings []string
}

func defaultArguments() BootloaderArguments {
	return BootloaderArguments{
		Log:  "info",
		Init: "init",
		Mode: ModeNative,
	}
}

// token is one `<key>` or `<key>=<value>` unit lexed from the command
// line; hasValue records whether an `=` was present.
type token struct {
	key   string
	value string
	hasValue bool
}

// Parse tokenizes s into a BootloaderArguments. The first whitespace-
// separated word is always the kernel binary path; every word after it
// is a `key` or `key=value` pair. Unknown keys and tokens with a stray
// `=` but no key are recorded as warnings and otherwise ignored.
func Parse(s string) (*BootloaderArguments, error) {
	fields, err := splitFields(s)
	if err != nil {
		return nil, err
	}
	args := defaultArguments()
	if len(fields) == 0 {
		return &args, nil
	}
	args.KernelBinary = fields[0]

	for _, field := range fields[1:] {
		tok, err := parseToken(field)
		if err != nil {
			args.Warnings = append(args.Warnings, err.Error())
			continue
		}
		applyToken(&args, tok)
	}
	return &args, nil
}

func parseToken(field string) (token, error) {
	eq := strings.IndexByte(field, '=')
	if eq < 0 {
		return token{key: field}, nil
	}
	key := field[:eq]
	if key == "" {
		return token{}, fmt.Errorf("cmdline: stray '=' with no key in %q", field)
	}
	return token{key: key, value: field[eq+1:], hasValue: true}, nil
}

func applyToken(args *BootloaderArguments, tok token) {
	switch tok.key {
	case "bsp-only":
		args.BSPOnly = true
	case "test":
		args.Test = tok.value
		args.HasTest = true
	case "log":
		if tok.hasValue {
			args.Log = tok.value
		}
	case "mode":
		mode, ok := parseMode(tok.value)
		if !ok {
			args.Warnings = append(args.Warnings, fmt.Sprintf("cmdline: unknown mode %q, defaulting to native", tok.value))
			return
		}
		args.Mode = mode
	case "init":
		if tok.hasValue {
			args.Init = tok.value
		}
	case "initargs":
		args.InitArgs = tok.value
	case "appcmd":
		args.AppCmd = tok.value
	default:
		args.Warnings = append(args.Warnings, fmt.Sprintf("cmdline: unknown key %q", tok.key))
	}
}

// splitFields tokenizes s on whitespace, except inside a single-quoted
// literal, which may contain spaces, '=', ',' and ':' verbatim. An
// unterminated quote is an error: the firmware command line is a single
// trusted-ish string but a truncated quote is unambiguously malformed.
func splitFields(s string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inField := false
	inQuote := false

	flush := func() {
		if inField {
			fields = append(fields, cur.String())
			cur.Reset()
			inField = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == '\'' {
				inQuote = false
			} else {
				cur.WriteByte(c)
			}
		case c == '\'':
			inQuote = true
			inField = true
		case c == ' ' || c == '\t':
			flush()
		default:
			inField = true
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("cmdline: unterminated quoted literal in %q", s)
	}
	flush()
	return fields, nil
}

// needsQuoting reports whether v must be rendered as a single-quoted
// literal to survive a Parse round trip: anything outside the bare
// identifier alphabet, or an empty string.
func needsQuoting(v string) bool {
	if v == "" {
		return true
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			return true
		}
	}
	return false
}

func renderValue(v string) string {
	if !needsQuoting(v) {
		return v
	}
	return "'" + v + "'"
}

// Render produces a canonical command line that Parse accepts back into
// an equal BootloaderArguments: parse(render(parse(s))) == parse(s).
// Warnings are never rendered; they are a parse-time diagnostic, not
// configuration state.
func (a *BootloaderArguments) Render() string {
	var b strings.Builder
	b.WriteString(renderValue(a.KernelBinary))

	if a.BSPOnly {
		b.WriteString(" bsp-only")
	}
	if a.HasTest {
		fmt.Fprintf(&b, " test=%s", renderValue(a.Test))
	}
	fmt.Fprintf(&b, " log=%s", renderValue(a.Log))
	if a.Mode != ModeNative {
		fmt.Fprintf(&b, " mode=%s", a.Mode)
	}
	fmt.Fprintf(&b, " init=%s", renderValue(a.Init))
	if a.InitArgs != "" {
		fmt.Fprintf(&b, " initargs=%s", renderValue(a.InitArgs))
	}
	if a.AppCmd != "" {
		fmt.Fprintf(&b, " appcmd=%s", renderValue(a.AppCmd))
	}
	return b.String()
}
