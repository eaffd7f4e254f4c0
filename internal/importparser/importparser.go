// Package importparser implements spec.md §4.B: a byte-streaming two-layer
// state machine that extracts `import Module.Name` declarations from the
// prefix of an Elm source file. It is consumed one byte at a time per §9
// ("implement as a free function consuming one u8 and a mutable state
// struct") so callers can drive it from any I/O strategy without per-byte
// allocation. There is no teacher equivalent — the teacher never parses a
// source language — so this is written from spec.md's transition tables
// directly.
package importparser

import "unicode"

// tokenizerState is the low-level lexer's state set (§4.B Tokenizer).
type tokenizerState int

const (
	tsInitial tokenizerState = iota
	tsMaybeNewChunk
	tsMaybeMultiLineCommentOpen
	tsMultiLineComment
	tsMultiLineCommentNestOpen
	tsMultiLineCommentDashSeen
	tsMaybeSingleLineCommentSecondDash
	tsSingleLineComment
)

// tokenKind discriminates the two token kinds the tokenizer emits.
type tokenKind int

const (
	tokenNone tokenKind = iota
	tokenNewChunk
	tokenWord
)

type token struct {
	kind tokenKind
	word []byte
}

// tokenizer is the low-level byte machine. It never allocates per byte: word
// bytes accumulate into a reused buffer that is only copied out when a token
// is emitted.
type tokenizer struct {
	state        tokenizerState
	buf          []byte
	commentDepth int
	atLineStart  bool
	sawNewline   bool
}

func newTokenizer() *tokenizer {
	return &tokenizer{state: tsInitial, atLineStart: true}
}

// feed processes one byte and returns a token if one was completed. Multiple
// calls may be required to emit nothing (whitespace, comment interior);
// callers should keep feeding until isNonImport tells them to stop.
func (t *tokenizer) feed(b byte) *token {
	switch t.state {
	case tsInitial, tsMaybeNewChunk:
		return t.feedNormal(b)
	case tsMaybeMultiLineCommentOpen:
		if b == '-' {
			t.commentDepth = 1
			t.state = tsMultiLineComment
			return nil
		}
		// Not actually a comment open; the '{' was part of a word (record
		// literal braces never appear in column-0 import prefixes, but we
		// must not lose the byte: treat it literally).
		t.state = tsInitial
		t.buf = append(t.buf, '{')
		t.atLineStart = false
		return t.feedNormal(b)
	case tsMultiLineComment:
		if b == '{' {
			t.state = tsMultiLineCommentNestOpen
			return nil
		}
		if b == '-' {
			t.state = tsMultiLineCommentDashSeen
			return nil
		}
		return nil
	case tsMultiLineCommentNestOpen:
		// A '{' seen inside a comment: "{-" opens a nested comment one
		// level deeper; anything else is ordinary comment content.
		if b == '-' {
			t.commentDepth++
			t.state = tsMultiLineComment
			return nil
		}
		t.state = tsMultiLineComment
		return t.feed(b)
	case tsMultiLineCommentDashSeen:
		if b == '}' {
			t.commentDepth--
			if t.commentDepth <= 0 {
				t.state = tsInitial
			} else {
				t.state = tsMultiLineComment
			}
			return nil
		}
		if b == '-' {
			return nil // stay, another dash
		}
		t.state = tsMultiLineComment
		return t.feed(b)
	case tsMaybeSingleLineCommentSecondDash:
		if b == '-' {
			t.state = tsSingleLineComment
			return nil
		}
		t.state = tsInitial
		return t.feedNormal(b)
	case tsSingleLineComment:
		if b == '\n' {
			t.state = tsInitial
			t.sawNewline = true
			t.atLineStart = true
			return nil
		}
		return nil
	}
	return nil
}

func (t *tokenizer) feedNormal(b byte) *token {
	switch {
	case b == '\n':
		t.atLineStart = true
		t.sawNewline = true
		return t.flushWord()
	case b == ' ' || b == '\t' || b == '\r':
		// Leading whitespace makes the line a continuation of the current
		// declaration rather than a new chunk.
		t.atLineStart = false
		if len(t.buf) == 0 {
			return nil
		}
		return t.flushWord()
	case b == '-':
		// Could be start of "--" (single-line comment). We peek by buffering
		// a tentative dash; if the word buffer is non-empty, a bare '-'
		// is just a word character (e.g. infix operator names), so only
		// treat it specially at a word boundary.
		if len(t.buf) == 0 {
			t.state = tsMaybeSingleLineCommentSecondDash
			return nil
		}
		t.buf = append(t.buf, b)
		t.atLineStart = false
		return nil
	case b == '{':
		if len(t.buf) == 0 {
			t.state = tsMaybeMultiLineCommentOpen
			return nil
		}
		t.buf = append(t.buf, b)
		t.atLineStart = false
		return nil
	default:
		if t.atLineStart {
			// A word starting at column 0 begins a new top-level
			// declaration: emit NewChunk now; this byte starts the word.
			t.atLineStart = false
			t.buf = append(t.buf, b)
			return &token{kind: tokenNewChunk}
		}
		t.buf = append(t.buf, b)
		return nil
	}
}

func (t *tokenizer) flushWord() *token {
	if len(t.buf) == 0 {
		return nil
	}
	w := make([]byte, len(t.buf))
	copy(w, t.buf)
	t.buf = t.buf[:0]
	return &token{kind: tokenWord, word: w}
}

// finish flushes any pending word at end-of-input.
func (t *tokenizer) finish() *token {
	return t.flushWord()
}

// parserState is the high-level parser's state set (§4.B Parser).
type parserState int

const (
	psStartOfFile parserState = iota
	psImport
	psNewChunk
	psIgnore
	psNonImport
)

// Parser drives the tokenizer and extracts module names from the import
// prefix of a source file. Construct with New and feed bytes with Feed.
type Parser struct {
	tok     *tokenizer
	state   parserState
	modules []string
}

// New creates a parser ready to consume bytes from the start of a file.
func New() *Parser {
	return &Parser{tok: newTokenizer(), state: psStartOfFile}
}

// Feed processes one byte. Callers should stop feeding once IsNonImport
// reports true (the import prefix is exhausted).
func (p *Parser) Feed(b byte) {
	if p.IsNonImport() {
		return
	}
	tok := p.tok.feed(b)
	if tok != nil {
		p.handleToken(*tok)
	}
}

// Finish flushes any trailing buffered word. Call once after the last byte.
func (p *Parser) Finish() {
	if p.IsNonImport() {
		return
	}
	if tok := p.tok.finish(); tok != nil {
		p.handleToken(*tok)
	}
}

// IsNonImport reports whether the parser has reached the terminal
// NonImport state, letting readers stop I/O early (§4.B).
func (p *Parser) IsNonImport() bool {
	return p.state == psNonImport
}

// Modules returns the module names discovered so far, in source order.
func (p *Parser) Modules() []string {
	return p.modules
}

func (p *Parser) handleToken(tok token) {
	switch p.state {
	case psStartOfFile:
		if tok.kind == tokenWord {
			if string(tok.word) == "import" {
				p.state = psImport
			} else {
				p.state = psIgnore
			}
		}
	case psIgnore:
		if tok.kind == tokenNewChunk {
			p.state = psNewChunk
		}
		// Word tokens keep us in Ignore.
	case psNewChunk:
		if tok.kind == tokenWord {
			if string(tok.word) == "import" {
				p.state = psImport
			} else {
				p.state = psNonImport
			}
		}
		// Another NewChunk token just stays in NewChunk.
	case psImport:
		switch tok.kind {
		case tokenNewChunk:
			p.state = psNewChunk
		case tokenWord:
			if name := string(tok.word); isModuleName(name) {
				p.modules = append(p.modules, name)
			}
			p.state = psIgnore
		}
	case psNonImport:
		// terminal
	}
}

// isModuleName reports whether w matches the Elm module-name grammar:
// dot-separated segments, each starting with an uppercase letter (Unicode
// letter classes), per §4.B.
func isModuleName(w string) bool {
	if w == "" {
		return false
	}
	segments := splitDot(w)
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if seg == "" {
			return false
		}
		runes := []rune(seg)
		if !unicode.IsUpper(runes[0]) {
			return false
		}
		for _, r := range runes[1:] {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				return false
			}
		}
	}
	return true
}

func splitDot(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// ParsePrefix is a convenience wrapper for tests and small inputs: it feeds
// every byte of data and returns the discovered module names. Production
// callers (internal/importwalker) drive Parser incrementally from a fixed
// buffer read so they can stop after a short prefix per spec.md §4.B's
// rationale ("imports are required to appear at the start of the file").
func ParsePrefix(data []byte) []string {
	p := New()
	for _, b := range data {
		if p.IsNonImport() {
			break
		}
		p.Feed(b)
	}
	p.Finish()
	return p.Modules()
}
