// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package grub provides a tokenizer for GRUB config files.
//
// GRUB config files use a bash-like syntax. The tokenizer handles word splitting,
// comments, quoting, character escaping, and variable expansions. It does not
// interpret commands or evaluate expansions.
package grub

import (
	"fmt"
	"strings"
)

type TokenType int

const (
	// A whitespace delimited word.
	WORD TokenType = iota
	// A newline ('\n') character.
	NEWLINE
	// A semicolon (';') character.
	SEMICOLON
)

type SubWordType int

const (
	// Characters that are not quoted or escaped. Only these characters can form
	// shell keywords and variable assignment names.
	KEYWORD_STRING SubWordType = iota
	// Characters that are quoted or escaped.
	STRING
	// An unquoted variable expansion. e.g. $var or ${var}
	VAR_EXPANSION
	// A variable expansion within a double-quoted string. e.g. "$var"
	QUOTED_VAR_EXPANSION
)

// CodeLoc points at a character within a config file.
type CodeLoc struct {
	// 1-based line number.
	Line int
	// 1-based column number.
	Col int
}

// TokenLoc is the span of characters a token occupies within a config file.
type TokenLoc struct {
	Start CodeLoc
	End   CodeLoc
}

// SubWord is a run of characters within a word that share the same quoting style.
type SubWord struct {
	Type  SubWordType
	Value string
	Loc   TokenLoc
}

// Token is a word, newline, or semicolon.
// Newline and semicolon tokens have no sub-words.
type Token struct {
	Type     TokenType
	SubWords []SubWord
	Loc      TokenLoc
}

// Line holds the word tokens of a single config line.
type Line struct {
	Tokens []Token
}

// TokenizeConfig splits a config file's contents into tokens.
func TokenizeConfig(config string) ([]Token, error) {
	t := tokenizer{
		config: config,
		loc:    CodeLoc{Line: 1, Col: 1},
	}

	err := t.run()
	if err != nil {
		return nil, err
	}

	return t.tokens, nil
}

// SplitTokensIntoLines groups word tokens into lines, using newline and semicolon
// tokens as separators. Empty lines are dropped.
func SplitTokensIntoLines(tokens []Token) []Line {
	var lines []Line
	var lineTokens []Token

	for _, token := range tokens {
		switch token.Type {
		case NEWLINE, SEMICOLON:
			if len(lineTokens) > 0 {
				lines = append(lines, Line{Tokens: lineTokens})
				lineTokens = nil
			}

		default:
			lineTokens = append(lineTokens, token)
		}
	}

	if len(lineTokens) > 0 {
		lines = append(lines, Line{Tokens: lineTokens})
	}

	return lines
}

// FindCommandAll returns all lines whose command name equals command.
func FindCommandAll(lines []Line, command string) []Line {
	var result []Line
	for _, line := range lines {
		if IsCommand(line, command) {
			result = append(result, line)
		}
	}

	return result
}

// IsCommand reports whether a line's command name equals command.
// The command name must be written without any quoting or escaping.
func IsCommand(line Line, command string) bool {
	if len(line.Tokens) < 1 {
		return false
	}

	token := line.Tokens[0]
	if token.Type != WORD || len(token.SubWords) != 1 {
		return false
	}

	subWord := token.SubWords[0]
	return subWord.Type == KEYWORD_STRING && subWord.Value == command
}

// WordLiteralValue returns the literal string value of a word token.
// Fails if the word contains a variable expansion, since the tokenizer cannot
// evaluate those.
func WordLiteralValue(token Token) (string, error) {
	builder := strings.Builder{}
	for _, subWord := range token.SubWords {
		switch subWord.Type {
		case KEYWORD_STRING, STRING:
			builder.WriteString(subWord.Value)

		default:
			loc := subWord.Loc.Start
			return "", fmt.Errorf("word contains variable expansion (%d:%d)", loc.Line, loc.Col)
		}
	}

	return builder.String(), nil
}

type tokenizer struct {
	config string
	index  int
	loc    CodeLoc
	tokens []Token

	inWord   bool
	wordLoc  TokenLoc
	subWords []SubWord

	inSubWord     bool
	subWordType   SubWordType
	subWordLoc    TokenLoc
	subWordValue  strings.Builder
	subWordForced bool
}

func (t *tokenizer) run() error {
	for !t.atEnd() {
		c := t.peek()
		switch {
		case c == '\n':
			t.endWord()
			t.addSimpleToken(NEWLINE)
			t.next()

		case c == ';':
			t.endWord()
			t.addSimpleToken(SEMICOLON)
			t.next()

		case c == ' ' || c == '\t' || c == '\r':
			t.endWord()
			t.next()

		case c == '#' && !t.inWord:
			t.skipComment()

		case c == '\\':
			err := t.readEscape()
			if err != nil {
				return err
			}

		case c == '\'':
			err := t.readSingleQuotedString()
			if err != nil {
				return err
			}

		case c == '"':
			err := t.readDoubleQuotedString()
			if err != nil {
				return err
			}

		case c == '$':
			err := t.readVarExpansion(false /*quoted*/)
			if err != nil {
				return err
			}

		default:
			t.appendChar(KEYWORD_STRING, c)
			t.next()
		}
	}

	t.endWord()
	return nil
}

func (t *tokenizer) skipComment() {
	for !t.atEnd() && t.peek() != '\n' {
		t.next()
	}
}

func (t *tokenizer) readEscape() error {
	escapeLoc := t.loc

	// Consume the backslash.
	t.next()

	if t.atEnd() {
		return fmt.Errorf("trailing backslash (%d:%d)", escapeLoc.Line, escapeLoc.Col)
	}

	c := t.peek()
	if c == '\n' {
		// Line continuation.
		t.next()
		return nil
	}

	t.appendChar(STRING, c)
	t.next()
	return nil
}

func (t *tokenizer) readSingleQuotedString() error {
	quoteLoc := t.loc

	// Consume the opening quote.
	t.next()
	t.forceSubWord(STRING)

	for {
		if t.atEnd() {
			return fmt.Errorf("unterminated single-quoted string (%d:%d)", quoteLoc.Line, quoteLoc.Col)
		}

		c := t.peek()
		if c == '\'' {
			t.next()
			return nil
		}

		t.appendChar(STRING, c)
		t.next()
	}
}

func (t *tokenizer) readDoubleQuotedString() error {
	quoteLoc := t.loc

	// Consume the opening quote.
	t.next()
	t.forceSubWord(STRING)

	for {
		if t.atEnd() {
			return fmt.Errorf("unterminated double-quoted string (%d:%d)", quoteLoc.Line, quoteLoc.Col)
		}

		c := t.peek()
		switch c {
		case '"':
			t.next()
			return nil

		case '\\':
			t.next()
			if t.atEnd() {
				return fmt.Errorf("unterminated double-quoted string (%d:%d)", quoteLoc.Line, quoteLoc.Col)
			}

			escaped := t.peek()
			switch escaped {
			case '"', '\\', '$':
				t.appendChar(STRING, escaped)
				t.next()

			case '\n':
				// Line continuation.
				t.next()

			default:
				// The backslash holds no special meaning.
				t.appendChar(STRING, '\\')
			}

		case '$':
			err := t.readVarExpansion(true /*quoted*/)
			if err != nil {
				return err
			}

		default:
			t.appendChar(STRING, c)
			t.next()
		}
	}
}

func (t *tokenizer) readVarExpansion(quoted bool) error {
	expansionLoc := t.loc

	// Consume the '$'.
	t.next()

	braced := false
	if !t.atEnd() && t.peek() == '{' {
		braced = true
		t.next()
	}

	nameBuilder := strings.Builder{}
	for !t.atEnd() && isVarNameChar(t.peek()) {
		nameBuilder.WriteByte(t.peek())
		t.next()
	}

	name := nameBuilder.String()

	if braced {
		if t.atEnd() || t.peek() != '}' || name == "" {
			return fmt.Errorf("invalid variable expansion (%d:%d)", expansionLoc.Line, expansionLoc.Col)
		}

		// Consume the '}'.
		t.next()
	}

	if name == "" {
		// A lone '$' has no special meaning.
		if quoted {
			t.appendCharAt(STRING, '$', expansionLoc)
		} else {
			t.appendCharAt(KEYWORD_STRING, '$', expansionLoc)
		}

		return nil
	}

	subWordType := VAR_EXPANSION
	if quoted {
		subWordType = QUOTED_VAR_EXPANSION
	}

	t.endSubWord()
	t.startWordIfNeeded(expansionLoc)
	t.subWords = append(t.subWords, SubWord{
		Type:  subWordType,
		Value: name,
		Loc:   TokenLoc{Start: expansionLoc, End: t.loc},
	})

	return nil
}

func isVarNameChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

func (t *tokenizer) appendChar(subWordType SubWordType, c byte) {
	t.appendCharAt(subWordType, c, t.loc)
}

func (t *tokenizer) appendCharAt(subWordType SubWordType, c byte, loc CodeLoc) {
	t.ensureSubWord(subWordType, loc)
	t.subWordValue.WriteByte(c)
}

// forceSubWord opens a sub-word that is emitted even if it ends up empty.
// Empty quoted strings (e.g. a='') produce an empty sub-word.
func (t *tokenizer) forceSubWord(subWordType SubWordType) {
	t.ensureSubWord(subWordType, t.loc)
	t.subWordForced = true
}

func (t *tokenizer) ensureSubWord(subWordType SubWordType, loc CodeLoc) {
	if t.inSubWord && t.subWordType != subWordType {
		t.endSubWord()
	}

	t.startWordIfNeeded(loc)

	if !t.inSubWord {
		t.inSubWord = true
		t.subWordType = subWordType
		t.subWordLoc = TokenLoc{Start: loc}
		t.subWordValue.Reset()
		t.subWordForced = false
	}
}

func (t *tokenizer) startWordIfNeeded(loc CodeLoc) {
	if !t.inWord {
		t.inWord = true
		t.wordLoc = TokenLoc{Start: loc}
		t.subWords = nil
	}
}

func (t *tokenizer) endSubWord() {
	if !t.inSubWord {
		return
	}

	value := t.subWordValue.String()
	if value != "" || t.subWordForced {
		t.subWordLoc.End = t.loc
		t.subWords = append(t.subWords, SubWord{
			Type:  t.subWordType,
			Value: value,
			Loc:   t.subWordLoc,
		})
	}

	t.inSubWord = false
	t.subWordForced = false
}

func (t *tokenizer) endWord() {
	if !t.inWord {
		return
	}

	t.endSubWord()

	t.wordLoc.End = t.loc
	t.tokens = append(t.tokens, Token{
		Type:     WORD,
		SubWords: t.subWords,
		Loc:      t.wordLoc,
	})

	t.inWord = false
	t.subWords = nil
}

func (t *tokenizer) addSimpleToken(tokenType TokenType) {
	start := t.loc
	end := start
	end.Col++

	t.tokens = append(t.tokens, Token{
		Type: tokenType,
		Loc:  TokenLoc{Start: start, End: end},
	})
}

func (t *tokenizer) atEnd() bool {
	return t.index >= len(t.config)
}

func (t *tokenizer) peek() byte {
	return t.config[t.index]
}

func (t *tokenizer) next() {
	if t.atEnd() {
		return
	}

	if t.config[t.index] == '\n' {
		t.loc.Line++
		t.loc.Col = 1
	} else {
		t.loc.Col++
	}

	t.index++
}
