// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package grub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func tokenizeLines(t *testing.T, config string) []Line {
	tokens, err := TokenizeConfig(config)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	return SplitTokensIntoLines(tokens)
}

func wordValue(t *testing.T, token Token) string {
	value, err := WordLiteralValue(token)
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	return value
}

func TestTokenizeWords(t *testing.T) {
	lines := tokenizeLines(t, "set default=0\nset timeout=5\n")

	assert.Equal(t, 2, len(lines))
	assert.Equal(t, 2, len(lines[0].Tokens))
	assert.Equal(t, "set", wordValue(t, lines[0].Tokens[0]))
	assert.Equal(t, "default=0", wordValue(t, lines[0].Tokens[1]))
	assert.Equal(t, "timeout=5", wordValue(t, lines[1].Tokens[1]))
}

func TestTokenizeQuotedStrings(t *testing.T) {
	lines := tokenizeLines(t, `menuentry 'My "OS"' {`+"\n")

	assert.Equal(t, 1, len(lines))
	assert.Equal(t, 3, len(lines[0].Tokens))
	assert.Equal(t, `My "OS"`, wordValue(t, lines[0].Tokens[1]))
	assert.Equal(t, "{", wordValue(t, lines[0].Tokens[2]))
}

func TestTokenizeQuoteConcatenation(t *testing.T) {
	lines := tokenizeLines(t, `a='b c'"d"e`)

	assert.Equal(t, 1, len(lines))
	assert.Equal(t, 1, len(lines[0].Tokens))
	assert.Equal(t, "a=b cde", wordValue(t, lines[0].Tokens[0]))

	// The unescaped prefix must be a distinct sub-word so that variable
	// assignments can be distinguished from quoted look-alikes.
	subWords := lines[0].Tokens[0].SubWords
	assert.Equal(t, KEYWORD_STRING, subWords[0].Type)
	assert.Equal(t, "a=", subWords[0].Value)
	assert.Equal(t, STRING, subWords[1].Type)
}

func TestTokenizeEmptyQuotedString(t *testing.T) {
	lines := tokenizeLines(t, "a=''\n")

	assert.Equal(t, 1, len(lines))
	token := lines[0].Tokens[0]
	assert.Equal(t, 2, len(token.SubWords))
	assert.Equal(t, "a=", token.SubWords[0].Value)
	assert.Equal(t, "", token.SubWords[1].Value)
	assert.Equal(t, STRING, token.SubWords[1].Type)
}

func TestTokenizeVarExpansion(t *testing.T) {
	lines := tokenizeLines(t, "linux $kernel root=${rootdev} ro\n")

	assert.Equal(t, 1, len(lines))
	assert.Equal(t, 4, len(lines[0].Tokens))

	kernelToken := lines[0].Tokens[1]
	assert.Equal(t, 1, len(kernelToken.SubWords))
	assert.Equal(t, VAR_EXPANSION, kernelToken.SubWords[0].Type)
	assert.Equal(t, "kernel", kernelToken.SubWords[0].Value)

	_, err := WordLiteralValue(kernelToken)
	assert.Error(t, err)

	rootToken := lines[0].Tokens[2]
	assert.Equal(t, 2, len(rootToken.SubWords))
	assert.Equal(t, "root=", rootToken.SubWords[0].Value)
	assert.Equal(t, VAR_EXPANSION, rootToken.SubWords[1].Type)
	assert.Equal(t, "rootdev", rootToken.SubWords[1].Value)
}

func TestTokenizeQuotedVarExpansion(t *testing.T) {
	lines := tokenizeLines(t, `echo "hello $name"`+"\n")

	token := lines[0].Tokens[1]
	assert.Equal(t, 2, len(token.SubWords))
	assert.Equal(t, STRING, token.SubWords[0].Type)
	assert.Equal(t, "hello ", token.SubWords[0].Value)
	assert.Equal(t, QUOTED_VAR_EXPANSION, token.SubWords[1].Type)
	assert.Equal(t, "name", token.SubWords[1].Value)
}

func TestTokenizeComments(t *testing.T) {
	lines := tokenizeLines(t, "# comment line\nset a=1 # trailing comment\nset b=2#c\n")

	assert.Equal(t, 2, len(lines))
	assert.Equal(t, 2, len(lines[0].Tokens))
	assert.Equal(t, "a=1", wordValue(t, lines[0].Tokens[1]))

	// A '#' inside a word does not start a comment.
	assert.Equal(t, "b=2#c", wordValue(t, lines[1].Tokens[1]))
}

func TestTokenizeSemicolons(t *testing.T) {
	lines := tokenizeLines(t, "set a=1; set b=2\n")

	assert.Equal(t, 2, len(lines))
	assert.Equal(t, "a=1", wordValue(t, lines[0].Tokens[1]))
	assert.Equal(t, "b=2", wordValue(t, lines[1].Tokens[1]))
}

func TestTokenizeEscapes(t *testing.T) {
	lines := tokenizeLines(t, "echo a\\ b\necho c\\\nd\n")

	assert.Equal(t, 2, len(lines))
	assert.Equal(t, "a b", wordValue(t, lines[0].Tokens[1]))

	// Line continuation joins the word across lines.
	assert.Equal(t, "cd", wordValue(t, lines[1].Tokens[1]))
}

func TestTokenizeUnterminatedQuote(t *testing.T) {
	_, err := TokenizeConfig("menuentry 'Unterminated\n")
	assert.Error(t, err)

	_, err = TokenizeConfig(`echo "unterminated`)
	assert.Error(t, err)
}

func TestFindCommandAll(t *testing.T) {
	config := `menuentry 'OS' {
	linux /boot/vmlinuz-5.4.17 root=UUID=1111-2222 ro
	initrd /boot/initramfs-5.4.17.img
}
menuentry 'OS recovery' {
	linux /boot/vmlinuz-5.4.17 root=UUID=1111-2222 ro single
	initrd /boot/initramfs-5.4.17.img
}
`

	lines := tokenizeLines(t, config)

	linuxLines := FindCommandAll(lines, "linux")
	assert.Equal(t, 2, len(linuxLines))
	assert.Equal(t, "/boot/vmlinuz-5.4.17", wordValue(t, linuxLines[0].Tokens[1]))

	initrdLines := FindCommandAll(lines, "initrd")
	assert.Equal(t, 2, len(initrdLines))
	assert.Equal(t, "/boot/initramfs-5.4.17.img", wordValue(t, initrdLines[1].Tokens[1]))
}
