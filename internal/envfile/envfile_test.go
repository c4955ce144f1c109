// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package envfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnv(t *testing.T) {
	content := `# An os-release style file.
NAME="Oracle Linux Server"
VERSION="7.9"
ID="ol"
PRETTY_NAME="Oracle Linux Server 7.9"
EMPTY=''
BARE=plain
`

	result, err := ParseEnv(content)
	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, "Oracle Linux Server", result["NAME"])
	assert.Equal(t, "7.9", result["VERSION"])
	assert.Equal(t, "ol", result["ID"])
	assert.Equal(t, "Oracle Linux Server 7.9", result["PRETTY_NAME"])
	assert.Equal(t, "", result["EMPTY"])
	assert.Equal(t, "plain", result["BARE"])
}

func TestParseEnvMultipleWords(t *testing.T) {
	_, err := ParseEnv("NAME=hello world\n")
	assert.Error(t, err)
}

func TestParseEnvNotAnAssignment(t *testing.T) {
	_, err := ParseEnv("NAME\n")
	assert.Error(t, err)
}
