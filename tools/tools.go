//go:build tools

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package tools

// Pins the build tools this module uses so that 'go mod' tracks their
// versions. See https://go.dev/wiki/Modules#how-can-i-track-tool-dependencies-for-a-module
import (
	_ "github.com/google/go-licenses"
)
