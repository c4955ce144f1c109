// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package randomization

import (
	"fmt"

	"github.com/google/uuid"
)

// CreateUuid returns a fresh random UUID in canonical string form.
func CreateUuid() (string, error) {
	newUuid, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate random uuid:\n%w", err)
	}

	return newUuid.String(), nil
}
