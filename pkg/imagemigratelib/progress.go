// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagemigratelib

import (
	"time"

	"github.com/oracle/oci-utils-sub001/internal/logger"
)

const progressTickInterval = 30 * time.Second

// startProgressTicker logs the message at a fixed interval until the
// returned stop function is called. Long external operations (package
// installs, image conversions, uploads) otherwise produce no output for
// minutes at a time.
func startProgressTicker(message string) (stop func()) {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(progressTickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return

			case <-ticker.C:
				logger.Log.Infof("%s", message)
			}
		}
	}()

	return func() {
		close(done)
	}
}
