// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package network

import (
	"strings"
	"time"

	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/oracle/oci-utils-sub001/internal/retry"
	"github.com/oracle/oci-utils-sub001/internal/shell"
)

// Public address used to probe for a usable default route. No traffic is
// sent; the kernel only resolves the route.
const routeProbeAddress = "1.1.1.1"

// CheckNetworkAccess reports whether the host can route to the public
// internet. Uploads need a route to reach the object storage endpoint.
func CheckNetworkAccess() (bool, error) {
	const (
		retryAttempts = 5
		retryDuration = time.Second
	)

	hasNetworkAccess := false

	err := retry.Run(func() error {
		stdout, stderr, err := shell.Execute("ip", "route", "get", routeProbeAddress)
		if err != nil {
			logger.Log.Errorf("Failed to query route to (%s): %v", routeProbeAddress, stderr)
			return err
		}

		hasNetworkAccess = strings.Contains(stdout, " dev ")
		if !hasNetworkAccess {
			logger.Log.Warnf("No network access yet")
		}

		return nil
	}, retryAttempts, retryDuration)
	if err != nil {
		logger.Log.Errorf("Failure in multiple attempts to check network access")
		return false, err
	}

	return hasNetworkAccess, nil
}
