// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package connection parses device connection strings.

A connection string carries everything a device needs to talk to the
ingestion endpoint: the host to connect to, the identity to connect as,
and the shared secret to sign with.
*/
package connection

import (
	"fmt"
	"strings"
)

// ExpectedFormat is the only accepted connection string shape.
const ExpectedFormat = "HostName=<host>;DeviceId=<device>;SharedAccessKey=<key>"

// Descriptor holds the three components of a device connection string.
// Use Parse to construct one; a Descriptor never exists half-filled.
type Descriptor struct {
	HostName        string
	DeviceID        string
	SharedAccessKey string
}

// Parse extracts host, device identity and shared access key from a
// connection string. The known prefixes are stripped wherever they
// occur; assignment of the remaining segments is positional, matching
// the fixed field order of ExpectedFormat. Anything but exactly three
// non-empty segments is a configuration error.
func Parse(connectionString string) (Descriptor, error) {
	s := connectionString
	for _, prefix := range []string{"HostName=", "DeviceId=", "SharedAccessKey="} {
		s = strings.ReplaceAll(s, prefix, "")
	}
	segments := strings.Split(s, ";")
	ok := len(segments) == 3
	for _, segment := range segments {
		ok = ok && len(segment) > 0
	}
	if !ok {
		return Descriptor{}, fmt.Errorf("malformed connection string, expected %q", ExpectedFormat)
	}
	return Descriptor{
		HostName:        segments[0],
		DeviceID:        segments[1],
		SharedAccessKey: segments[2],
	}, nil
}
