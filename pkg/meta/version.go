// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package meta

// Version and BuildNumber are overridden at build time via -ldflags.
var (
	Version     = "0.0.0"
	BuildNumber = "999"
)
