// Copyright (C) 2022 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package values

import "time"

// FrequencyConfiguration is just a convenient grouping of all the frequencies for the different loops the manager
// runs.
type FrequencyConfiguration struct {
	Evaluation time.Duration
	Janitor    time.Duration
}
