// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package evaluator

import (
	"context"
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/query"
)

// Source provides the raw samples queries are evaluated over.
type Source interface {
	// Series returns the samples for one metric term over [start, end], keyed by group. Ungrouped terms return a
	// single entry under values.UngroupedKey. A group with no samples is simply absent from the map.
	Series(ctx context.Context, metric *query.MetricQuery, start, end time.Time) (map[string]query.Series, error)
}
