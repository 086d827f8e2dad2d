// Copyright © SAS Institute Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package signing

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buckets = []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

	MetricSignSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ipasign_sign_seconds",
			Help:    "A histogram of latencies for signing backends",
			Buckets: buckets,
		},
		[]string{"backend"},
	)
	MetricSignResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipasign_sign_results",
			Help: "Results of signing sessions by backend",
		},
		[]string{"backend", "result"},
	)
	MetricBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipasign_sign_blocked",
			Help: "Sign attempts refused before dispatch",
		},
		[]string{"reason"},
	)
)

func observe(backend string, start time.Time, err error) {
	var result string
	switch {
	case err == nil:
		result = "ok"
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	default:
		result = "error"
	}
	MetricSignSeconds.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	MetricSignResults.WithLabelValues(backend, result).Inc()
}
