// Copyright 2025 Tom Barlow
//
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

package validation

import (
	"sync"
	"time"
)

// Metrics tracks the executor-wide counters spec.md §4.I requires:
// total/successful/failed counts, a rolling mean duration, and peak
// concurrency.
type Metrics struct {
	mu         sync.Mutex
	total      int64
	successful int64
	failed     int64
	meanNanos  float64
	current    int
	peak       int
}

// Snapshot is a point-in-time read of Metrics.
type Snapshot struct {
	Total          int64
	Successful     int64
	Failed         int64
	MeanDuration   time.Duration
	PeakConcurrent int
}

func (m *Metrics) enter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current++
	if m.current > m.peak {
		m.peak = m.current
	}
}

func (m *Metrics) leave(success bool, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current--
	m.total++
	if success {
		m.successful++
	} else {
		m.failed++
	}
	// Incremental mean: avoids keeping every sample in memory.
	n := float64(m.total)
	m.meanNanos += (float64(d) - m.meanNanos) / n
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Total:          m.total,
		Successful:     m.successful,
		Failed:         m.failed,
		MeanDuration:   time.Duration(m.meanNanos),
		PeakConcurrent: m.peak,
	}
}
