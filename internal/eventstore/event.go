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

// Package eventstore persists the append-only record of every ingress
// event (spec.md §4.C). Status is the only mutable field, and it only
// ever advances forward through the lifecycle ingress → processor assign
// it.
package eventstore

import "time"

// Source identifies which webhook profile produced an event.
type Source string

const (
	SourceSourceHost   Source = "source_host"
	SourceIssueTracker Source = "issue_tracker"
	SourceAgent        Source = "agent"
)

// Status is an event's position in its processing lifecycle. received,
// processing, and failed are non-terminal; processed and
// failed_permanently are terminal and never transition again.
type Status string

const (
	StatusReceived          Status = "received"
	StatusProcessing        Status = "processing"
	StatusProcessed         Status = "processed"
	StatusFailed            Status = "failed"
	StatusFailedPermanently Status = "failed_permanently"
)

// Terminal reports whether s never transitions again.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailedPermanently
}

// Event is the persisted record of one ingress (spec.md §3).
type Event struct {
	ID               string
	Source           Source
	Type             string
	Payload          []byte
	ReceivedAt       time.Time
	Status           Status
	Attempts         int
	LastError        string
	LastProcessedAt  time.Time
	Metadata         map[string]string
}

// Clone returns a deep copy of e, so callers handed an Event back from the
// store can't mutate internal state.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
