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

// Package notify tells the user that a signed app is ready to install
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Event is the body of a "ready" notification
type Event struct {
	Type      string    `json:"type"`
	AppName   string    `json:"app_name"`
	Hostname  string    `json:"hostname,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReadyEvent describes an app that finished signing
func NewReadyEvent(appName string) *Event {
	hostname, _ := os.Hostname()
	return &Event{
		Type:      "app.ready",
		AppName:   appName,
		Hostname:  hostname,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal the event to JSON
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Sender delivers ready notifications
type Sender interface {
	SendReady(ctx context.Context, appName string) error
}

// Log writes notifications to the context logger
type Log struct{}

func (Log) SendReady(ctx context.Context, appName string) error {
	zerolog.Ctx(ctx).Info().Str("app", appName).Msg("app is ready to install")
	return nil
}

// Multi fans a notification out to several senders. Every sender is tried
// and the errors are joined.
type Multi []Sender

func (m Multi) SendReady(ctx context.Context, appName string) error {
	var errs []error
	for _, s := range m {
		if err := s.SendReady(ctx, appName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
