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

// Package zhttp holds the zerolog-based HTTP plumbing shared by the command
// line and the install server.
package zhttp

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sassoftware/ipasign/internal/logrotate"
)

type ctxKey int

var (
	ctxAccessCallbacks ctxKey = 1
	ctxDontLog         ctxKey = 2
)

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// SetupLogging configures the global logger. An empty logFile writes
// human-readable text to stderr, "-" writes JSON to stderr, and anything else
// is a file that JSON is appended to.
func SetupLogging(levelName, logFile string) error {
	zerolog.TimeFieldFormat = rfc3339Milli
	zerolog.DurationFieldInteger = true
	switch logFile {
	case "-":
	case "":
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	default:
		w, err := logrotate.NewWriter(logFile)
		if err != nil {
			return fmt.Errorf("log_file: %w", err)
		}
		log.Logger = log.Logger.Output(w)
	}
	if levelName == "" {
		levelName = zerolog.InfoLevel.String()
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	log.Logger = log.Logger.Level(level)
	zerolog.DefaultContextLogger = &log.Logger
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
	return nil
}

// LoggingMiddleware puts a request-scoped logger into each request's context
// and writes an access log entry when the handler returns
func LoggingMiddleware(opts ...LoggingOption) func(http.Handler) http.Handler {
	cfg := loggingConfig{
		logger: log.Logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			reqLogger := cfg.logger.With().
				Str("ip", StripPort(req.RemoteAddr)).
				Str("req_id", req.Header.Get("X-Request-Id")).
				Logger()
			var callbacks []AccessLogCallback
			var dontLog bool
			ctx := reqLogger.WithContext(req.Context())
			ctx = context.WithValue(ctx, ctxAccessCallbacks, &callbacks)
			ctx = context.WithValue(ctx, ctxDontLog, &dontLog)
			start := cfg.now()
			lw := &Logger{ResponseWriter: rw, Now: cfg.now}
			req = req.WithContext(ctx)
			next.ServeHTTP(lw, req)
			if dontLog {
				return
			}
			// the logger in ctx carries any UpdateContext calls made by the handler
			ev := zerolog.Ctx(ctx).Info().
				Str("method", req.Method).
				Stringer("url", req.URL).
				Int("status", lw.Status()).
				Int64("len", lw.Length()).
				Dur("dur", cfg.now().Sub(start)).
				Dur("ttfb", lw.Started().Sub(start)).
				Str("ua", req.UserAgent())
			for _, cb := range callbacks {
				cb(ev)
			}
			ev.Send()
		})
	}
}

type AccessLogCallback func(*zerolog.Event)

// AppendAccessLog adds fields to the access log entry of req without
// affecting other messages
func AppendAccessLog(req *http.Request, f AccessLogCallback) {
	callbacks, _ := req.Context().Value(ctxAccessCallbacks).(*[]AccessLogCallback)
	if callbacks != nil {
		*callbacks = append(*callbacks, f)
	}
}

// DontLog suppresses the access log entry for req
func DontLog(req *http.Request) {
	dontLog, _ := req.Context().Value(ctxDontLog).(*bool)
	if dontLog != nil {
		*dontLog = true
	}
}

type loggingConfig struct {
	logger zerolog.Logger
	now    func() time.Time
}

type LoggingOption func(*loggingConfig)

// WithLogger sets the base logger for the middleware
func WithLogger(logger zerolog.Logger) LoggingOption {
	return func(lc *loggingConfig) {
		lc.logger = logger
	}
}

// StripPort returns just the IP part of an address like Request.RemoteAddr
func StripPort(clientIP string) string {
	i := strings.IndexByte(clientIP, ':')
	j := strings.IndexByte(clientIP, ']')
	if j > 1 && clientIP[0] == '[' {
		return clientIP[1:j]
	} else if i > 0 && strings.Count(clientIP, ":") == 1 {
		return clientIP[:i]
	}
	return clientIP
}
