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

package installer

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/sassoftware/ipasign/internal/activation"
)

const shutdownTimeout = 10 * time.Second

// Listen opens the configured listen address, or takes over a socket passed
// by systemd. The listener speaks TLS if a certificate is configured.
func (s *Server) Listen() (net.Listener, *http.Server, error) {
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}
	listener, err := activation.GetListener("tcp", s.Config.Listen)
	if err != nil {
		return nil, nil, err
	} else if listener.Addr().Network() != "tcp" {
		listener.Close()
		return nil, nil, errors.New("inherited a listener but it isn't tcp")
	}
	if s.Config.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(s.Config.CertFile, s.Config.KeyFile)
		if err != nil {
			listener.Close()
			return nil, nil, err
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates:           []tls.Certificate{cert},
			SessionTicketsDisabled: true,
			MinVersion:             tls.VersionTLS12,
		}
		if err := http2.ConfigureServer(httpServer, nil); err != nil {
			listener.Close()
			return nil, nil, err
		}
		listener = tls.NewListener(listener, httpServer.TLSConfig)
	}
	return listener, httpServer, nil
}

// Serve answers install requests until ctx is canceled
func (s *Server) Serve(ctx context.Context) error {
	listener, httpServer, err := s.Listen()
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, listener, httpServer)
}

// ServeListener serves on a listener opened by Listen until ctx is canceled
func (s *Server) ServeListener(ctx context.Context, listener net.Listener, httpServer *http.Server) error {
	logger := zerolog.Ctx(ctx)
	errch := make(chan error, 1)
	go func() {
		errch <- httpServer.Serve(listener)
	}()
	if err := activation.DaemonReady(); err != nil {
		logger.Warn().Err(err).Msg("failed to notify service manager")
	}
	logger.Info().Stringer("addr", listener.Addr()).Msg("install server listening")
	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	if serveErr := <-errch; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}
