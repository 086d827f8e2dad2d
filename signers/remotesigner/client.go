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

// Package remotesigner submits packages to a remote signing service over
// HTTP, with directory lookup and failover between servers.
package remotesigner

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"

	"github.com/sassoftware/ipasign/config"
	"github.com/sassoftware/ipasign/internal/httperror"
)

const connectTimeout = 15 * time.Second

// Build TLS config based on client configuration
func makeTLSConfig(conf *config.RemoteConfig) (*tls.Config, error) {
	tconf := &tls.Config{MinVersion: tls.VersionTLS12}
	if conf.CertFile != "" || conf.KeyFile != "" {
		if conf.CertFile == "" || conf.KeyFile == "" {
			return nil, errors.New("certfile and keyfile must be set together in 'remote' section of configuration")
		}
		tlscert, err := tls.LoadX509KeyPair(conf.CertFile, conf.KeyFile)
		if err != nil {
			return nil, err
		}
		tconf.Certificates = []tls.Certificate{tlscert}
	}
	if conf.CaCert != "" {
		pem, err := os.ReadFile(conf.CaCert)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%s: no certificates found", conf.CaCert)
		}
		tconf.RootCAs = pool
	}
	return tconf, nil
}

// newHTTPClient builds the client used for every request. A configured
// access token is sent as a bearer token.
func newHTTPClient(conf *config.RemoteConfig) (*http.Client, error) {
	tconf, err := makeTLSConfig(conf)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		TLSClientConfig:     tconf,
		DialContext:         dialer.DialContext,
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: connectTimeout,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, err
	}
	var rt http.RoundTripper = transport
	if conf.AccessToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: conf.AccessToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	return &http.Client{Transport: rt}, nil
}

// requestBuilder produces a fresh request for one attempt against one base
// URL
type requestBuilder func(ctx context.Context, base string) (*http.Request, error)

// Call the configured directory URL to get a list of servers to try
func (s *Signer) getDirectory(ctx context.Context, dirurl string) ([]string, error) {
	response, err := s.doRequest(ctx, []string{dirurl}, func(ctx context.Context, base string) (*http.Request, error) {
		return buildRequest(ctx, base, "directory", http.MethodGet, nil)
	})
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	bodybytes, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	text := strings.Trim(string(bodybytes), "\r\n")
	if len(text) > 0 {
		return strings.Split(text, "\r\n"), nil
	}
	return nil, nil
}

// bases returns the servers to try, in order
func (s *Signer) bases(ctx context.Context) ([]string, error) {
	bases := []string{s.conf.URL}
	if dirurl := s.conf.DirectoryURL; dirurl != "" {
		newBases, err := s.getDirectory(ctx, dirurl)
		if err != nil {
			return nil, fmt.Errorf("fetching server directory: %w", err)
		} else if len(newBases) > 0 {
			bases = newBases
		}
	}
	if len(bases) == 0 || bases[0] == "" {
		return nil, errors.New("url or directory_url must be set in 'remote' section of configuration")
	}
	return bases, nil
}

// Build a HTTP request from various bits and pieces
func buildRequest(ctx context.Context, base, endpoint, method string, body io.Reader) (*http.Request, error) {
	eurl, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	burl, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote URL: %w", err)
	}
	if !strings.HasSuffix(burl.Path, "/") {
		burl.Path += "/"
	}
	request, err := http.NewRequestWithContext(ctx, method, burl.ResolveReference(eurl).String(), body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", config.UserAgent)
	return request, nil
}

// Transact one request, trying multiple servers if necessary
func (s *Signer) doRequest(ctx context.Context, bases []string, build requestBuilder) (response *http.Response, err error) {
	logger := zerolog.Ctx(ctx)
	for i, base := range bases {
		var request *http.Request
		request, err = build(ctx, base)
		if err != nil {
			return nil, err
		}
		response, err = s.client.Do(request)
		if err == nil {
			if response.StatusCode < 300 {
				if i != 0 {
					logger.Info().Stringer("url", request.URL).Msg("successfully contacted server")
				}
				return response, nil
			}
			// HTTP error, probably a 503
			err = httperror.FromResponse(response)
		}
		if httperror.Temporary(err) && ctx.Err() == nil && i+1 < len(bases) {
			logger.Warn().Err(err).Stringer("url", request.URL).Msg("unable to contact server; trying next server")
		} else {
			return nil, err
		}
	}
	return
}
