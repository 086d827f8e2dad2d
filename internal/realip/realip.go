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

// Package realip works out the client address and the externally visible
// base URL of requests that arrive through a trusted reverse proxy.
package realip

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/sassoftware/ipasign/internal/zhttp"
)

const (
	forwardedFor   = "X-Forwarded-For"
	forwardedHost  = "X-Forwarded-Host"
	forwardedProto = "X-Forwarded-Proto"
)

type ctxKey struct{}

// proxies is the set of networks whose forwarding headers are believed
type proxies []netip.Prefix

// Middleware replaces req.RemoteAddr with the client address reported by a
// trusted proxy. trustedProxies holds IPs or CIDR networks.
func Middleware(trustedProxies []string) (func(http.Handler) http.Handler, error) {
	trusted, err := parseTrusted(trustedProxies)
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, proxied := trusted.client(r)
			r.RemoteAddr = client
			if proxied {
				r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, true))
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

// BaseURL returns the scheme and host the client used to reach the server.
// X-Forwarded-Host and X-Forwarded-Proto count only when the request came
// through a trusted proxy.
func BaseURL(req *http.Request) *url.URL {
	u := &url.URL{Scheme: "http", Host: req.Host}
	if req.TLS != nil {
		u.Scheme = "https"
	}
	if proxied, _ := req.Context().Value(ctxKey{}).(bool); !proxied {
		return u
	}
	if host := req.Header.Get(forwardedHost); host != "" {
		u.Host = host
	}
	if scheme := req.Header.Get(forwardedProto); scheme == "http" || scheme == "https" {
		u.Scheme = scheme
	}
	return u
}

func parseTrusted(values []string) (proxies, error) {
	trusted := make(proxies, 0, len(values))
	for _, v := range values {
		if strings.Contains(v, "/") {
			prefix, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted_proxies %q: %w", v, err)
			}
			trusted = append(trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted_proxies %q: invalid IP or IP network", v)
		}
		addr = addr.Unmap()
		trusted = append(trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return trusted, nil
}

// client walks X-Forwarded-For from the nearest hop outward and returns the
// first address that is not a trusted proxy. The second result is false
// when the peer itself is not trusted and the headers were ignored.
func (p proxies) client(req *http.Request) (string, bool) {
	peer := zhttp.StripPort(req.RemoteAddr)
	if !p.trusts(peer) {
		return peer, false
	}
	hops := forwardedHops(req)
	if len(hops) == 0 {
		return peer, true
	}
	for i := len(hops) - 1; i > 0; i-- {
		if !p.trusts(hops[i]) {
			return hops[i], true
		}
	}
	return hops[0], true
}

func (p proxies) trusts(hop string) bool {
	if hop == "@" {
		// unix socket
		return true
	}
	addr, err := netip.ParseAddr(hop)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func forwardedHops(req *http.Request) []string {
	var hops []string
	for _, header := range req.Header.Values(forwardedFor) {
		for _, hop := range strings.Split(header, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}
