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

package remotesigner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"
	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sassoftware/ipasign/config"
	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/internal/httperror"
	"github.com/sassoftware/ipasign/lib/compresshttp"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

type passwords map[string]string

func (p passwords) Password(id string) (string, error) {
	if pw, ok := p[id]; ok {
		return pw, nil
	}
	return "", errors.New("no password")
}

type fixture struct {
	app   *ipa.App
	ident *identity.Identity
}

func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	write := func(name, contents string) string {
		fp := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(fp, []byte(contents), 0600))
		return fp
	}
	return fixture{
		app: &ipa.App{Path: write("Foo.ipa", "ipa-bytes"), Identifier: "com.foo.bar", Name: "Foo"},
		ident: &identity.Identity{
			ID:       "dev",
			Nickname: "Dev",
			P12Path:  write("dev.p12", "p12-bytes"),
			Profile:  write("dev.mobileprovision", "profile-bytes"),
		},
	}
}

// signService is a fake signing service that records what it received
type signService struct {
	calls    atomic.Int32
	status   int
	encoding atomic.Value

	mu  sync.Mutex
	got map[string]string
}

func (s *signService) received() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

func (s *signService) handler(t *testing.T) http.Handler {
	r := chi.NewRouter()
	r.Post("/sign", func(rw http.ResponseWriter, req *http.Request) {
		s.calls.Add(1)
		if s.status != 0 {
			httperror.Problem{Status: s.status, Type: httperror.ProblemBase + "test", Detail: "nope"}.ServeHTTP(rw, req)
			return
		}
		enc := req.Header.Get("Content-Encoding")
		s.encoding.Store(enc)
		if enc == compresshttp.EncodingSnappy {
			req.Body = io.NopCloser(snappy.NewReader(req.Body))
		}
		if !assert.NoError(t, req.ParseMultipartForm(1<<20)) {
			return
		}
		got := make(map[string]string)
		for name, values := range req.MultipartForm.Value {
			got[name] = values[0]
		}
		for name, files := range req.MultipartForm.File {
			f, err := files[0].Open()
			require.NoError(t, err)
			blob, _ := io.ReadAll(f)
			f.Close()
			got[name] = string(blob)
		}
		s.mu.Lock()
		s.got = got
		s.mu.Unlock()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(signResponse{InstallLink: "itms-services://?action=download-manifest&url=https://sign.example/m.plist"})
	})
	return r
}

func newSigner(t *testing.T, conf *config.RemoteConfig) *Signer {
	s, err := New(conf, passwords{"dev": "hunter2"})
	require.NoError(t, err)
	s.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return s
}

func TestSign(t *testing.T) {
	fx := newFixture(t)
	svc := new(signService)
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	s := newSigner(t, &config.RemoteConfig{URL: srv.URL})
	opts := signopts.Default()
	opts.AppIdentifier = signopts.String("com.foo.bar.xyz")
	link, err := s.Sign(context.Background(), fx.app, opts, fx.ident)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "itms-services://"))
	got := svc.received()
	assert.Equal(t, "ipa-bytes", got["ipa"])
	assert.Equal(t, "p12-bytes", got["p12"])
	assert.Equal(t, "profile-bytes", got["mobileprovision"])
	assert.Equal(t, "hunter2", got["p12_password"])
	var sent signopts.Options
	require.NoError(t, json.Unmarshal([]byte(got["options"]), &sent))
	assert.Equal(t, "com.foo.bar.xyz", *sent.AppIdentifier)
}

func TestSignAdhoc(t *testing.T) {
	fx := newFixture(t)
	svc := new(signService)
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	s := newSigner(t, &config.RemoteConfig{URL: srv.URL})
	opts := signopts.Default()
	opts.SigningType = signopts.SigningAdhoc
	_, err := s.Sign(context.Background(), fx.app, opts, fx.ident)
	require.NoError(t, err)
	assert.NotContains(t, svc.received(), "p12")
	assert.NotContains(t, svc.received(), "p12_password")
}

func TestSignCompressed(t *testing.T) {
	fx := newFixture(t)
	svc := new(signService)
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	s := newSigner(t, &config.RemoteConfig{URL: srv.URL, Compression: compresshttp.EncodingSnappy})
	_, err := s.Sign(context.Background(), fx.app, signopts.Default(), fx.ident)
	require.NoError(t, err)
	assert.Equal(t, compresshttp.EncodingSnappy, svc.encoding.Load())
	assert.Equal(t, "ipa-bytes", svc.received()["ipa"])

	_, err = New(&config.RemoteConfig{URL: srv.URL, Compression: "br"}, passwords{})
	assert.ErrorContains(t, err, "compression")
}

func TestSignFailover(t *testing.T) {
	fx := newFixture(t)
	down := &signService{status: http.StatusServiceUnavailable}
	downSrv := httptest.NewServer(down.handler(t))
	defer downSrv.Close()
	up := new(signService)
	upSrv := httptest.NewServer(up.handler(t))
	defer upSrv.Close()

	dir := chi.NewRouter()
	dir.Get("/directory", func(rw http.ResponseWriter, req *http.Request) {
		_, _ = io.WriteString(rw, downSrv.URL+"\r\n"+upSrv.URL+"\r\n")
	})
	dirSrv := httptest.NewServer(dir)
	defer dirSrv.Close()

	s := newSigner(t, &config.RemoteConfig{DirectoryURL: dirSrv.URL})
	_, err := s.Sign(context.Background(), fx.app, signopts.Default(), fx.ident)
	require.NoError(t, err)
	assert.EqualValues(t, 1, down.calls.Load())
	assert.EqualValues(t, 1, up.calls.Load())
	assert.Equal(t, "ipa-bytes", up.received()["ipa"])
}

func TestSignRetriesTemporary(t *testing.T) {
	fx := newFixture(t)
	svc := &signService{status: http.StatusBadGateway}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	s := newSigner(t, &config.RemoteConfig{URL: srv.URL, Retries: 3})
	_, err := s.Sign(context.Background(), fx.app, signopts.Default(), fx.ident)
	var problem httperror.Problem
	require.ErrorAs(t, err, &problem)
	assert.Equal(t, http.StatusBadGateway, problem.Status)
	assert.EqualValues(t, 3, svc.calls.Load())
}

func TestSignPermanentError(t *testing.T) {
	fx := newFixture(t)
	svc := &signService{status: http.StatusUnprocessableEntity}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	s := newSigner(t, &config.RemoteConfig{URL: srv.URL, Retries: 3})
	_, err := s.Sign(context.Background(), fx.app, signopts.Default(), fx.ident)
	var problem httperror.Problem
	require.ErrorAs(t, err, &problem)
	assert.Equal(t, "nope", problem.Detail)
	assert.EqualValues(t, 1, svc.calls.Load())
}

func TestSignBearerToken(t *testing.T) {
	fx := newFixture(t)
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		auth <- req.Header.Get("Authorization")
		_, _ = io.Copy(io.Discard, req.Body)
		_, _ = io.WriteString(rw, `{"install_link":"https://sign.example/x"}`)
	}))
	defer srv.Close()

	s := newSigner(t, &config.RemoteConfig{URL: srv.URL, AccessToken: "s3cret", RateLimit: 100})
	link, err := s.Sign(context.Background(), fx.app, signopts.Default(), fx.ident)
	require.NoError(t, err)
	assert.Equal(t, "https://sign.example/x", link)
	assert.Equal(t, "Bearer s3cret", <-auth)
}

func TestSignMissingLink(t *testing.T) {
	fx := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		_, _ = io.WriteString(rw, `{}`)
	}))
	defer srv.Close()
	s := newSigner(t, &config.RemoteConfig{URL: srv.URL})
	_, err := s.Sign(context.Background(), fx.app, signopts.Default(), fx.ident)
	assert.ErrorContains(t, err, "install link")
}

func TestNoServerConfigured(t *testing.T) {
	fx := newFixture(t)
	s := newSigner(t, &config.RemoteConfig{})
	_, err := s.Sign(context.Background(), fx.app, signopts.Default(), fx.ident)
	assert.ErrorContains(t, err, "url or directory_url")
}
