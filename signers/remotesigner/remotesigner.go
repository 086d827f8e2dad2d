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
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sassoftware/ipasign/config"
	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/internal/httperror"
	"github.com/sassoftware/ipasign/lib/compresshttp"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

var metricRateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ipasign_remote_limited_seconds",
	Help: "Cumulative number of seconds waiting for the remote signing rate limit",
})

// Passwords supplies the PKCS#12 password of an identity
type Passwords interface {
	Password(identityID string) (string, error)
}

// Signer implements remote signing
type Signer struct {
	conf      *config.RemoteConfig
	client    *http.Client
	limit     *rate.Limiter
	passwords Passwords
	// newBackOff returns the delay policy between retries
	newBackOff func() backoff.BackOff
}

// signResponse is the service's answer to a successful submission
type signResponse struct {
	InstallLink string `json:"install_link"`
}

// New creates a remote signer from configuration
func New(conf *config.RemoteConfig, passwords Passwords) (*Signer, error) {
	if err := compresshttp.Check(conf.Compression); err != nil {
		return nil, fmt.Errorf("remote compression: %w", err)
	}
	client, err := newHTTPClient(conf)
	if err != nil {
		return nil, err
	}
	s := &Signer{
		conf:      conf,
		client:    client,
		passwords: passwords,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.Multiplier = 2.718
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	if conf.RateLimit > 0 {
		burst := conf.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limit = rate.NewLimiter(rate.Limit(conf.RateLimit), burst)
	}
	return s, nil
}

// Sign uploads the package and identity and returns the install link the
// service answers with. Transient failures are retried a limited number of
// times; everything else is returned as-is.
func (s *Signer) Sign(ctx context.Context, app *ipa.App, opts *signopts.Options, ident *identity.Identity) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.conf.GetTimeout())
	defer cancel()
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	form, err := s.newForm(app, opts, ident)
	if err != nil {
		return "", err
	}
	bases, err := s.bases(ctx)
	if err != nil {
		return "", err
	}
	logger := zerolog.Ctx(ctx)
	return backoff.Retry(ctx, func() (string, error) {
		link, err := s.submit(ctx, bases, form)
		if err != nil && !httperror.Temporary(err) {
			return "", backoff.Permanent(err)
		}
		return link, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.conf.GetRetries())),
		backoff.WithNotify(func(err error, delay time.Duration) {
			logger.Warn().Err(err).Dur("delay", delay).Msg("remote signing error; retrying")
		}),
	)
}

func (s *Signer) wait(ctx context.Context) error {
	if s.limit == nil {
		return nil
	}
	start := time.Now()
	if err := s.limit.Wait(ctx); err != nil {
		return err
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metricRateLimited.Add(waited.Seconds())
	}
	return nil
}

func (s *Signer) submit(ctx context.Context, bases []string, form *uploadForm) (string, error) {
	response, err := s.doRequest(ctx, bases, func(ctx context.Context, base string) (*http.Request, error) {
		body, contentType := form.stream()
		req, err := buildRequest(ctx, base, "sign", http.MethodPost, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, compresshttp.CompressRequest(req, s.conf.Compression)
	})
	if err != nil {
		return "", err
	}
	defer response.Body.Close()
	if err := compresshttp.DecompressResponse(response); err != nil {
		return "", err
	}
	var result signResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding signing response: %w", err)
	}
	if result.InstallLink == "" {
		return "", errors.New("signing service did not return an install link")
	}
	return result.InstallLink, nil
}

// uploadForm is the multipart body of a signing request. It is streamed
// anew for every attempt.
type uploadForm struct {
	files  []formFile
	fields [][2]string
}

type formFile struct {
	field, path string
}

func (s *Signer) newForm(app *ipa.App, opts *signopts.Options, ident *identity.Identity) (*uploadForm, error) {
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	form := &uploadForm{files: []formFile{{"ipa", app.Path}}}
	if opts.SigningType != signopts.SigningAdhoc && ident != nil {
		password, err := s.passwords.Password(ident.ID)
		if err != nil {
			return nil, fmt.Errorf("identity %q: %w", ident.Nickname, err)
		}
		form.files = append(form.files, formFile{"p12", ident.P12Path}, formFile{"mobileprovision", ident.Profile})
		form.fields = append(form.fields, [2]string{"p12_password", password})
	}
	form.fields = append(form.fields, [2]string{"options", string(optsJSON)})
	for _, f := range form.files {
		if _, err := os.Stat(f.path); err != nil {
			return nil, err
		}
	}
	return form, nil
}

func (f *uploadForm) stream() (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(f.write(mw))
	}()
	return pr, mw.FormDataContentType()
}

func (f *uploadForm) write(mw *multipart.Writer) error {
	for _, field := range f.fields {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}
	for _, file := range f.files {
		if err := copyFile(mw, file); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFile(mw *multipart.Writer, file formFile) error {
	in, err := os.Open(file.path)
	if err != nil {
		return err
	}
	defer in.Close()
	w, err := mw.CreateFormFile(file.field, filepath.Base(file.path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
