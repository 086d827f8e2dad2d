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

// Package installer offers signed packages to devices on the local network
// through itms-services links, and serves the manifest and package those
// links point at.
package installer

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cli/browser"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"howett.net/plist"

	"github.com/sassoftware/ipasign/config"
	"github.com/sassoftware/ipasign/internal/realip"
	"github.com/sassoftware/ipasign/internal/zhttp"
	"github.com/sassoftware/ipasign/lib/ipa"
)

var metricDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ipasign_install_downloads_total",
	Help: "Number of install manifests and packages served",
}, []string{"file"})

// Server hands out install links and answers the requests devices make when
// one is followed
type Server struct {
	Config *config.InstallConfig
	// Open is used to launch links when OpenBrowser is set
	Open func(url string) error
	Now  func() time.Time

	offers  offerList
	handler http.Handler
}

// New builds an install server from configuration
func New(conf *config.InstallConfig) (*Server, error) {
	realIP, err := realip.Middleware(conf.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Config: conf,
		Open:   browser.OpenURL,
		Now:    time.Now,
	}
	r := chi.NewRouter()
	r.Use(realIP)
	r.Use(zhttp.LoggingMiddleware())
	r.Use(zhttp.RecoveryMiddleware)
	r.Get("/health", s.serveHealth)
	r.Get("/install/{token}/manifest.plist", handleFunc(s.serveManifest))
	r.Get("/install/{token}/app.ipa", handleFunc(s.servePackage))
	r.Handle("/metrics", promhttp.Handler())
	s.handler = r
	return s, nil
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	s.handler.ServeHTTP(rw, req)
}

// Offer makes the package at artifactPath installable and returns its
// itms-services link
func (s *Server) Offer(artifactPath string, app *ipa.App) (*Offer, string, error) {
	base, err := s.publicURL()
	if err != nil {
		return nil, "", err
	}
	now := s.Now()
	o := newOffer(artifactPath, app, now.Add(s.Config.GetLinkLifetime()))
	s.offers.add(o, now)
	manifest := base.JoinPath("install", o.Token, "manifest.plist")
	link := "itms-services://?action=download-manifest&url=" + url.QueryEscape(manifest.String())
	return o, link, nil
}

// BeginInstall offers the package and opens its install link, or logs the
// link for the user to follow when no browser is to be launched
func (s *Server) BeginInstall(ctx context.Context, artifactPath string, app *ipa.App) error {
	o, link, err := s.Offer(artifactPath, app)
	if err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx).With().Str("link", link).Time("expires", o.Expires).Logger()
	if !s.Config.OpenBrowser || s.Open == nil {
		logger.Info().Msg("install link ready")
		return nil
	}
	logger.Info().Msg("opening install link")
	return s.Open(link)
}

func (s *Server) publicURL() (*url.URL, error) {
	if s.Config.PublicURL == "" {
		scheme := "http"
		if s.Config.CertFile != "" {
			scheme = "https"
		}
		return &url.URL{Scheme: scheme, Host: s.Config.Listen}, nil
	}
	u, err := url.Parse(s.Config.PublicURL)
	if err != nil {
		return nil, err
	} else if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("install public_url must be an absolute URL")
	}
	return u, nil
}

func (s *Server) serveHealth(rw http.ResponseWriter, req *http.Request) {
	zhttp.DontLog(req)
	rw.Header().Set("Content-Type", "text/plain")
	_, _ = rw.Write([]byte("OK\r\n"))
}

type manifest struct {
	Items []manifestItem `plist:"items"`
}

type manifestItem struct {
	Assets   []manifestAsset  `plist:"assets"`
	Metadata manifestMetadata `plist:"metadata"`
}

type manifestAsset struct {
	Kind string `plist:"kind"`
	URL  string `plist:"url"`
}

type manifestMetadata struct {
	BundleIdentifier string `plist:"bundle-identifier"`
	BundleVersion    string `plist:"bundle-version,omitempty"`
	Kind             string `plist:"kind"`
	Title            string `plist:"title"`
}

func (s *Server) serveManifest(rw http.ResponseWriter, req *http.Request) error {
	o, err := s.offers.get(chi.URLParam(req, "token"), s.Now())
	if err != nil {
		return err
	}
	packageURL := s.requestBase(req).JoinPath("install", o.Token, "app.ipa")
	blob, err := plist.MarshalIndent(manifest{Items: []manifestItem{{
		Assets: []manifestAsset{{Kind: "software-package", URL: packageURL.String()}},
		Metadata: manifestMetadata{
			BundleIdentifier: o.Identifier,
			BundleVersion:    o.Version,
			Kind:             "software",
			Title:            o.Title,
		},
	}}}, plist.XMLFormat, "\t")
	if err != nil {
		return err
	}
	zhttp.AppendAccessLog(req, func(ev *zerolog.Event) {
		ev.Str("app", o.Identifier)
	})
	metricDownloads.WithLabelValues("manifest").Inc()
	rw.Header().Set("Content-Type", "application/xml")
	_, err = rw.Write(blob)
	return err
}

func (s *Server) servePackage(rw http.ResponseWriter, req *http.Request) error {
	o, err := s.offers.get(chi.URLParam(req, "token"), s.Now())
	if err != nil {
		return err
	}
	f, err := os.Open(o.ArtifactPath)
	if errors.Is(err, os.ErrNotExist) {
		return errPackageGone
	} else if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	metricDownloads.WithLabelValues("package").Inc()
	rw.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(rw, req, "app.ipa", fi.ModTime(), f)
	return nil
}

// requestBase is the base URL to put in a manifest. The configured public URL
// wins; otherwise the address the device used to fetch the manifest is
// reused.
func (s *Server) requestBase(req *http.Request) *url.URL {
	if s.Config.PublicURL != "" {
		if u, err := s.publicURL(); err == nil {
			return u
		}
	}
	return realip.BaseURL(req)
}
