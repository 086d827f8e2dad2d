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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

var (
	Version   = "unknown"
	Commit    = "unknown"
	UserAgent = "ipasign/" + Version
)

const (
	defaultLocalTimeout  = 5 * time.Minute
	defaultRemoteTimeout = 10 * time.Minute
	defaultRetries       = 3
	defaultInstallDelay  = 3500 * time.Millisecond
	defaultLinkLifetime  = time.Hour
	defaultInstallListen = "127.0.0.1:8443"
)

// Experience modes. Enterprise forces PPQ protection on for every identity.
const (
	ExperienceDeveloper  = "Developer"
	ExperienceEnterprise = "Enterprise"
)

type SigningConfig struct {
	// Backend selector: 0 = local, 1 = semi-local, 2 = remote custom server
	ServerMethod   int    `yaml:"server_method"`
	ExperienceMode string `yaml:"experience_mode"`
}

type LocalConfig struct {
	// Command line template of the signing tool. Placeholders: {input},
	// {output}, {p12}, {password}, {profile}, {bundle_id}, and the lists
	// {dylibs} and {strip}
	Tool      string `yaml:"tool"`
	Timeout   int    `yaml:"timeout"` // Seconds to wait for the tool
	OutputDir string `yaml:"output_dir"`
}

type RemoteConfig struct {
	URL          string  `yaml:"url"`           // Base URL of the signing service
	DirectoryURL string  `yaml:"directory_url"` // URL that lists servers to fail over between
	CaCert       string  `yaml:"cacert"`        // Extra CA bundle to trust
	CertFile     string  `yaml:"certfile"`      // Client certificate for mutual TLS
	KeyFile      string  `yaml:"keyfile"`       // Client key for mutual TLS
	AccessToken  string  `yaml:"access_token"`  // Bearer token, if the service wants one
	Retries      int     `yaml:"retries"`
	Timeout      int     `yaml:"timeout"` // Seconds for a whole signing request
	RateLimit    float64 `yaml:"rate_limit"`
	RateBurst    int     `yaml:"rate_burst"`
	// Compress uploads with gzip or x-snappy-framed
	Compression string `yaml:"compression"`
}

type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	AmqpURL    string `yaml:"amqp_url"` // Publish to this broker instead of only logging
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	CaCert     string `yaml:"cacert"`
}

type InstallConfig struct {
	Listen      string  `yaml:"listen"`
	PublicURL   string  `yaml:"public_url"` // HTTPS base URL devices reach the listener at
	Delay       float64 `yaml:"delay"`      // Seconds to wait before starting an install
	OpenBrowser bool    `yaml:"open_browser"`
	// Offers expire after this many seconds
	LinkLifetime float64 `yaml:"link_lifetime"`
	// Reverse proxies whose X-Forwarded-* headers are believed
	TrustedProxies []string `yaml:"trusted_proxies"`
	// Serve HTTPS directly instead of behind a terminating proxy
	CertFile string `yaml:"certfile"`
	KeyFile  string `yaml:"keyfile"`
}

type Config struct {
	StateDir string `yaml:"state_dir"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Signing *SigningConfig `yaml:"signing"`
	Local   *LocalConfig   `yaml:"local"`
	Remote  *RemoteConfig  `yaml:"remote"`
	Notify  *NotifyConfig  `yaml:"notify"`
	Install *InstallConfig `yaml:"install"`

	path string
}

func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := new(Config)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	config.path = path
	return config, config.Normalize()
}

// New returns a configuration with every section set to its defaults
func New() *Config {
	config := new(Config)
	_ = config.Normalize()
	return config
}

// Path returns the file the configuration was read from
func (config *Config) Path() string {
	return config.path
}

// Normalize fills in missing sections and validates values
func (config *Config) Normalize() error {
	if config.StateDir == "" {
		config.StateDir = filepath.Join(DefaultDir(), "state")
	}
	if config.Signing == nil {
		config.Signing = new(SigningConfig)
	}
	switch config.Signing.ExperienceMode {
	case "":
		config.Signing.ExperienceMode = ExperienceDeveloper
	case ExperienceDeveloper, ExperienceEnterprise:
	default:
		return fmt.Errorf("signing.experience_mode: unknown mode %q", config.Signing.ExperienceMode)
	}
	if config.Signing.ServerMethod < 0 || config.Signing.ServerMethod > 2 {
		return fmt.Errorf("signing.server_method: must be 0, 1 or 2, not %d", config.Signing.ServerMethod)
	}
	if config.Local == nil {
		config.Local = new(LocalConfig)
	}
	if config.Remote == nil {
		config.Remote = new(RemoteConfig)
	}
	if config.Notify == nil {
		config.Notify = new(NotifyConfig)
	}
	if config.Install == nil {
		config.Install = new(InstallConfig)
	}
	if config.Install.Listen == "" {
		config.Install.Listen = defaultInstallListen
	}
	return nil
}

// GetToolCmd expands the local signing tool's command line. A word that is
// exactly "{name}" for a name in lists expands to one word per item, and
// "{name:-flag}" expands to a "-flag item" pair per item.
func (lc *LocalConfig) GetToolCmd(vars map[string]string, lists map[string][]string) ([]string, error) {
	if lc.Tool == "" {
		return nil, errors.New("local signing requires 'tool' to be set in the 'local' section of configuration")
	}
	words, err := shellwords.Parse(lc.Tool)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tool commandline: %w", err)
	}
	var expanded []string
	for _, word := range words {
		if strings.HasPrefix(word, "{") && strings.HasSuffix(word, "}") {
			name, flag, _ := strings.Cut(word[1:len(word)-1], ":")
			if items, ok := lists[name]; ok {
				for _, item := range items {
					if flag != "" {
						expanded = append(expanded, flag)
					}
					expanded = append(expanded, item)
				}
				continue
			}
		}
		for name, value := range vars {
			word = strings.ReplaceAll(word, "{"+name+"}", value)
		}
		expanded = append(expanded, word)
	}
	return expanded, nil
}

func (lc *LocalConfig) GetTimeout() time.Duration {
	if lc.Timeout > 0 {
		return time.Duration(lc.Timeout) * time.Second
	}
	return defaultLocalTimeout
}

func (rc *RemoteConfig) GetTimeout() time.Duration {
	if rc.Timeout > 0 {
		return time.Duration(rc.Timeout) * time.Second
	}
	return defaultRemoteTimeout
}

func (rc *RemoteConfig) GetRetries() int {
	if rc.Retries > 0 {
		return rc.Retries
	}
	return defaultRetries
}

func (ic *InstallConfig) GetDelay() time.Duration {
	if ic.Delay > 0 {
		return time.Duration(ic.Delay * float64(time.Second))
	}
	return defaultInstallDelay
}

func (ic *InstallConfig) GetLinkLifetime() time.Duration {
	if ic.LinkLifetime > 0 {
		return time.Duration(ic.LinkLifetime * float64(time.Second))
	}
	return defaultLinkLifetime
}

func (nc *NotifyConfig) ExchangeName() string {
	if nc.Exchange != "" {
		return nc.Exchange
	}
	return "ipasign.ready"
}
