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

// Package localsigner prepares an IPA in-process and hands it to an external
// code signing tool.
package localsigner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sassoftware/ipasign/config"
	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/lib/atomicfile"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

// Passwords supplies the PKCS#12 password of an identity
type Passwords interface {
	Password(identityID string) (string, error)
}

// Signer implements local signing
type Signer struct {
	Config    *config.LocalConfig
	Passwords Passwords
}

// New returns a local signer using the tool configured in conf
func New(conf *config.LocalConfig, passwords Passwords) *Signer {
	return &Signer{Config: conf, Passwords: passwords}
}

// OutputPath is where the signed copy of app is written
func (s *Signer) OutputPath(app *ipa.App) string {
	dir := s.Config.OutputDir
	if dir == "" {
		dir = filepath.Dir(app.Path)
	}
	base := strings.TrimSuffix(filepath.Base(app.Path), filepath.Ext(app.Path))
	return filepath.Join(dir, base+"-signed.ipa")
}

// Sign applies the bundle modifications in opts, runs the signing tool and
// writes the result to OutputPath(app)
func (s *Signer) Sign(ctx context.Context, app *ipa.App, opts *signopts.Options, icon []byte, ident *identity.Identity) error {
	scratchDir, err := os.MkdirTemp("", "ipasign-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratchDir)

	prepared := filepath.Join(scratchDir, "prepared.ipa")
	if err := s.prepare(app, opts, icon, prepared); err != nil {
		return fmt.Errorf("preparing %s: %w", filepath.Base(app.Path), err)
	}
	result := prepared
	if opts.SigningType != signopts.SigningModifyOnly {
		result = filepath.Join(scratchDir, "signed.ipa")
		cmdline, err := s.toolCmd(app, opts, ident, prepared, result)
		if err != nil {
			return err
		}
		if err := s.invoke(ctx, scratchDir, cmdline); err != nil {
			return err
		}
	}
	dest := s.OutputPath(app)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := publish(result, dest); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("output", dest).Msg("wrote signed package")
	return nil
}

func (s *Signer) prepare(app *ipa.App, opts *signopts.Options, icon []byte, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := ipa.Rewrite(app.Path, f, modifier{opts: opts, icon: icon}.apply); err != nil {
		return err
	}
	return f.Close()
}

func (s *Signer) toolCmd(app *ipa.App, opts *signopts.Options, ident *identity.Identity, input, output string) ([]string, error) {
	vars := map[string]string{
		"input":     input,
		"output":    output,
		"bundle_id": signopts.Value(opts.AppIdentifier, app.Identifier),
		"name":      signopts.Value(opts.AppName, app.Name),
		"version":   signopts.Value(opts.AppVersion, app.Version),
		"adhoc":     strconv.FormatBool(opts.SigningType == signopts.SigningAdhoc),
		"dynamic":   strconv.FormatBool(opts.DynamicProtection),
		"ellekit":   strconv.FormatBool(opts.ExperimentReplaceSubstrateWithEllekit),
	}
	if opts.SigningType != signopts.SigningAdhoc && ident != nil {
		password, err := s.Passwords.Password(ident.ID)
		if err != nil {
			return nil, fmt.Errorf("identity %q: %w", ident.Nickname, err)
		}
		vars["p12"] = ident.P12Path
		vars["profile"] = ident.Profile
		vars["password"] = password
	}
	lists := map[string][]string{
		"dylibs": opts.InjectionFiles,
		"strip":  opts.DisInjectionFiles,
	}
	return s.Config.GetToolCmd(vars, lists)
}

func (s *Signer) invoke(ctx context.Context, workDir string, cmdline []string) error {
	timeout := s.Config.GetTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var stdout, stderr bytes.Buffer
	proc := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	proc.Dir = workDir
	proc.Stdout = &stdout
	proc.Stderr = &stderr
	err := proc.Run()
	if err == nil {
		return nil
	}
	output := strings.TrimSpace(stdout.String() + stderr.String())
	logger := zerolog.Ctx(ctx).With().Str("command", formatCmdline(cmdline)).Logger()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Error().Str("output", output).Msgf("signing tool timed out after %d seconds", timeout/time.Second)
		return fmt.Errorf("signing tool timed out after %s", timeout)
	}
	logger.Error().Err(err).Str("output", output).Msg("error invoking signing tool")
	if line := lastLine(stderr.String()); line != "" {
		return fmt.Errorf("signing tool failed: %w: %s", err, line)
	}
	return fmt.Errorf("signing tool failed: %w", err)
}

// publish copies the finished package to dest without leaving a partial
// file behind
func publish(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := atomicfile.New(dest, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Commit()
}

// formatCmdline renders a command for logging with the password masked
func formatCmdline(cmdline []string) string {
	words := make([]string, len(cmdline))
	for i, word := range cmdline {
		if i > 0 && isPasswordFlag(cmdline[i-1]) {
			word = "********"
		}
		if strings.Contains(word, " ") {
			word = "\"" + word + "\""
		}
		words[i] = word
	}
	return strings.Join(words, " ")
}

func isPasswordFlag(word string) bool {
	return word == "-p" || word == "--password" || word == "-password"
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
