/*
 * Copyright (c) SAS Institute Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package signcmd

import (
	"context"
	"fmt"
	"os"

	"github.com/cli/browser"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sassoftware/ipasign/cmdline/shared"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signing"
	"github.com/sassoftware/ipasign/signopts"
)

var SignCmd = &cobra.Command{
	Use:   "sign [flags] <app.ipa>",
	Short: "Sign an app package with the selected identity",
	Args:  cobra.ExactArgs(1),
	RunE:  signCmd,
}

var (
	argShow         bool
	argOpenLink     bool
	argName         string
	argBundleID     string
	argAppVersion   string
	argIcon         string
	argPPQ          bool
	argInject       []string
	argStrip        []string
	argRemoveFiles  []string
	argSigningType  string
	argAppearance   string
	argMinimumOS    string
	argInstall      bool
	argDelete       bool
	argFileSharing  bool
	argRemoveScheme bool
)

func init() {
	shared.RootCmd.AddCommand(SignCmd)
	addFlags(SignCmd)
}

func addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&argShow, "show", false, "Print the session's options and exit without signing")
	f.BoolVar(&argOpenLink, "open", false, "Open the install link returned by a remote server in a browser")
	f.StringVar(&shared.ArgMethod, "method", "", "Signing backend: local, semi-local or remote")
	f.StringVar(&argName, "name", "", "Display name to give the app")
	f.StringVar(&argBundleID, "bundle-id", "", "Bundle identifier to give the app")
	f.StringVar(&argAppVersion, "app-version", "", "Version to give the app")
	f.StringVar(&argIcon, "icon", "", "PNG file to use as the app icon")
	f.BoolVar(&argPPQ, "ppq", false, "Append the PPQ token to the bundle identifier")
	f.StringArrayVar(&argInject, "inject", nil, "Tweak or library to inject (repeatable)")
	f.StringArrayVar(&argStrip, "strip", nil, "Injected library to remove from the binary (repeatable)")
	f.StringArrayVar(&argRemoveFiles, "remove-file", nil, "Path inside the bundle to delete (repeatable)")
	f.StringVar(&argSigningType, "signing-type", "", "default, modify-only or adhoc")
	f.StringVar(&argAppearance, "appearance", "", "default, light or dark")
	f.StringVar(&argMinimumOS, "minimum-os", "", "Override MinimumOSVersion")
	f.BoolVar(&argInstall, "install", false, "Install the app once signed")
	f.BoolVar(&argDelete, "delete", false, "Delete the source package once signed")
	f.BoolVar(&argFileSharing, "file-sharing", false, "Enable document browser file sharing")
	f.BoolVar(&argRemoveScheme, "remove-url-schemes", false, "Remove URL schemes")
}

func signCmd(cmd *cobra.Command, args []string) error {
	orch, inst, err := shared.NewOrchestrator()
	if err != nil {
		return err
	}
	ctx, cancel := shared.Context()
	defer cancel()
	app, err := ipa.Inspect(args[0])
	if err != nil {
		return err
	}
	sess, err := orch.Open(ctx, app)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := applyFlags(cmd, sess); err != nil {
		return err
	}
	opts := sess.Options()
	if argShow {
		return shared.PrintYAML(opts)
	}

	logger := zerolog.Ctx(ctx)
	sess.OnProgress(func(signing bool) {
		if signing {
			logger.Info().Str("app", app.Name).Msg("signing")
		}
	})
	if opts.PostInstallAppAfterSigned {
		go func() {
			if err := inst.Serve(ctx); err != nil {
				logger.Error().Err(err).Msg("install server failed")
			}
		}()
	}
	pending, err := sess.Sign(ctx)
	if err != nil {
		return err
	}
	out, err := pending.WaitContext(ctx)
	if err != nil {
		return err
	}
	return report(ctx, app, out)
}

// applyFlags copies the flags given on the command line into the session.
// Flags that were not given leave the stored defaults alone.
func applyFlags(cmd *cobra.Command, sess *signing.Session) error {
	f := cmd.Flags()
	if f.Changed("ppq") {
		if err := sess.SetPPQProtection(argPPQ); err != nil {
			return err
		}
	}
	if f.Changed("name") {
		if err := sess.SetAppName(argName); err != nil {
			return err
		}
	}
	if f.Changed("bundle-id") {
		if err := sess.SetAppIdentifier(argBundleID); err != nil {
			return err
		}
	}
	if f.Changed("app-version") {
		if err := sess.SetAppVersion(argAppVersion); err != nil {
			return err
		}
	}
	if argIcon != "" {
		png, err := os.ReadFile(argIcon)
		if err != nil {
			return err
		}
		if err := sess.SetIcon(png); err != nil {
			return err
		}
	}
	for _, fp := range argInject {
		if err := sess.AddInjectionFile(fp); err != nil {
			return err
		}
	}
	if err := sess.Update(func(opts *signopts.Options) {
		opts.DisInjectionFiles = append(opts.DisInjectionFiles, argStrip...)
		opts.RemoveFiles = append(opts.RemoveFiles, argRemoveFiles...)
		if argSigningType != "" {
			opts.SigningType = signopts.SigningType(argSigningType)
		}
		if argAppearance != "" {
			opts.Appearance = signopts.Appearance(argAppearance)
		}
		if argMinimumOS != "" {
			opts.MinimumAppRequirement = argMinimumOS
		}
		if f.Changed("install") {
			opts.PostInstallAppAfterSigned = argInstall
		}
		if f.Changed("delete") {
			opts.PostDeleteAppAfterSigned = argDelete
		}
		if f.Changed("file-sharing") {
			opts.FileSharing = argFileSharing
		}
		if f.Changed("remove-url-schemes") {
			opts.RemoveURLScheme = argRemoveScheme
		}
	}); err != nil {
		return err
	}
	return sess.Options().Validate()
}

func report(ctx context.Context, app *ipa.App, out signing.Outcome) error {
	logger := zerolog.Ctx(ctx)
	if !out.OK() {
		return fmt.Errorf("signing %s with the %s backend: %w", app.Name, out.Backend, out.Err)
	}
	logger.Info().Dur("duration", out.Duration).Str("backend", out.Backend).Msg("signing complete")
	if out.PostErr != nil {
		logger.Warn().Err(out.PostErr).Msg("some post-signing actions failed")
	}
	switch out.Action {
	case signing.ActionOfferInstallLink:
		fmt.Println(out.InstallLink)
		if argOpenLink {
			return browser.OpenURL(out.InstallLink)
		}
	default:
		fmt.Println(out.ArtifactPath)
	}
	if out.InstallRequested {
		logger.Info().Msg("serving the package for install; press Ctrl-C when done")
		<-ctx.Done()
	}
	return nil
}
