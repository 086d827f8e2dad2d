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

package installcmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sassoftware/ipasign/cmdline/shared"
	"github.com/sassoftware/ipasign/installer"
	"github.com/sassoftware/ipasign/lib/ipa"
)

var InstallCmd = &cobra.Command{
	Use:   "install <signed.ipa>",
	Short: "Serve a signed package for over-the-air install until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  installCmd,
}

var argOpen bool

func init() {
	shared.RootCmd.AddCommand(InstallCmd)
	InstallCmd.Flags().BoolVar(&argOpen, "open", false, "Open the install link in a browser")
}

func installCmd(cmd *cobra.Command, args []string) error {
	if err := shared.InitConfig(); err != nil {
		return err
	}
	conf := *shared.CurrentConfig.Install
	if cmd.Flags().Changed("open") {
		conf.OpenBrowser = argOpen
	}
	app, err := ipa.Inspect(args[0])
	if err != nil {
		return err
	}
	inst, err := installer.New(&conf)
	if err != nil {
		return err
	}
	ctx, cancel := shared.Context()
	defer cancel()
	listener, httpServer, err := inst.Listen()
	if err != nil {
		return err
	}
	errch := make(chan error, 1)
	go func() {
		errch <- inst.ServeListener(ctx, listener, httpServer)
	}()
	if err := inst.BeginInstall(ctx, args[0], app); err != nil {
		cancel()
		<-errch
		return err
	}
	zerolog.Ctx(ctx).Info().Str("app", app.Name).Msg("serving the package for install; press Ctrl-C when done")
	return <-errch
}
