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

package defaultscmd

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sassoftware/ipasign/cmdline/shared"
	"github.com/sassoftware/ipasign/signopts"
)

var RemapCmd = &cobra.Command{
	Use:   "remap",
	Short: "Manage remembered display name and bundle identifier renames",
}

var RemapListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered renames",
	Args:  cobra.NoArgs,
	RunE:  remapListCmd,
}

var RemapClearCmd = &cobra.Command{
	Use:   "clear [original...]",
	Short: "Forget renames of the given original names or identifiers, or all of them",
	RunE:  remapClearCmd,
}

func init() {
	shared.RootCmd.AddCommand(RemapCmd)
	RemapCmd.AddCommand(RemapListCmd, RemapClearCmd)
}

func remapListCmd(cmd *cobra.Command, args []string) error {
	orch, err := openOrchestrator()
	if err != nil {
		return err
	}
	opts, err := orch.Config.LoadDefaults()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tORIGINAL\tREMAPPED")
	writeRemaps(tw, "name", opts.DisplayNames)
	writeRemaps(tw, "identifier", opts.Identifiers)
	return tw.Flush()
}

func writeRemaps(tw *tabwriter.Writer, kind string, table map[string]string) {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", kind, k, table[k])
	}
}

func remapClearCmd(cmd *cobra.Command, args []string) error {
	orch, err := openOrchestrator()
	if err != nil {
		return err
	}
	opts, err := orch.Config.LoadDefaults()
	if err != nil {
		return err
	}
	if n := clearRemaps(opts, args); n == 0 {
		return errors.New("no remaps matched")
	}
	return orch.Config.Save(opts)
}

// clearRemaps removes the remaps keyed by any of originals, or every remap
// if none are given. It returns how many were removed.
func clearRemaps(opts *signopts.Options, originals []string) int {
	var n int
	for _, table := range []map[string]string{opts.DisplayNames, opts.Identifiers} {
		for k := range table {
			if len(originals) == 0 || slices.Contains(originals, k) {
				delete(table, k)
				n++
			}
		}
	}
	return n
}

