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
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sassoftware/ipasign/cmdline/shared"
	"github.com/sassoftware/ipasign/signing"
	"github.com/sassoftware/ipasign/signopts"
)

var DefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "View and change the default signing options",
}

var ShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the default signing options",
	Args:  cobra.NoArgs,
	RunE:  showCmd,
}

var SetCmd = &cobra.Command{
	Use:   "set <key> <value> [<key> <value>...]",
	Short: "Change default signing options",
	Long:  "Change default signing options. Values are YAML, so lists are written as [a, b] and an empty value or null clears an override.",
	Args:  setArgs,
	RunE:  setCmd,
}

var ResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the factory defaults, keeping remaps and the PPQ token",
	Args:  cobra.NoArgs,
	RunE:  resetCmd,
}

var RegenerateCmd = &cobra.Command{
	Use:   "regenerate-ppq",
	Short: "Generate a new PPQ token",
	Args:  cobra.NoArgs,
	RunE:  regenerateCmd,
}

func init() {
	shared.RootCmd.AddCommand(DefaultsCmd)
	DefaultsCmd.AddCommand(ShowCmd, SetCmd, ResetCmd, RegenerateCmd)
}

func openOrchestrator() (*signing.Orchestrator, error) {
	st, err := shared.OpenStore()
	if err != nil {
		return nil, err
	}
	return &signing.Orchestrator{
		Config: st,
		Certs:  st,
		Mode:   signing.ExperienceMode(shared.CurrentConfig.Signing.ExperienceMode),
	}, nil
}

func showCmd(cmd *cobra.Command, args []string) error {
	orch, err := openOrchestrator()
	if err != nil {
		return err
	}
	opts, err := orch.Config.LoadDefaults()
	if err != nil {
		return err
	}
	return shared.PrintYAML(opts)
}

func setArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 || len(args)%2 != 0 {
		return fmt.Errorf("expected key and value pairs, got %d arguments", len(args))
	}
	return nil
}

func setCmd(cmd *cobra.Command, args []string) error {
	orch, err := openOrchestrator()
	if err != nil {
		return err
	}
	opts, err := orch.Config.LoadDefaults()
	if err != nil {
		return err
	}
	for i := 0; i < len(args); i += 2 {
		opts, err = setOption(opts, args[i], args[i+1])
		if err != nil {
			return err
		}
	}
	return orch.SaveDefaults(opts)
}

func resetCmd(cmd *cobra.Command, args []string) error {
	orch, err := openOrchestrator()
	if err != nil {
		return err
	}
	current, err := orch.Config.LoadDefaults()
	if err != nil {
		return err
	}
	forced, err := orch.Forced()
	if err != nil {
		return err
	}
	return orch.SaveDefaults(factoryReset(current, forced))
}

// factoryReset returns the factory defaults, carrying over what identifies
// previously signed apps
func factoryReset(current *signopts.Options, forced bool) *signopts.Options {
	fresh := signopts.Default()
	fresh.PPQString = current.PPQString
	fresh.DisplayNames = current.Clone().DisplayNames
	fresh.Identifiers = current.Clone().Identifiers
	fresh.PPQProtection = forced
	fresh.Normalize()
	return fresh
}

func regenerateCmd(cmd *cobra.Command, args []string) error {
	orch, err := openOrchestrator()
	if err != nil {
		return err
	}
	opts, err := orch.Config.LoadDefaults()
	if err != nil {
		return err
	}
	opts.PPQString = signopts.NewPPQString()
	if err := orch.SaveDefaults(opts); err != nil {
		return err
	}
	fmt.Println(opts.PPQString)
	return nil
}

// remap tables are edited through the remap command
var reservedKeys = map[string]bool{"display_names": true, "identifiers": true}

// optionKeys lists the settable YAML keys of Options
func optionKeys() []string {
	var keys []string
	t := reflect.TypeOf(signopts.Options{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name != "" && name != "-" && !reservedKeys[name] {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys
}

// setOption returns a copy of opts with the YAML-encoded value assigned to key
func setOption(opts *signopts.Options, key, value string) (*signopts.Options, error) {
	known := false
	for _, k := range optionKeys() {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown option %q; valid options are: %s", key, strings.Join(optionKeys(), ", "))
	}
	blob, err := yaml.Marshal(opts)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]interface{})
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return nil, err
	}
	var v interface{}
	if err := yaml.Unmarshal([]byte(value), &v); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if v == nil {
		delete(doc, key)
	} else {
		doc[key] = v
	}
	blob, err = yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	updated := new(signopts.Options)
	if err := yaml.Unmarshal(blob, updated); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	return updated, nil
}
