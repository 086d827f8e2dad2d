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

package shared

import (
	"github.com/sassoftware/ipasign/config"
	"github.com/sassoftware/ipasign/installer"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/notify"
	"github.com/sassoftware/ipasign/signers/localsigner"
	"github.com/sassoftware/ipasign/signers/remotesigner"
	"github.com/sassoftware/ipasign/signing"
	"github.com/sassoftware/ipasign/store"
)

// ArgMethod overrides the configured signing backend when set
var ArgMethod string

// NewOrchestrator wires the signing orchestrator to the persisted state, the
// OS keyring and the configured backends
func NewOrchestrator() (*signing.Orchestrator, *installer.Server, error) {
	st, err := OpenStore()
	if err != nil {
		return nil, nil, err
	}
	conf := CurrentConfig
	keys := store.Keyring{}
	remote, err := remotesigner.New(conf.Remote, keys)
	if err != nil {
		return nil, nil, err
	}
	inst, err := installer.New(conf.Install)
	if err != nil {
		return nil, nil, err
	}
	method := readMethod
	if ArgMethod != "" {
		m, err := signing.ParseServerMethod(ArgMethod)
		if err != nil {
			return nil, nil, err
		}
		method = func() signing.ServerMethod { return m }
	}
	orch := &signing.Orchestrator{
		Config: st,
		Certs:  st,
		Mode:   signing.ExperienceMode(conf.Signing.ExperienceMode),
		Method: method,
		Local:  localsigner.New(conf.Local, keys),
		Remote: remote,
		NewDetector: func(app *ipa.App) signing.Detector {
			return ipa.Detector{Path: app.Path}
		},
		PostActions: signing.PostActions{
			Artifacts:     store.FileArtifacts{},
			Notifier:      notify.FromConfig(conf.Notify),
			NotifyEnabled: conf.Notify.Enabled,
			Installer:     inst,
			InstallDelay:  conf.Install.GetDelay(),
		},
	}
	return orch, inst, nil
}

// readMethod re-reads the backend switch so a change made while a session
// is open applies to its dispatch
func readMethod() signing.ServerMethod {
	conf := CurrentConfig
	if conf.Path() != "" {
		if fresh, err := config.ReadFile(conf.Path()); err == nil {
			conf = fresh
		}
	}
	return signing.ServerMethod(conf.Signing.ServerMethod)
}
