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
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sassoftware/ipasign/config"
	"github.com/sassoftware/ipasign/internal/zhttp"
	"github.com/sassoftware/ipasign/store"
)

// InitConfig loads the configuration file and sets up logging. A missing
// default configuration file is not an error; built-in defaults are used.
func InitConfig() error {
	if CurrentConfig != nil {
		return nil
	}
	usedDefault := false
	if ArgConfig == "" {
		ArgConfig = config.DefaultConfig()
		usedDefault = true
	}
	conf, err := config.ReadFile(ArgConfig)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || !usedDefault {
			return err
		}
		conf = config.New()
	}
	if err := zhttp.SetupLogging(conf.LogLevel, conf.LogFile); err != nil {
		return err
	}
	CurrentConfig = conf
	return nil
}

// Context returns a context carrying the global logger that is canceled on
// SIGINT or SIGTERM
func Context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(log.Logger.WithContext(context.Background()))
	go watchSignals(ctx, cancel)
	return ctx, cancel
}

// OpenStore opens the persisted defaults and identity list
func OpenStore() (*store.DiskStore, error) {
	if err := InitConfig(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(CurrentConfig.StateDir, 0700); err != nil {
		return nil, err
	}
	return store.NewDiskStore(CurrentConfig.StateDir), nil
}

// PrintYAML writes v to stdout
func PrintYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func Fail(err error) error {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(70)
	}
	return err
}
