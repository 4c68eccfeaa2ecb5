/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads server/agent settings with defaults overlaid by
// environment variables and then by an optional YAML file, validated before
// use. Grounded on internal/config/config.go in the wisbric-nightowl
// example: struct tags drive caarlos0/env parsing, with defaults encoded as
// envDefault; SPEC_FULL.md adds the YAML layer (gopkg.in/yaml.v3) and
// struct-tag validation (go-playground/validator/v10) the teacher's own
// settings.Validate() exercises, since k3rs has no ConfigMap to source from.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Server holds the k3rs-server process configuration.
type Server struct {
	ObjectStoreURL string        `yaml:"objectStoreUrl" env:"K3RS_OBJECT_STORE_URL" envDefault:"file://./data" validate:"required"`
	ListenAddr     string        `yaml:"listenAddr" env:"K3RS_LISTEN_ADDR" envDefault:"0.0.0.0:6443" validate:"required"`
	LeaseTTL       time.Duration `yaml:"leaseTtl" env:"K3RS_LEASE_TTL" envDefault:"15s" validate:"required,gt=0"`
	RenewInterval  time.Duration `yaml:"renewInterval" env:"K3RS_RENEW_INTERVAL" envDefault:"5s" validate:"required,gt=0"`
	EventRetention int           `yaml:"eventRetention" env:"K3RS_EVENT_RETENTION" envDefault:"10000" validate:"required,gte=10000"`
	CompactEvery   time.Duration `yaml:"compactEvery" env:"K3RS_COMPACT_EVERY" envDefault:"1h" validate:"required,gt=0"`
	CompactOlderThan time.Duration `yaml:"compactOlderThan" env:"K3RS_COMPACT_OLDER_THAN" envDefault:"168h" validate:"required,gt=0"`
	LogLevel       string        `yaml:"logLevel" env:"K3RS_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

// Agent holds the k3rs-agent process configuration.
type Agent struct {
	NodeName       string        `yaml:"nodeName" env:"K3RS_NODE_NAME" validate:"required"`
	ServerAddr     string        `yaml:"serverAddr" env:"K3RS_SERVER_ADDR" envDefault:"127.0.0.1:6443" validate:"required"`
	SyncPeriod     time.Duration `yaml:"syncPeriod" env:"K3RS_SYNC_PERIOD" envDefault:"5s" validate:"required,gt=0"`
	RuntimeStateDir string       `yaml:"runtimeStateDir" env:"K3RS_RUNTIME_STATE_DIR" envDefault:"/var/lib/k3rs/containers" validate:"required"`
	LogLevel       string        `yaml:"logLevel" env:"K3RS_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

// LoadServer fills envDefault values and any set environment variables
// first, then (if path is non-empty and the file exists) overlays a YAML
// file on top — yaml.Unmarshal only touches the keys present in the
// document, so a field the file omits keeps its env/default value rather
// than being reset. CLI flags, when present, are applied by the caller
// after LoadServer returns, giving the precedence order CLI > file > env >
// defaults that spec.md's config layering expects of an operator-facing
// tool.
func LoadServer(path string) (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parsing server config from env: %w", err)
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Server{}, err
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return Server{}, fmt.Errorf("validating server config: %w", err)
	}
	return cfg, nil
}

func LoadAgent(path string) (Agent, error) {
	var cfg Agent
	if err := env.Parse(&cfg); err != nil {
		return Agent{}, fmt.Errorf("parsing agent config from env: %w", err)
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Agent{}, err
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return Agent{}, fmt.Errorf("validating agent config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

func loadYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}
