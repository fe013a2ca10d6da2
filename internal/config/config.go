// Copyright 2024-2025 CardinalHQ, Inc
//
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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/ecs-task-annotator/internal/mapping"
	"github.com/cardinalhq/ecs-task-annotator/internal/subscription"
)

type Config struct {
	Name        string            `yaml:"name"`
	Credentials CredentialsConfig `yaml:"credentials"`
	// Clusters limits annotation to tasks in these cluster ARNs.
	// Empty means every cluster in the account and region.
	Clusters []string        `yaml:"clusters"`
	Services []ServiceConfig `yaml:"services"`
	Handler  HandlerConfig   `yaml:"handler"`
}

type CredentialsConfig struct {
	ParameterName string `yaml:"parameterName"`
}

type ServiceConfig struct {
	ARN     string   `yaml:"arn"`
	Service string   `yaml:"service"`
	Roles   []string `yaml:"roles"`
}

type HandlerConfig struct {
	CodePath         string            `yaml:"codePath"`
	Runtime          string            `yaml:"runtime"`
	Entrypoint       string            `yaml:"entrypoint"`
	Architecture     string            `yaml:"architecture"`
	MemorySize       int               `yaml:"memorySize"`
	Timeout          time.Duration     `yaml:"timeout"`
	LogRetentionDays int               `yaml:"logRetentionDays"`
	Environment      map[string]string `yaml:"environment"`
}

const (
	DefaultName             = "ecs-service-events-mackerel-annotator"
	DefaultRuntime          = "provided.al2023"
	DefaultEntrypoint       = "bootstrap"
	DefaultArchitecture     = "arm64"
	DefaultMemorySize       = 128
	DefaultTimeout          = 30 * time.Second
	DefaultLogRetentionDays = 14
)

var (
	architectures = []string{"arm64", "x86_64"}
	// Values accepted by CloudWatch Logs for retentionInDays.
	logRetentionDays = []int{1, 3, 5, 7, 14, 30, 60, 90, 120, 150, 180, 365, 400, 545, 731, 1096, 1827, 2192, 2557, 2922, 3288, 3653}

	errMissingParameterName = errors.New("credentials.parameterName must be set")
	errMissingCodePath      = errors.New("handler.codePath must be set")
	errEmptyServiceLabel    = errors.New("service must be set")
	errMemoryOutOfRange     = errors.New("handler.memorySize must be between 128 and 10240")
	errTimeoutOutOfRange    = errors.New("handler.timeout must be between 1s and 15m")
	errTimeoutPrecision     = errors.New("handler.timeout must be a whole number of seconds")
	errInvalidArchitecture  = errors.New("handler.architecture: supported values: " + strings.Join(architectures, ", "))
	errInvalidLogRetention  = errors.New("handler.logRetentionDays is not a CloudWatch Logs retention value")
)

// Load reads the file at path. A relative handler.codePath is taken
// relative to the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !filepath.IsAbs(cfg.Handler.CodePath) {
		cfg.Handler.CodePath = filepath.Join(filepath.Dir(path), cfg.Handler.CodePath)
	}
	return cfg, nil
}

// Parse decodes data, applies defaults and validates the result.
// Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) ApplyDefaults() {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	cfg.Handler.applyDefaults()
}

func (h *HandlerConfig) applyDefaults() {
	if h.Runtime == "" {
		h.Runtime = DefaultRuntime
	}
	if h.Entrypoint == "" {
		h.Entrypoint = DefaultEntrypoint
	}
	if h.Architecture == "" {
		h.Architecture = DefaultArchitecture
	}
	if h.MemorySize == 0 {
		h.MemorySize = DefaultMemorySize
	}
	if h.Timeout == 0 {
		h.Timeout = DefaultTimeout
	}
	if h.LogRetentionDays == 0 {
		h.LogRetentionDays = DefaultLogRetentionDays
	}
}

// Validate reports every problem found. Service and cluster ARNs are not
// checked here; subscription.Plan resolves them.
func (cfg *Config) Validate() error {
	var errs error
	if cfg.Credentials.ParameterName == "" {
		errs = multierr.Append(errs, errMissingParameterName)
	}
	for i, svc := range cfg.Services {
		if svc.Service == "" {
			errs = multierr.Append(errs, fmt.Errorf("services[%d] (%s): %w", i, svc.ARN, errEmptyServiceLabel))
		}
	}
	return multierr.Append(errs, cfg.Handler.Validate())
}

func (h *HandlerConfig) Validate() error {
	var errs error
	if h.CodePath == "" {
		errs = multierr.Append(errs, errMissingCodePath)
	}
	if h.MemorySize < 128 || h.MemorySize > 10240 {
		errs = multierr.Append(errs, errMemoryOutOfRange)
	}
	if h.Timeout < time.Second || h.Timeout > 15*time.Minute {
		errs = multierr.Append(errs, errTimeoutOutOfRange)
	}
	if h.Timeout%time.Second != 0 {
		errs = multierr.Append(errs, errTimeoutPrecision)
	}
	if !slices.Contains(architectures, h.Architecture) {
		errs = multierr.Append(errs, errInvalidArchitecture)
	}
	if !slices.Contains(logRetentionDays, h.LogRetentionDays) {
		errs = multierr.Append(errs, errInvalidLogRetention)
	}
	return errs
}

// Entries returns the service mappings in file order.
func (cfg *Config) Entries() []mapping.Entry {
	entries := make([]mapping.Entry, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		entries = append(entries, mapping.Entry{
			Ref: svc.ARN,
			ServiceRoles: mapping.ServiceRoles{
				Service: svc.Service,
				Roles:   svc.Roles,
			},
		})
	}
	return entries
}

func (cfg *Config) SubscriptionSpec() subscription.Spec {
	return subscription.Spec{
		Name:         cfg.Name,
		Entries:      cfg.Entries(),
		ClusterScope: cfg.Clusters,
		Credentials: subscription.CredentialRef{
			ParameterName: cfg.Credentials.ParameterName,
		},
	}
}
