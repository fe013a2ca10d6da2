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

package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/cardinalhq/ecs-task-annotator/internal/eventfilter"
	"github.com/cardinalhq/ecs-task-annotator/internal/mapping"
	"github.com/cardinalhq/ecs-task-annotator/internal/resourceref"
)

// Environment variables the annotation handler reads at startup.
const (
	EnvMapping             = "ECS_GROUP_MAPPING"
	EnvCredentialParameter = "MACKEREL_APIKEY_PARAMETER_NAME"
)

var (
	errMissingName          = errors.New("subscription name must be set")
	errMissingCredentialRef = errors.New("credential parameter name must be set")
	ErrNotPlanned           = errors.New("subscription was not planned")
	ErrAlreadyBound         = errors.New("subscription is already bound")
)

// CredentialRef locates the monitoring API key. It never holds the key.
type CredentialRef struct {
	ParameterName string
}

func (c CredentialRef) Validate() error {
	if c.ParameterName == "" {
		return errMissingCredentialRef
	}
	return nil
}

// Spec is everything needed to plan a subscription.
type Spec struct {
	Name         string
	Entries      []mapping.Entry
	ClusterScope []string
	Credentials  CredentialRef
}

// Subscription is a planned, not yet bound, binding of the task-stop
// filter to the annotation handler.
type Subscription struct {
	name        string
	filter      *eventfilter.Filter
	table       *mapping.Table
	credentials CredentialRef
	config      []byte
	bound       atomic.Bool
}

// Plan builds the mapping table, serializes it and compiles the event
// filter. Any error is returned before a Subscription exists, so nothing
// can be bound with a partial mapping.
func Plan(spec Spec) (*Subscription, error) {
	if spec.Name == "" {
		return nil, errMissingName
	}
	if err := spec.Credentials.Validate(); err != nil {
		return nil, err
	}
	if err := validateClusterScope(spec.ClusterScope); err != nil {
		return nil, err
	}
	table, err := mapping.Build(spec.Entries)
	if err != nil {
		return nil, fmt.Errorf("cannot build service mapping: %w", err)
	}
	config, err := json.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("cannot serialize service mapping: %w", err)
	}
	return &Subscription{
		name:        spec.Name,
		filter:      eventfilter.Compile(spec.ClusterScope),
		table:       table,
		credentials: spec.Credentials,
		config:      config,
	}, nil
}

// validateClusterScope rejects anything that is not a cluster ARN. A
// scope entry that can never equal an event's clusterArn would leave the
// rule watching nothing.
func validateClusterScope(clusters []string) error {
	var errs error
	for i, cluster := range clusters {
		if _, err := resourceref.ClusterName(cluster); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("clusters[%d]: %w", i, err))
		}
	}
	if errs != nil {
		return fmt.Errorf("invalid cluster scope: %w", errs)
	}
	return nil
}

func (s *Subscription) Name() string                { return s.name }
func (s *Subscription) Filter() *eventfilter.Filter { return s.filter }
func (s *Subscription) Mapping() *mapping.Table     { return s.table }
func (s *Subscription) Credentials() CredentialRef  { return s.credentials }

// Config returns the serialized mapping table.
func (s *Subscription) Config() []byte {
	out := make([]byte, len(s.config))
	copy(out, s.config)
	return out
}

// ConfigHash identifies the mapping content, formatted for use as a tag value.
func (s *Subscription) ConfigHash() string {
	return strconv.FormatUint(s.table.Hash(), 16)
}

// Environment is the static configuration handed to the handler.
func (s *Subscription) Environment() map[string]string {
	return map[string]string{
		EnvMapping:             string(s.config),
		EnvCredentialParameter: s.credentials.ParameterName,
	}
}

func (s *Subscription) EventPattern() (string, error) {
	data, err := json.Marshal(s.filter)
	if err != nil {
		return "", fmt.Errorf("cannot render event pattern: %w", err)
	}
	return string(data), nil
}

// Binder attaches a planned subscription to the event bus so that each
// matching delivery invokes the handler once with Environment available.
type Binder interface {
	Bind(sub *Subscription) error
}

// Wire binds sub through b. A subscription is bound at most once; a
// failed Bind may be retried.
func Wire(b Binder, sub *Subscription) error {
	if sub == nil || sub.table == nil || sub.filter == nil {
		return ErrNotPlanned
	}
	if !sub.bound.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %q", ErrAlreadyBound, sub.name)
	}
	if err := b.Bind(sub); err != nil {
		sub.bound.Store(false)
		return fmt.Errorf("cannot bind subscription %q: %w", sub.name, err)
	}
	return nil
}

// MergeEnvironment returns extra overlaid with the subscription
// environment. Keys owned by the subscription always win.
func (s *Subscription) MergeEnvironment(extra map[string]string) map[string]string {
	out := make(map[string]string, len(extra)+2)
	maps.Copy(out, extra)
	maps.Copy(out, s.Environment())
	return out
}
