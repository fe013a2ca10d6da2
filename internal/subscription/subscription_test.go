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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/ecs-task-annotator/internal/mapping"
	"github.com/cardinalhq/ecs-task-annotator/internal/resourceref"
)

type recordingBinder struct {
	bound []*Subscription
	err   error
}

func (b *recordingBinder) Bind(sub *Subscription) error {
	b.bound = append(b.bound, sub)
	return b.err
}

func validSpec() Spec {
	return Spec{
		Name: "annotator",
		Entries: []mapping.Entry{
			{
				Ref:          "arn:aws:ecs:us-east-1:123456789012:service/my-cluster/my-home-service",
				ServiceRoles: mapping.ServiceRoles{Service: "My-Home", Roles: []string{"app"}},
			},
		},
		Credentials: CredentialRef{ParameterName: "/mackerel/api-key"},
	}
}

func TestPlan(t *testing.T) {
	sub, err := Plan(validSpec())
	require.NoError(t, err)

	assert.Equal(t, "annotator", sub.Name())
	assert.False(t, sub.Filter().Scoped())
	assert.Equal(t, 1, sub.Mapping().Len())
	assert.Equal(t, "/mackerel/api-key", sub.Credentials().ParameterName)
	assert.JSONEq(t, `{"service:my-home-service": {"service": "My-Home", "roles": ["app"]}}`, string(sub.Config()))
	assert.NotEmpty(t, sub.ConfigHash())

	env := sub.Environment()
	assert.Len(t, env, 2)
	assert.JSONEq(t, string(sub.Config()), env[EnvMapping])
	assert.Equal(t, "/mackerel/api-key", env[EnvCredentialParameter])

	pattern, err := sub.EventPattern()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"source": ["aws.ecs"],
		"detail-type": ["ECS Task State Change"],
		"detail": {"lastStatus": ["STOPPED"]}
	}`, pattern)
}

func TestPlan_Scoped(t *testing.T) {
	spec := validSpec()
	spec.ClusterScope = []string{"arn:aws:ecs:us-east-1:123456789012:cluster/c1"}
	sub, err := Plan(spec)
	require.NoError(t, err)
	assert.Equal(t, spec.ClusterScope, sub.Filter().ClusterScope())
}

func TestPlan_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
		target error
	}{
		{
			"missing name",
			func(s *Spec) { s.Name = "" },
			errMissingName,
		},
		{
			"missing credentials",
			func(s *Spec) { s.Credentials = CredentialRef{} },
			errMissingCredentialRef,
		},
		{
			"invalid ref",
			func(s *Spec) {
				s.Entries = append(s.Entries, mapping.Entry{Ref: "not-an-arn"})
			},
			resourceref.ErrInvalidResourceRef,
		},
		{
			"bare cluster name",
			func(s *Spec) { s.ClusterScope = []string{"my-cluster"} },
			resourceref.ErrInvalidResourceRef,
		},
		{
			"service arn as cluster",
			func(s *Spec) {
				s.ClusterScope = []string{"arn:aws:ecs:us-east-1:123456789012:service/my-cluster/my-home-service"}
			},
			resourceref.ErrInvalidResourceRef,
		},
		{
			"duplicate key",
			func(s *Spec) {
				s.Entries = append(s.Entries, mapping.Entry{
					Ref: "arn:aws:ecs:us-east-1:123456789012:service/other/my-home-service",
				})
			},
			mapping.ErrDuplicateMappingKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			sub, err := Plan(spec)
			assert.Nil(t, sub)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestPlan_ReportsEveryBadCluster(t *testing.T) {
	spec := validSpec()
	spec.ClusterScope = []string{
		"my-cluster",
		"arn:aws:ecs:us-east-1:123456789012:cluster/c1",
		"arn:aws:ecs:us-east-1:123456789012:cluster/",
	}
	sub, err := Plan(spec)
	assert.Nil(t, sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clusters[0]")
	assert.Contains(t, err.Error(), "clusters[2]")
	assert.NotContains(t, err.Error(), "clusters[1]")
}

func TestWire(t *testing.T) {
	sub, err := Plan(validSpec())
	require.NoError(t, err)

	binder := &recordingBinder{}
	require.NoError(t, Wire(binder, sub))
	require.Len(t, binder.bound, 1)
	assert.Same(t, sub, binder.bound[0])
}

func TestWire_Errors(t *testing.T) {
	binder := &recordingBinder{}
	assert.ErrorIs(t, Wire(binder, nil), ErrNotPlanned)
	assert.ErrorIs(t, Wire(binder, &Subscription{}), ErrNotPlanned)
	assert.Empty(t, binder.bound)

	sub, err := Plan(validSpec())
	require.NoError(t, err)
	boom := errors.New("boom")
	err = Wire(&recordingBinder{err: boom}, sub)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `"annotator"`)
}

func TestWire_Once(t *testing.T) {
	sub, err := Plan(validSpec())
	require.NoError(t, err)

	binder := &recordingBinder{}
	require.NoError(t, Wire(binder, sub))
	assert.ErrorIs(t, Wire(binder, sub), ErrAlreadyBound)
	assert.Len(t, binder.bound, 1)
}

func TestWire_RetryAfterFailure(t *testing.T) {
	sub, err := Plan(validSpec())
	require.NoError(t, err)

	failing := &recordingBinder{err: errors.New("throttled")}
	require.Error(t, Wire(failing, sub))

	binder := &recordingBinder{}
	require.NoError(t, Wire(binder, sub))
	assert.Len(t, binder.bound, 1)
}

func TestFailedPlanNeverBinds(t *testing.T) {
	spec := validSpec()
	spec.Entries = append(spec.Entries, mapping.Entry{Ref: "not-an-arn"})
	binder := &recordingBinder{}

	sub, err := Plan(spec)
	require.Error(t, err)
	assert.ErrorIs(t, Wire(binder, sub), ErrNotPlanned)
	assert.Empty(t, binder.bound)
}

func TestMergeEnvironment(t *testing.T) {
	sub, err := Plan(validSpec())
	require.NoError(t, err)

	env := sub.MergeEnvironment(map[string]string{
		"LOG_LEVEL":            "debug",
		EnvCredentialParameter: "/override/attempt",
	})
	assert.Equal(t, "debug", env["LOG_LEVEL"])
	assert.Equal(t, "/mackerel/api-key", env[EnvCredentialParameter])
	assert.Contains(t, env, EnvMapping)
}

func TestConfig_ReturnsCopy(t *testing.T) {
	sub, err := Plan(validSpec())
	require.NoError(t, err)
	cfg := sub.Config()
	cfg[0] = 'X'
	assert.NotEqual(t, cfg, sub.Config())
}
