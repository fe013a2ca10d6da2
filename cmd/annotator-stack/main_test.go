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

package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingMocks struct {
	sync.Mutex
	types []string
}

func (m *countingMocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.Lock()
	m.types = append(m.types, args.TypeToken)
	m.Unlock()
	outputs := resource.PropertyMap{}
	for k, v := range args.Inputs {
		outputs[k] = v
	}
	outputs["arn"] = resource.NewStringProperty("arn:aws:mock::" + args.Name)
	return args.Name + "_id", outputs, nil
}

func (m *countingMocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	return resource.PropertyMap{}, nil
}

const stackConfig = `
name: annotator
credentials:
  parameterName: /mackerel/api-key
services:
  - arn: arn:aws:ecs:ap-northeast-1:123456789012:service/c1/my-home-service
    service: My-Home
    roles: [app]
handler:
  codePath: annotator.zip
`

func TestRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annotator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(stackConfig), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "annotator.zip"), nil, 0600))

	t.Setenv("ANNOTATOR_DEFAULT_ACCOUNT", "123456789012")
	t.Setenv("ANNOTATOR_DEFAULT_REGION", "ap-northeast-1")
	t.Setenv(pulumi.EnvConfig, `{"annotator:annotatorConfig": "`+path+`"}`)

	mocks := &countingMocks{}
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		return run(ctx, zaptest.NewLogger(t))
	}, pulumi.WithMocks("annotator", "test", mocks))
	require.NoError(t, err)

	assert.Contains(t, mocks.types, "aws:lambda/function:Function")
	assert.Contains(t, mocks.types, "aws:cloudwatch/eventRule:EventRule")
}

func TestRun_InvalidMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annotator.yaml")
	data := strings.Replace(stackConfig, "handler:", `  - arn: arn:aws:ecs:ap-northeast-1:123456789012:service/c2/my-home-service
    service: Other
handler:`, 1)
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	t.Setenv("ANNOTATOR_DEFAULT_ACCOUNT", "123456789012")
	t.Setenv("ANNOTATOR_DEFAULT_REGION", "ap-northeast-1")
	t.Setenv(pulumi.EnvConfig, `{"annotator:annotatorConfig": "`+path+`"}`)

	mocks := &countingMocks{}
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		return run(ctx, zaptest.NewLogger(t))
	}, pulumi.WithMocks("annotator", "test", mocks))
	assert.ErrorContains(t, err, "duplicate mapping key")
	assert.Empty(t, mocks.types)
}
