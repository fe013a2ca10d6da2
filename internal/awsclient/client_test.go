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

package awsclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNew(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	clients, err := New(context.Background(), Options{
		Region:    "ap-northeast-1",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Endpoint:  "http://localhost:4566",
	})
	require.NoError(t, err)
	assert.Equal(t, "ap-northeast-1", clients.Config.Region)
	assert.NotNil(t, clients.ECS)
	assert.NotNil(t, clients.SSM)
	assert.NotNil(t, clients.STS)
	assert.Equal(t, "http://localhost:4566", *clients.ECS.Options().BaseEndpoint)
}

func TestLoadConfig_StaticCredentials(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	cfg, err := LoadConfig(context.Background(), Options{
		Region:    "us-east-1",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
}

func TestLoadConfig_RegionOnly(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	cfg, err := LoadConfig(context.Background(), Options{Region: "eu-central-1"})
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", cfg.Region)
}

func TestLoadConfig_TracerProvider(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	without, err := LoadConfig(context.Background(), Options{Region: "us-east-1"})
	require.NoError(t, err)
	with, err := LoadConfig(context.Background(), Options{
		Region:         "us-east-1",
		TracerProvider: noop.NewTracerProvider(),
	})
	require.NoError(t, err)
	assert.Len(t, with.APIOptions, len(without.APIOptions))
	assert.NotEmpty(t, with.APIOptions)
}
