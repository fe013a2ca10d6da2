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
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Region    string
	Profile   string
	AccessKey string
	SecretKey string
	// Endpoint overrides the service endpoint for every client, for use
	// against local emulators.
	Endpoint string
	// TracerProvider receives the SDK call spans. The global provider is
	// used when nil.
	TracerProvider trace.TracerProvider
}

// Clients holds the SDK clients used by the preflight checks and target
// discovery.
type Clients struct {
	Config aws.Config
	ECS    *ecs.Client
	SSM    *ssm.Client
	STS    *sts.Client
}

func newChainProvider(providers ...aws.CredentialsProvider) aws.CredentialsProvider {
	return aws.NewCredentialsCache(
		aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			var errs []error
			for _, p := range providers {
				if p == nil {
					continue
				}
				creds, err := p.Retrieve(ctx)
				if err == nil {
					return creds, nil
				}
				errs = append(errs, err)
			}
			return aws.Credentials{}, fmt.Errorf("no valid providers in chain: %s", errs)
		}),
	)
}

func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	httpClient := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{}
		}
		tr.TLSClientConfig.MinVersion = tls.VersionTLS13
	})

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithClientLogMode(aws.LogDeprecatedUsage),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load aws config: %w", err)
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		cfg.Credentials = newChainProvider(
			cfg.Credentials,
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		)
	}

	var otelOpts []otelaws.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelaws.WithTracerProvider(opts.TracerProvider))
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions, otelOpts...)

	return cfg, nil
}

func New(ctx context.Context, opts Options) (*Clients, error) {
	cfg, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	var endpoint *string
	if opts.Endpoint != "" {
		if _, err := url.Parse(opts.Endpoint); err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w", opts.Endpoint, err)
		}
		endpoint = aws.String(opts.Endpoint)
	}
	return &Clients{
		Config: cfg,
		ECS: ecs.NewFromConfig(cfg, func(o *ecs.Options) {
			o.BaseEndpoint = endpoint
		}),
		SSM: ssm.NewFromConfig(cfg, func(o *ssm.Options) {
			o.BaseEndpoint = endpoint
		}),
		STS: sts.NewFromConfig(cfg, func(o *sts.Options) {
			o.BaseEndpoint = endpoint
		}),
	}, nil
}
