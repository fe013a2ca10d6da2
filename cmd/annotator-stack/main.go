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
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	pconfig "github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cardinalhq/ecs-task-annotator/internal/awsclient"
	"github.com/cardinalhq/ecs-task-annotator/internal/config"
	"github.com/cardinalhq/ecs-task-annotator/internal/deploytarget"
	"github.com/cardinalhq/ecs-task-annotator/internal/provision"
	"github.com/cardinalhq/ecs-task-annotator/internal/subscription"
)

const configKey = "annotatorConfig"

func main() {
	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	pulumi.Run(func(ctx *pulumi.Context) error {
		return run(ctx, logger)
	})
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func run(ctx *pulumi.Context, logger *zap.Logger) error {
	path := pconfig.New(ctx, "").Require(configKey)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	target, err := resolveTarget(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sub, err := subscription.Plan(cfg.SubscriptionSpec())
	if err != nil {
		return err
	}
	return subscription.Wire(provision.NewBinder(ctx, target, cfg.Handler, logger), sub)
}

// resolveTarget prefers the environment and asks AWS for whatever it
// does not name.
func resolveTarget(ctx *pulumi.Context, cfg *config.Config, logger *zap.Logger) (deploytarget.Target, error) {
	target, err := deploytarget.FromEnv()
	if err == nil {
		return target, nil
	}
	logger.Info("Deployment target incomplete in environment, discovering", zap.Error(err))

	clients, err := awsclient.New(ctx.Context(), awsclient.Options{Region: target.Region})
	if err != nil {
		return target, err
	}
	target, err = deploytarget.Discover(ctx.Context(), target, clients.Config, clients.STS)
	if err != nil {
		return target, fmt.Errorf("cannot determine deployment target for %s: %w", cfg.Name, err)
	}
	return target, nil
}
