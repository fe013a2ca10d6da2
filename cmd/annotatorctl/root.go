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
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cardinalhq/ecs-task-annotator/internal/config"
	"github.com/cardinalhq/ecs-task-annotator/internal/subscription"
)

const (
	FlagConfig          = "config"
	FlagConfigShortHand = "c"
	FlagDebug           = "debug"

	defaultConfigPath = "annotator.yaml"
)

type rootOptions struct {
	configPath string
	debug      bool
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{logger: zap.NewNop()}
	cmd := &cobra.Command{
		Use:   "annotatorctl",
		Short: "Plan, check and inspect the ECS task-stop annotator",
		Long: `annotatorctl reads the annotator configuration, builds the service
mapping and the task-stop event pattern, and checks them against the
target AWS account before deployment.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.debug)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.logger.Sync()
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, FlagConfig, FlagConfigShortHand, defaultConfigPath, "Path to the annotator configuration file")
	cmd.PersistentFlags().BoolVar(&opts.debug, FlagDebug, false, "Enable debug logging")

	cmd.AddCommand(
		newRenderCommand(opts),
		newValidateCommand(opts),
		newPreflightCommand(opts),
		newMatchCommand(opts),
	)
	return cmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// plan loads the configuration and plans the subscription it describes.
func (o *rootOptions) plan() (*config.Config, *subscription.Subscription, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	sub, err := subscription.Plan(cfg.SubscriptionSpec())
	if err != nil {
		return nil, nil, err
	}
	o.logger.Debug("Planned subscription",
		zap.String("config", o.configPath),
		zap.String("name", sub.Name()),
		zap.Int("services", sub.Mapping().Len()),
		zap.String("configHash", sub.ConfigHash()))
	return cfg, sub, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
