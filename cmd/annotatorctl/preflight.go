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
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardinalhq/ecs-task-annotator/internal/awsclient"
	"github.com/cardinalhq/ecs-task-annotator/internal/deploytarget"
	"github.com/cardinalhq/ecs-task-annotator/internal/preflight"
)

const (
	FlagRegion   = "region"
	FlagProfile  = "profile"
	FlagEndpoint = "endpoint-url"
)

func newPreflightCommand(opts *rootOptions) *cobra.Command {
	var awsOpts awsclient.Options
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check that mapped services, clusters and the credential parameter exist",
		Long: `Preflight uses read-only AWS calls to confirm that every mapped ECS
service exists and is not INACTIVE, that every scoped cluster exists, and
that the credential parameter exists. The parameter value is never read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sub, err := opts.plan()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			clients, err := awsclient.New(ctx, awsOpts)
			if err != nil {
				return err
			}
			target, err := deploytarget.Discover(ctx, deploytarget.Lookup(os.Getenv), clients.Config, clients.STS)
			if err != nil {
				return err
			}
			opts.logger.Info("Running preflight checks",
				zap.Stringer("target", target),
				zap.String("parameterArn", target.ParameterARN(sub.Credentials().ParameterName)))

			if err := preflight.New(clients.ECS, clients.SSM, opts.logger).Run(ctx, sub); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "preflight passed for %s in %s\n", sub.Name(), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&awsOpts.Region, FlagRegion, "", "AWS region (default from the AWS configuration)")
	cmd.Flags().StringVar(&awsOpts.Profile, FlagProfile, "", "AWS shared configuration profile")
	cmd.Flags().StringVar(&awsOpts.Endpoint, FlagEndpoint, "", "Override the AWS endpoint")
	return cmd
}
