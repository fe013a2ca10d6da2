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
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and build the service mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sub, err := opts.plan()
			if err != nil {
				return err
			}
			scope := "all clusters"
			if clusters := sub.Filter().ClusterScope(); len(clusters) > 0 {
				scope = strings.Join(clusters, ", ")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d services mapped, scope: %s\n", sub.Name(), sub.Mapping().Len(), scope)
			return nil
		},
	}
}
