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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/ecs-task-annotator/internal/mapping"
)

type renderOutput struct {
	Mapping      map[string]mapping.ServiceRoles `json:"mapping"`
	EventPattern json.RawMessage                 `json:"eventPattern"`
	Environment  map[string]string               `json:"environment"`
	ConfigHash   string                          `json:"configHash"`
}

func newRenderCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Print the service mapping, event pattern and handler environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sub, err := opts.plan()
			if err != nil {
				return err
			}
			pattern, err := sub.EventPattern()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), renderOutput{
				Mapping:      sub.Mapping().Serialize(),
				EventPattern: json.RawMessage(pattern),
				Environment:  sub.MergeEnvironment(cfg.Handler.Environment),
				ConfigHash:   sub.ConfigHash(),
			})
		},
	}
}
