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
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type matchResult struct {
	Matched bool     `json:"matched"`
	Group   string   `json:"group,omitempty"`
	Mapped  bool     `json:"mapped"`
	Service string   `json:"service,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

type taskGroup struct {
	Group string `json:"group"`
}

func newMatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match [event.json|-]",
		Short: "Evaluate an ECS task event against the event pattern and mapping",
		Long: `Match reads a delivered EventBridge event (from a file, or stdin when the
argument is "-" or absent), reports whether the rule would deliver it, and
which service label and roles the task's group maps to.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sub, err := opts.plan()
			if err != nil {
				return err
			}
			data, err := readEvent(cmd, args)
			if err != nil {
				return err
			}
			var ev events.CloudWatchEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return fmt.Errorf("cannot decode event: %w", err)
			}

			var result matchResult
			result.Matched, err = sub.Filter().Matches(ev)
			if err != nil {
				return err
			}
			if result.Matched {
				var detail taskGroup
				if err := json.Unmarshal(ev.Detail, &detail); err != nil {
					return fmt.Errorf("cannot decode detail: %w", err)
				}
				result.Group = detail.Group
				if sr, found := sub.Mapping().Lookup(detail.Group); found {
					result.Mapped = true
					result.Service = sr.Service
					result.Roles = sr.Roles
				}
			}
			opts.logger.Debug("Evaluated event",
				zap.String("id", ev.ID),
				zap.Bool("matched", result.Matched),
				zap.Bool("mapped", result.Mapped))
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func readEvent(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("cannot read event: %w", err)
	}
	return data, nil
}
