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

package eventfilter

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/aws/aws-lambda-go/events"
	mapset "github.com/deckarep/golang-set/v2"
)

const (
	SourceECS                 = "aws.ecs"
	DetailTypeTaskStateChange = "ECS Task State Change"
	StatusStopped             = "STOPPED"
)

// Filter describes which EventBridge events trigger the annotator.
// A nil clusterScope means events from any cluster match.
type Filter struct {
	sources      mapset.Set[string]
	detailTypes  mapset.Set[string]
	statuses     mapset.Set[string]
	clusterScope mapset.Set[string]
}

// Compile returns the filter for stopped ECS tasks. An empty or nil
// clusterScope leaves the filter unscoped; otherwise only events whose
// clusterArn is in clusterScope match.
func Compile(clusterScope []string) *Filter {
	f := &Filter{
		sources:     mapset.NewSet(SourceECS),
		detailTypes: mapset.NewSet(DetailTypeTaskStateChange),
		statuses:    mapset.NewSet(StatusStopped),
	}
	if len(clusterScope) > 0 {
		f.clusterScope = mapset.NewSet(clusterScope...)
	}
	return f
}

func (f *Filter) Sources() []string     { return sorted(f.sources) }
func (f *Filter) DetailTypes() []string { return sorted(f.detailTypes) }
func (f *Filter) Statuses() []string    { return sorted(f.statuses) }

// ClusterScope returns the allowed cluster ARNs, or nil when unscoped.
func (f *Filter) ClusterScope() []string {
	if f.clusterScope == nil {
		return nil
	}
	return sorted(f.clusterScope)
}

func (f *Filter) Scoped() bool {
	return f.clusterScope != nil
}

// Pattern renders the filter as an EventBridge event pattern.
func (f *Filter) Pattern() map[string]any {
	detail := map[string]any{
		"lastStatus": f.Statuses(),
	}
	if f.Scoped() {
		detail["clusterArn"] = f.ClusterScope()
	}
	return map[string]any{
		"source":      f.Sources(),
		"detail-type": f.DetailTypes(),
		"detail":      detail,
	}
}

func (f *Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Pattern())
}

// Matches reports whether the event would be delivered by a rule built
// from Pattern. Fields other than those in the pattern are ignored, and a
// pattern field holding a non-string value does not match.
func (f *Filter) Matches(ev events.CloudWatchEvent) (bool, error) {
	if !f.sources.Contains(ev.Source) || !f.detailTypes.Contains(ev.DetailType) {
		return false, nil
	}
	if len(ev.Detail) == 0 {
		return false, nil
	}
	var detail map[string]json.RawMessage
	if err := json.Unmarshal(ev.Detail, &detail); err != nil {
		return false, fmt.Errorf("cannot decode detail: %w", err)
	}
	if !f.statuses.Contains(stringField(detail, "lastStatus")) {
		return false, nil
	}
	if f.Scoped() && !f.clusterScope.Contains(stringField(detail, "clusterArn")) {
		return false, nil
	}
	return true, nil
}

// stringField returns the named field if it is a JSON string, or "".
func stringField(detail map[string]json.RawMessage, name string) string {
	raw, found := detail[name]
	if !found {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}
