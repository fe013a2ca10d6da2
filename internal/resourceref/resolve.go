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

package resourceref

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// KeyPrefix is prepended to a resource name to form the canonical key.
// It matches the "group" field ECS reports for tasks started by a service.
const KeyPrefix = "service:"

const clusterResourcePrefix = "cluster/"

var ErrInvalidResourceRef = errors.New("invalid resource ref")

type InvalidResourceRefError struct {
	Ref    string
	Reason string
	Err    error
}

func (e *InvalidResourceRefError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid resource ref %q: %s: %v", e.Ref, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid resource ref %q: %s", e.Ref, e.Reason)
}

func (e *InvalidResourceRefError) Unwrap() error { return e.Err }

func (e *InvalidResourceRefError) Is(target error) bool { return target == ErrInvalidResourceRef }

// Resolve returns the resource name of ref, which is the final
// "/"-delimited segment of the ARN's resource portion.
//
//	arn:aws:ecs:us-east-1:123456789012:service/my-cluster/my-home-service -> my-home-service
//	arn:aws:ecs:us-east-1:123456789012:service/my-home-service            -> my-home-service
func Resolve(ref string) (string, error) {
	parsed, err := arn.Parse(ref)
	if err != nil {
		return "", &InvalidResourceRefError{Ref: ref, Reason: "not an ARN", Err: err}
	}
	idx := strings.LastIndex(parsed.Resource, "/")
	if idx < 0 {
		return "", &InvalidResourceRefError{Ref: ref, Reason: "resource has no type/name form"}
	}
	name := parsed.Resource[idx+1:]
	if name == "" {
		return "", &InvalidResourceRefError{Ref: ref, Reason: "empty resource name"}
	}
	return name, nil
}

// ClusterName returns the name of an ECS cluster ARN. The resource
// portion must be exactly "cluster/<name>".
func ClusterName(ref string) (string, error) {
	parsed, err := arn.Parse(ref)
	if err != nil {
		return "", &InvalidResourceRefError{Ref: ref, Reason: "not an ARN", Err: err}
	}
	name, found := strings.CutPrefix(parsed.Resource, clusterResourcePrefix)
	if !found {
		return "", &InvalidResourceRefError{Ref: ref, Reason: "not a cluster"}
	}
	if name == "" || strings.Contains(name, "/") {
		return "", &InvalidResourceRefError{Ref: ref, Reason: "invalid cluster name"}
	}
	return name, nil
}

func CanonicalKey(ref string) (string, error) {
	name, err := Resolve(ref)
	if err != nil {
		return "", err
	}
	return KeyPrefix + name, nil
}
