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

package preflight

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cardinalhq/ecs-task-annotator/internal/subscription"
)

// DescribeServices accepts at most this many services per call.
const describeServicesBatch = 10

var (
	ErrServiceNotFound   = errors.New("ecs service not found")
	ErrServiceInactive   = errors.New("ecs service is inactive")
	ErrClusterNotFound   = errors.New("ecs cluster not found")
	ErrParameterNotFound = errors.New("credential parameter not found")
)

type ECSAPI interface {
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	DescribeClusters(ctx context.Context, params *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error)
}

type SSMAPI interface {
	DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error)
}

// Checker verifies, without changing anything, that the resources a
// subscription refers to exist in the target account.
type Checker struct {
	ecs    ECSAPI
	ssm    SSMAPI
	logger *zap.Logger
}

func New(ecsClient ECSAPI, ssmClient SSMAPI, logger *zap.Logger) *Checker {
	return &Checker{
		ecs:    ecsClient,
		ssm:    ssmClient,
		logger: logger,
	}
}

// Run returns every problem found; nil means the subscription can be
// deployed as planned.
func (c *Checker) Run(ctx context.Context, sub *subscription.Subscription) error {
	var errs error
	errs = multierr.Append(errs, c.checkParameter(ctx, sub.Credentials().ParameterName))
	errs = multierr.Append(errs, c.checkClusters(ctx, sub.Filter().ClusterScope()))

	refs := make([]string, 0, sub.Mapping().Len())
	for _, key := range sub.Mapping().Keys() {
		refs = append(refs, sub.Mapping().Ref(key))
	}
	errs = multierr.Append(errs, c.checkServices(ctx, refs))
	return errs
}

func (c *Checker) checkParameter(ctx context.Context, name string) error {
	out, err := c.ssm.DescribeParameters(ctx, &ssm.DescribeParametersInput{
		ParameterFilters: []ssmtypes.ParameterStringFilter{
			{
				Key:    aws.String("Name"),
				Option: aws.String("Equals"),
				Values: []string{name},
			},
		},
	})
	if err != nil {
		return describeError("ssm:DescribeParameters", err)
	}
	if len(out.Parameters) == 0 {
		return fmt.Errorf("%w: %s", ErrParameterNotFound, name)
	}
	c.logger.Debug("Credential parameter found",
		zap.String("name", name),
		zap.String("type", string(out.Parameters[0].Type)))
	return nil
}

func (c *Checker) checkClusters(ctx context.Context, clusters []string) error {
	if len(clusters) == 0 {
		c.logger.Debug("No cluster scope, skipping cluster check")
		return nil
	}
	out, err := c.ecs.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: clusters})
	if err != nil {
		return describeError("ecs:DescribeClusters", err)
	}
	found := make(map[string]bool, len(out.Clusters))
	for _, cl := range out.Clusters {
		if aws.ToString(cl.Status) == "INACTIVE" {
			continue
		}
		found[aws.ToString(cl.ClusterArn)] = true
	}
	var errs error
	for _, cl := range clusters {
		if !found[cl] {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrClusterNotFound, cl))
		}
	}
	return errs
}

func (c *Checker) checkServices(ctx context.Context, refs []string) error {
	byCluster := groupByCluster(refs)
	clusters := make([]string, 0, len(byCluster))
	for cl := range byCluster {
		clusters = append(clusters, cl)
	}
	slices.Sort(clusters)

	var errs error
	for _, cl := range clusters {
		for batch := range slices.Chunk(byCluster[cl], describeServicesBatch) {
			errs = multierr.Append(errs, c.describeServices(ctx, cl, batch))
		}
	}
	return errs
}

func (c *Checker) describeServices(ctx context.Context, cluster string, refs []string) error {
	input := &ecs.DescribeServicesInput{Services: refs}
	if cluster != "" {
		input.Cluster = aws.String(cluster)
	}
	out, err := c.ecs.DescribeServices(ctx, input)
	if err != nil {
		return describeError("ecs:DescribeServices", err)
	}

	status := make(map[string]string, len(out.Services))
	for _, svc := range out.Services {
		status[aws.ToString(svc.ServiceArn)] = aws.ToString(svc.Status)
	}
	failed := make(map[string]ecstypes.Failure, len(out.Failures))
	for _, f := range out.Failures {
		failed[aws.ToString(f.Arn)] = f
	}

	var errs error
	for _, ref := range refs {
		st, found := status[ref]
		switch {
		case !found:
			reason := "MISSING"
			if f, ok := failed[ref]; ok && f.Reason != nil {
				reason = *f.Reason
			}
			errs = multierr.Append(errs, fmt.Errorf("%w: %s (%s)", ErrServiceNotFound, ref, reason))
		case st == "INACTIVE":
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrServiceInactive, ref))
		default:
			c.logger.Debug("ECS service found", zap.String("arn", ref), zap.String("status", st))
		}
	}
	return errs
}

// groupByCluster groups service ARNs by the cluster named in them.
// Old-style ARNs without a cluster segment go to the default cluster "".
func groupByCluster(refs []string) map[string][]string {
	out := map[string][]string{}
	for _, ref := range refs {
		cluster := ""
		if parsed, err := arn.Parse(ref); err == nil {
			parts := strings.Split(parsed.Resource, "/")
			if len(parts) == 3 {
				cluster = parts[1]
			}
		}
		out[cluster] = append(out[cluster], ref)
	}
	return out
}

func describeError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s failed (%s): %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
