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

package provision

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lambda"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"go.uber.org/zap"

	"github.com/cardinalhq/ecs-task-annotator/internal/config"
	"github.com/cardinalhq/ecs-task-annotator/internal/deploytarget"
	"github.com/cardinalhq/ecs-task-annotator/internal/subscription"
)

const (
	TagConfigHash = "annotator:config-hash"
	TagManagedBy  = "ManagedBy"

	managedBy     = "ecs-task-annotator"
	eventsService = "events.amazonaws.com"
	lambdaService = "lambda.amazonaws.com"
	targetID      = "annotator"
)

// Binder provisions the rule, target and handler function for a
// subscription with Pulumi.
type Binder struct {
	ctx     *pulumi.Context
	target  deploytarget.Target
	handler config.HandlerConfig
	logger  *zap.Logger
}

func NewBinder(ctx *pulumi.Context, target deploytarget.Target, handler config.HandlerConfig, logger *zap.Logger) *Binder {
	return &Binder{
		ctx:     ctx,
		target:  target,
		handler: handler,
		logger:  logger,
	}
}

func (b *Binder) Bind(sub *subscription.Subscription) error {
	name := sub.Name()
	tags := pulumi.StringMap{
		TagManagedBy:  pulumi.String(managedBy),
		TagConfigHash: pulumi.String(sub.ConfigHash()),
	}

	provider, err := aws.NewProvider(b.ctx, name, &aws.ProviderArgs{
		Region:            pulumi.String(b.target.Region),
		AllowedAccountIds: pulumi.StringArray{pulumi.String(b.target.Account)},
	})
	if err != nil {
		return fmt.Errorf("cannot create aws provider: %w", err)
	}
	opts := []pulumi.ResourceOption{pulumi.Provider(provider)}

	role, err := b.handlerRole(name, sub.Credentials(), tags, opts)
	if err != nil {
		return err
	}

	logGroup, err := cloudwatch.NewLogGroup(b.ctx, name, &cloudwatch.LogGroupArgs{
		Name:            pulumi.String("/aws/lambda/" + name),
		RetentionInDays: pulumi.Int(b.handler.LogRetentionDays),
		Tags:            tags,
	}, opts...)
	if err != nil {
		return fmt.Errorf("cannot create log group: %w", err)
	}

	fn, err := lambda.NewFunction(b.ctx, name, &lambda.FunctionArgs{
		Name:          pulumi.String(name),
		Description:   pulumi.String("Annotates monitoring graphs when ECS tasks stop"),
		Role:          role.Arn,
		Runtime:       pulumi.String(b.handler.Runtime),
		Handler:       pulumi.String(b.handler.Entrypoint),
		Code:          pulumi.NewFileArchive(b.handler.CodePath),
		Architectures: pulumi.StringArray{pulumi.String(b.handler.Architecture)},
		MemorySize:    pulumi.Int(b.handler.MemorySize),
		Timeout:       pulumi.Int(int(b.handler.Timeout.Seconds())),
		Environment: &lambda.FunctionEnvironmentArgs{
			Variables: pulumi.ToStringMap(sub.MergeEnvironment(b.handler.Environment)),
		},
		Tags: tags,
	}, append(opts, pulumi.DependsOn([]pulumi.Resource{logGroup}))...)
	if err != nil {
		return fmt.Errorf("cannot create handler function: %w", err)
	}

	pattern, err := sub.EventPattern()
	if err != nil {
		return err
	}
	rule, err := cloudwatch.NewEventRule(b.ctx, name, &cloudwatch.EventRuleArgs{
		Name:         pulumi.String(name),
		Description:  pulumi.String("ECS task stopped"),
		EventPattern: pulumi.String(pattern),
		Tags:         tags,
	}, opts...)
	if err != nil {
		return fmt.Errorf("cannot create event rule: %w", err)
	}

	if _, err := cloudwatch.NewEventTarget(b.ctx, name, &cloudwatch.EventTargetArgs{
		Rule:     rule.Name,
		TargetId: pulumi.String(targetID),
		Arn:      fn.Arn,
	}, opts...); err != nil {
		return fmt.Errorf("cannot create event target: %w", err)
	}

	if _, err := lambda.NewPermission(b.ctx, name, &lambda.PermissionArgs{
		Action:    pulumi.String("lambda:InvokeFunction"),
		Function:  fn.Name,
		Principal: pulumi.String(eventsService),
		SourceArn: rule.Arn,
	}, opts...); err != nil {
		return fmt.Errorf("cannot create invoke permission: %w", err)
	}

	b.ctx.Export("eventRuleArn", rule.Arn)
	b.ctx.Export("functionArn", fn.Arn)
	b.ctx.Export("roleArn", role.Arn)
	b.ctx.Export("configHash", pulumi.String(sub.ConfigHash()))

	b.logger.Info("Subscription bound",
		zap.String("name", name),
		zap.Stringer("target", b.target),
		zap.Int("services", sub.Mapping().Len()),
		zap.Strings("clusters", sub.Filter().ClusterScope()),
		zap.String("configHash", sub.ConfigHash()))
	return nil
}

// handlerRole may read the credential parameter and nothing else besides
// writing its own logs.
func (b *Binder) handlerRole(name string, cred subscription.CredentialRef, tags pulumi.StringMap, opts []pulumi.ResourceOption) (*iam.Role, error) {
	assumeRolePolicy, err := json.Marshal(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{
				Effect:    "Allow",
				Action:    []string{"sts:AssumeRole"},
				Principal: map[string]string{"Service": lambdaService},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	role, err := iam.NewRole(b.ctx, name, &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(string(assumeRolePolicy)),
		Description:      pulumi.String("Role for " + name),
		Tags:             tags,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create handler role: %w", err)
	}

	if _, err := iam.NewRolePolicyAttachment(b.ctx, name+"-logs", &iam.RolePolicyAttachmentArgs{
		Role:      role.Name,
		PolicyArn: pulumi.String(iam.ManagedPolicyAWSLambdaBasicExecutionRole),
	}, opts...); err != nil {
		return nil, fmt.Errorf("cannot attach execution policy: %w", err)
	}

	readParameter, err := json.Marshal(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{
				Sid:      "ReadMonitoringCredential",
				Effect:   "Allow",
				Action:   []string{"ssm:GetParameter"},
				Resource: []string{b.target.ParameterARN(cred.ParameterName)},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if _, err := iam.NewRolePolicy(b.ctx, name+"-credential", &iam.RolePolicyArgs{
		Role:   role.Name,
		Policy: pulumi.String(string(readParameter)),
	}, opts...); err != nil {
		return nil, fmt.Errorf("cannot attach credential policy: %w", err)
	}
	return role, nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string            `json:"Sid,omitempty"`
	Effect    string            `json:"Effect"`
	Action    []string          `json:"Action"`
	Principal map[string]string `json:"Principal,omitempty"`
	Resource  []string          `json:"Resource,omitempty"`
}
