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

package deploytarget

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/multierr"
)

const (
	EnvAccount   = "ANNOTATOR_DEFAULT_ACCOUNT"
	EnvRegion    = "ANNOTATOR_DEFAULT_REGION"
	EnvPartition = "ANNOTATOR_DEFAULT_PARTITION"

	defaultPartition = "aws"
)

var (
	errMissingAccount = errors.New("default account not found")
	errMissingRegion  = errors.New("default region not found")
	errInvalidAccount = errors.New("account must be a 12 digit AWS account id")
)

// Target is the account and region the annotator is deployed into.
type Target struct {
	Account   string
	Region    string
	Partition string
}

var (
	targetSetupOnce sync.Once
	target          Target
	targetErr       error
)

// FromEnv reads and validates the target once per process.
func FromEnv() (Target, error) {
	targetSetupOnce.Do(func() {
		target = Lookup(os.Getenv)
		targetErr = target.Validate()
	})
	return target, targetErr
}

// Lookup reads the target from getenv. The region falls back to the
// standard AWS variables. The result may be incomplete.
func Lookup(getenv func(string) string) Target {
	t := Target{
		Account:   getenv(EnvAccount),
		Region:    getenv(EnvRegion),
		Partition: getenv(EnvPartition),
	}
	for _, name := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if t.Region != "" {
			break
		}
		t.Region = getenv(name)
	}
	if t.Partition == "" {
		t.Partition = defaultPartition
	}
	return t
}

func (t Target) Validate() error {
	var errs error
	switch {
	case t.Account == "":
		errs = multierr.Append(errs, errMissingAccount)
	case !isAccountID(t.Account):
		errs = multierr.Append(errs, errInvalidAccount)
	}
	if t.Region == "" {
		errs = multierr.Append(errs, errMissingRegion)
	}
	return errs
}

func isAccountID(s string) bool {
	if len(s) != 12 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Discover fills in what t is missing from the AWS configuration and
// the caller identity, then validates the result.
func Discover(ctx context.Context, t Target, cfg aws.Config, client STSAPI) (Target, error) {
	if t.Region == "" {
		t.Region = cfg.Region
	}
	if t.Account == "" {
		out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return t, fmt.Errorf("cannot get caller identity: %w", err)
		}
		t.Account = aws.ToString(out.Account)
		if parsed, err := arn.Parse(aws.ToString(out.Arn)); err == nil {
			t.Partition = parsed.Partition
		}
	}
	if t.Partition == "" {
		t.Partition = defaultPartition
	}
	return t, t.Validate()
}

// ParameterARN returns the ARN of the SSM parameter called name.
func (t Target) ParameterARN(name string) string {
	return arn.ARN{
		Partition: t.Partition,
		Service:   "ssm",
		Region:    t.Region,
		AccountID: t.Account,
		Resource:  "parameter/" + strings.TrimPrefix(name, "/"),
	}.String()
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Partition, t.Account, t.Region)
}
