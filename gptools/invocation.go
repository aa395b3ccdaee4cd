// Copyright 2025 The gp-go Authors
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

package gptools

import (
	"context"
	"fmt"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/gpclient"
)

// outputTarget describes the output parameter of a tool creating a hosted service.
type outputTarget struct {
	param       string
	output      Output
	serviceType string
}

// Invocation is a prepared tool call. Inputs are normalized when it is created.
// Outputs are provisioned by [Invocation.Start] and [Invocation.Run] only.
type Invocation struct {
	svc         *gpclient.AsyncService
	provisioner *Provisioner
	origin      string
	task        string
	params      gp.TaskParameters
	minVersion  string
	output      *outputTarget
}

// Task returns the name of the task the invocation runs.
func (inv *Invocation) Task() string {
	return inv.task
}

// Params returns a copy of the normalized task parameters, without the output parameter.
func (inv *Invocation) Params() gp.TaskParameters {
	return inv.params.Clone()
}

func (inv *Invocation) checkVersion(ctx context.Context) error {
	if inv.minVersion == "" {
		return nil
	}
	props, err := inv.svc.Properties(ctx)
	if err != nil {
		return err
	}
	if !props.VersionAtLeast(inv.minVersion) {
		return fmt.Errorf("%w: %s requires %s, server is %q", gp.ErrUnsupportedVersion, inv.task, inv.minVersion, props.CurrentVersion())
	}
	return nil
}

func (inv *Invocation) prepare(ctx context.Context) (gp.TaskParameters, error) {
	if err := inv.checkVersion(ctx); err != nil {
		return nil, err
	}
	params := inv.params.Clone()
	if inv.output == nil {
		return params, nil
	}
	var out *gp.OutputDescriptor
	switch {
	case inv.output.output.Item != nil:
		out = gp.ExistingItemOutput(inv.output.output.Item.ItemID())
	case inv.provisioner == nil:
		return nil, fmt.Errorf("%s creates an output service but no portal content was configured", inv.task)
	default:
		var err error
		if out, err = inv.provisioner.Provision(ctx, inv.task, inv.output.output, inv.output.serviceType); err != nil {
			return nil, err
		}
	}
	params.Set(inv.output.param, out)
	return params, nil
}

// Estimate returns the credit cost of the invocation. No job is submitted and no output is created.
func (inv *Invocation) Estimate(ctx context.Context) (*gp.CreditEstimate, error) {
	if err := inv.checkVersion(ctx); err != nil {
		return nil, err
	}
	return inv.svc.EstimateCredits(ctx, inv.task, inv.params)
}

// Start provisions the output, submits the job and returns without waiting for it.
func (inv *Invocation) Start(ctx context.Context) (*gpclient.Job, error) {
	params, err := inv.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.Start(ctx, inv.task, params, inv.origin)
}

// Run provisions the output, submits the job and waits for its results.
func (inv *Invocation) Run(ctx context.Context) (gp.Results, error) {
	params, err := inv.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.Execute(ctx, inv.task, params)
}
