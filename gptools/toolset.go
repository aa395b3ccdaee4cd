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
	"fmt"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/gpclient"
)

// Subsystems reported as [gpclient.Job] origins.
const (
	OriginFeatureAnalysis = "FeatureAnalysis"
	OriginRasterAnalysis  = "RasterAnalysis"
	OriginGeoAnalytics    = "GeoAnalytics"
)

type toolset struct {
	svc         *gpclient.AsyncService
	provisioner *Provisioner
	origin      string
	minVersion  string
}

func newToolset(svc *gpclient.AsyncService, content Content, origin, minVersion string) toolset {
	ts := toolset{svc: svc, origin: origin, minVersion: minVersion}
	if content != nil {
		ts.provisioner = NewProvisioner(content)
	}
	return ts
}

func (ts toolset) invocation(task string, params gp.TaskParameters, output *outputTarget) *Invocation {
	return &Invocation{
		svc:         ts.svc,
		provisioner: ts.provisioner,
		origin:      ts.origin,
		task:        task,
		params:      params,
		minVersion:  ts.minVersion,
		output:      output,
	}
}

func requiredInput(name string, value any) error {
	if isNilInput(value) {
		return fmt.Errorf("%w: %s is required", gp.ErrUnsupportedInput, name)
	}
	return nil
}
