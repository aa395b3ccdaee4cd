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
	"maps"
	"slices"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/gpclient"
	"github.com/gpservices/gp-go/portal"
)

// RasterAnalysisMinVersion is the oldest raster analysis server the wrappers support.
const RasterAnalysisMinVersion = "10.6"

// RasterAnalysis wraps the raster analysis service tools.
type RasterAnalysis struct {
	toolset
}

// NewRasterAnalysis creates the raster analysis tools.
func NewRasterAnalysis(svc *gpclient.AsyncService, content Content) *RasterAnalysis {
	return &RasterAnalysis{toolset: newToolset(svc, content, OriginRasterAnalysis, RasterAnalysisMinVersion)}
}

// GenerateRasterRequest holds the arguments of GenerateRaster.
type GenerateRasterRequest struct {
	// RasterFunction is the raster function template to apply.
	RasterFunction map[string]any
	// FunctionArguments are passed as is.
	FunctionArguments map[string]any
	// Rasters are raster arguments of the function, normalized and merged into FunctionArguments.
	Rasters map[string]any
	Output  Output
	Context map[string]any
}

// GenerateRaster applies a raster function to one or more rasters.
func (ra *RasterAnalysis) GenerateRaster(ctx context.Context, req GenerateRasterRequest) (*Invocation, error) {
	if len(req.RasterFunction) == 0 {
		return nil, fmt.Errorf("%w: raster function is required", gp.ErrUnsupportedInput)
	}
	args := maps.Clone(req.FunctionArguments)
	if args == nil {
		args = map[string]any{}
	}
	for _, name := range slices.Sorted(maps.Keys(req.Rasters)) {
		d, err := RasterInput(ctx, req.Rasters[name], ra.svc.Token())
		if err != nil {
			return nil, fmt.Errorf("invalid raster %s: %w", name, err)
		}
		args[name] = d
	}

	params := gp.TaskParameters{}.
		Set("rasterFunction", req.RasterFunction).
		Set("functionArguments", args).
		SetOptional("context", req.Context)
	return ra.invocation("GenerateRaster", params, &outputTarget{param: "outputName", output: req.Output, serviceType: portal.ImageService}), nil
}

// CalculateDensityRequest holds the arguments of CalculateDensity.
type CalculateDensityRequest struct {
	InputPointOrLineFeatures any
	CountField               string
	SearchDistance           float64
	SearchDistanceUnits      string
	OutputAreaUnits          string
	OutputCellSize           float64
	OutputCellSizeUnits      string
	Output                   Output
	Context                  map[string]any
}

// CalculateDensity creates a density raster from point or line features.
func (ra *RasterAnalysis) CalculateDensity(ctx context.Context, req CalculateDensityRequest) (*Invocation, error) {
	if err := requiredInput("input features", req.InputPointOrLineFeatures); err != nil {
		return nil, err
	}
	input, err := FeatureInput(ctx, req.InputPointOrLineFeatures)
	if err != nil {
		return nil, fmt.Errorf("invalid input features: %w", err)
	}

	params := gp.TaskParameters{}.
		Set("inputPointOrLineFeatures", input).
		SetOptional("countField", req.CountField).
		SetOptional("outputAreaUnits", req.OutputAreaUnits).
		SetOptional("context", req.Context)
	if req.SearchDistance > 0 {
		params.Set("searchDistance", linearUnit(req.SearchDistance, req.SearchDistanceUnits))
	}
	if req.OutputCellSize > 0 {
		params.Set("outputCellSize", linearUnit(req.OutputCellSize, req.OutputCellSizeUnits))
	}
	return ra.invocation("CalculateDensity", params, &outputTarget{param: "outputName", output: req.Output, serviceType: portal.ImageService}), nil
}

// ConvertFeatureToRasterRequest holds the arguments of ConvertFeatureToRaster.
type ConvertFeatureToRasterRequest struct {
	InputFeatures       any
	ValueField          string
	OutputCellSize      float64
	OutputCellSizeUnits string
	Output              Output
	Context             map[string]any
}

// ConvertFeatureToRaster rasterizes features using the values of a field.
func (ra *RasterAnalysis) ConvertFeatureToRaster(ctx context.Context, req ConvertFeatureToRasterRequest) (*Invocation, error) {
	if err := requiredInput("input features", req.InputFeatures); err != nil {
		return nil, err
	}
	if req.ValueField == "" {
		return nil, fmt.Errorf("%w: value field is required", gp.ErrUnsupportedInput)
	}
	input, err := FeatureInput(ctx, req.InputFeatures)
	if err != nil {
		return nil, fmt.Errorf("invalid input features: %w", err)
	}

	params := gp.TaskParameters{}.
		Set("inputFeatures", input).
		Set("valueField", req.ValueField).
		SetOptional("context", req.Context)
	if req.OutputCellSize > 0 {
		params.Set("outputCellSize", linearUnit(req.OutputCellSize, req.OutputCellSizeUnits))
	}
	return ra.invocation("ConvertFeatureToRaster", params, &outputTarget{param: "outputName", output: req.Output, serviceType: portal.ImageService}), nil
}

// linearUnit encodes a distance as a GP linear unit. Units default to meters.
func linearUnit(distance float64, units string) map[string]any {
	if units == "" {
		units = "Meters"
	}
	return map[string]any{"distance": distance, "units": units}
}
