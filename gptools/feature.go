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
	"github.com/gpservices/gp-go/portal"
)

// FeatureAnalysis wraps the spatial analysis service tools.
type FeatureAnalysis struct {
	toolset
}

// NewFeatureAnalysis creates the feature analysis tools. content may be nil
// when every invocation writes to an existing item.
func NewFeatureAnalysis(svc *gpclient.AsyncService, content Content) *FeatureAnalysis {
	return &FeatureAnalysis{toolset: newToolset(svc, content, OriginFeatureAnalysis, "")}
}

// AggregatePointsRequest holds the arguments of AggregatePoints.
type AggregatePointsRequest struct {
	PointLayer                 any
	PolygonLayer               any
	KeepBoundariesWithNoPoints *bool
	SummaryFields              []string
	GroupByField               string
	MinorityMajority           bool
	PercentPoints              bool
	Output                     Output
	Context                    map[string]any
}

// AggregatePoints counts the points falling within each polygon.
func (fa *FeatureAnalysis) AggregatePoints(ctx context.Context, req AggregatePointsRequest) (*Invocation, error) {
	if err := requiredInput("point layer", req.PointLayer); err != nil {
		return nil, err
	}
	if err := requiredInput("polygon layer", req.PolygonLayer); err != nil {
		return nil, err
	}
	points, err := FeatureInput(ctx, req.PointLayer)
	if err != nil {
		return nil, fmt.Errorf("invalid point layer: %w", err)
	}
	polygons, err := FeatureInput(ctx, req.PolygonLayer)
	if err != nil {
		return nil, fmt.Errorf("invalid polygon layer: %w", err)
	}

	params := gp.TaskParameters{}.
		Set("pointLayer", points).
		Set("polygonLayer", polygons).
		SetOptional("keepBoundariesWithNoPoints", req.KeepBoundariesWithNoPoints).
		SetOptional("summaryFields", req.SummaryFields).
		SetOptional("groupByField", req.GroupByField).
		SetOptional("context", req.Context)
	if req.GroupByField != "" {
		params.Set("minorityMajority", req.MinorityMajority).Set("percentPoints", req.PercentPoints)
	}
	return fa.invocation("AggregatePoints", params, &outputTarget{param: "outputName", output: req.Output, serviceType: portal.FeatureService}), nil
}

// CreateBuffersRequest holds the arguments of CreateBuffers.
// Either Distances or Field must be set.
type CreateBuffersRequest struct {
	InputLayer   any
	Distances    []float64
	Field        string
	Units        string
	DissolveType string
	RingType     string
	SideType     string
	EndType      string
	Output       Output
	Context      map[string]any
}

// CreateBuffers creates areas within a distance of the input features.
func (fa *FeatureAnalysis) CreateBuffers(ctx context.Context, req CreateBuffersRequest) (*Invocation, error) {
	if err := requiredInput("input layer", req.InputLayer); err != nil {
		return nil, err
	}
	if len(req.Distances) == 0 && req.Field == "" {
		return nil, fmt.Errorf("%w: distances or field is required", gp.ErrUnsupportedInput)
	}
	input, err := FeatureInput(ctx, req.InputLayer)
	if err != nil {
		return nil, fmt.Errorf("invalid input layer: %w", err)
	}

	units := req.Units
	if units == "" {
		units = "Meters"
	}
	params := gp.TaskParameters{}.
		Set("inputLayer", input).
		SetOptional("distances", req.Distances).
		SetOptional("field", req.Field).
		Set("units", units).
		SetOptional("dissolveType", req.DissolveType).
		SetOptional("ringType", req.RingType).
		SetOptional("sideType", req.SideType).
		SetOptional("endType", req.EndType).
		SetOptional("context", req.Context)
	return fa.invocation("CreateBuffers", params, &outputTarget{param: "outputName", output: req.Output, serviceType: portal.FeatureService}), nil
}

// FindHotSpotsRequest holds the arguments of FindHotSpots.
type FindHotSpotsRequest struct {
	AnalysisLayer           any
	AnalysisField           string
	DividedByField          string
	BoundingPolygonLayer    any
	AggregationPolygonLayer any
	ShapeType               string
	CellSize                float64
	CellSizeUnits           string
	DistanceBand            float64
	DistanceBandUnits       string
	Output                  Output
	Context                 map[string]any
}

// FindHotSpots finds statistically significant clusters of high and low values.
func (fa *FeatureAnalysis) FindHotSpots(ctx context.Context, req FindHotSpotsRequest) (*Invocation, error) {
	if err := requiredInput("analysis layer", req.AnalysisLayer); err != nil {
		return nil, err
	}
	analysis, err := FeatureInput(ctx, req.AnalysisLayer)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis layer: %w", err)
	}

	params := gp.TaskParameters{}.
		Set("analysisLayer", analysis).
		SetOptional("analysisField", req.AnalysisField).
		SetOptional("dividedByField", req.DividedByField).
		SetOptional("shapeType", req.ShapeType).
		SetOptional("cellSizeUnits", req.CellSizeUnits).
		SetOptional("distanceBandUnits", req.DistanceBandUnits).
		SetOptional("context", req.Context)
	if req.CellSize > 0 {
		params.Set("cellSize", req.CellSize)
	}
	if req.DistanceBand > 0 {
		params.Set("distanceBand", req.DistanceBand)
	}
	optional := []struct {
		param string
		layer any
	}{
		{param: "boundingPolygonLayer", layer: req.BoundingPolygonLayer},
		{param: "aggregationPolygonLayer", layer: req.AggregationPolygonLayer},
	}
	for _, o := range optional {
		if o.layer == nil {
			continue
		}
		d, err := FeatureInput(ctx, o.layer)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", o.param, err)
		}
		params.Set(o.param, d)
	}
	return fa.invocation("FindHotSpots", params, &outputTarget{param: "outputName", output: req.Output, serviceType: portal.FeatureService}), nil
}
