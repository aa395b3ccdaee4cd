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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/clock/testclock"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/gpclient"
	"github.com/gpservices/gp-go/internal/testutil"
	"github.com/gpservices/gp-go/portal"
)

const (
	spatialPath = "/arcgis/rest/services/System/SpatialAnalysisTools/GPServer"
	rasterPath  = "/arcgis/rest/services/System/RasterAnalysisTools/GPServer"
	availPath   = "/sharing/rest/portals/self/isServiceNameAvailable"
)

type testEnv struct {
	server  *testutil.Server
	conn    *gpclient.HTTPConnection
	content *portal.ContentManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	server := testutil.NewServer(t).
		JSON("/sharing/rest/portals/self", map[string]any{"user": map[string]any{"username": "analyst"}}).
		JSON(availPath, map[string]any{"available": true})
	conn := gpclient.NewConnection(server.URL, gpclient.WithTokenSource(gpclient.StaticToken("session")))
	return &testEnv{server: server, conn: conn, content: portal.NewContentManager(server.URL, conn)}
}

func (e *testEnv) service(t *testing.T, path string, version any) *gpclient.AsyncService {
	t.Helper()
	e.server.JSON(path, map[string]any{"currentVersion": version})
	svc := gpclient.NewService(e.server.URL+path, e.conn, "server-token")
	return gpclient.NewAsyncService(svc, gpclient.WithClock(testclock.NewDilatedWallClock(time.Millisecond)))
}

func (e *testEnv) succeedJob(taskPath, jobID string, value any) {
	e.server.
		JSON(taskPath+"/submitJob", map[string]any{"jobId": jobID, "jobStatus": "esriJobSubmitted"}).
		JSON(taskPath+"/jobs/"+jobID, map[string]any{
			"jobId":     jobID,
			"jobStatus": "esriJobSucceeded",
			"results":   map[string]any{"outputLayer": map[string]any{"paramUrl": "results/outputLayer"}},
		}).
		JSON(taskPath+"/jobs/"+jobID+"/results/outputLayer", map[string]any{"value": value})
}

func TestFeatureAnalysis_ExistingServiceName(t *testing.T) {
	env := newTestEnv(t)
	env.server.JSON(availPath, map[string]any{"available": false})
	fa := NewFeatureAnalysis(env.service(t, spatialPath, 11.1), env.content)

	inv, err := fa.FindHotSpots(t.Context(), FindHotSpotsRequest{
		AnalysisLayer: "https://svc/FeatureServer/0",
		Output:        NewOutput("Existing_Service"),
	})
	if err != nil {
		t.Fatalf("FindHotSpots() failed: %v", err)
	}
	if _, err := inv.Run(t.Context()); !errors.Is(err, gp.ErrServiceExists) {
		t.Fatalf("Run() error = %v, want %v", err, gp.ErrServiceExists)
	}

	for _, c := range env.server.Calls() {
		if c.Method == "POST" && c.Path == spatialPath+"/FindHotSpots/submitJob" {
			t.Fatalf("job submitted despite the name collision")
		}
	}
	if n := len(env.server.CallsTo("/sharing/rest/content/users/analyst/createService")); n != 0 {
		t.Errorf("got %d createService calls, want 0", n)
	}
}

func TestFeatureAnalysis_AggregatePoints(t *testing.T) {
	env := newTestEnv(t)
	env.server.
		JSON("/sharing/rest/content/users/analyst/createService", map[string]any{
			"success":    true,
			"itemId":     "out1",
			"name":       "Counts",
			"serviceurl": "https://services/Counts/FeatureServer",
		}).
		JSON("/sharing/rest/content/users/analyst/items/out1/update", map[string]any{"success": true})
	taskPath := spatialPath + "/AggregatePoints"
	env.succeedJob(taskPath, "j1", map[string]any{"itemId": "out1", "url": "https://services/Counts/FeatureServer/0"})
	fa := NewFeatureAnalysis(env.service(t, spatialPath, 11.1), env.content)

	keep := false
	inv, err := fa.AggregatePoints(t.Context(), AggregatePointsRequest{
		PointLayer:                 [2]float64{13.085, 80.270},
		PolygonLayer:               &gp.Layer{URL: "https://svc/FeatureServer/1"},
		KeepBoundariesWithNoPoints: &keep,
		SummaryFields:              []string{"Sales Sum"},
		Output:                     NewOutput("Counts"),
	})
	if err != nil {
		t.Fatalf("AggregatePoints() failed: %v", err)
	}
	results, err := inv.Run(t.Context())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	item, err := results.Item("outputLayer")
	if err != nil {
		t.Fatalf("Item() failed: %v", err)
	}
	if item.ItemID != "out1" {
		t.Errorf("got output item %q, want out1", item.ItemID)
	}

	form := env.server.CallsTo(taskPath + "/submitJob")[0].Form
	if got := form.Get("token"); got != "server-token" {
		t.Errorf("got token %q, want server-token", got)
	}
	if got := form.Get("polygonLayer"); got != `{"url":"https://svc/FeatureServer/1"}` {
		t.Errorf("got polygonLayer %s", got)
	}
	if got := form.Get("keepBoundariesWithNoPoints"); got != "false" {
		t.Errorf("got keepBoundariesWithNoPoints %q, want false", got)
	}
	if _, ok := form["groupByField"]; ok {
		t.Errorf("unset optional groupByField was sent")
	}
	var output gp.OutputDescriptor
	if err := json.Unmarshal([]byte(form.Get("outputName")), &output); err != nil {
		t.Fatalf("outputName is not JSON: %v", err)
	}
	want := gp.NewServiceOutput("Counts", "https://services/Counts/FeatureServer", "out1", "")
	if diff := cmp.Diff(want, &output); diff != "" {
		t.Errorf("outputName mismatch (-want +got):\n%s", diff)
	}
}

func TestFeatureAnalysis_CreateBuffersValidation(t *testing.T) {
	env := newTestEnv(t)
	fa := NewFeatureAnalysis(env.service(t, spatialPath, 11.1), env.content)

	if _, err := fa.CreateBuffers(t.Context(), CreateBuffersRequest{InputLayer: "https://svc/FeatureServer/0"}); !errors.Is(err, gp.ErrUnsupportedInput) {
		t.Errorf("CreateBuffers() without distances error = %v, want %v", err, gp.ErrUnsupportedInput)
	}
	if _, err := fa.CreateBuffers(t.Context(), CreateBuffersRequest{InputLayer: 3.5, Distances: []float64{1}}); !errors.Is(err, gp.ErrUnsupportedInput) {
		t.Errorf("CreateBuffers() with a number error = %v, want %v", err, gp.ErrUnsupportedInput)
	}
	if n := len(env.server.Calls()); n != 0 {
		t.Errorf("got %d requests, want 0", n)
	}

	inv, err := fa.CreateBuffers(t.Context(), CreateBuffersRequest{InputLayer: "https://svc/FeatureServer/0", Distances: []float64{1, 2}})
	if err != nil {
		t.Fatalf("CreateBuffers() failed: %v", err)
	}
	want := gp.TaskParameters{
		"inputLayer": gp.NewURLInput("https://svc/FeatureServer/0", gp.URLOptions{}),
		"distances":  []float64{1, 2},
		"units":      "Meters",
	}
	if diff := cmp.Diff(mustMarshal(t, want), mustMarshal(t, inv.Params())); diff != "" {
		t.Errorf("Params() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvocation_Estimate(t *testing.T) {
	env := newTestEnv(t)
	env.server.JSON(spatialPath+"/CreateBuffers/estimate", map[string]any{"cost": 0.75})
	fa := NewFeatureAnalysis(env.service(t, spatialPath, 11.1), env.content)

	inv, err := fa.CreateBuffers(t.Context(), CreateBuffersRequest{InputLayer: "https://svc/FeatureServer/0", Distances: []float64{1}})
	if err != nil {
		t.Fatalf("CreateBuffers() failed: %v", err)
	}
	estimate, err := inv.Estimate(t.Context())
	if err != nil {
		t.Fatalf("Estimate() failed: %v", err)
	}
	if estimate.Cost != 0.75 {
		t.Errorf("got cost %v, want 0.75", estimate.Cost)
	}
	if n := len(env.server.CallsTo(availPath)); n != 0 {
		t.Errorf("estimate provisioned an output, got %d name checks", n)
	}
}

func TestRasterAnalysis_VersionGate(t *testing.T) {
	env := newTestEnv(t)
	ra := NewRasterAnalysis(env.service(t, rasterPath, 10.5), env.content)

	inv, err := ra.GenerateRaster(t.Context(), GenerateRasterRequest{
		RasterFunction: map[string]any{"name": "Slope"},
		Rasters:        map[string]any{"Raster": "https://img/Elevation/ImageServer"},
	})
	if err != nil {
		t.Fatalf("GenerateRaster() failed: %v", err)
	}
	if _, err := inv.Start(t.Context()); !errors.Is(err, gp.ErrUnsupportedVersion) {
		t.Fatalf("Start() error = %v, want %v", err, gp.ErrUnsupportedVersion)
	}
	if n := len(env.server.CallsTo(rasterPath + "/GenerateRaster/submitJob")); n != 0 {
		t.Errorf("got %d submissions, want 0", n)
	}
}

func TestRasterAnalysis_GenerateRasterStart(t *testing.T) {
	env := newTestEnv(t)
	env.server.
		JSON("/sharing/rest/content/users/analyst/createService", map[string]any{"success": true, "itemId": "r1", "serviceurl": "https://img/Slope/ImageServer"}).
		JSON("/sharing/rest/content/users/analyst/items/r1/update", map[string]any{"success": true})
	taskPath := rasterPath + "/GenerateRaster"
	env.succeedJob(taskPath, "r-job", map[string]any{"itemId": "r1", "url": "https://img/Slope/ImageServer"})
	ra := NewRasterAnalysis(env.service(t, rasterPath, "10.8.1"), env.content)

	inv, err := ra.GenerateRaster(t.Context(), GenerateRasterRequest{
		RasterFunction:    map[string]any{"name": "Slope"},
		FunctionArguments: map[string]any{"ZFactor": 1},
		Rasters:           map[string]any{"DEM": "https://img/Elevation/ImageServer"},
		Output:            NewOutput("Slope"),
	})
	if err != nil {
		t.Fatalf("GenerateRaster() failed: %v", err)
	}
	job, err := inv.Start(t.Context())
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if job.Origin() != OriginRasterAnalysis || job.Task() != "GenerateRaster" {
		t.Errorf("got job %s/%s, want %s/GenerateRaster", job.Origin(), job.Task(), OriginRasterAnalysis)
	}
	if _, err := job.Wait(t.Context()); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}

	form := env.server.CallsTo(taskPath + "/submitJob")[0].Form
	want := `{"DEM":{"url":"https://img/Elevation/ImageServer","serviceToken":"server-token"},"ZFactor":1}`
	if got := form.Get("functionArguments"); got != want {
		t.Errorf("got functionArguments %s, want %s", got, want)
	}
}

func TestGeoAnalytics_CreateSpaceTimeCube(t *testing.T) {
	env := newTestEnv(t)
	const gaPath = "/arcgis/rest/services/System/GeoAnalyticsTools/GPServer"
	taskPath := gaPath + "/CreateSpaceTimeCube"
	env.succeedJob(taskPath, "ga1", map[string]any{"itemId": "cube1"})
	ga := NewGeoAnalytics(env.service(t, gaPath, 10.7), env.content)

	if _, err := ga.CreateSpaceTimeCube(t.Context(), CreateSpaceTimeCubeRequest{PointLayer: "https://svc/FeatureServer/0"}); !errors.Is(err, gp.ErrUnsupportedInput) {
		t.Errorf("CreateSpaceTimeCube() without bins error = %v, want %v", err, gp.ErrUnsupportedInput)
	}

	inv, err := ga.CreateSpaceTimeCube(t.Context(), CreateSpaceTimeCubeRequest{
		PointLayer:           "https://svc/FeatureServer/0",
		BinSize:              5,
		BinSizeUnit:          "Kilometers",
		TimeStepInterval:     1,
		TimeStepIntervalUnit: "Weeks",
		OutputName:           "Crimes",
	})
	if err != nil {
		t.Fatalf("CreateSpaceTimeCube() failed: %v", err)
	}
	if _, err := inv.Run(t.Context()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	form := env.server.CallsTo(taskPath + "/submitJob")[0].Form
	if got := form.Get("outputName"); got != "Crimes" {
		t.Errorf("got outputName %q, want Crimes", got)
	}
	if n := len(env.server.CallsTo(availPath)); n != 0 {
		t.Errorf("got %d name checks, want 0", n)
	}
}

func TestGeoAnalytics_DescribeDatasetToExistingItem(t *testing.T) {
	env := newTestEnv(t)
	const gaPath = "/arcgis/rest/services/System/GeoAnalyticsTools/GPServer"
	taskPath := gaPath + "/DescribeDataset"
	env.succeedJob(taskPath, "ga2", map[string]any{"itemId": "existing"})
	ga := NewGeoAnalytics(env.service(t, gaPath, 10.7), nil)

	inv, err := ga.DescribeDataset(t.Context(), DescribeDatasetRequest{
		InputLayer: "/bigDataFileShares/Crimes:crimes",
		SampleSize: 10,
		Output:     ExistingOutput(&fakeItem{id: "existing", itemType: "Feature Service"}),
	})
	if err != nil {
		t.Fatalf("DescribeDataset() failed: %v", err)
	}
	if _, err := inv.Run(t.Context()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	form := env.server.CallsTo(taskPath + "/submitJob")[0].Form
	if got := form.Get("outputName"); got != `{"itemProperties":{"itemId":"existing"}}` {
		t.Errorf("got outputName %s", got)
	}
	if got := form.Get("inputLayer"); got != `{"uri":"/bigDataFileShares/Crimes:crimes"}` {
		t.Errorf("got inputLayer %s", got)
	}
}
