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

// Package gptools normalizes caller inputs into geoprocessing parameters,
// provisions analysis outputs and wraps the feature analysis, raster analysis
// and GeoAnalytics tools.
package gptools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gpservices/gp-go/gp"
)

// Item is a portal item usable as a task input.
type Item interface {
	ItemID() string
	ItemType() string
	Layers(ctx context.Context) ([]*gp.Layer, error)
	Data(ctx context.Context) (map[string]any, error)
}

// classifier reports whether it handles input and, if it does, the resulting descriptor.
type classifier func(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error)

// featureClassifiers is the ordered feature input ladder. The first match wins.
var featureClassifiers = []classifier{
	classifyItem([]string{"Feature Service", "Feature Collection"}),
	classifyLayerCollection,
	classifyFeatureCollection,
	classifyLayer,
	classifyLatLon,
	classifyGeocoded,
	classifyFeatureSet,
	classifyString(false),
}

// rasterClassifiers is the ordered raster input ladder. The first match wins.
var rasterClassifiers = []classifier{
	classifyItem([]string{"Image Service"}),
	classifyImageryLayer,
	classifyLayer,
	classifyFeatureSet,
	classifyString(true),
}

const (
	featureShapes = "portal item, *gp.LayerCollection, *gp.FeatureCollection, *gp.Layer, gp.LatLon, [2]float64, geocode result, feature set map, url or uri string"
	rasterShapes  = "portal item, *gp.ImageryLayer, *gp.Layer, descriptor map, url or uri string"
)

// FeatureInput normalizes a feature input.
func FeatureInput(ctx context.Context, input any) (gp.InputDescriptor, error) {
	return classify(ctx, featureClassifiers, input, "", featureShapes)
}

// RasterInput normalizes a raster input. A non-empty token is attached as
// serviceToken to ImageServer and MapServer urls.
func RasterInput(ctx context.Context, input any, token string) (gp.InputDescriptor, error) {
	return classify(ctx, rasterClassifiers, input, token, rasterShapes)
}

// ImageCollectionInput normalizes one or more rasters. A single raster yields a
// descriptor, several rasters yield a list of descriptors.
func ImageCollectionInput(ctx context.Context, token string, inputs ...any) (any, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no rasters", gp.ErrUnsupportedInput)
	}
	descriptors := make([]gp.InputDescriptor, 0, len(inputs))
	for _, in := range inputs {
		d, err := RasterInput(ctx, in, token)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	if len(descriptors) == 1 {
		return descriptors[0], nil
	}
	return descriptors, nil
}

func classify(ctx context.Context, ladder []classifier, input any, token, accepted string) (gp.InputDescriptor, error) {
	if isNilInput(input) {
		return gp.InputDescriptor{}, fmt.Errorf("%w nil %T, expected one of: %s", gp.ErrUnsupportedInput, input, accepted)
	}
	for _, c := range ladder {
		d, ok, err := c(ctx, input, token)
		if err != nil {
			return gp.InputDescriptor{}, err
		}
		if ok {
			return d, nil
		}
	}
	return gp.InputDescriptor{}, fmt.Errorf("%w %T, expected one of: %s", gp.ErrUnsupportedInput, input, accepted)
}

func classifyItem(accepted []string) classifier {
	return func(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
		item, ok := input.(Item)
		if !ok {
			return gp.InputDescriptor{}, false, nil
		}
		itemType := item.ItemType()
		if !slices.Contains(accepted, itemType) {
			return gp.InputDescriptor{}, true, fmt.Errorf("%w %q of item %s, expected one of: %s", gp.ErrUnsupportedItemType, itemType, item.ItemID(), strings.Join(accepted, ", "))
		}

		switch itemType {
		case "Feature Service":
			layers, err := item.Layers(ctx)
			if err != nil {
				return gp.InputDescriptor{}, true, err
			}
			if len(layers) == 0 {
				return gp.InputDescriptor{}, true, fmt.Errorf("%w: item %s has no layers", gp.ErrUnsupportedInput, item.ItemID())
			}
			return layers[0].LayerDict(), true, nil
		case "Feature Collection":
			data, err := item.Data(ctx)
			if err != nil {
				return gp.InputDescriptor{}, true, err
			}
			layers, _ := data["layers"].([]any)
			if len(layers) == 0 {
				return gp.InputDescriptor{}, true, fmt.Errorf("%w: item %s has no layers", gp.ErrUnsupportedInput, item.ItemID())
			}
			first, ok := layers[0].(map[string]any)
			if !ok {
				return gp.InputDescriptor{}, true, fmt.Errorf("%w: item %s has a malformed layer", gp.ErrUnsupportedInput, item.ItemID())
			}
			return gp.NewFeatureSetInput(first), true, nil
		default:
			return gp.NewItemInput(item.ItemID()), true, nil
		}
	}
}

func classifyLayerCollection(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
	lc, ok := input.(*gp.LayerCollection)
	if !ok {
		return gp.InputDescriptor{}, false, nil
	}
	if len(lc.Layers) == 0 || lc.Layers[0] == nil {
		return gp.InputDescriptor{}, true, fmt.Errorf("%w: layer collection %s has no layers", gp.ErrUnsupportedInput, lc.URL)
	}
	return lc.Layers[0].LayerDict(), true, nil
}

func classifyFeatureCollection(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
	fc, ok := input.(*gp.FeatureCollection)
	if !ok {
		return gp.InputDescriptor{}, false, nil
	}
	switch {
	case fc.Properties != nil:
		return gp.NewFeatureSetInput(fc.Properties), true, nil
	case fc.LayerDict != nil:
		return gp.NewFeatureSetInput(fc.LayerDict), true, nil
	default:
		return gp.NewFeatureSetInput(fc.Layer), true, nil
	}
}

func classifyLayer(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
	layer, ok := input.(*gp.Layer)
	if !ok {
		return gp.InputDescriptor{}, false, nil
	}
	if token != "" && layer.ServiceToken == "" && isTokenizedService(layer.URL) {
		l := *layer
		l.ServiceToken = token
		layer = &l
	}
	return layer.LayerDict(), true, nil
}

func classifyImageryLayer(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
	layer, ok := input.(*gp.ImageryLayer)
	if !ok {
		return gp.InputDescriptor{}, false, nil
	}
	if token != "" && layer.ServiceToken == "" && isTokenizedService(layer.URL) {
		l := *layer
		l.ServiceToken = token
		layer = &l
	}
	return layer.LayerDict(), true, nil
}

func classifyLatLon(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
	switch v := input.(type) {
	case gp.LatLon:
		return gp.NewFeatureSetInput(gp.PointFeatureSet(v)), true, nil
	case [2]float64:
		return gp.NewFeatureSetInput(gp.PointFeatureSet(gp.LatLon{Lat: v[0], Lon: v[1]})), true, nil
	default:
		return gp.InputDescriptor{}, false, nil
	}
}

func classifyGeocoded(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
	switch v := input.(type) {
	case *gp.GeocodeResult:
		return gp.NewFeatureSetInput(gp.GeocodedFeatureSet(v.Location)), true, nil
	case map[string]any:
		location, ok := v["location"]
		if !ok {
			return gp.InputDescriptor{}, false, nil
		}
		var pt gp.Point
		data, err := json.Marshal(location)
		if err == nil {
			err = json.Unmarshal(data, &pt)
		}
		if err != nil {
			return gp.InputDescriptor{}, true, fmt.Errorf("%w: malformed geocode location: %w", gp.ErrUnsupportedInput, err)
		}
		return gp.NewFeatureSetInput(gp.GeocodedFeatureSet(pt)), true, nil
	default:
		return gp.InputDescriptor{}, false, nil
	}
}

func classifyFeatureSet(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
	m, ok := input.(map[string]any)
	if !ok {
		return gp.InputDescriptor{}, false, nil
	}
	return gp.NewFeatureSetInput(m), true, nil
}

func classifyString(raster bool) classifier {
	return func(ctx context.Context, input any, token string) (gp.InputDescriptor, bool, error) {
		s, ok := input.(string)
		if !ok {
			return gp.InputDescriptor{}, false, nil
		}
		if !strings.HasPrefix(s, "http:") && !strings.HasPrefix(s, "https:") {
			return gp.NewURIInput(s), true, nil
		}
		if !raster {
			return gp.NewURLInput(s, gp.URLOptions{}), true, nil
		}
		u := strings.Replace(s, "/RasterRendering/", "/", 1)
		opts := gp.URLOptions{}
		if token != "" && isTokenizedService(u) {
			opts.ServiceToken = token
		}
		return gp.NewURLInput(u, opts), true, nil
	}
}

func isTokenizedService(u string) bool {
	return strings.Contains(u, "/ImageServer") || strings.Contains(u, "/MapServer")
}

// isNilInput reports whether input is nil or a typed nil pointer, map or slice.
func isNilInput(input any) bool {
	if input == nil {
		return true
	}
	v := reflect.ValueOf(input)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
