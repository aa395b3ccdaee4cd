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

package gp

// PointFeatureSet returns the single-point feature collection layer used when a
// (latitude, longitude) pair is passed as a task input. The layer skeleton is fixed;
// only the feature geometry changes.
func PointFeatureSet(ll LatLon) map[string]any {
	return map[string]any{
		"layerDefinition": map[string]any{
			"name":          "Point",
			"type":          "Feature Layer",
			"geometryType":  "esriGeometryPoint",
			"objectIdField": "OBJECTID",
			"displayField":  "",
			"hasM":          false,
			"hasZ":          false,
			"capabilities":  "Query",
			"extent": map[string]any{
				"xmin":             ll.Lon,
				"ymin":             ll.Lat,
				"xmax":             ll.Lon,
				"ymax":             ll.Lat,
				"spatialReference": map[string]any{"wkid": 4326},
			},
			"drawingInfo": map[string]any{
				"renderer": map[string]any{
					"type": "simple",
					"symbol": map[string]any{
						"type":        "esriPMS",
						"url":         "RedSphere.png",
						"contentType": "image/png",
						"width":       15,
						"height":      15,
						"angle":       0,
						"xoffset":     0,
						"yoffset":     0,
					},
					"label":       "",
					"description": "",
				},
				"transparency": 0,
			},
			"fields": []any{
				map[string]any{
					"name":     "OBJECTID",
					"type":     "esriFieldTypeOID",
					"alias":    "OBJECTID",
					"nullable": false,
					"editable": false,
				},
			},
			"types":     []any{},
			"templates": []any{},
		},
		"featureSet": map[string]any{
			"geometryType": "esriGeometryPoint",
			"features": []any{
				map[string]any{
					"attributes": map[string]any{"OBJECTID": 1},
					"geometry": map[string]any{
						"x":                ll.Lon,
						"y":                ll.Lat,
						"spatialReference": map[string]any{"wkid": 4326},
					},
				},
			},
		},
	}
}

// GeocodedFeatureSet wraps a geocoded location into a one-feature collection layer
// with a minimal point schema.
func GeocodedFeatureSet(location Point) map[string]any {
	sr := map[string]any{"wkid": 4326}
	if location.SpatialReference != nil {
		sr = map[string]any{}
		if location.SpatialReference.WKID != 0 {
			sr["wkid"] = location.SpatialReference.WKID
		}
		if location.SpatialReference.LatestWKID != 0 {
			sr["latestWkid"] = location.SpatialReference.LatestWKID
		}
	}
	return map[string]any{
		"layerDefinition": map[string]any{
			"geometryType":  "esriGeometryPoint",
			"objectIdField": "ObjectID",
			"fields": []any{
				map[string]any{
					"alias":    "ObjectID",
					"name":     "ObjectID",
					"type":     "esriFieldTypeOID",
					"editable": false,
				},
			},
		},
		"featureSet": map[string]any{
			"geometryType":     "esriGeometryPoint",
			"spatialReference": sr,
			"features": []any{
				map[string]any{
					"geometry": map[string]any{
						"x":                location.X,
						"y":                location.Y,
						"spatialReference": sr,
					},
					"attributes": map[string]any{},
				},
			},
		},
	}
}
