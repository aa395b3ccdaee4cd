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

import (
	"encoding/json"
	"fmt"
	"maps"
)

// InputKind identifies which shape an InputDescriptor holds.
type InputKind int

const (
	// InputUnspecified is the zero value of an uninitialized descriptor.
	InputUnspecified InputKind = iota
	// InputURL references a service or layer by URL.
	InputURL
	// InputURI references a data store path or another non-URL reference.
	InputURI
	// InputItem references a portal item by id.
	InputItem
	// InputFeatureSet carries the features inline.
	InputFeatureSet
)

func (k InputKind) String() string {
	switch k {
	case InputURL:
		return "url"
	case InputURI:
		return "uri"
	case InputItem:
		return "itemId"
	case InputFeatureSet:
		return "featureSet"
	default:
		return "unspecified"
	}
}

// URLOptions are attributes which can accompany a URL input.
type URLOptions struct {
	Filter        string         `json:"filter,omitempty"`
	ServiceToken  string         `json:"serviceToken,omitempty"`
	RenderingRule map[string]any `json:"renderingRule,omitempty"`
	MosaicRule    map[string]any `json:"mosaicRule,omitempty"`
}

// InputDescriptor is the normalized wire form of a feature or raster task input.
// It always holds exactly one of the supported shapes:
//
//	{"url": "..."}   {"uri": "..."}   {"itemId": "..."}   {<inline feature set>}
type InputDescriptor struct {
	kind       InputKind
	ref        string
	opts       URLOptions
	featureSet map[string]any
}

// NewURLInput creates a descriptor referencing a service or layer URL.
func NewURLInput(u string, opts URLOptions) InputDescriptor {
	return InputDescriptor{kind: InputURL, ref: u, opts: opts}
}

// NewURIInput creates a descriptor referencing a data store path.
func NewURIInput(uri string) InputDescriptor {
	return InputDescriptor{kind: InputURI, ref: uri}
}

// NewItemInput creates a descriptor referencing a portal item.
func NewItemInput(itemID string) InputDescriptor {
	return InputDescriptor{kind: InputItem, ref: itemID}
}

// NewFeatureSetInput creates a descriptor carrying an inline feature set or
// feature collection layer.
func NewFeatureSetInput(fs map[string]any) InputDescriptor {
	return InputDescriptor{kind: InputFeatureSet, featureSet: fs}
}

// Kind returns the shape held by the descriptor.
func (d InputDescriptor) Kind() InputKind {
	return d.kind
}

// Ref returns the url, uri or item id. It is empty for inline feature sets.
func (d InputDescriptor) Ref() string {
	return d.ref
}

// URLOptions returns the attributes accompanying a URL input.
func (d InputDescriptor) URLOptions() URLOptions {
	return d.opts
}

// FeatureSet returns a copy of the inline feature set.
func (d InputDescriptor) FeatureSet() map[string]any {
	return maps.Clone(d.featureSet)
}

// MarshalJSON implements json.Marshaler.
func (d InputDescriptor) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case InputURL:
		type urlInput struct {
			URL string `json:"url"`
			URLOptions
		}
		return json.Marshal(urlInput{URL: d.ref, URLOptions: d.opts})
	case InputURI:
		return json.Marshal(map[string]string{"uri": d.ref})
	case InputItem:
		return json.Marshal(map[string]string{"itemId": d.ref})
	case InputFeatureSet:
		return json.Marshal(d.featureSet)
	default:
		return nil, fmt.Errorf("cannot marshal %s input descriptor", d.kind)
	}
}

// Layer is a service layer used as an input.
type Layer struct {
	URL          string
	Filter       string
	ServiceToken string
}

// LayerDict returns the raw layer definition sent to the service.
func (l *Layer) LayerDict() InputDescriptor {
	return NewURLInput(l.URL, URLOptions{Filter: l.Filter, ServiceToken: l.ServiceToken})
}

// ImageryLayer is an image service layer together with the rendering options applied
// on the client side.
type ImageryLayer struct {
	URL           string
	ServiceToken  string
	RenderingRule map[string]any
	MosaicRule    map[string]any
}

// LayerDict returns the raw layer definition sent to the service.
func (l *ImageryLayer) LayerDict() InputDescriptor {
	return NewURLInput(l.URL, URLOptions{
		ServiceToken:  l.ServiceToken,
		RenderingRule: l.RenderingRule,
		MosaicRule:    l.MosaicRule,
	})
}

// LayerCollection is a group of layers, such as the layers of a feature service.
type LayerCollection struct {
	URL    string
	Layers []*Layer
}

// FeatureCollection is a client side collection of features. Properties holds the
// layer properties embedded in a feature collection item, LayerDict the raw layer
// definition and Layer the collection layer itself. The first non-empty is used.
type FeatureCollection struct {
	Properties map[string]any
	LayerDict  map[string]any
	Layer      map[string]any
}

// LatLon is a (latitude, longitude) pair, typically produced by a geocoder.
type LatLon struct {
	Lat float64
	Lon float64
}

// Point is a point geometry.
type Point struct {
	X                float64           `json:"x"`
	Y                float64           `json:"y"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID       int `json:"wkid,omitempty"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

// GeocodeResult is a candidate returned by a geocoder.
type GeocodeResult struct {
	Address    string         `json:"address,omitempty"`
	Location   Point          `json:"location"`
	Score      float64        `json:"score,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}
