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

package portal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gpservices/gp-go/gp"
)

// Item types handled by the analysis input normalizers.
const (
	TypeFeatureService    = "Feature Service"
	TypeFeatureCollection = "Feature Collection"
	TypeImageService      = "Image Service"
)

// ItemInfo is the description of a portal item.
type ItemInfo struct {
	ID    string   `json:"id"`
	Title string   `json:"title,omitempty"`
	Type  string   `json:"type"`
	URL   string   `json:"url,omitempty"`
	Owner string   `json:"owner,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Item is a handle to a portal item.
type Item struct {
	manager *ContentManager
	info    ItemInfo
}

// ItemID returns the item id.
func (i *Item) ItemID() string {
	return i.info.ID
}

// ItemType returns the item type, for example "Feature Service".
func (i *Item) ItemType() string {
	return i.info.Type
}

// URL returns the URL of the service backing the item, if any.
func (i *Item) URL() string {
	return i.info.URL
}

// Info returns the item description.
func (i *Item) Info() ItemInfo {
	return i.info
}

// Data returns the JSON data of the item.
func (i *Item) Data(ctx context.Context) (map[string]any, error) {
	return i.manager.ItemData(ctx, i.info.ID)
}

type serviceLayer struct {
	ID   any    `json:"id"`
	Name string `json:"name"`
}

// Layers returns the layers of the service backing the item.
func (i *Item) Layers(ctx context.Context) ([]*gp.Layer, error) {
	if i.info.URL == "" {
		return nil, fmt.Errorf("item %s has no service url", i.info.ID)
	}
	var resp struct {
		Layers []serviceLayer `json:"layers"`
		Tables []serviceLayer `json:"tables"`
	}
	if err := i.manager.get(ctx, i.info.URL, url.Values{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to list layers of item %s: %w", i.info.ID, err)
	}

	base := strings.TrimSuffix(i.info.URL, "/")
	layers := make([]*gp.Layer, 0, len(resp.Layers))
	for _, l := range resp.Layers {
		layers = append(layers, &gp.Layer{URL: base + "/" + layerID(l.ID)})
	}
	return layers, nil
}

func layerID(id any) string {
	switch v := id.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
