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
	"net/url"
	"reflect"
	"slices"
)

// TaskParameters is the flat set of camelCase wire parameters of a single task call.
// Optional parameters the caller did not provide are absent rather than null: the
// wire contract distinguishes the two.
type TaskParameters map[string]any

// Set stores a value under key.
func (p TaskParameters) Set(key string, value any) TaskParameters {
	p[key] = value
	return p
}

// SetOptional stores value under key unless it is nil, an empty string or a nil
// pointer, map or slice.
func (p TaskParameters) SetOptional(key string, value any) TaskParameters {
	if isAbsent(value) {
		return p
	}
	p[key] = value
	return p
}

// Clone returns a shallow copy of the parameters.
func (p TaskParameters) Clone() TaskParameters {
	return maps.Clone(p)
}

// Values encodes the parameters into form values. Strings are sent as-is, any other
// value is JSON encoded. f=json is always added.
func (p TaskParameters) Values() (url.Values, error) {
	values := url.Values{}
	for _, k := range slices.Sorted(maps.Keys(p)) {
		switch v := p[k].(type) {
		case string:
			values.Set(k, v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode parameter %q: %w", k, err)
			}
			values.Set(k, string(data))
		}
	}
	values.Set("f", "json")
	return values, nil
}

func isAbsent(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
