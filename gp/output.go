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

// ServiceProperties names the service a task writes into.
type ServiceProperties struct {
	Name       string `json:"name"`
	ServiceURL string `json:"serviceUrl"`
}

// ItemProperties identifies the portal item a task writes into.
type ItemProperties struct {
	ItemID   string `json:"itemId"`
	FolderID string `json:"folderId,omitempty"`
}

// OutputDescriptor tells a task where to write its result. It either references an
// existing item, or a freshly provisioned service and its item.
type OutputDescriptor struct {
	ServiceProperties *ServiceProperties `json:"serviceProperties,omitempty"`
	ItemProperties    ItemProperties     `json:"itemProperties"`
}

// ExistingItemOutput references a pre-existing item.
func ExistingItemOutput(itemID string) *OutputDescriptor {
	return &OutputDescriptor{ItemProperties: ItemProperties{ItemID: itemID}}
}

// NewServiceOutput references a service provisioned for the task.
func NewServiceOutput(name, serviceURL, itemID, folderID string) *OutputDescriptor {
	return &OutputDescriptor{
		ServiceProperties: &ServiceProperties{Name: name, ServiceURL: serviceURL},
		ItemProperties:    ItemProperties{ItemID: itemID, FolderID: folderID},
	}
}
