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

	"github.com/google/uuid"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/log"
	"github.com/gpservices/gp-go/portal"
)

// Content is the portal content API used for provisioning outputs.
type Content interface {
	IsServiceNameAvailable(ctx context.Context, name, serviceType string) (bool, error)
	CreateService(ctx context.Context, name, serviceType, folderID string) (*portal.CreatedService, error)
	FolderID(ctx context.Context, title string) (string, error)
	CreateFolder(ctx context.Context, title string) (*portal.Folder, error)
	UpdateItem(ctx context.Context, itemID string, update portal.ItemUpdate) error
}

var _ Content = (*portal.ContentManager)(nil)

// Output describes where a tool writes its result.
// The zero value creates a new service with a generated name in the root folder.
type Output struct {
	// Name is the name of the service to create. A name is generated when empty.
	Name string
	// Item is an existing item to write to. No service is created when set.
	Item Item
	// Folder is the title of the folder the new service is created in.
	Folder string
}

// NewOutput returns an [Output] creating a service named name.
func NewOutput(name string) Output {
	return Output{Name: name}
}

// ExistingOutput returns an [Output] writing to an existing item.
func ExistingOutput(item Item) Output {
	return Output{Item: item}
}

// Provisioner creates the hosted services analysis results are written to.
type Provisioner struct {
	content Content
}

// NewProvisioner creates a provisioner over the provided content API.
func NewProvisioner(content Content) *Provisioner {
	return &Provisioner{content: content}
}

const nameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateName returns "<task>_" followed by six random characters in [A-Z0-9].
func GenerateName(task string) string {
	id := uuid.New()
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = nameAlphabet[int(id[i])%len(nameAlphabet)]
	}
	return task + "_" + string(suffix)
}

func serviceKind(serviceType string) string {
	if serviceType == portal.ImageService {
		return "Image Service"
	}
	return "Feature Service"
}

// Provision resolves out into an output descriptor, creating a service of
// serviceType when needed. Name collisions fail with [gp.ErrServiceExists]
// before anything is created.
func (p *Provisioner) Provision(ctx context.Context, task string, out Output, serviceType string) (*gp.OutputDescriptor, error) {
	if out.Item != nil {
		return gp.ExistingItemOutput(out.Item.ItemID()), nil
	}

	name := out.Name
	if name == "" {
		name = GenerateName(task)
	}
	available, err := p.content.IsServiceNameAvailable(ctx, name, serviceType)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, fmt.Errorf("an output service named %q %w", name, gp.ErrServiceExists)
	}

	folderID := ""
	if out.Folder != "" {
		if folderID, err = p.resolveFolder(ctx, out.Folder); err != nil {
			return nil, err
		}
	}

	created, err := p.content.CreateService(ctx, name, serviceType, folderID)
	if err != nil {
		return nil, err
	}

	kind := serviceKind(serviceType)
	description := fmt.Sprintf("%s generated from running the %s tool.", kind, task)
	err = p.content.UpdateItem(ctx, created.ItemID, portal.ItemUpdate{
		Description: description,
		Snippet:     description,
		Tags:        "Analysis Result, " + task,
	})
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "output service created", "task", task, "name", created.Name, "item_id", created.ItemID)
	return gp.NewServiceOutput(created.Name, created.ServiceURL, created.ItemID, folderID), nil
}

func (p *Provisioner) resolveFolder(ctx context.Context, title string) (string, error) {
	id, err := p.content.FolderID(ctx, title)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	folder, err := p.content.CreateFolder(ctx, title)
	if err != nil {
		return "", err
	}
	return folder.ID, nil
}
