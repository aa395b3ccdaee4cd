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

// Package portal provides the subset of the ArcGIS portal content API used to
// provision analysis outputs and to resolve portal items used as task inputs.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/go-querystring/query"

	"github.com/gpservices/gp-go/gpclient"
	"github.com/gpservices/gp-go/internal/rest"
)

// ErrAnonymous is returned by operations which require a signed-in user.
var ErrAnonymous = errors.New("operation requires a signed-in user")

// Service types accepted by [ContentManager.CreateService].
const (
	FeatureService = "featureService"
	ImageService   = "imageService"
)

// User describes the signed-in portal user.
type User struct {
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	OrgID    string `json:"orgId,omitempty"`
}

// Self is the description of a portal returned by portals/self.
type Self struct {
	ID             string         `json:"id,omitempty"`
	Name           string         `json:"name,omitempty"`
	IsPortal       bool           `json:"isPortal"`
	CurrentVersion string         `json:"currentVersion,omitempty"`
	User           *User          `json:"user,omitempty"`
	HelperServices map[string]any `json:"helperServices,omitempty"`
}

// Folder is a user content folder.
type Folder struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// CreatedService describes a service created by [ContentManager.CreateService].
type CreatedService struct {
	ItemID     string `json:"itemId"`
	Name       string `json:"name"`
	ServiceURL string `json:"serviceurl"`
	Type       string `json:"type,omitempty"`
}

// ItemUpdate holds the item metadata changed by [ContentManager.UpdateItem].
// Empty fields are left unchanged.
type ItemUpdate struct {
	Title       string `url:"title,omitempty"`
	Description string `url:"description,omitempty"`
	Snippet     string `url:"snippet,omitempty"`
	Tags        string `url:"tags,omitempty"`
}

// ContentManager manages the content of the user signed in through a connection.
type ContentManager struct {
	portalURL string
	conn      gpclient.Connection

	mu   sync.Mutex
	self *Self
}

// NewContentManager creates a content manager for the portal at portalURL.
func NewContentManager(portalURL string, conn gpclient.Connection) *ContentManager {
	return &ContentManager{portalURL: strings.TrimSuffix(portalURL, "/"), conn: conn}
}

// PortalURL returns the portal root URL.
func (m *ContentManager) PortalURL() string {
	return m.portalURL
}

// Connection returns the connection used for portal requests.
func (m *ContentManager) Connection() gpclient.Connection {
	return m.conn
}

func (m *ContentManager) get(ctx context.Context, endpoint string, params url.Values, result any) error {
	token, err := m.conn.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get session token: %w", err)
	}
	body, err := m.conn.Get(ctx, endpoint, params, token)
	if err != nil {
		return err
	}
	return decode(body, result)
}

func (m *ContentManager) post(ctx context.Context, endpoint string, form url.Values, result any) error {
	token, err := m.conn.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get session token: %w", err)
	}
	body, err := m.conn.Post(ctx, endpoint, form, token)
	if err != nil {
		return err
	}
	return decode(body, result)
}

func decode(body json.RawMessage, result any) error {
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Self returns the portal description. It is fetched once per manager.
func (m *ContentManager) Self(ctx context.Context) (*Self, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.self != nil {
		return m.self, nil
	}
	var self Self
	if err := m.get(ctx, rest.MakePortalSelfPath(m.portalURL), nil, &self); err != nil {
		return nil, fmt.Errorf("failed to describe portal: %w", err)
	}
	m.self = &self
	return m.self, nil
}

// User returns the name of the signed-in user.
func (m *ContentManager) User(ctx context.Context) (string, error) {
	if m.conn.Anonymous() {
		return "", ErrAnonymous
	}
	self, err := m.Self(ctx)
	if err != nil {
		return "", err
	}
	if self.User == nil || self.User.Username == "" {
		return "", ErrAnonymous
	}
	return self.User.Username, nil
}

type serviceNameRequest struct {
	Name string `url:"name"`
	Type string `url:"type"`
}

// IsServiceNameAvailable reports whether a service of serviceType can be created with name.
func (m *ContentManager) IsServiceNameAvailable(ctx context.Context, name, serviceType string) (bool, error) {
	params, err := query.Values(serviceNameRequest{Name: name, Type: serviceType})
	if err != nil {
		return false, fmt.Errorf("failed to encode request: %w", err)
	}
	var resp struct {
		Available bool `json:"available"`
	}
	if err := m.get(ctx, rest.MakeServiceNameAvailablePath(m.portalURL), params, &resp); err != nil {
		return false, fmt.Errorf("failed to check service name %q: %w", name, err)
	}
	return resp.Available, nil
}

type createServiceRequest struct {
	CreateParameters string `url:"createParameters"`
	OutputType       string `url:"outputType"`
}

// CreateService creates an empty hosted service of serviceType in folderID ("" for the root folder).
func (m *ContentManager) CreateService(ctx context.Context, name, serviceType, folderID string) (*CreatedService, error) {
	user, err := m.User(ctx)
	if err != nil {
		return nil, err
	}

	params := createParameters(name, serviceType)
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode service parameters: %w", err)
	}
	form, err := query.Values(createServiceRequest{CreateParameters: string(encoded), OutputType: serviceType})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var resp struct {
		CreatedService
		Success bool `json:"success"`
	}
	if err := m.post(ctx, rest.MakeCreateServicePath(m.portalURL, user, folderID), form, &resp); err != nil {
		return nil, fmt.Errorf("failed to create service %q: %w", name, err)
	}
	if !resp.Success || resp.ItemID == "" {
		return nil, fmt.Errorf("failed to create service %q", name)
	}
	if resp.Name == "" {
		resp.Name = name
	}
	return &resp.CreatedService, nil
}

func createParameters(name, serviceType string) map[string]any {
	if serviceType == ImageService {
		return map[string]any{
			"name":         name,
			"description":  "",
			"capabilities": "Image",
			"properties": map[string]any{
				"isCached": true,
				"isTiled":  false,
			},
		}
	}
	return map[string]any{
		"name":                        name,
		"serviceDescription":          "",
		"hasStaticData":               false,
		"maxRecordCount":              2000,
		"supportedQueryFormats":       "JSON",
		"capabilities":                "Query",
		"description":                 "",
		"copyrightText":               "",
		"allowGeometryUpdates":        false,
		"supportsDisconnectedEditing": false,
		"spatialReference":            map[string]any{"wkid": 102100},
		"tables":                      []any{},
	}
}

// FolderID returns the id of the folder titled title, "" if the user has no such folder.
func (m *ContentManager) FolderID(ctx context.Context, title string) (string, error) {
	user, err := m.User(ctx)
	if err != nil {
		return "", err
	}
	var resp struct {
		Folders []Folder `json:"folders"`
	}
	if err := m.get(ctx, rest.MakeUserContentPath(m.portalURL, user, ""), nil, &resp); err != nil {
		return "", fmt.Errorf("failed to list folders: %w", err)
	}
	for _, f := range resp.Folders {
		if f.Title == title {
			return f.ID, nil
		}
	}
	return "", nil
}

// CreateFolder creates a folder titled title in the content of the signed-in user.
func (m *ContentManager) CreateFolder(ctx context.Context, title string) (*Folder, error) {
	user, err := m.User(ctx)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Success bool    `json:"success"`
		Folder  *Folder `json:"folder"`
	}
	form := url.Values{"title": []string{title}}
	if err := m.post(ctx, rest.MakeCreateFolderPath(m.portalURL, user), form, &resp); err != nil {
		return nil, fmt.Errorf("failed to create folder %q: %w", title, err)
	}
	if !resp.Success || resp.Folder == nil {
		return nil, fmt.Errorf("failed to create folder %q", title)
	}
	return resp.Folder, nil
}

// UpdateItem changes the metadata of an item owned by the signed-in user.
func (m *ContentManager) UpdateItem(ctx context.Context, itemID string, update ItemUpdate) error {
	user, err := m.User(ctx)
	if err != nil {
		return err
	}
	form, err := query.Values(update)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	var resp struct {
		Success bool `json:"success"`
	}
	if err := m.post(ctx, rest.MakeUpdateItemPath(m.portalURL, user, itemID), form, &resp); err != nil {
		return fmt.Errorf("failed to update item %s: %w", itemID, err)
	}
	if !resp.Success {
		return fmt.Errorf("failed to update item %s", itemID)
	}
	return nil
}

// Item returns a handle to the item with itemID.
func (m *ContentManager) Item(ctx context.Context, itemID string) (*Item, error) {
	item := &Item{manager: m}
	if err := m.get(ctx, rest.MakeItemPath(m.portalURL, itemID), nil, &item.info); err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", itemID, err)
	}
	if item.info.ID == "" {
		item.info.ID = itemID
	}
	return item, nil
}

// ItemData returns the JSON data of an item.
func (m *ContentManager) ItemData(ctx context.Context, itemID string) (map[string]any, error) {
	var data map[string]any
	if err := m.get(ctx, rest.MakeItemDataPath(m.portalURL, itemID), nil, &data); err != nil {
		return nil, fmt.Errorf("failed to get data of item %s: %w", itemID, err)
	}
	return data, nil
}
