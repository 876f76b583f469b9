// cloudcontroller.go — клиент Cloud Controller v3 API: организации,
// пространства и роли пользователей.
package cfapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// CCClient — клиент Cloud Controller v3 API.
type CCClient struct {
	apiClient
}

// NewCCClient создаёт клиент Cloud Controller.
// baseURL — базовый URL API (например, https://api.system.example.com).
func NewCCClient(baseURL string, tokens *TokenSource, httpClient *http.Client, logger *slog.Logger) *CCClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &CCClient{apiClient: apiClient{
		provider:   "cloudcontroller",
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "cc_client")),
	}}
}

// --- Организации ---

// FindOrgByName ищет организацию по точному имени.
// Возвращает nil, nil если организация не найдена.
func (c *CCClient) FindOrgByName(ctx context.Context, name string) (*Organization, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet,
		"/v3/organizations?names="+url.QueryEscape(name), nil)
	if err != nil {
		return nil, err
	}

	var list ccListResponse[Organization]
	if err := c.decode(resp, &list); err != nil {
		return nil, fmt.Errorf("FindOrgByName: %w", err)
	}

	if len(list.Resources) == 0 {
		return nil, nil
	}
	return &list.Resources[0], nil
}

// CreateOrg создаёт организацию.
// Дубликат имени — *APIError 422 (IsAlreadyExists).
func (c *CCClient) CreateOrg(ctx context.Context, name string) (*Organization, error) {
	resp, err := c.doAuthorized(ctx, http.MethodPost, "/v3/organizations",
		Organization{Name: name})
	if err != nil {
		return nil, err
	}

	var org Organization
	if err := c.decode(resp, &org); err != nil {
		return nil, fmt.Errorf("CreateOrg: %w", err)
	}

	c.logger.Info("Организация создана",
		slog.String("name", org.Name),
		slog.String("org_id", org.GUID),
	)

	return &org, nil
}

// AssignOrgRole назначает пользователю роль в организации.
// roleType — organization_manager, organization_user и т.п.
// Уже назначенная роль — *APIError 422 (IsAlreadyExists), для
// идемпотентного reconcile это не отказ.
func (c *CCClient) AssignOrgRole(ctx context.Context, orgGUID, userGUID, roleType string) error {
	role := Role{
		Type: roleType,
		Relationships: RoleRelationships{
			User:         &Relationship{Data: RelationshipData{GUID: userGUID}},
			Organization: &Relationship{Data: RelationshipData{GUID: orgGUID}},
		},
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/v3/roles", role)
	if err != nil {
		return err
	}

	if err := c.decode(resp, nil); err != nil {
		return fmt.Errorf("AssignOrgRole(%s): %w", roleType, err)
	}
	return nil
}

// --- Пространства ---

// FindSpaceByName ищет пространство по имени внутри организации.
// Возвращает nil, nil если пространство не найдено.
func (c *CCClient) FindSpaceByName(ctx context.Context, orgGUID, name string) (*Space, error) {
	path := fmt.Sprintf("/v3/spaces?names=%s&organization_guids=%s",
		url.QueryEscape(name), url.QueryEscape(orgGUID))
	resp, err := c.doAuthorized(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var list ccListResponse[Space]
	if err := c.decode(resp, &list); err != nil {
		return nil, fmt.Errorf("FindSpaceByName: %w", err)
	}

	if len(list.Resources) == 0 {
		return nil, nil
	}
	return &list.Resources[0], nil
}

// CreateSpace создаёт пространство в организации.
// Дубликат имени — *APIError 422 (IsAlreadyExists).
func (c *CCClient) CreateSpace(ctx context.Context, orgGUID, name string) (*Space, error) {
	space := Space{
		Name: name,
		Relationships: SpaceRelationships{
			Organization: &Relationship{Data: RelationshipData{GUID: orgGUID}},
		},
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/v3/spaces", space)
	if err != nil {
		return nil, err
	}

	var created Space
	if err := c.decode(resp, &created); err != nil {
		return nil, fmt.Errorf("CreateSpace: %w", err)
	}

	c.logger.Info("Пространство создано",
		slog.String("name", created.Name),
		slog.String("space_id", created.GUID),
	)

	return &created, nil
}

// AssignSpaceRole назначает пользователю роль в пространстве.
// roleType — space_manager, space_developer и т.п.
func (c *CCClient) AssignSpaceRole(ctx context.Context, spaceGUID, userGUID, roleType string) error {
	role := Role{
		Type: roleType,
		Relationships: RoleRelationships{
			User:  &Relationship{Data: RelationshipData{GUID: userGUID}},
			Space: &Relationship{Data: RelationshipData{GUID: spaceGUID}},
		},
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/v3/roles", role)
	if err != nil {
		return err
	}

	if err := c.decode(resp, nil); err != nil {
		return fmt.Errorf("AssignSpaceRole(%s): %w", roleType, err)
	}
	return nil
}

// CheckReady проверяет доступность Cloud Controller через корневой endpoint.
// Реализует handlers.ReadinessChecker.
func (c *CCClient) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v3", nil)
	if err != nil {
		return "fail", fmt.Sprintf("Cloud Controller: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("Cloud Controller недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "fail", fmt.Sprintf("Cloud Controller вернул статус %d", resp.StatusCode)
	}
	return "ok", "Cloud Controller доступен"
}
