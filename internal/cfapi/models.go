// models.go — DTO для UAA (SCIM) и Cloud Controller v3 API.
package cfapi

// TokenResponse — ответ UAA на Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// --- UAA SCIM ---

// SCIMUser — пользователь UAA в представлении SCIM.
type SCIMUser struct {
	ID       string      `json:"id,omitempty"`
	UserName string      `json:"userName"`
	Name     SCIMName    `json:"name"`
	Emails   []SCIMEmail `json:"emails"`
	Password string      `json:"password,omitempty"`
	Origin   string      `json:"origin,omitempty"`
	Active   bool        `json:"active"`
}

// SCIMName — имя пользователя SCIM.
type SCIMName struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
}

// SCIMEmail — email пользователя SCIM.
type SCIMEmail struct {
	Value   string `json:"value"`
	Primary bool   `json:"primary"`
}

// scimListResponse — ответ UAA на поиск пользователей.
type scimListResponse struct {
	Resources    []SCIMUser `json:"resources"`
	TotalResults int        `json:"totalResults"`
}

// uaaErrorResponse — тело ошибки UAA.
type uaaErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// --- Cloud Controller v3 ---

// Organization — организация Cloud Controller.
type Organization struct {
	GUID string `json:"guid,omitempty"`
	Name string `json:"name"`
}

// Space — пространство Cloud Controller.
type Space struct {
	GUID          string             `json:"guid,omitempty"`
	Name          string             `json:"name"`
	Relationships SpaceRelationships `json:"relationships,omitempty"`
}

// SpaceRelationships — связи пространства.
type SpaceRelationships struct {
	Organization *Relationship `json:"organization,omitempty"`
}

// Relationship — связь с ресурсом по GUID.
type Relationship struct {
	Data RelationshipData `json:"data"`
}

// RelationshipData — идентификатор связанного ресурса.
type RelationshipData struct {
	GUID string `json:"guid"`
}

// Role — роль пользователя в организации или пространстве.
type Role struct {
	GUID          string            `json:"guid,omitempty"`
	Type          string            `json:"type"`
	Relationships RoleRelationships `json:"relationships"`
}

// RoleRelationships — связи роли.
type RoleRelationships struct {
	User         *Relationship `json:"user,omitempty"`
	Organization *Relationship `json:"organization,omitempty"`
	Space        *Relationship `json:"space,omitempty"`
}

// Типы ролей Cloud Controller v3.
const (
	RoleOrgManager     = "organization_manager"
	RoleOrgUser        = "organization_user"
	RoleSpaceManager   = "space_manager"
	RoleSpaceDeveloper = "space_developer"
)

// ccListResponse — постраничный ответ Cloud Controller на выборку ресурсов.
type ccListResponse[T any] struct {
	Pagination struct {
		TotalResults int `json:"total_results"`
	} `json:"pagination"`
	Resources []T `json:"resources"`
}

// ccErrorResponse — тело ошибки Cloud Controller v3.
type ccErrorResponse struct {
	Errors []struct {
		Code   int    `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}
