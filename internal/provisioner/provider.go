// Пакет provisioner — приведение внешних ресурсов Cloud Foundry
// (аккаунт UAA, организация, пространство) к требуемому состоянию записи.
//
// Каждый внешний ресурс выражен одной способностью ResourceProvider:
// найти ресурс по естественному ключу или создать его. Reconciler
// прогоняет провайдеров по порядку, фиксируя прогресс в State Store
// после каждого этапа.
package provisioner

import (
	"context"
	"fmt"

	"github.com/bigkaa/cfusers/internal/cfapi"
	"github.com/bigkaa/cfusers/internal/domain/model"
)

// ResourceProvider — способность одного внешнего ресурса.
// Find и Create используют естественный ключ ресурса, производный от
// записи (email для аккаунта, имя организации/пространства для CC).
type ResourceProvider interface {
	// Stage возвращает имя этапа (account, org, space).
	Stage() string
	// Exists сообщает, создан ли ресурс по данным записи.
	Exists(rec *model.UserRecord) bool
	// Find ищет ресурс по естественному ключу.
	// found=false без ошибки — ресурса нет.
	Find(ctx context.Context, rec *model.UserRecord) (id string, found bool, err error)
	// Create создаёт ресурс и возвращает его идентификатор.
	Create(ctx context.Context, rec *model.UserRecord) (id string, err error)
	// Apply записывает идентификатор ресурса в запись и выставляет флаг.
	Apply(rec *model.UserRecord, id string)
}

// uaaAPI — часть клиента UAA, нужная провайдеру аккаунтов.
type uaaAPI interface {
	FindUserByName(ctx context.Context, userName string) (*cfapi.SCIMUser, error)
	CreateUser(ctx context.Context, user *cfapi.SCIMUser) (*cfapi.SCIMUser, error)
}

// ccAPI — часть клиента Cloud Controller, нужная провайдерам организаций
// и пространств.
type ccAPI interface {
	FindOrgByName(ctx context.Context, name string) (*cfapi.Organization, error)
	CreateOrg(ctx context.Context, name string) (*cfapi.Organization, error)
	AssignOrgRole(ctx context.Context, orgGUID, userGUID, roleType string) error
	FindSpaceByName(ctx context.Context, orgGUID, name string) (*cfapi.Space, error)
	CreateSpace(ctx context.Context, orgGUID, name string) (*cfapi.Space, error)
	AssignSpaceRole(ctx context.Context, spaceGUID, userGUID, roleType string) error
}

// --- Аккаунт UAA ---

// AccountProvider — провайдер аккаунта пользователя в UAA.
// Естественный ключ — email (userName).
type AccountProvider struct {
	uaa uaaAPI
}

// NewAccountProvider создаёт провайдер аккаунтов UAA.
func NewAccountProvider(uaa uaaAPI) *AccountProvider {
	return &AccountProvider{uaa: uaa}
}

func (p *AccountProvider) Stage() string { return StageAccount }

func (p *AccountProvider) Exists(rec *model.UserRecord) bool { return rec.UserExists }

func (p *AccountProvider) Find(ctx context.Context, rec *model.UserRecord) (string, bool, error) {
	user, err := p.uaa.FindUserByName(ctx, rec.Email)
	if err != nil {
		return "", false, err
	}
	if user == nil {
		return "", false, nil
	}
	return user.ID, true, nil
}

func (p *AccountProvider) Create(ctx context.Context, rec *model.UserRecord) (string, error) {
	created, err := p.uaa.CreateUser(ctx, &cfapi.SCIMUser{
		UserName: rec.Email,
		Name: cfapi.SCIMName{
			GivenName:  rec.GivenName,
			FamilyName: rec.FamilyName,
		},
		Emails:   []cfapi.SCIMEmail{{Value: rec.Email, Primary: true}},
		Password: rec.DefaultPassword,
		Active:   true,
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (p *AccountProvider) Apply(rec *model.UserRecord, id string) {
	rec.UAAUserID = id
	rec.UserExists = true
}

// --- Организация ---

// OrgProvider — провайдер организации Cloud Controller.
// Естественный ключ — имя организации (<short>-org).
// Роли organization_manager и organization_user — часть целевого
// состояния этапа: назначаются и при создании, и при адопции.
type OrgProvider struct {
	cc ccAPI
}

// NewOrgProvider создаёт провайдер организаций.
func NewOrgProvider(cc ccAPI) *OrgProvider {
	return &OrgProvider{cc: cc}
}

func (p *OrgProvider) Stage() string { return StageOrg }

func (p *OrgProvider) Exists(rec *model.UserRecord) bool { return rec.OrgExists }

func (p *OrgProvider) Find(ctx context.Context, rec *model.UserRecord) (string, bool, error) {
	org, err := p.cc.FindOrgByName(ctx, rec.OrgName())
	if err != nil {
		return "", false, err
	}
	if org == nil {
		return "", false, nil
	}
	// Организация могла быть создана прерванным прогоном до назначения
	// ролей: роли — часть целевого состояния этапа, доводим их и при адопции
	if err := p.ensureRoles(ctx, org.GUID, rec.UAAUserID); err != nil {
		return "", false, err
	}
	return org.GUID, true, nil
}

func (p *OrgProvider) Create(ctx context.Context, rec *model.UserRecord) (string, error) {
	org, err := p.cc.CreateOrg(ctx, rec.OrgName())
	if err != nil {
		return "", err
	}
	if err := p.ensureRoles(ctx, org.GUID, rec.UAAUserID); err != nil {
		return "", err
	}
	return org.GUID, nil
}

// ensureRoles назначает пользователю роли организации.
// Повторное назначение уже существующей роли — не отказ.
func (p *OrgProvider) ensureRoles(ctx context.Context, orgGUID, userGUID string) error {
	for _, role := range []string{cfapi.RoleOrgManager, cfapi.RoleOrgUser} {
		if err := p.cc.AssignOrgRole(ctx, orgGUID, userGUID, role); err != nil && !cfapi.IsAlreadyExists(err) {
			return fmt.Errorf("назначение роли %s: %w", role, err)
		}
	}
	return nil
}

func (p *OrgProvider) Apply(rec *model.UserRecord, id string) {
	rec.OrgID = id
	rec.OrgExists = true
}

// --- Пространство ---

// SpaceProvider — провайдер пространства Cloud Controller.
// Естественный ключ — имя пространства (<short>-dev) внутри организации
// записи. Роли space_manager и space_developer — часть целевого
// состояния этапа: назначаются и при создании, и при адопции.
type SpaceProvider struct {
	cc ccAPI
}

// NewSpaceProvider создаёт провайдер пространств.
func NewSpaceProvider(cc ccAPI) *SpaceProvider {
	return &SpaceProvider{cc: cc}
}

func (p *SpaceProvider) Stage() string { return StageSpace }

func (p *SpaceProvider) Exists(rec *model.UserRecord) bool { return rec.SpaceExists }

func (p *SpaceProvider) Find(ctx context.Context, rec *model.UserRecord) (string, bool, error) {
	space, err := p.cc.FindSpaceByName(ctx, rec.OrgID, rec.SpaceName())
	if err != nil {
		return "", false, err
	}
	if space == nil {
		return "", false, nil
	}
	if err := p.ensureRoles(ctx, space.GUID, rec.UAAUserID); err != nil {
		return "", false, err
	}
	return space.GUID, true, nil
}

func (p *SpaceProvider) Create(ctx context.Context, rec *model.UserRecord) (string, error) {
	space, err := p.cc.CreateSpace(ctx, rec.OrgID, rec.SpaceName())
	if err != nil {
		return "", err
	}
	if err := p.ensureRoles(ctx, space.GUID, rec.UAAUserID); err != nil {
		return "", err
	}
	return space.GUID, nil
}

// ensureRoles назначает пользователю роли пространства.
// Повторное назначение уже существующей роли — не отказ.
func (p *SpaceProvider) ensureRoles(ctx context.Context, spaceGUID, userGUID string) error {
	for _, role := range []string{cfapi.RoleSpaceManager, cfapi.RoleSpaceDeveloper} {
		if err := p.cc.AssignSpaceRole(ctx, spaceGUID, userGUID, role); err != nil && !cfapi.IsAlreadyExists(err) {
			return fmt.Errorf("назначение роли %s: %w", role, err)
		}
	}
	return nil
}

func (p *SpaceProvider) Apply(rec *model.UserRecord, id string) {
	rec.SpaceID = id
	rec.SpaceExists = true
}
