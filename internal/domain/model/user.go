// Пакет model — доменные модели User Module.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ProvisioningState — производное состояние провижининга пользователя.
// Никогда не хранится в БД: всегда вычисляется из трёх флагов существования,
// поэтому не может разойтись с реальностью после сбоя или повтора.
type ProvisioningState string

const (
	// StateUnprovisioned — ни один из внешних ресурсов не создан.
	StateUnprovisioned ProvisioningState = "unprovisioned"
	// StateAccountCreated — есть аккаунт в UAA, нет организации.
	StateAccountCreated ProvisioningState = "account_created"
	// StateOrgAssigned — есть аккаунт и организация, нет пространства.
	StateOrgAssigned ProvisioningState = "org_assigned"
	// StateFullyProvisioned — созданы все три ресурса.
	StateFullyProvisioned ProvisioningState = "fully_provisioned"
)

// UserRecord — локальная запись о провижируемом пользователе.
// Хранится в таблице users, ключ поиска — email (уникальный).
//
// Поля существования/идентификаторов изменяет только Reconciler во время
// прогона; между прогонами долговременный владелец — State Store.
type UserRecord struct {
	// ID — UUID записи
	ID string
	// GivenName — имя
	GivenName string
	// FamilyName — фамилия
	FamilyName string
	// Email — адрес электронной почты, уникальный ключ поиска
	Email string
	// DateStart — дата начала доступа
	DateStart time.Time
	// KeepAlive — непрозрачная подсказка планировщику (хранится как есть)
	KeepAlive string
	// DefaultPassword — пароль для создания аккаунта UAA.
	// После конструирования записи никогда не пуст.
	DefaultPassword string
	// ShortenedName — отображаемое короткое имя (первая буква имени + фамилия,
	// в нижнем регистре). Только для отображения, не ключ поиска.
	ShortenedName string

	// --- Состояние провижининга ---

	// UAAUserID — идентификатор аккаунта в UAA (пустой, пока не создан)
	UAAUserID string
	// OrgID — GUID организации в Cloud Controller (пустой, пока не создана)
	OrgID string
	// SpaceID — GUID пространства в Cloud Controller (пустой, пока не создано)
	SpaceID string
	// UserExists — аккаунт UAA существует
	UserExists bool
	// OrgExists — организация существует
	OrgExists bool
	// SpaceExists — пространство существует
	SpaceExists bool

	// Version — версия записи для оптимистичной блокировки.
	// Сравнивается при Upsert; расхождение — ErrConflict.
	Version int64
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// State вычисляет состояние провижининга из флагов существования.
// Чистая функция над записью — хранимого поля статуса нет.
func (u *UserRecord) State() ProvisioningState {
	switch {
	case u.UserExists && u.OrgExists && u.SpaceExists:
		return StateFullyProvisioned
	case u.UserExists && u.OrgExists:
		return StateOrgAssigned
	case u.UserExists:
		return StateAccountCreated
	default:
		return StateUnprovisioned
	}
}

// CheckInvariants проверяет инвариант «идентификатор непуст ⟺ флаг установлен»
// для всех трёх пар. Возвращает ошибку для первой нарушенной пары.
func (u *UserRecord) CheckInvariants() error {
	pairs := []struct {
		name string
		id   string
		flag bool
	}{
		{"uaa_user_id", u.UAAUserID, u.UserExists},
		{"org_id", u.OrgID, u.OrgExists},
		{"space_id", u.SpaceID, u.SpaceExists},
	}

	for _, p := range pairs {
		if (p.id != "") != p.flag {
			return fmt.Errorf("нарушен инвариант записи %s: %s=%q, флаг=%v",
				u.Email, p.name, p.id, p.flag)
		}
	}
	return nil
}

// OrgName возвращает имя организации, производное от короткого имени.
func (u *UserRecord) OrgName() string {
	return u.ShortenedName + "-org"
}

// SpaceName возвращает имя пространства, производное от короткого имени.
func (u *UserRecord) SpaceName() string {
	return u.ShortenedName + "-dev"
}

// ShortenName строит короткое отображаемое имя: первая руна имени + фамилия,
// всё в нижнем регистре. Детерминировано для одинаковых входов.
func ShortenName(givenName, familyName string) string {
	given := []rune(strings.TrimSpace(givenName))
	family := strings.ToLower(strings.TrimSpace(familyName))
	if len(given) == 0 {
		return family
	}
	return strings.ToLower(string(given[0])) + family
}
