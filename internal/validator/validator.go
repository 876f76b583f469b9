// Пакет validator — нормализация и валидация входящего запроса на создание
// пользователя. Чистая функция над запросом и одним конфигурационным значением
// (процессный пароль по умолчанию) — без обращений к окружению и внешним системам.
package validator

import (
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/cfusers/internal/domain/model"
)

// DateStartLayout — единственный допустимый формат даты начала доступа
// (yyyy-MM-ddTHH:mm:ss.fffZ). Любое отклонение — ошибка валидации.
const DateStartLayout = "2006-01-02T15:04:05.000Z"

// Ошибки валидации.
var (
	// ErrInvalidEmail — email пуст или не соответствует адресной грамматике.
	ErrInvalidEmail = errors.New("некорректный email")
	// ErrInvalidDateFormat — дата начала не соответствует формату DateStartLayout.
	ErrInvalidDateFormat = errors.New("некорректный формат даты начала (ожидается yyyy-MM-ddTHH:mm:ss.fffZ)")
	// ErrMissingPassword — пароль не задан ни в запросе, ни в конфигурации.
	ErrMissingPassword = errors.New("пароль не задан и отсутствует пароль по умолчанию")
)

// Request — сырой запрос на создание пользователя до валидации.
type Request struct {
	// GivenName — имя
	GivenName string
	// FamilyName — фамилия
	FamilyName string
	// Email — адрес электронной почты (уникальный ключ)
	Email string
	// DateStart — дата начала доступа, строка в формате DateStartLayout
	DateStart string
	// KeepAlive — непрозрачная подсказка планировщику (опционально)
	KeepAlive string
	// Password — пароль (опционально; пустой — берётся процессный default)
	Password string
}

// Validate нормализует и проверяет запрос, возвращая новую запись пользователя.
// defaultPassword — процессное значение по умолчанию (UM_DEFAULT_PASSWORD),
// передаётся явно, чтобы функция оставалась чистой и тестируемой.
//
// Детерминирована: одинаковый вход даёт одинаковую нормализованную запись
// (кроме генерируемого UUID записи).
func Validate(req Request, defaultPassword string) (*model.UserRecord, error) {
	// Email — обязательный, адресная грамматика RFC 5322
	if req.Email == "" {
		return nil, ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, req.Email)
	}

	// Дата начала — строго фиксированный формат.
	// Round-trip гарантирует точное совпадение с layout: time.Parse принял бы
	// и смещение зоны вместо литерала Z.
	dateStart, err := time.Parse(DateStartLayout, req.DateStart)
	if err != nil || dateStart.UTC().Format(DateStartLayout) != req.DateStart {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDateFormat, req.DateStart)
	}

	// Пароль: запрос → процессный default → ошибка
	password := req.Password
	if password == "" {
		password = defaultPassword
	}
	if password == "" {
		return nil, ErrMissingPassword
	}

	return &model.UserRecord{
		ID:              uuid.New().String(),
		GivenName:       req.GivenName,
		FamilyName:      req.FamilyName,
		Email:           req.Email,
		DateStart:       dateStart.UTC(),
		KeepAlive:       req.KeepAlive,
		DefaultPassword: password,
		ShortenedName:   model.ShortenName(req.GivenName, req.FamilyName),
	}, nil
}
