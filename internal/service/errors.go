// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — пользователь с таким email уже существует.
	ErrConflict = errors.New("конфликт — пользователь уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrRetryLater — временные отказы провайдеров исчерпали лимит повторов;
	// запись сохранена, фоновая сверка допровизионирует её позже.
	ErrRetryLater = errors.New("провайдеры временно недоступны, повторите позже")
	// ErrProvisioningFailed — постоянный отказ этапа провижининга.
	ErrProvisioningFailed = errors.New("провижининг не выполнен")
)
