package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cfusers/internal/domain/model"
)

// UserRepository — интерфейс доступа к таблице users.
type UserRepository interface {
	// Create создаёт новую запись. Email уникален: дубликат — ErrConflict.
	Create(ctx context.Context, u *model.UserRecord) error
	// GetByEmail возвращает запись по email.
	GetByEmail(ctx context.Context, email string) (*model.UserRecord, error)
	// List возвращает записи с пагинацией, упорядоченные по дате создания.
	List(ctx context.Context, limit, offset int) ([]*model.UserRecord, error)
	// Count возвращает общее количество записей.
	Count(ctx context.Context) (int, error)
	// Upsert сохраняет состояние провижининга записи с оптимистичной
	// блокировкой: запись обновляется только если её version в БД совпадает
	// с u.Version. При расхождении — ErrConflict; вызывающий перечитывает
	// запись и продолжает от актуального состояния. При успехе u.Version
	// инкрементируется.
	Upsert(ctx context.Context, u *model.UserRecord) error
	// ListIncomplete возвращает записи, у которых создан не весь набор
	// внешних ресурсов. Используется фоновой сверкой.
	ListIncomplete(ctx context.Context, limit int) ([]*model.UserRecord, error)
}

// userRepo — реализация UserRepository.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, given_name, family_name, email, date_start, keep_alive,
	default_password, shortened_name, uaa_user_id, org_id, space_id,
	user_exists, org_exists, space_exists, version, created_at, updated_at`

// scanUser сканирует строку результата в модель UserRecord.
func scanUser(row pgx.Row) (*model.UserRecord, error) {
	u := &model.UserRecord{}
	err := row.Scan(
		&u.ID, &u.GivenName, &u.FamilyName, &u.Email, &u.DateStart, &u.KeepAlive,
		&u.DefaultPassword, &u.ShortenedName, &u.UAAUserID, &u.OrgID, &u.SpaceID,
		&u.UserExists, &u.OrgExists, &u.SpaceExists, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

func (r *userRepo) Create(ctx context.Context, u *model.UserRecord) error {
	query := `
		INSERT INTO users (id, given_name, family_name, email, date_start, keep_alive,
			default_password, shortened_name, uaa_user_id, org_id, space_id,
			user_exists, org_exists, space_exists)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING version, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.GivenName, u.FamilyName, u.Email, u.DateStart, u.KeepAlive,
		u.DefaultPassword, u.ShortenedName, u.UAAUserID, u.OrgID, u.SpaceID,
		u.UserExists, u.OrgExists, u.SpaceExists,
	).Scan(&u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь с email %s уже существует", ErrConflict, u.Email)
		}
		return fmt.Errorf("ошибка создания записи пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.UserRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) List(ctx context.Context, limit, offset int) ([]*model.UserRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, userColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return count, nil
}

func (r *userRepo) Upsert(ctx context.Context, u *model.UserRecord) error {
	query := `
		UPDATE users
		SET uaa_user_id = $3, org_id = $4, space_id = $5,
			user_exists = $6, org_exists = $7, space_exists = $8,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Version,
		u.UAAUserID, u.OrgID, u.SpaceID,
		u.UserExists, u.OrgExists, u.SpaceExists,
	).Scan(&u.Version, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо запись удалена, либо версия разошлась.
			// Отличаем одно от другого отдельным запросом.
			var exists bool
			if checkErr := r.db.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, u.ID,
			).Scan(&exists); checkErr != nil {
				return fmt.Errorf("ошибка проверки существования записи: %w", checkErr)
			}
			if !exists {
				return ErrNotFound
			}
			return fmt.Errorf("%w: версия записи %s устарела", ErrConflict, u.Email)
		}
		return fmt.Errorf("ошибка сохранения состояния пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) ListIncomplete(ctx context.Context, limit int) ([]*model.UserRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		WHERE NOT (user_exists AND org_exists AND space_exists)
		ORDER BY date_start
		LIMIT $1`, userColumns)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки недопровиженных записей: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// collectUsers собирает все строки результата в срез записей.
func collectUsers(rows pgx.Rows) ([]*model.UserRecord, error) {
	var result []*model.UserRecord
	for rows.Next() {
		u := &model.UserRecord{}
		if err := rows.Scan(
			&u.ID, &u.GivenName, &u.FamilyName, &u.Email, &u.DateStart, &u.KeepAlive,
			&u.DefaultPassword, &u.ShortenedName, &u.UAAUserID, &u.OrgID, &u.SpaceID,
			&u.UserExists, &u.OrgExists, &u.SpaceExists, &u.Version, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
