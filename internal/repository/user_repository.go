package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
)

type UserRepository struct {
	*config.Database
}

func NewUserRepository(database *config.Database) *UserRepository {
	return &UserRepository{database}
}

func (r *UserRepository) FindByUUID(ctx context.Context, exec sqlx.ExtContext, uuid string) (*model.User, error) {
	query := `
		SELECT uuid, email, first_name, last_name, role, subscription_status,
		       subscription_plan, is_active, is_suspended, created_at
		FROM users
		WHERE uuid = $1
	`
	var user model.User
	if err := sqlx.GetContext(ctx, exec, &user, query, uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NewStorage(apperr.CodeNotFound, "пользователь не найден: "+uuid, err)
		}
		return nil, err
	}
	return &user, nil
}

// Anonymize : GDPR-удаление — имя заменяется, учётка деактивируется,
// email освобождается. Сама строка сохраняется ради ссылочной
// целостности журнала аудита.
func (r *UserRepository) Anonymize(ctx context.Context, exec sqlx.ExtContext, uuid string) error {
	query := `
		UPDATE users
		SET first_name = 'DELETED', last_name = 'USER',
		    email = 'deleted-' || uuid || '@anonymized.invalid',
		    is_active = FALSE
		WHERE uuid = $1
	`
	_, err := exec.ExecContext(ctx, query, uuid)
	return err
}
