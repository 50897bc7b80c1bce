package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	CreateUser(ctx context.Context, input User) (User, error)
	GetUserByUUID(ctx context.Context, uuid string) (User, error)
}

type postgresUserRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepository(pool *pgxpool.Pool) UserRepository {
	return &postgresUserRepository{pool: pool}
}

func (r *postgresUserRepository) CreateUser(ctx context.Context, input User) (User, error) {
	query := `INSERT INTO users (uuid, name, avatar_url, created_at)
              VALUES ($1, $2, $3, NOW())
              RETURNING id, uuid, name, avatar_url, created_at`

	row := r.pool.QueryRow(ctx, query, input.UUID, input.Name, input.AvatarURL)

	var created User
	if err := row.Scan(&created.ID, &created.UUID, &created.Name, &created.AvatarURL, &created.CreatedAt); err != nil {
		return User{}, err
	}
	return created, nil
}

func (r *postgresUserRepository) GetUserByUUID(ctx context.Context, uuid string) (User, error) {
	query := `SELECT id, uuid, name, avatar_url, created_at FROM users WHERE uuid = $1`

	var u User
	row := r.pool.QueryRow(ctx, query, uuid)
	if err := row.Scan(&u.ID, &u.UUID, &u.Name, &u.AvatarURL, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}
