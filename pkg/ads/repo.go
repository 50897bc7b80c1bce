package ads

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAdNotFound = errors.New("ad not found")

type AdRepository interface {
	CreateAd(ctx context.Context, input Ad) (Ad, error)
	GetAdByUUID(ctx context.Context, uuid string) (Ad, error)
	ListAds(ctx context.Context, limit, offset int) ([]Ad, error)
}

type postgresAdRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresAdRepository(pool *pgxpool.Pool) AdRepository {
	return &postgresAdRepository{pool: pool}
}

func (r *postgresAdRepository) CreateAd(ctx context.Context, input Ad) (Ad, error) {
	query := `INSERT INTO ads (uuid, seller_id, title, description, price, image_url, status, created_at)
              SELECT $1, u.id, $3, $4, $5, $6, $7, NOW()
              FROM users u WHERE u.uuid = $2
              RETURNING id, uuid, title, description, price, image_url, status, created_at`

	row := r.pool.QueryRow(ctx, query,
		input.UUID, input.SellerUUID, input.Title, input.Description, input.Price, input.ImageURL, input.Status)

	created := Ad{SellerUUID: input.SellerUUID}
	if err := row.Scan(&created.ID, &created.UUID, &created.Title, &created.Description,
		&created.Price, &created.ImageURL, &created.Status, &created.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ad{}, errors.New("seller not found")
		}
		return Ad{}, err
	}
	return created, nil
}

func (r *postgresAdRepository) GetAdByUUID(ctx context.Context, uuid string) (Ad, error) {
	query := `SELECT a.id, a.uuid, u.uuid, u.name, u.avatar_url,
                     a.title, a.description, a.price, a.image_url, a.status, a.created_at
              FROM ads a
              JOIN users u ON a.seller_id = u.id
              WHERE a.uuid = $1`

	var ad Ad
	row := r.pool.QueryRow(ctx, query, uuid)
	if err := row.Scan(&ad.ID, &ad.UUID, &ad.SellerUUID, &ad.SellerName, &ad.SellerAvatar,
		&ad.Title, &ad.Description, &ad.Price, &ad.ImageURL, &ad.Status, &ad.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ad{}, ErrAdNotFound
		}
		return Ad{}, err
	}
	return ad, nil
}

func (r *postgresAdRepository) ListAds(ctx context.Context, limit, offset int) ([]Ad, error) {
	query := `SELECT a.id, a.uuid, u.uuid, u.name, u.avatar_url,
                     a.title, a.description, a.price, a.image_url, a.status, a.created_at
              FROM ads a
              JOIN users u ON a.seller_id = u.id
              WHERE a.status = 'active'
              ORDER BY a.created_at DESC
              LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Ad, 0, limit)
	for rows.Next() {
		var ad Ad
		if err := rows.Scan(&ad.ID, &ad.UUID, &ad.SellerUUID, &ad.SellerName, &ad.SellerAvatar,
			&ad.Title, &ad.Description, &ad.Price, &ad.ImageURL, &ad.Status, &ad.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ad)
	}
	return result, rows.Err()
}
