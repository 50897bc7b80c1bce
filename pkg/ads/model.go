package ads

import "time"

type Ad struct {
	ID           int64     `json:"-"`
	UUID         string    `json:"id"`
	SellerUUID   string    `json:"seller_id"`
	SellerName   string    `json:"seller_name,omitempty"`
	SellerAvatar string    `json:"seller_avatar,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Price        int64     `json:"price"`
	ImageURL     string    `json:"image_url,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}
