package users

import "time"

type User struct {
	ID        int64     `json:"-"`
	UUID      string    `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
