package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketchat/pkg/protocol"
)

var (
	ErrRoomNotFound    = errors.New("chat room not found")
	ErrMessageNotFound = errors.New("message not found")
)

type RoomRepository interface {
	GetOrCreateRoom(ctx context.Context, roomUUID, userUUID, otherUUID string) (protocol.ChatRoom, error)
	GetRoomByUUID(ctx context.Context, roomUUID string) (protocol.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userUUID string) ([]protocol.RoomSummary, error)
	GetRoomMessages(ctx context.Context, roomUUID string) ([]protocol.Message, error)
	SaveMessage(ctx context.Context, roomUUID string, msg protocol.Message) (protocol.Message, error)
	UpdateMessage(ctx context.Context, roomUUID, messageUUID, editorUUID, content string) error
	DeleteMessage(ctx context.Context, roomUUID, messageUUID, requesterUUID string) error
	MarkDelivered(ctx context.Context, messageUUID string, deliveredAt int64) error
	MarkRoomRead(ctx context.Context, roomUUID, readerUUID string) error
}

type postgresRoomRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRoomRepository(pool *pgxpool.Pool) RoomRepository {
	return &postgresRoomRepository{pool: pool}
}

const roomSelect = `
	SELECT r.uuid,
	       u1.uuid, u1.name, u1.avatar_url,
	       u2.uuid, u2.name, u2.avatar_url
	FROM chat_rooms r
	JOIN users u1 ON r.user1_id = u1.id
	JOIN users u2 ON r.user2_id = u2.id`

func scanRoom(row pgx.Row) (protocol.ChatRoom, error) {
	var room protocol.ChatRoom
	err := row.Scan(&room.ChatRoomID,
		&room.User1.ID, &room.User1.Name, &room.User1.AvatarURL,
		&room.User2.ID, &room.User2.Name, &room.User2.AvatarURL)
	return room, err
}

// GetOrCreateRoom returns the two-party room for the pair, creating it on
// first use. Participants are stored in a normalized order so the pair maps
// to exactly one row regardless of who initiated.
func (r *postgresRoomRepository) GetOrCreateRoom(ctx context.Context, roomUUID, userUUID, otherUUID string) (protocol.ChatRoom, error) {
	const lookup = roomSelect + `
		JOIN users a ON a.uuid = $1
		JOIN users b ON b.uuid = $2
		WHERE r.user1_id = LEAST(a.id, b.id) AND r.user2_id = GREATEST(a.id, b.id)`

	room, err := scanRoom(r.pool.QueryRow(ctx, lookup, userUUID, otherUUID))
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return protocol.ChatRoom{}, fmt.Errorf("lookup room: %w", err)
	}

	const insert = `
		INSERT INTO chat_rooms (uuid, user1_id, user2_id)
		SELECT $3, LEAST(a.id, b.id), GREATEST(a.id, b.id)
		FROM users a, users b
		WHERE a.uuid = $1 AND b.uuid = $2 AND a.id <> b.id
		ON CONFLICT (user1_id, user2_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, insert, userUUID, otherUUID, roomUUID); err != nil {
		return protocol.ChatRoom{}, fmt.Errorf("create room: %w", err)
	}

	// Re-select either the fresh row or the one a concurrent caller won.
	room, err = scanRoom(r.pool.QueryRow(ctx, lookup, userUUID, otherUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return protocol.ChatRoom{}, ErrRoomNotFound
		}
		return protocol.ChatRoom{}, fmt.Errorf("reload room: %w", err)
	}
	return room, nil
}

func (r *postgresRoomRepository) GetRoomByUUID(ctx context.Context, roomUUID string) (protocol.ChatRoom, error) {
	const query = roomSelect + ` WHERE r.uuid = $1`

	room, err := scanRoom(r.pool.QueryRow(ctx, query, roomUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return protocol.ChatRoom{}, ErrRoomNotFound
		}
		return protocol.ChatRoom{}, err
	}
	return room, nil
}

func (r *postgresRoomRepository) ListRoomsForUser(ctx context.Context, userUUID string) ([]protocol.RoomSummary, error) {
	const query = `
		SELECT r.uuid,
		       u1.uuid, u1.name, u1.avatar_url,
		       u2.uuid, u2.name, u2.avatar_url,
		       COALESCE(lm.content, ''),
		       COALESCE(EXTRACT(EPOCH FROM lm.created_at)::bigint, 0)
		FROM chat_rooms r
		JOIN users me ON me.uuid = $1 AND (r.user1_id = me.id OR r.user2_id = me.id)
		JOIN users u1 ON r.user1_id = u1.id
		JOIN users u2 ON r.user2_id = u2.id
		LEFT JOIN LATERAL (
			SELECT content, created_at
			FROM messages m
			WHERE m.chat_room_id = r.id
			ORDER BY m.created_at DESC
			LIMIT 1
		) lm ON TRUE
		ORDER BY lm.created_at DESC NULLS LAST`

	rows, err := r.pool.Query(ctx, query, userUUID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	result := make([]protocol.RoomSummary, 0)
	for rows.Next() {
		var s protocol.RoomSummary
		if err := rows.Scan(&s.ChatRoomID,
			&s.User1.ID, &s.User1.Name, &s.User1.AvatarURL,
			&s.User2.ID, &s.User2.Name, &s.User2.AvatarURL,
			&s.LastMessage, &s.LastAt); err != nil {
			return nil, fmt.Errorf("scan room summary: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

const messageSelect = `
	SELECT m.uuid, r.uuid,
	       u.uuid, u.name, u.avatar_url,
	       m.content, m.images, m.latitude, m.longitude,
	       COALESCE(m.reply_to::text, ''),
	       COALESCE(m.ad_uuid::text, ''), COALESCE(a.title, ''), COALESCE(a.price, 0), COALESCE(a.image_url, ''),
	       m.delivered_at, m.is_edited, m.created_at
	FROM messages m
	JOIN chat_rooms r ON m.chat_room_id = r.id
	JOIN users u ON m.sender_id = u.id
	LEFT JOIN ads a ON a.uuid = m.ad_uuid`

func scanMessage(row pgx.Row) (protocol.Message, error) {
	var (
		m           protocol.Message
		lat, lng    *float64
		adUUID      string
		adTitle     string
		adPrice     int64
		adImage     string
		deliveredAt *int64
	)
	err := row.Scan(&m.ID, &m.ChatRoomID,
		&m.User.ID, &m.User.Name, &m.User.AvatarURL,
		&m.Message, &m.Images, &lat, &lng,
		&m.ReplyTo,
		&adUUID, &adTitle, &adPrice, &adImage,
		&deliveredAt, &m.IsEdited, &m.CreatedAt)
	if err != nil {
		return protocol.Message{}, err
	}
	if lat != nil && lng != nil {
		m.Location = &protocol.Location{Latitude: *lat, Longitude: *lng}
	}
	if adUUID != "" {
		m.Product = &protocol.ProductRef{AdID: adUUID, Title: adTitle, Price: adPrice, ImageURL: adImage}
	}
	if deliveredAt != nil {
		at := time.Unix(*deliveredAt, 0)
		m.DeliveredAt = &at
	}
	return m, nil
}

// GetRoomMessages returns the room history oldest first.
func (r *postgresRoomRepository) GetRoomMessages(ctx context.Context, roomUUID string) ([]protocol.Message, error) {
	const query = messageSelect + `
		WHERE r.uuid = $1
		ORDER BY m.created_at ASC`

	rows, err := r.pool.Query(ctx, query, roomUUID)
	if err != nil {
		return nil, fmt.Errorf("query room messages: %w", err)
	}
	defer rows.Close()

	result := make([]protocol.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// SaveMessage persists a message; msg must carry ID, sender and content
// fields. The stored created_at is returned on the copy.
func (r *postgresRoomRepository) SaveMessage(ctx context.Context, roomUUID string, msg protocol.Message) (protocol.Message, error) {
	const insert = `
		INSERT INTO messages (uuid, chat_room_id, sender_id, content, images, latitude, longitude, reply_to, ad_uuid, created_at)
		SELECT $1, r.id, u.id, $4, $5, $6, $7, NULLIF($8, '')::uuid, NULLIF($9, '')::uuid, NOW()
		FROM chat_rooms r, users u
		WHERE r.uuid = $2 AND u.uuid = $3
		RETURNING created_at`

	var (
		lat, lng *float64
		adUUID   string
	)
	if msg.Location != nil {
		lat, lng = &msg.Location.Latitude, &msg.Location.Longitude
	}
	if msg.Product != nil {
		adUUID = msg.Product.AdID
	}
	images := msg.Images
	if images == nil {
		images = []string{}
	}

	row := r.pool.QueryRow(ctx, insert,
		msg.ID, roomUUID, msg.User.ID, msg.Message, images, lat, lng, msg.ReplyTo, adUUID)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return protocol.Message{}, ErrRoomNotFound
		}
		return protocol.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg.ChatRoomID = roomUUID
	return msg, nil
}

// UpdateMessage edits a message in place. Only the author may edit.
func (r *postgresRoomRepository) UpdateMessage(ctx context.Context, roomUUID, messageUUID, editorUUID, content string) error {
	const update = `
		UPDATE messages m
		SET content = $4, is_edited = TRUE
		FROM chat_rooms r, users u
		WHERE m.chat_room_id = r.id AND r.uuid = $1
		  AND m.uuid = $2
		  AND m.sender_id = u.id AND u.uuid = $3`

	tag, err := r.pool.Exec(ctx, update, roomUUID, messageUUID, editorUUID, content)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteMessage removes a message. Only the author may delete.
func (r *postgresRoomRepository) DeleteMessage(ctx context.Context, roomUUID, messageUUID, requesterUUID string) error {
	const del = `
		DELETE FROM messages m
		USING chat_rooms r, users u
		WHERE m.chat_room_id = r.id AND r.uuid = $1
		  AND m.uuid = $2
		  AND m.sender_id = u.id AND u.uuid = $3`

	tag, err := r.pool.Exec(ctx, del, roomUUID, messageUUID, requesterUUID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *postgresRoomRepository) MarkDelivered(ctx context.Context, messageUUID string, deliveredAt int64) error {
	const update = `
		UPDATE messages SET delivered_at = $2
		WHERE uuid = $1 AND delivered_at IS NULL`

	if _, err := r.pool.Exec(ctx, update, messageUUID, deliveredAt); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkRoomRead flags every message sent to the reader in this room as read.
func (r *postgresRoomRepository) MarkRoomRead(ctx context.Context, roomUUID, readerUUID string) error {
	const update = `
		UPDATE messages m
		SET is_read = TRUE
		FROM chat_rooms r, users u
		WHERE m.chat_room_id = r.id AND r.uuid = $1
		  AND u.uuid = $2
		  AND m.sender_id <> u.id
		  AND m.is_read = FALSE`

	if _, err := r.pool.Exec(ctx, update, roomUUID, readerUUID); err != nil {
		return fmt.Errorf("mark room read: %w", err)
	}
	return nil
}
