package testhelpers

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

var uniqueCounter int64

func nextSuffix() int64 {
	return atomic.AddInt64(&uniqueCounter, 1)
}

// CreateTestUser inserts a minimal valid user row and returns its UUID.
func CreateTestUser(t *testing.T, db *pgxpool.Pool) string {
	t.Helper()

	ctx := context.Background()
	userUUID := uuid.New().String()
	name := fmt.Sprintf("test-user-%d", nextSuffix())

	_, err := db.Exec(ctx,
		"INSERT INTO users (uuid, name, avatar_url) VALUES ($1, $2, '')",
		userUUID, name)
	require.NoError(t, err)
	return userUUID
}

// CreateTestAd inserts an active ad for the given seller and returns its UUID.
func CreateTestAd(t *testing.T, db *pgxpool.Pool, sellerUUID string) string {
	t.Helper()

	ctx := context.Background()
	adUUID := uuid.New().String()
	title := fmt.Sprintf("test-ad-%d", nextSuffix())

	_, err := db.Exec(ctx,
		`INSERT INTO ads (uuid, seller_id, title, description, price, image_url, status)
		 SELECT $1, u.id, $3, '', 100, '', 'active' FROM users u WHERE u.uuid = $2`,
		adUUID, sellerUUID, title)
	require.NoError(t, err)
	return adUUID
}

// CreateTestRoom inserts a chat room between two users and returns its UUID.
func CreateTestRoom(t *testing.T, db *pgxpool.Pool, userUUID, otherUUID string) string {
	t.Helper()

	ctx := context.Background()
	roomUUID := uuid.New().String()

	_, err := db.Exec(ctx,
		`INSERT INTO chat_rooms (uuid, user1_id, user2_id)
		 SELECT $1, LEAST(a.id, b.id), GREATEST(a.id, b.id)
		 FROM users a, users b WHERE a.uuid = $2 AND b.uuid = $3`,
		roomUUID, userUUID, otherUUID)
	require.NoError(t, err)
	return roomUUID
}

// CreateTestMessage inserts a message into the room and returns its UUID.
func CreateTestMessage(t *testing.T, db *pgxpool.Pool, roomUUID, senderUUID, content string) string {
	t.Helper()

	ctx := context.Background()
	msgUUID := uuid.New().String()

	_, err := db.Exec(ctx,
		`INSERT INTO messages (uuid, chat_room_id, sender_id, content, images)
		 SELECT $1, r.id, u.id, $4, '{}'
		 FROM chat_rooms r, users u WHERE r.uuid = $2 AND u.uuid = $3`,
		msgUUID, roomUUID, senderUUID, content)
	require.NoError(t, err)
	return msgUUID
}
