package rooms

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketchat/pkg/logging"
	"marketchat/pkg/protocol"
)

// ErrSelfChat rejects rooms where both participants resolve to one identity.
var ErrSelfChat = errors.New("cannot open a chat with yourself")

type RoomService interface {
	GetOrCreate(ctx context.Context, userUUID, otherUUID string) (protocol.ChatRoom, error)
	ListRooms(ctx context.Context, userUUID string) ([]protocol.RoomSummary, error)
	History(ctx context.Context, roomUUID string) ([]protocol.Message, error)
	MarkRead(ctx context.Context, roomUUID, readerUUID string) error
}

type roomService struct {
	repo   RoomRepository
	unread *UnreadCounter
	logger zerolog.Logger
}

func NewRoomService(repo RoomRepository, unread *UnreadCounter) RoomService {
	return &roomService{repo: repo, unread: unread, logger: logging.L()}
}

func (s *roomService) GetOrCreate(ctx context.Context, userUUID, otherUUID string) (protocol.ChatRoom, error) {
	if userUUID == otherUUID {
		return protocol.ChatRoom{}, ErrSelfChat
	}
	return s.repo.GetOrCreateRoom(ctx, uuid.New().String(), userUUID, otherUUID)
}

func (s *roomService) ListRooms(ctx context.Context, userUUID string) ([]protocol.RoomSummary, error) {
	summaries, err := s.repo.ListRoomsForUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	for i := range summaries {
		n, err := s.unread.Get(ctx, summaries[i].ChatRoomID, userUUID)
		if err != nil {
			s.logger.Warn().Err(err).Str("chat_room_id", summaries[i].ChatRoomID).Msg("unread lookup failed")
			continue
		}
		summaries[i].Unread = n
	}
	return summaries, nil
}

func (s *roomService) History(ctx context.Context, roomUUID string) ([]protocol.Message, error) {
	return s.repo.GetRoomMessages(ctx, roomUUID)
}

func (s *roomService) MarkRead(ctx context.Context, roomUUID, readerUUID string) error {
	if err := s.repo.MarkRoomRead(ctx, roomUUID, readerUUID); err != nil {
		return err
	}
	if err := s.unread.Reset(ctx, roomUUID, readerUUID); err != nil {
		s.logger.Warn().Err(err).Str("chat_room_id", roomUUID).Msg("unread reset failed")
	}
	return nil
}
