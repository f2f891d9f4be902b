package server

import (
	"errors"
	"net/http"
	"strings"

	"prompt-battles/internal/db"

	"gorm.io/gorm"
)

// authenticate resolves the caller from a bearer token. Mutating operations
// never trust a user id from the request body alone.
func (s *Server) authenticate(r *http.Request) (*db.User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errForbidden("authentication required")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || token == header {
		return nil, errForbidden("authentication required")
	}
	var user db.User
	if err := s.db.Where("api_token = ?", token).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errForbidden("invalid credentials")
		}
		return nil, err
	}
	return &user, nil
}

// memberOf returns the caller's membership row for a room.
func (s *Server) memberOf(roomCode string, userID uint) (*db.RoomPlayer, error) {
	var member db.RoomPlayer
	err := s.db.Where("room_code = ? AND user_id = ?", roomCode, userID).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errForbidden("not a member of this room")
		}
		return nil, err
	}
	return &member, nil
}

func (s *Server) requireHost(roomCode string, userID uint) (*db.RoomPlayer, error) {
	member, err := s.memberOf(roomCode, userID)
	if err != nil {
		return nil, err
	}
	if !member.IsHost {
		return nil, errForbidden("only the host can perform this action")
	}
	return member, nil
}
