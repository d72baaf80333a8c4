// Package session holds the per-login state shared by every messaging screen:
// which conversation is on screen and how many messages are unread.
package session

import "go.uber.org/zap"

// Session is created once the user is authenticated and dropped on logout.
// Consumers receive it by reference instead of reaching for globals.
type Session struct {
	UserID int64
	Gate   *Gate
	Unread *Unread
}

// New builds a fresh session for userID.
func New(userID int64, logger *zap.Logger) *Session {
	gate := NewGate()
	return &Session{
		UserID: userID,
		Gate:   gate,
		Unread: NewUnread(gate, logger.With(zap.Int64("user_id", userID))),
	}
}

// IsMine reports whether senderID is the logged-in user.
func (s *Session) IsMine(senderID int64) bool {
	return s.UserID == senderID
}

// End clears the gate and hard-resets every counter.
func (s *Session) End() {
	s.Gate.ClearAll()
	s.Unread.Reset()
}
