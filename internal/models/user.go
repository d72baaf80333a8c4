package models

// Role is a participant's role within a conversation
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Participant represents a user's membership in a conversation
type Participant struct {
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	IsCreator bool   `json:"is_creator"`
}

// User is the minimal identity the messaging core knows about
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
