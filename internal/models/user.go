package models

import "time"

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	UserStatusInactive UserStatus = "inactive"
	UserStatusActive   UserStatus = "active"
	UserStatusBanned   UserStatus = "banned"
)

const ProviderEmail = "email"

// User is a row of the user directory. An empty Role means the user has no
// role assigned; a nil PasswordHash means the account cannot use the password flow.
type User struct {
	ID              string
	Email           string
	PasswordHash    []byte
	Name            string
	Provider        string
	ProviderID      *string
	Role            UserRole
	Status          UserStatus
	PhotoID         *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusChangedAt time.Time
	DeletedAt       *time.Time
}

// UserSort names a column the user directory can be ordered by.
type UserSort string

const (
	UserSortCreatedAt UserSort = "createdAt"
	UserSortEmail     UserSort = "email"
	UserSortName      UserSort = "name"
	UserSortStatus    UserSort = "status"
)

// UserQuery selects one page of live users. Search matches name or email
// case-insensitively.
type UserQuery struct {
	Search string
	Sort   UserSort
	Desc   bool
	Limit  int
	Offset int
}

func (u User) HasPassword() bool {
	return len(u.PasswordHash) > 0
}

// Public returns a copy safe to hand to callers outside the core.
func (u User) Public() User {
	u.PasswordHash = nil
	return u
}

type Session struct {
	ID        string
	UserID    string
	Hash      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (s Session) Live() bool {
	return s.DeletedAt == nil
}
