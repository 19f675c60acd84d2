package types

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserStatusActive  UserStatus = "ACTIVE"
	UserStatusFrozen  UserStatus = "FROZEN"
	UserStatusBlocked UserStatus = "BLOCKED"
)

type UserRole string

const (
	UserRoleMerchant UserRole = "MERCHANT"
	UserRoleBuyer    UserRole = "BUYER"
)

type User struct {
	ID               uuid.UUID  `db:"id"`
	Role             UserRole   `db:"role"`
	Status           UserStatus `db:"status"`
	DisplayName      string     `db:"display_name"`
	WalletAddress    string     `db:"wallet_address"`
	WalletRegistered bool       `db:"wallet_registered"`
	CreatedAt        time.Time  `db:"created_at"`
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

func (u *User) IsFrozenOrBlocked() bool {
	return u.Status == UserStatusFrozen || u.Status == UserStatusBlocked
}
