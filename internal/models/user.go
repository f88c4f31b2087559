package models

import (
	"time"

	"github.com/uptrace/bun"
)

type CustomerGroup string

const (
	GroupNew      CustomerGroup = "new"
	GroupRegular  CustomerGroup = "regular"
	GroupVIP      CustomerGroup = "vip"
	GroupSuperVIP CustomerGroup = "super_vip"
)

// Spend thresholds for customer segmentation.
const (
	newAccountAge  = 7 * 24 * time.Hour
	regularCeiling = 500000
	vipCeiling     = 2000000
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID       string `bun:"id,pk"`
	Email    string `bun:"email,unique,notnull"`
	FullName string `bun:"full_name,notnull"`
	Role     string `bun:"role,notnull,default:'attendee'"`
	IsActive bool   `bun:"is_active,notnull,default:true"`

	// TotalSpent mirrors the sum of this user's settled payment amounts.
	TotalSpent float64 `bun:"total_spent,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull"`
}

// SegmentAt derives the customer group used for discount targeting.
func (u *User) SegmentAt(now time.Time) CustomerGroup {
	if now.Sub(u.CreatedAt) < newAccountAge {
		return GroupNew
	}
	switch {
	case u.TotalSpent < regularCeiling:
		return GroupRegular
	case u.TotalSpent <= vipCeiling:
		return GroupVIP
	default:
		return GroupSuperVIP
	}
}
