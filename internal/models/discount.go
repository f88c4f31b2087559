package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountCode struct {
	bun.BaseModel `bun:"table:discount_codes"`

	Code       string  `bun:"code,pk"`
	Percentage float64 `bun:"percentage,notnull"`

	ValidFrom time.Time `bun:"valid_from,notnull"`
	ValidTo   time.Time `bun:"valid_to,notnull"`

	// UserGroup restricts redemption to one customer segment. Empty means
	// any segment may redeem.
	UserGroup CustomerGroup `bun:"user_group,nullzero"`

	// MaxUses of zero means unlimited.
	MaxUses   int  `bun:"max_uses,notnull,default:0"`
	UsedCount int  `bun:"used_count,notnull,default:0"`
	IsActive  bool `bun:"is_active,notnull,default:true"`
}
