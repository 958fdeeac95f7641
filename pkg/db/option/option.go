package option

import (
	"strings"
	"time"

	"github.com/smallbiznis/memberledger/pkg/db/pagination"
	"gorm.io/gorm"
)

// Option mutates a gorm statement before execution.
type Option interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

// ApplyPagination applies cursor pagination. It fetches one extra row so the
// caller can detect whether more pages exist.
func ApplyPagination(page pagination.Pagination) Option {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 50
		}
		if size > 250 {
			size = 250
		}

		if token := strings.TrimSpace(page.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err == nil && cursor != nil && cursor.CreatedAt != "" {
				if createdAt, parseErr := time.Parse(time.RFC3339, cursor.CreatedAt); parseErr == nil {
					db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
						createdAt, createdAt, cursor.ID)
				}
			}
		}

		return db.Limit(size + 1)
	})
}

// Apply runs all options against the statement in order.
func Apply(db *gorm.DB, opts ...Option) *gorm.DB {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		db = opt.Apply(db)
	}
	return db
}
