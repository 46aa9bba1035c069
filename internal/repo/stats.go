package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-genreq-backend/internal/domain"
)

// RequestsStats reports how many requests userID owns and the newest
// updated_at among them. The pair changes whenever a request is created or
// finalized, which is what the list ETag needs. latest is nil for a user with
// no requests.
func RequestsStats(ctx context.Context, db *gorm.DB, userID uint) (count int64, latest *time.Time, err error) {
	owned := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Request{}).Scopes(ownedBy(userID))
	}

	if err = owned().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Ordering instead of MAX() keeps the column typed under SQLite.
	var stamps []time.Time
	if err = owned().
		Order("updated_at desc").
		Limit(1).
		Pluck("updated_at", &stamps).Error; err != nil {
		return 0, nil, err
	}
	if len(stamps) == 0 {
		return count, nil, nil
	}
	ts := stamps[0].UTC()
	return count, &ts, nil
}
