package statistics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/internal/pkg/cache"
	"github.com/StyleLoft/StyleLoft/internal/pkg/database"
)

const (
	CacheKeyUsersTotal   = "statistics:users:total"
	CacheKeyPaidMembers  = "statistics:entitlements:paid"
	CacheKeyVideosTotal  = "statistics:videos:total"
	CacheKeyRevenueToday = "statistics:revenue:today"
	CacheExpiration      = 30 * time.Minute
)

// Data holds the aggregate platform figures shown on the admin dashboard.
type Data struct {
	TotalUsers       int64 `json:"total_users"`
	PaidMembers      int64 `json:"paid_members"`
	TotalVideos      int64 `json:"total_videos"`
	RevenueTodayNet  int64 `json:"revenue_today_net_cents"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

func shouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	if time.Since(lastCacheUpdate) < cacheUpdateInterval {
		return false
	}
	lastCacheUpdate = time.Now()
	return true
}

// GetStatistics returns cached platform statistics, recomputing from the
// database when the cache is cold or stale.
func GetStatistics() (*Data, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	if !shouldUpdateCache() {
		if d, ok := readCached(ctx); ok {
			return d, nil
		}
	}

	db := database.GetDB()
	var d Data

	if err := db.Model(&models.User{}).Count(&d.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Entitlement{}).
		Where("plan IN ? AND status = ?", []string{models.PlanIndividual, models.PlanSalon}, models.SubStatusActive).
		Count(&d.PaidMembers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Video{}).Where("is_published = ?", true).Count(&d.TotalVideos).Error; err != nil {
		return nil, err
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	var net *int64
	if err := db.Model(&models.LedgerEntry{}).
		Select("SUM(net_cents)").
		Where("occurred_at >= ?", dayStart).
		Scan(&net).Error; err != nil {
		return nil, err
	}
	if net != nil {
		d.RevenueTodayNet = *net
	}

	rdb.Set(ctx, CacheKeyUsersTotal, d.TotalUsers, CacheExpiration)
	rdb.Set(ctx, CacheKeyPaidMembers, d.PaidMembers, CacheExpiration)
	rdb.Set(ctx, CacheKeyVideosTotal, d.TotalVideos, CacheExpiration)
	rdb.Set(ctx, CacheKeyRevenueToday, d.RevenueTodayNet, CacheExpiration)

	return &d, nil
}

func readCached(ctx context.Context) (*Data, bool) {
	rdb := cache.GetClient()
	keys := []string{CacheKeyUsersTotal, CacheKeyPaidMembers, CacheKeyVideosTotal, CacheKeyRevenueToday}
	values := make([]int64, len(keys))
	for i, key := range keys {
		raw, err := rdb.Get(ctx, key).Result()
		if err != nil {
			return nil, false
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, false
		}
		values[i] = n
	}
	return &Data{
		TotalUsers:      values[0],
		PaidMembers:     values[1],
		TotalVideos:     values[2],
		RevenueTodayNet: values[3],
	}, true
}
