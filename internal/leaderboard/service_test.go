package leaderboard_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/duel-arena/internal/leaderboard"
	"github.com/koopa0/system-design/duel-arena/internal/testutils"
	apperrors "github.com/koopa0/system-design/duel-arena/pkg/errors"
)

// TestTotalPages 測試總頁數計算
func TestTotalPages(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 10, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{250, 100, 3},
		{5, 0, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.total, tt.size), func(t *testing.T) {
			assert.Equal(t, tt.want, leaderboard.TotalPages(tt.total, tt.size))
		})
	}
}

// TestService_PageRejectsOutOfRangeParams 測試分頁參數檢查在查詢資料庫之前完成
func TestService_PageRejectsOutOfRangeParams(t *testing.T) {
	svc := leaderboard.NewService(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name       string
		page, size int
	}{
		{"page zero", 0, 10},
		{"negative page", -1, 10},
		{"size zero", 1, 0},
		{"size over max", 1, leaderboard.MaxPageSize + 1},
		{"max int page", math.MaxInt, 10},
		{"offset past int32", math.MaxInt32/10 + 2, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Page(context.Background(), tt.page, tt.size)
			assert.ErrorIs(t, err, apperrors.ErrInvalidPage)
			assert.True(t, apperrors.IsInvalidInput(err))
		})
	}
}

func setupService(t *testing.T, withCache bool) (*leaderboard.Service, *testutils.TestEnvironment) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := testutils.SetupTestEnvironment(t)

	var cache *leaderboard.Cache
	if withCache {
		cache = leaderboard.NewCache(env.RedisClient, time.Minute)
	}
	svc := leaderboard.NewService(leaderboard.NewStore(env.PostgresPool), cache, env.Logger)
	return svc, env
}

// TestService_SaveAndPage 測試寫入分數與分頁查詢
func TestService_SaveAndPage(t *testing.T) {
	svc, _ := setupService(t, false)
	ctx := context.Background()

	scores := []int{30, 120, 95, 0, 120}
	for i, s := range scores {
		require.NoError(t, svc.SaveScore(ctx, fmt.Sprintf("guest_%d", i), fmt.Sprintf("player-%d", i), s))
		// 同分時依寫入時間排序
		time.Sleep(5 * time.Millisecond)
	}

	page, err := svc.Page(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, leaderboard.Entry{Rank: 1, PlayerID: "guest_1", PlayerName: "player-1", Score: 120, CreatedAt: page.Entries[0].CreatedAt}, page.Entries[0])
	assert.Equal(t, "guest_4", page.Entries[1].PlayerID)
	assert.Equal(t, 2, page.Entries[1].Rank)

	page, err = svc.Page(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, 3, page.Entries[0].Rank)
	assert.Equal(t, 95, page.Entries[0].Score)
	assert.Equal(t, 30, page.Entries[1].Score)

	page, err = svc.Page(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, 5, page.Entries[0].Rank)
	assert.Equal(t, 0, page.Entries[0].Score)

	_, err = time.Parse(time.RFC3339, page.Entries[0].CreatedAt)
	assert.NoError(t, err)
}

// TestService_EmptyLeaderboard 測試空排行榜
func TestService_EmptyLeaderboard(t *testing.T) {
	svc, _ := setupService(t, false)

	page, err := svc.Page(context.Background(), 1, leaderboard.DefaultPageSize)
	require.NoError(t, err)
	assert.NotNil(t, page.Entries)
	assert.Empty(t, page.Entries)
	assert.Equal(t, 0, page.TotalCount)
	assert.Equal(t, 1, page.TotalPages)
}

// TestService_RejectsInvalidInput 測試拒絕無效輸入
func TestService_RejectsInvalidInput(t *testing.T) {
	svc, _ := setupService(t, false)
	ctx := context.Background()

	assert.True(t, apperrors.IsInvalidInput(svc.SaveScore(ctx, "", "x", 10)))
	assert.True(t, apperrors.IsInvalidInput(svc.SaveScore(ctx, "guest_a", "x", -1)))

	for _, tt := range []struct{ page, size int }{{0, 10}, {1, 0}, {1, 101}} {
		_, err := svc.Page(ctx, tt.page, tt.size)
		assert.ErrorIs(t, err, apperrors.ErrInvalidPage)
	}
}

// TestService_EmptyNameFallsBackToID 測試空名稱改用玩家 ID
func TestService_EmptyNameFallsBackToID(t *testing.T) {
	svc, _ := setupService(t, false)
	ctx := context.Background()

	require.NoError(t, svc.SaveScore(ctx, "guest_a", "  ", 10))

	page, err := svc.Page(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "guest_a", page.Entries[0].PlayerName)
}

// TestService_CacheInvalidatedOnSave 測試寫入分數讓快取失效
func TestService_CacheInvalidatedOnSave(t *testing.T) {
	svc, env := setupService(t, true)
	ctx := context.Background()

	require.NoError(t, svc.SaveScore(ctx, "guest_a", "Alice", 50))

	first, err := svc.Page(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalCount)

	keys, err := env.RedisClient.Keys(ctx, "leaderboard:v*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	// 直接寫入資料庫，快取命中時看不到
	_, err = env.PostgresPool.Exec(ctx,
		`INSERT INTO leaderboard (player_id, player_name, score) VALUES ('guest_x', 'X', 1)`)
	require.NoError(t, err)

	cached, err := svc.Page(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalCount)

	// 經由服務寫入會讓快取失效
	require.NoError(t, svc.SaveScore(ctx, "guest_b", "Bob", 80))

	fresh, err := svc.Page(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.TotalCount)
	assert.Equal(t, "guest_b", fresh.Entries[0].PlayerID)
}

// TestService_CacheFailureFallsBackToStore 測試快取故障時直接查詢資料庫
func TestService_CacheFailureFallsBackToStore(t *testing.T) {
	svc, env := setupService(t, true)
	ctx := context.Background()

	require.NoError(t, svc.SaveScore(ctx, "guest_a", "Alice", 50))
	require.NoError(t, env.RedisClient.Close())

	// Redis 已關閉，寫入與查詢仍然成功
	require.NoError(t, svc.SaveScore(ctx, "guest_b", "Bob", 60))
	page, err := svc.Page(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
}

// TestService_RefillAfterInvalidateStaysInOldGeneration 測試查詢期間有寫入時，回填的舊頁面不會在新世代命中
func TestService_RefillAfterInvalidateStaysInOldGeneration(t *testing.T) {
	svc, env := setupService(t, true)
	ctx := context.Background()
	cache := leaderboard.NewCache(env.RedisClient, time.Minute)

	// 查詢開始：取得世代號並確認未命中
	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	miss, err := cache.Get(ctx, gen, 1, 10)
	require.NoError(t, err)
	require.Nil(t, miss)

	stale := &leaderboard.PageResult{
		Entries:    []leaderboard.Entry{},
		TotalCount: 0,
		Page:       1,
		PageSize:   10,
		TotalPages: 1,
	}

	// 查詢資料庫期間另一名玩家寫入分數
	require.NoError(t, svc.SaveScore(ctx, "guest_a", "Alice", 70))

	// 查詢結束後回填
	require.NoError(t, cache.Set(ctx, gen, stale))

	current, err := cache.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, gen+1, current)

	hit, err := cache.Get(ctx, current, 1, 10)
	require.NoError(t, err)
	assert.Nil(t, hit)

	page, err := svc.Page(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "guest_a", page.Entries[0].PlayerID)
}
