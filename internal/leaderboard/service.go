// Package leaderboard 排行榜：PostgreSQL 持久化加 Redis 分頁快取
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	apperrors "github.com/koopa0/system-design/duel-arena/pkg/errors"
)

// 分頁參數
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Entry 排行榜一列
type Entry struct {
	Rank       int    `json:"rank"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Score      int    `json:"score"`
	CreatedAt  string `json:"createdAt"`
}

// PageResult 分頁回應
type PageResult struct {
	Entries    []Entry `json:"entries"`
	TotalCount int     `json:"totalCount"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	TotalPages int     `json:"totalPages"`
}

// Service 排行榜服務
//
// cache 可為 nil；快取故障只降級到直接查詢，不影響結果。
type Service struct {
	store  *Store
	cache  *Cache
	logger *slog.Logger
}

// NewService 創建排行榜服務
func NewService(store *Store, cache *Cache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

// SaveScore 追加一筆最終分數
func (s *Service) SaveScore(ctx context.Context, playerID, playerName string, score int) error {
	if playerID == "" || score < 0 {
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("invalid score record: player=%q score=%d", playerID, score))
	}
	if strings.TrimSpace(playerName) == "" {
		playerName = playerID
	}

	if err := s.store.Insert(ctx, playerID, playerName, score); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "leaderboard store unavailable")
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("leaderboard cache invalidation failed", "error", err)
		}
	}

	s.logger.Debug("score saved", "player_id", playerID, "score", score)
	return nil
}

// Page 取得第 page 頁（從 1 起算），每頁 size 筆
func (s *Service) Page(ctx context.Context, page, size int) (*PageResult, error) {
	// OFFSET 必須落在 int32 內，過大的頁碼視為無效
	if page < 1 || size < 1 || size > MaxPageSize || page-1 > math.MaxInt32/size {
		return nil, apperrors.ErrInvalidPage.WithDetails(fmt.Sprintf("page=%d size=%d", page, size))
	}

	// 世代號在查詢資料庫之前取得，回填時沿用
	var (
		gen      int64
		useCache = s.cache != nil
	)
	if useCache {
		var err error
		if gen, err = s.cache.Generation(ctx); err != nil {
			s.logger.Warn("leaderboard cache read failed", "error", err)
			useCache = false
		}
	}

	if useCache {
		cached, err := s.cache.Get(ctx, gen, page, size)
		if err != nil {
			s.logger.Warn("leaderboard cache read failed", "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "leaderboard store unavailable")
	}

	entries, err := s.store.List(ctx, size, (page-1)*size)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "leaderboard store unavailable")
	}

	result := &PageResult{
		Entries:    entries,
		TotalCount: total,
		Page:       page,
		PageSize:   size,
		TotalPages: TotalPages(total, size),
	}

	if useCache {
		if err := s.cache.Set(ctx, gen, result); err != nil {
			s.logger.Warn("leaderboard cache write failed", "error", err)
		}
	}
	return result, nil
}

// TotalPages 總頁數，空表時仍為 1
func TotalPages(total, size int) int {
	if size <= 0 {
		return 1
	}
	pages := (total + size - 1) / size
	if pages == 0 {
		return 1
	}
	return pages
}
