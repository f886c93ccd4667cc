package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store PostgreSQL 上的排行榜表
//
// 每局每人追加一列，同一玩家可出現多次。
type Store struct {
	pool *pgxpool.Pool
}

// NewStore 創建 Store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert 追加一筆分數
func (s *Store) Insert(ctx context.Context, playerID, playerName string, score int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leaderboard (player_id, player_name, score) VALUES ($1, $2, $3)`,
		playerID, playerName, score)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

// Count 總筆數
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count scores: %w", err)
	}
	return n, nil
}

// List 依分數由高到低取一段，名次從 offset+1 起算
//
// 同分時先寫入者在前，分頁結果才穩定。
func (s *Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, player_name, score, created_at
		FROM leaderboard
		ORDER BY score DESC, created_at ASC, id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}

	rank := offset
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e         Entry
			createdAt time.Time
		)
		if err := row.Scan(&e.PlayerID, &e.PlayerName, &e.Score, &createdAt); err != nil {
			return Entry{}, err
		}
		rank++
		e.Rank = rank
		e.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan scores: %w", err)
	}
	return entries, nil
}
