package internal

import (
	"context"
	"time"
)

// 對局事件主題（發布端會加上前綴）
const (
	SubjectMatchCreated   = "match.created"
	SubjectMatchResolved  = "match.resolved"
	SubjectPlayerDeparted = "player.departed"
)

// EventPublisher 對局事件的發布端，失敗只記錄不回傳
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event any)
}

// NopPublisher 不發布任何事件
type NopPublisher struct{}

// Publish 實現 EventPublisher
func (NopPublisher) Publish(context.Context, string, any) {}

// MatchCreatedEvent 配對成功
type MatchCreatedEvent struct {
	RoomID  string   `json:"room_id"`
	Seed    int64    `json:"seed"`
	Players []string `json:"players"`
}

// MatchResolvedEvent 對局結束
type MatchResolvedEvent struct {
	RoomID     string       `json:"room_id"`
	WinnerID   string       `json:"winner_id"`
	Reason     string       `json:"reason"`
	Scores     []FinalScore `json:"scores"`
	Duration   float64      `json:"duration_seconds"`
	ResolvedAt time.Time    `json:"resolved_at"`
}

// PlayerDepartedEvent 參與者離開房間
type PlayerDepartedEvent struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Score    int    `json:"score"`
	Cause    string `json:"cause"` // leave 或 disconnect
}
