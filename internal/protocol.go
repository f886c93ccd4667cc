package internal

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/koopa0/system-design/duel-arena/pkg/errors"
)

// 客戶端 → 伺服器
const (
	TypeJoinQueue   = "JOIN_QUEUE"
	TypeUpdateScore = "UPDATE_SCORE"
	TypePlayerDied  = "PLAYER_DIED"
	TypeLeaveGame   = "LEAVE_GAME"
)

// 伺服器 → 客戶端
const (
	TypeGameStart      = "GAME_START"
	TypeOpponentUpdate = "OPPONENT_UPDATE"
	TypeOpponentLeft   = "OPPONENT_LEFT"
	TypeGameOver       = "GAME_OVER"
)

// 對局結束原因
const (
	ReasonAllPlayersDied = "all_players_died"
	ReasonDisconnect     = "disconnect"
)

// Message 雙向通用的訊息信封
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinQueuePayload 加入配對
type JoinQueuePayload struct {
	Name string `json:"name"`
}

// ScorePayload 分數回報（UPDATE_SCORE / PLAYER_DIED）
type ScorePayload struct {
	Score int `json:"score"`
}

// GameStartPayload 配對成功時發給雙方，RoomID 與 Seed 兩邊相同
type GameStartPayload struct {
	RoomID       string `json:"roomId"`
	Seed         int64  `json:"seed"`
	MyID         string `json:"myId"`
	MyName       string `json:"myName"`
	OpponentID   string `json:"opponentId"`
	OpponentName string `json:"opponentName"`
}

// OpponentUpdatePayload 對手狀態（OPPONENT_UPDATE / OPPONENT_LEFT）
type OpponentUpdatePayload struct {
	Score   int  `json:"score"`
	IsAlive bool `json:"isAlive"`
}

// GameOverPayload 對局結果，WinnerID 為空代表平手
type GameOverPayload struct {
	WinnerID string `json:"winnerId"`
	Reason   string `json:"reason"`
}

// EncodeMessage 將類型與內容編碼成信封
func EncodeMessage(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		raw = b
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// DecodeMessage 解析信封
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed envelope")
	}
	if msg.Type == "" {
		return Message{}, apperrors.ErrMalformedPayload.WithDetails("missing type")
	}
	return msg, nil
}

// decodeScore 解析分數內容，負分視為無效輸入
func decodeScore(raw json.RawMessage) (int, error) {
	var p ScorePayload
	if len(raw) == 0 {
		return 0, apperrors.ErrMalformedPayload.WithDetails("empty score payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed score payload")
	}
	if p.Score < 0 {
		return 0, apperrors.ErrMalformedPayload.WithDetails(fmt.Sprintf("negative score %d", p.Score))
	}
	return p.Score, nil
}
