package internal

import (
	"sync"
	"time"
)

// SessionStatus 對局狀態
//
// 狀態機：
//
//	active → resolved
//
// 轉換條件（只會發生一次）：
//   - 兩名參與者都不再存活（死亡或離開）
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusResolved SessionStatus = "resolved"
)

// participant 參與者在房間內的權威狀態
type participant struct {
	id       string
	name     string
	score    int
	alive    bool
	departed bool // 已離開（主動或斷線），房間 ID 已從其連線清除
	quit     bool // 離開時仍存活
	saved    bool // 分數已寫入排行榜
}

// FinalScore 對局結束時要寫入排行榜的分數
type FinalScore struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Score      int    `json:"score"`
}

// Outcome 對局結果
type Outcome struct {
	WinnerID string // 空字串代表平手
	Reason   string
	Final    []FinalScore // 尚未寫入排行榜的參與者
}

// ScoreResult 分數回報的處理結果
type ScoreResult struct {
	Applied  bool // 前置條件成立（房間進行中且回報者存活）
	Accepted bool // 通過增量檢查
	Score    int  // 要通知對手的分數（拒絕時為最後接受的分數）
	Alive    bool
}

// DeathResult 死亡回報的處理結果
type DeathResult struct {
	Applied  bool
	Clamped  bool // 回報分數超過增量上限，改用最後接受的分數
	Score    int
	Resolved bool
	Outcome  Outcome
}

// DepartResult 離開的處理結果
type DepartResult struct {
	Applied  bool
	Score    int
	Name     string
	Resolved bool
	Outcome  Outcome
}

// Session 一場兩人對局
//
// mu 保護所有欄位；「檢查雙方存活 → 判定結果」必須在同一個臨界區內，
// 對手通知也在鎖內送出，保證同一房間的通知順序與狀態轉換順序一致。
// 以下小寫方法都要求呼叫端持有 mu。
type Session struct {
	ID        string
	Seed      int64
	CreatedAt time.Time

	mu         sync.Mutex
	status     SessionStatus
	players    [2]*participant
	resolvedAt time.Time
}

// newSession 創建進行中的對局
func newSession(id string, seed int64, a, b *Connection) *Session {
	return &Session{
		ID:        id,
		Seed:      seed,
		CreatedAt: time.Now(),
		status:    StatusActive,
		players: [2]*participant{
			{id: a.ID(), name: a.Name(), alive: true},
			{id: b.ID(), name: b.Name(), alive: true},
		},
	}
}

// Status 目前狀態
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Participants 參與者 ID（依配對順序）
func (s *Session) Participants() [2]string {
	return [2]string{s.players[0].id, s.players[1].id}
}

// find 返回參與者與對手
func (s *Session) find(connID string) (self, other *participant) {
	switch connID {
	case s.players[0].id:
		return s.players[0], s.players[1]
	case s.players[1].id:
		return s.players[1], s.players[0]
	default:
		return nil, nil
	}
}

// reportScore 處理分數回報
//
// 增量超過 maxDelta 時拒絕，分數維持不變，並返回最後接受的分數
// 供對手重新同步。分數下降不受限制。
func (s *Session) reportScore(connID string, score, maxDelta int) ScoreResult {
	self, _ := s.find(connID)
	if s.status != StatusActive || self == nil || !self.alive {
		return ScoreResult{}
	}

	if score-self.score > maxDelta {
		return ScoreResult{Applied: true, Accepted: false, Score: self.score, Alive: self.alive}
	}

	self.score = score
	return ScoreResult{Applied: true, Accepted: true, Score: self.score, Alive: self.alive}
}

// reportDeath 處理死亡回報
//
// 死亡時的分數同樣受增量上限約束，超出時以最後接受的分數結算。
// 若對手也已不存活，立即判定結果。
func (s *Session) reportDeath(connID string, score, maxDelta int) DeathResult {
	self, other := s.find(connID)
	if s.status != StatusActive || self == nil || !self.alive {
		return DeathResult{}
	}

	res := DeathResult{Applied: true}
	if score-self.score > maxDelta {
		res.Clamped = true
	} else {
		self.score = score
	}
	self.alive = false
	res.Score = self.score

	if !other.alive {
		res.Resolved = true
		res.Outcome = s.resolve()
	}
	return res
}

// depart 處理參與者離開（主動離開或斷線）
//
// 離開者視同不存活，其分數由呼叫端立即寫入；房間清理以參與者為單位，
// 重複呼叫不會有任何效果。
func (s *Session) depart(connID string) DepartResult {
	self, other := s.find(connID)
	if self == nil || self.departed {
		return DepartResult{}
	}

	self.departed = true
	self.quit = self.alive
	self.alive = false
	self.saved = true

	res := DepartResult{Applied: true, Score: self.score, Name: self.name}
	if s.status == StatusActive && !other.alive {
		res.Resolved = true
		res.Outcome = s.resolve()
	}
	return res
}

// resolve 判定結果並轉為 resolved（只會執行一次）
//
// 分數較高者勝，同分為平手；有人在存活時離開則原因為 disconnect。
func (s *Session) resolve() Outcome {
	a, b := s.players[0], s.players[1]

	out := Outcome{Reason: ReasonAllPlayersDied}
	if a.quit || b.quit {
		out.Reason = ReasonDisconnect
	}

	switch {
	case a.score > b.score:
		out.WinnerID = a.id
	case b.score > a.score:
		out.WinnerID = b.id
	}

	for _, p := range s.players {
		if !p.saved {
			p.saved = true
			out.Final = append(out.Final, FinalScore{PlayerID: p.id, PlayerName: p.name, Score: p.score})
		}
	}

	s.status = StatusResolved
	s.resolvedAt = time.Now()
	return out
}

// SessionTable 進行中的對局表
type SessionTable struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionTable 創建對局表
func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[string]*Session),
	}
}

// Get 以房間 ID 取得對局
func (t *SessionTable) Get(roomID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[roomID]
	return s, ok
}

// Len 進行中的對局數
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *SessionTable) add(s *Session) {
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
}

func (t *SessionTable) remove(roomID string) {
	t.mu.Lock()
	delete(t.sessions, roomID)
	t.mu.Unlock()
}
