package internal

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/system-design/duel-arena/pkg/errors"
)

// slotState 等待位狀態
type slotState int

const (
	slotEmpty slotState = iota
	slotWaiting
)

// removal 斷線移除請求，配對迴圈處理完後關閉 done
type removal struct {
	conn *Connection
	done chan struct{}
}

// waitingSlot 單一等待位：{Empty, Waiting(conn)}
//
// 只有配對迴圈會讀寫，不需要鎖。保存連線物件而非 ID，
// 同一 ID 重新連線時舊的等待者不會被誤認為仍在線。
type waitingSlot struct {
	state slotState
	conn  *Connection
}

// Matchmaker 先來先配對的兩人配對器
//
// 生產者只把連線交給 enqueue 通道；所有配對決策都在單一迴圈中序列化執行，
// 因此等待位不會有競爭。
type Matchmaker struct {
	registry  *Registry
	sessions  *SessionTable
	publisher EventPublisher
	logger    *slog.Logger

	enqueue chan *Connection
	remove  chan removal
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	newRoomID func() string
	newSeed   func() int64

	matches atomic.Int64
	waiting atomic.Bool
}

// MatchmakerOption 配對器選項
type MatchmakerOption func(*Matchmaker)

// WithRoomIDGenerator 自訂房間 ID 生成器
func WithRoomIDGenerator(fn func() string) MatchmakerOption {
	return func(m *Matchmaker) { m.newRoomID = fn }
}

// WithSeedGenerator 自訂種子生成器
func WithSeedGenerator(fn func() int64) MatchmakerOption {
	return func(m *Matchmaker) { m.newSeed = fn }
}

// NewMatchmaker 創建配對器並啟動配對迴圈
func NewMatchmaker(registry *Registry, sessions *SessionTable, publisher EventPublisher, capacity int, logger *slog.Logger, opts ...MatchmakerOption) *Matchmaker {
	if capacity <= 0 {
		capacity = 100
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}

	m := &Matchmaker{
		registry:  registry,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger,
		enqueue:   make(chan *Connection, capacity),
		remove:    make(chan removal),
		stopCh:    make(chan struct{}),
		newRoomID: func() string { return uuid.New().String() },
		newSeed:   randomSeed,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.run()

	return m
}

// Enqueue 把連線交給配對迴圈，不會阻塞
//
// 緩衝區滿時返回 ErrQueueFull，由呼叫端自行處理背壓。
func (m *Matchmaker) Enqueue(c *Connection) error {
	select {
	case m.enqueue <- c:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", c.ID(), apperrors.ErrQueueFull)
	}
}

// Remove 斷線時清除等待位中的連線，只比對同一個連線物件
//
// 會等配對迴圈處理完才返回：返回後 c 不會再被配對，
// 若已被配對，其房間 ID 也已設定完成。呼叫前必須先從註冊表註銷。
func (m *Matchmaker) Remove(c *Connection) {
	req := removal{conn: c, done: make(chan struct{})}
	select {
	case m.remove <- req:
	case <-m.stopCh:
		return
	}
	select {
	case <-req.done:
	case <-m.stopCh:
	}
}

// Matches 已建立的對局數
func (m *Matchmaker) Matches() int64 {
	return m.matches.Load()
}

// Waiting 目前是否有人在等待位
func (m *Matchmaker) Waiting() bool {
	return m.waiting.Load()
}

// Stop 停止配對迴圈
func (m *Matchmaker) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	m.logger.Info("matchmaker stopped", "matches", m.matches.Load())
}

// run 配對迴圈
func (m *Matchmaker) run() {
	defer m.wg.Done()

	var slot waitingSlot

	for {
		select {
		case c := <-m.enqueue:
			slot = m.handleArrival(slot, c)
		case req := <-m.remove:
			if slot.state == slotWaiting && slot.conn == req.conn {
				slot = waitingSlot{}
				m.logger.Info("waiting player removed from queue", "conn_id", req.conn.ID())
			}
			close(req.done)
		case <-m.stopCh:
			return
		}
		m.waiting.Store(slot.state == slotWaiting)
	}
}

// handleArrival 依序處理一名到達的玩家
//
//  1. 到達者已斷線 → 丟棄
//  2. 等待位為空 → 放入等待位
//  3. 等待者已斷線 → 到達者取代等待位
//  4. 否則配對成功，清空等待位
func (m *Matchmaker) handleArrival(slot waitingSlot, c *Connection) waitingSlot {
	if !m.isLive(c) {
		m.logger.Debug("dropping disconnected arrival", "conn_id", c.ID())
		return slot
	}

	if slot.state == slotEmpty {
		m.logger.Info("player waiting in queue", "conn_id", c.ID(), "name", c.Name())
		return waitingSlot{state: slotWaiting, conn: c}
	}

	if slot.conn == c {
		return slot
	}

	if !m.isLive(slot.conn) {
		m.logger.Info("waiting player gone, replacing", "stale_conn_id", slot.conn.ID(), "conn_id", c.ID())
		return waitingSlot{state: slotWaiting, conn: c}
	}

	m.createMatch(slot.conn, c)
	return waitingSlot{}
}

// isLive 連線仍在註冊表中且是同一個物件
func (m *Matchmaker) isLive(c *Connection) bool {
	actual, ok := m.registry.Lookup(c.ID())
	return ok && actual == c
}

// createMatch 建立房間並通知雙方
func (m *Matchmaker) createMatch(first, second *Connection) {
	roomID := m.newRoomID()
	seed := m.newSeed()

	session := newSession(roomID, seed, first, second)

	// 持有房間鎖時先放入對局表再設定房間 ID：Relay 一看到房間 ID 就能找到對局，
	// 並在鎖上等到 GAME_START 送出
	session.mu.Lock()
	m.sessions.add(session)
	first.enterRoom(roomID)
	second.enterRoom(roomID)

	m.sendGameStart(first, second, roomID, seed)
	m.sendGameStart(second, first, roomID, seed)
	session.mu.Unlock()

	m.matches.Add(1)

	m.logger.Info("match created",
		"room_id", roomID,
		"player1", first.ID(),
		"player2", second.ID(),
		"seed", seed)

	m.publisher.Publish(context.Background(), SubjectMatchCreated, MatchCreatedEvent{
		RoomID:  roomID,
		Seed:    seed,
		Players: []string{first.ID(), second.ID()},
	})
}

func (m *Matchmaker) sendGameStart(self, opponent *Connection, roomID string, seed int64) {
	err := self.SendJSON(TypeGameStart, GameStartPayload{
		RoomID:       roomID,
		Seed:         seed,
		MyID:         self.ID(),
		MyName:       self.Name(),
		OpponentID:   opponent.ID(),
		OpponentName: opponent.Name(),
	})
	if err != nil {
		m.logger.Error("send game start failed", "conn_id", self.ID(), "error", err)
	}
}

// randomSeed 63 位元隨機種子
func randomSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand 失敗時退回 uuid 的隨機位元
		u := uuid.New()
		copy(b[:], u[:8])
	}
	return int64(binary.BigEndian.Uint64(b[:]) >> 1)
}
