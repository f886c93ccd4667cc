package internal

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Connection 一個在線的網路對端及其可變狀態
//
// 生命週期由 Registry 擁有；Session 只記錄 ID，不持有指標。
// 房間、佇列、存活、分數欄位是 Session 狀態的鏡像，
// 由 Matchmaker 與 Relay 在房間鎖內更新。
type Connection struct {
	id     string
	ws     *websocket.Conn // 測試中可為 nil
	send   chan []byte
	logger *slog.Logger

	mu      sync.RWMutex
	name    string
	roomID  string
	inQueue bool
	alive   bool
	score   int
	closed  bool
}

// ConnectionState 連線狀態快照
type ConnectionState struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RoomID  string `json:"room_id"`
	InQueue bool   `json:"in_queue"`
	Alive   bool   `json:"alive"`
	Score   int    `json:"score"`
}

// NewConnection 創建連線，bufferSize 為出站緩衝容量
func NewConnection(id string, ws *websocket.Conn, bufferSize int, logger *slog.Logger) *Connection {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Connection{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, bufferSize),
		logger: logger,
		name:   id,
		alive:  true,
	}
}

// ID 連線 ID
func (c *Connection) ID() string { return c.id }

// Name 顯示名稱
func (c *Connection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// RoomID 目前房間，未分配時為空字串
func (c *Connection) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// InQueue 是否在配對佇列中
func (c *Connection) InQueue() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inQueue
}

// Alive 是否存活
func (c *Connection) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

// Score 最後一次接受的分數
func (c *Connection) Score() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.score
}

// State 返回狀態快照
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionState{
		ID:      c.id,
		Name:    c.name,
		RoomID:  c.roomID,
		InQueue: c.inQueue,
		Alive:   c.alive,
		Score:   c.score,
	}
}

// Outbound 出站訊息通道（寫入 goroutine 與測試讀取）
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

func (c *Connection) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *Connection) setInQueue(v bool) {
	c.mu.Lock()
	c.inQueue = v
	c.mu.Unlock()
}

func (c *Connection) setScore(score int) {
	c.mu.Lock()
	c.score = score
	c.mu.Unlock()
}

func (c *Connection) markDead(score int) {
	c.mu.Lock()
	c.alive = false
	c.score = score
	c.mu.Unlock()
}

// enterRoom 配對成功時設定
func (c *Connection) enterRoom(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.inQueue = false
	c.alive = true
	c.score = 0
	c.mu.Unlock()
}

// reset 回到大廳狀態，可重複呼叫
func (c *Connection) reset() {
	c.mu.Lock()
	c.roomID = ""
	c.inQueue = false
	c.alive = true
	c.score = 0
	c.mu.Unlock()
}

// SendJSON 編碼並放入出站緩衝
//
// 緩衝區滿時丟棄最新訊息並記錄，不會阻塞呼叫端；
// 連線已關閉時靜默略過。
func (c *Connection) SendJSON(msgType string, payload any) error {
	data, err := EncodeMessage(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message",
			"conn_id", c.id,
			"type", msgType)
	}
	return nil
}

// closeSend 關閉出站通道，寫入 goroutine 會在排空後送出關閉幀
func (c *Connection) closeSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}
