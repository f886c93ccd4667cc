package internal

import (
	"log/slog"
	"sync"
)

// Registry 連線註冊表
//
// ID 存在即代表對端仍在線；查無代表已斷線，呼叫端應視為
// 「對手已離開」而非錯誤。
//
// 並發控制：單一讀寫鎖，註冊/註銷取寫鎖，查詢/列舉取讀鎖。
type Registry struct {
	conns  map[string]*Connection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry 創建註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		logger: logger,
	}
}

// Register 以 ID 註冊連線，已存在時不做任何事並返回 false
func (r *Registry) Register(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID()]; exists {
		return false
	}
	r.conns[c.ID()] = c

	r.logger.Debug("connection registered", "conn_id", c.ID(), "total", len(r.conns))
	return true
}

// Unregister 移除連線並關閉其出站緩衝，讓寫入端排空後結束
//
// 只有第一次呼叫會生效；ID 被其他連線佔用時不動作。
func (r *Registry) Unregister(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	actual, exists := r.conns[c.ID()]
	if !exists || actual != c {
		return false
	}
	delete(r.conns, c.ID())
	c.closeSend()

	r.logger.Debug("connection unregistered", "conn_id", c.ID(), "total", len(r.conns))
	return true
}

// Lookup 以 ID 查詢連線
func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// ConnectionsInRoom 列出房間內的所有連線
//
// 全表掃描：每房固定兩人且總連線數不大。
// 無符合時返回空切片；空房間 ID 不匹配任何連線（大廳中的連線不算室友）。
func (r *Registry) ConnectionsInRoom(roomID string) []*Connection {
	result := make([]*Connection, 0, 2)
	if roomID == "" {
		return result
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns {
		if c.RoomID() == roomID {
			result = append(result, c)
		}
	}
	return result
}

// Count 在線連線數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll 註銷所有連線（伺服器關閉時使用）
func (r *Registry) CloseAll() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := make([]*Connection, 0, len(r.conns))
	for id, c := range r.conns {
		c.closeSend()
		delete(r.conns, id)
		closed = append(closed, c)
	}
	return closed
}
