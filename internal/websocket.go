package internal

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/duel-arena/pkg/logger"
)

// HubConfig 連線層參數
type HubConfig struct {
	SendBuffer int
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
	MaxMessage int64
}

// Hub WebSocket 連線中心
//
// 負責升級、讀寫迴圈與斷線清理；訊息語意全部交給 Relay。
//
// 心跳：writePump 每 PingPeriod 發送 Ping，readPump 在 PongWait 內
// 沒收到任何幀就判定斷線。PingPeriod 必須小於 PongWait。
type Hub struct {
	registry   *Registry
	matchmaker *Matchmaker
	relay      *Relay
	logger     *slog.Logger
	cfg        HubConfig
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewHub 創建 Hub
func NewHub(registry *Registry, matchmaker *Matchmaker, relay *Relay, cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessage <= 0 {
		cfg.MaxMessage = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   registry,
		matchmaker: matchmaker,
		relay:      relay,
		logger:     logger,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			// 瀏覽器遊戲客戶端可能來自任意來源
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeWS 升級連線並啟動讀寫 goroutine
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := NewConnection(newGuestID(), ws, h.cfg.SendBuffer, h.logger)
	if !h.registry.Register(c) {
		// uuid 前綴碰撞，極少發生
		h.logger.Warn("duplicate connection id, closing", "conn_id", c.ID())
		_ = ws.Close()
		return
	}

	h.wg.Add(2)
	go h.writePump(c)
	go h.readPump(c)

	h.logger.Info("client connected", "conn_id", c.ID(), "remote", r.RemoteAddr)
}

// Stop 關閉所有連線並等待讀寫 goroutine 結束
func (h *Hub) Stop(ctx context.Context) error {
	h.once.Do(func() {
		h.cancel()
		for _, c := range h.registry.CloseAll() {
			// 讀取端阻塞在 ReadMessage，設定過期時間讓它立即返回
			if c.ws != nil {
				_ = c.ws.SetReadDeadline(time.Now())
			}
		}
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("websocket hub stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump 讀取入站訊息並交給 Relay，結束時執行斷線清理
func (h *Hub) readPump(c *Connection) {
	defer h.wg.Done()
	defer func() {
		h.disconnect(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(h.cfg.MaxMessage)
	if err := c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		h.logger.Error("set read deadline failed", "conn_id", c.ID(), "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	ctx := logger.WithConnID(h.ctx, c.ID())

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WarnContext(ctx, "websocket read error", "error", err)
			}
			return
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if messageType != websocket.TextMessage {
			continue
		}
		h.relay.Handle(ctx, c, data)
	}
}

// writePump 排空出站緩衝並定時發送 Ping
func (h *Hub) writePump(c *Connection) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				// 註銷時關閉通道，送出關閉幀（連線可能已斷，忽略錯誤）
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批次送出已排隊的訊息，每則仍是獨立的文字幀
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				if err := c.ws.WriteMessage(websocket.TextMessage, next); err != nil {
					h.logger.Error("write message failed", "conn_id", c.ID(), "error", err)
					return
				}
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnect 斷線清理：註銷、清除等待位、以斷線原因離開房間
func (h *Hub) disconnect(c *Connection) {
	h.registry.Unregister(c)
	h.matchmaker.Remove(c)
	h.relay.Disconnect(context.WithoutCancel(h.ctx), c)

	h.logger.Info("client disconnected", "conn_id", c.ID())
}

// newGuestID 訪客 ID：guest_ 加上 8 個十六進位字元
func newGuestID() string {
	return "guest_" + uuid.NewString()[:8]
}
