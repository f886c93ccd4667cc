package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/koopa0/system-design/duel-arena/pkg/logger"
)

// ScoreSaver 排行榜寫入端
type ScoreSaver interface {
	SaveScore(ctx context.Context, playerID, playerName string, score int) error
}

// Queue 配對佇列的生產端
type Queue interface {
	Enqueue(c *Connection) error
}

// departure 原因
const (
	causeLeave      = "leave"
	causeDisconnect = "disconnect"
)

// handlerFunc 單一訊息類型的處理函數
type handlerFunc func(ctx context.Context, r *Relay, c *Connection, payload json.RawMessage)

// Relay 協議轉發與反作弊
//
// 每條入站訊息依類型分派；狀態變更與對手通知在房間鎖內完成，
// 排行榜寫入在釋放鎖之後交給背景 goroutine，不佔用玩家的讀取迴圈。
type Relay struct {
	registry    *Registry
	sessions    *SessionTable
	queue       Queue
	scores      ScoreSaver
	publisher   EventPublisher
	logger      *slog.Logger
	maxDelta    int
	saveTimeout time.Duration
	routes      map[string]handlerFunc
	pending     sync.WaitGroup
}

// RelayConfig Relay 參數
type RelayConfig struct {
	MaxScoreDelta int
	SaveTimeout   time.Duration
}

// NewRelay 創建 Relay
func NewRelay(registry *Registry, sessions *SessionTable, queue Queue, scores ScoreSaver, publisher EventPublisher, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.MaxScoreDelta <= 0 {
		cfg.MaxScoreDelta = 50
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 5 * time.Second
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}

	r := &Relay{
		registry:    registry,
		sessions:    sessions,
		queue:       queue,
		scores:      scores,
		publisher:   publisher,
		logger:      logger,
		maxDelta:    cfg.MaxScoreDelta,
		saveTimeout: cfg.SaveTimeout,
	}
	r.routes = map[string]handlerFunc{
		TypeJoinQueue:   handleJoinQueue,
		TypeUpdateScore: handleUpdateScore,
		TypePlayerDied:  handlePlayerDied,
		TypeLeaveGame:   handleLeaveGame,
	}
	return r
}

// Handle 處理一則原始入站訊息
//
// 無法解析的訊息只記錄後丟棄，連線保持開啟。
func (r *Relay) Handle(ctx context.Context, c *Connection, data []byte) {
	ctx = logger.WithConnID(ctx, c.ID())

	msg, err := DecodeMessage(data)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to parse message", "error", err)
		return
	}

	h, ok := r.routes[msg.Type]
	if !ok {
		r.logger.DebugContext(ctx, "unknown message type", "type", msg.Type)
		return
	}
	h(ctx, r, c, msg.Payload)
}

// Disconnect 連線中斷時呼叫，與 LEAVE_GAME 走同一條離開流程
func (r *Relay) Disconnect(ctx context.Context, c *Connection) {
	r.depart(logger.WithConnID(ctx, c.ID()), c, causeDisconnect)
}

// handleJoinQueue JOIN_QUEUE：設定名稱並加入配對佇列
func handleJoinQueue(ctx context.Context, r *Relay, c *Connection, payload json.RawMessage) {
	if c.InQueue() || c.RoomID() != "" {
		return
	}

	name := c.ID()
	var p JoinQueuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.WarnContext(ctx, "failed to parse join queue payload, using id as name", "error", err)
	} else if trimmed := strings.TrimSpace(p.Name); trimmed != "" {
		name = trimmed
	}
	c.setName(name)

	// 先標記再交出，配對迴圈清除旗標時不會被覆蓋
	c.setInQueue(true)
	if err := r.queue.Enqueue(c); err != nil {
		c.setInQueue(false)
		r.logger.WarnContext(ctx, "join queue rejected", "error", err)
		return
	}

	r.logger.InfoContext(ctx, "player joined queue", "name", name)
}

// handleUpdateScore UPDATE_SCORE：反作弊檢查後通知對手
func handleUpdateScore(ctx context.Context, r *Relay, c *Connection, payload json.RawMessage) {
	score, err := decodeScore(payload)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to parse score payload", "error", err)
		return
	}

	sess, roomID, ok := r.activeSession(c)
	if !ok {
		return
	}
	ctx = logger.WithRoomID(ctx, roomID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	res := sess.reportScore(c.ID(), score, r.maxDelta)
	if !res.Applied {
		return
	}

	if res.Accepted {
		c.setScore(res.Score)
	} else {
		r.logger.WarnContext(ctx, "suspicious score jump rejected",
			"last", res.Score,
			"reported", score,
			"max_delta", r.maxDelta)
	}

	// 拒絕時也重送最後接受的分數，避免對手畫面與伺服器不同步
	r.notifyOpponent(ctx, c, roomID, TypeOpponentUpdate, OpponentUpdatePayload{
		Score:   res.Score,
		IsAlive: res.Alive,
	})
}

// handlePlayerDied PLAYER_DIED：標記死亡，雙方皆死則結算
func handlePlayerDied(ctx context.Context, r *Relay, c *Connection, payload json.RawMessage) {
	score, err := decodeScore(payload)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to parse death payload", "error", err)
		return
	}

	sess, roomID, ok := r.activeSession(c)
	if !ok {
		return
	}
	ctx = logger.WithRoomID(ctx, roomID)

	sess.mu.Lock()
	res := sess.reportDeath(c.ID(), score, r.maxDelta)
	if !res.Applied {
		sess.mu.Unlock()
		return
	}

	if res.Clamped {
		r.logger.WarnContext(ctx, "death score exceeds delta bound, settling at last accepted",
			"reported", score,
			"settled", res.Score)
	}
	c.markDead(res.Score)
	r.logger.InfoContext(ctx, "player died", "score", res.Score)

	r.notifyOpponent(ctx, c, roomID, TypeOpponentUpdate, OpponentUpdatePayload{
		Score:   res.Score,
		IsAlive: false,
	})

	var event MatchResolvedEvent
	if res.Resolved {
		event = r.finish(ctx, sess, res.Outcome)
	}
	sess.mu.Unlock()

	if res.Resolved {
		r.persist(ctx, res.Outcome.Final...)
		r.publisher.Publish(ctx, SubjectMatchResolved, event)
	}
}

// handleLeaveGame LEAVE_GAME：不在房間時不做任何事
func handleLeaveGame(ctx context.Context, r *Relay, c *Connection, _ json.RawMessage) {
	r.depart(ctx, c, causeLeave)
}

// depart 參與者離開房間（主動或斷線）
//
// 寫入離開者分數、通知對手 OPPONENT_LEFT、重置離開者自身狀態；
// 對手已不存活時同時結算整局。
func (r *Relay) depart(ctx context.Context, c *Connection, cause string) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	ctx = logger.WithRoomID(ctx, roomID)

	sess, ok := r.sessions.Get(roomID)
	if !ok {
		c.reset()
		return
	}

	sess.mu.Lock()
	res := sess.depart(c.ID())
	if !res.Applied {
		sess.mu.Unlock()
		c.reset()
		return
	}

	r.logger.InfoContext(ctx, "player left game", "cause", cause, "score", res.Score)

	r.notifyOpponent(ctx, c, roomID, TypeOpponentLeft, OpponentUpdatePayload{
		Score:   res.Score,
		IsAlive: false,
	})
	c.reset()

	var event MatchResolvedEvent
	if res.Resolved {
		event = r.finish(ctx, sess, res.Outcome)
	}
	sess.mu.Unlock()

	r.persist(ctx, FinalScore{PlayerID: c.ID(), PlayerName: res.Name, Score: res.Score})
	r.publisher.Publish(ctx, SubjectPlayerDeparted, PlayerDepartedEvent{
		RoomID:   roomID,
		PlayerID: c.ID(),
		Score:    res.Score,
		Cause:    cause,
	})

	if res.Resolved {
		r.persist(ctx, res.Outcome.Final...)
		r.publisher.Publish(ctx, SubjectMatchResolved, event)
	}
}

// finish 重置仍在房間的連線、發送 GAME_OVER 並移除對局（需持有 sess.mu）
//
// 客戶端收到 GAME_OVER 時，其連線已回到大廳狀態。
func (r *Relay) finish(ctx context.Context, sess *Session, out Outcome) MatchResolvedEvent {
	for _, rc := range r.registry.ConnectionsInRoom(sess.ID) {
		rc.reset()
		if err := rc.SendJSON(TypeGameOver, GameOverPayload{
			WinnerID: out.WinnerID,
			Reason:   out.Reason,
		}); err != nil {
			r.logger.ErrorContext(ctx, "send game over failed", "to", rc.ID(), "error", err)
		}
	}
	r.sessions.remove(sess.ID)

	r.logger.InfoContext(ctx, "match resolved",
		"winner", out.WinnerID,
		"reason", out.Reason,
		"duration", time.Since(sess.CreatedAt))

	return MatchResolvedEvent{
		RoomID:     sess.ID,
		WinnerID:   out.WinnerID,
		Reason:     out.Reason,
		Scores:     out.Final,
		Duration:   sess.resolvedAt.Sub(sess.CreatedAt).Seconds(),
		ResolvedAt: sess.resolvedAt,
	}
}

// activeSession 找到連線所在的對局，不在房間時返回 false（協議違規，靜默忽略）
func (r *Relay) activeSession(c *Connection) (*Session, string, bool) {
	roomID := c.RoomID()
	if roomID == "" {
		return nil, "", false
	}
	sess, ok := r.sessions.Get(roomID)
	if !ok {
		return nil, "", false
	}
	return sess, roomID, true
}

// notifyOpponent 透過註冊表掃描房間，通知除自己以外的連線
//
// 查無對手（已斷線）時直接略過。
func (r *Relay) notifyOpponent(ctx context.Context, c *Connection, roomID, msgType string, payload any) {
	for _, o := range r.registry.ConnectionsInRoom(roomID) {
		if o.ID() == c.ID() {
			continue
		}
		if err := o.SendJSON(msgType, payload); err != nil {
			r.logger.ErrorContext(ctx, "notify opponent failed", "to", o.ID(), "type", msgType, "error", err)
		}
	}
}

// persist 在背景寫入最終分數，不等待結果
func (r *Relay) persist(ctx context.Context, finals ...FinalScore) {
	if r.scores == nil || len(finals) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		for _, f := range finals {
			r.save(ctx, f)
		}
	}()
}

// Wait 等待背景的排行榜寫入完成，關機時呼叫
func (r *Relay) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// save 寫入排行榜，失敗只記錄，不影響對局結算
func (r *Relay) save(ctx context.Context, f FinalScore) {
	ctx, cancel := context.WithTimeout(ctx, r.saveTimeout)
	defer cancel()

	if err := r.scores.SaveScore(ctx, f.PlayerID, f.PlayerName, f.Score); err != nil {
		r.logger.ErrorContext(ctx, "failed to save score",
			"player_id", f.PlayerID,
			"score", f.Score,
			"error", err)
	}
}
