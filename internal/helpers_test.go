package internal_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/duel-arena/internal"
)

const testSeed int64 = 424242

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// savedScore 一筆寫入排行榜的紀錄
type savedScore struct {
	PlayerID   string
	PlayerName string
	Score      int
}

// fakeSaver 記錄所有寫入，可設定回傳錯誤；block 不為 nil 時寫入會等到它被關閉
type fakeSaver struct {
	mu      sync.Mutex
	records []savedScore
	err     error
	block   chan struct{}
}

func (f *fakeSaver) SaveScore(ctx context.Context, playerID, playerName string, score int) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, savedScore{PlayerID: playerID, PlayerName: playerName, Score: score})
	return f.err
}

func (f *fakeSaver) saved() []savedScore {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]savedScore, len(f.records))
	copy(out, f.records)
	return out
}

// published 一則發布的事件
type published struct {
	Subject string
	Event   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, event any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Subject: subject, Event: event})
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Subject)
	}
	return out
}

func (p *recordingPublisher) find(subject string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Subject == subject {
			return e.Event, true
		}
	}
	return nil, false
}

// harness 不經過網路的完整遊戲核心
type harness struct {
	registry   *internal.Registry
	sessions   *internal.SessionTable
	matchmaker *internal.Matchmaker
	relay      *internal.Relay
	saver      *fakeSaver
	publisher  *recordingPublisher
	logger     *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithCapacity(t, 100)
}

func newHarnessWithCapacity(t *testing.T, capacity int) *harness {
	t.Helper()

	logger := newTestLogger()
	h := &harness{
		registry:  internal.NewRegistry(logger),
		sessions:  internal.NewSessionTable(),
		saver:     &fakeSaver{},
		publisher: &recordingPublisher{},
		logger:    logger,
	}
	h.matchmaker = internal.NewMatchmaker(h.registry, h.sessions, h.publisher, capacity, logger,
		internal.WithSeedGenerator(func() int64 { return testSeed }))
	h.relay = internal.NewRelay(h.registry, h.sessions, h.matchmaker, h.saver, h.publisher,
		internal.RelayConfig{MaxScoreDelta: 50, SaveTimeout: time.Second}, logger)

	t.Cleanup(h.matchmaker.Stop)
	return h
}

// connect 註冊一條沒有底層 socket 的連線
func (h *harness) connect(t *testing.T, id string) *internal.Connection {
	t.Helper()
	c := internal.NewConnection(id, nil, 64, h.logger)
	require.True(t, h.registry.Register(c))
	return c
}

func (h *harness) send(t *testing.T, c *internal.Connection, msgType string, payload any) {
	t.Helper()
	data, err := internal.EncodeMessage(msgType, payload)
	require.NoError(t, err)
	h.relay.Handle(context.Background(), c, data)
}

func (h *harness) join(t *testing.T, c *internal.Connection, name string) {
	t.Helper()
	h.send(t, c, internal.TypeJoinQueue, internal.JoinQueuePayload{Name: name})
}

func (h *harness) score(t *testing.T, c *internal.Connection, score int) {
	t.Helper()
	h.send(t, c, internal.TypeUpdateScore, internal.ScorePayload{Score: score})
}

func (h *harness) die(t *testing.T, c *internal.Connection, score int) {
	t.Helper()
	h.send(t, c, internal.TypePlayerDied, internal.ScorePayload{Score: score})
}

// disconnect 模擬讀取端結束時的清理流程
func (h *harness) disconnect(c *internal.Connection) {
	h.registry.Unregister(c)
	h.matchmaker.Remove(c)
	h.relay.Disconnect(context.Background(), c)
}

// saved 等背景寫入完成後取得所有排行榜紀錄
func (h *harness) saved(t *testing.T) []savedScore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.relay.Wait(ctx))
	return h.saver.saved()
}

// match 讓兩人依序加入並等到雙方收到 GAME_START
func (h *harness) match(t *testing.T, a, b *internal.Connection) string {
	t.Helper()

	h.join(t, a, a.ID())
	h.join(t, b, b.ID())

	startA := expectGameStart(t, a)
	startB := expectGameStart(t, b)
	require.Equal(t, startA.RoomID, startB.RoomID)
	return startA.RoomID
}

// nextMessage 讀取下一則出站訊息
func nextMessage(t *testing.T, c *internal.Connection) internal.Message {
	t.Helper()
	select {
	case data, ok := <-c.Outbound():
		require.True(t, ok, "outbound channel closed for %s", c.ID())
		msg, err := internal.DecodeMessage(data)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message to %s", c.ID())
		return internal.Message{}
	}
}

// expectMessage 讀取下一則訊息並檢查類型後解開內容
func expectMessage[T any](t *testing.T, c *internal.Connection, msgType string) T {
	t.Helper()
	msg := nextMessage(t, c)
	require.Equal(t, msgType, msg.Type)

	var payload T
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	return payload
}

func expectGameStart(t *testing.T, c *internal.Connection) internal.GameStartPayload {
	t.Helper()
	return expectMessage[internal.GameStartPayload](t, c, internal.TypeGameStart)
}

func expectOpponentUpdate(t *testing.T, c *internal.Connection) internal.OpponentUpdatePayload {
	t.Helper()
	return expectMessage[internal.OpponentUpdatePayload](t, c, internal.TypeOpponentUpdate)
}

func expectGameOver(t *testing.T, c *internal.Connection) internal.GameOverPayload {
	t.Helper()
	return expectMessage[internal.GameOverPayload](t, c, internal.TypeGameOver)
}

// expectNoMessage 確認短時間內沒有任何出站訊息
func expectNoMessage(t *testing.T, c *internal.Connection) {
	t.Helper()
	select {
	case data, ok := <-c.Outbound():
		if ok {
			t.Fatalf("unexpected message to %s: %s", c.ID(), data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
