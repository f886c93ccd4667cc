package internal_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/koopa0/system-design/duel-arena/internal"
)

// awaitType 讀取出站訊息直到指定類型，略過其他類型
func awaitType(c *internal.Connection, msgType string, timeout time.Duration) (internal.Message, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case data, ok := <-c.Outbound():
			if !ok {
				return internal.Message{}, false
			}
			msg, err := internal.DecodeMessage(data)
			if err != nil {
				return internal.Message{}, false
			}
			if msg.Type == msgType {
				return msg, true
			}
		case <-deadline:
			return internal.Message{}, false
		}
	}
}

// TestStress_ConcurrentMatches 大量玩家同時排隊、遊戲並結算
func TestStress_ConcurrentMatches(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	h := newHarness(t)

	const numPlayers = 200

	var (
		wg        sync.WaitGroup
		started   int32
		gameOvers int32
		failures  int32
	)

	conns := make([]*internal.Connection, numPlayers)
	for i := range conns {
		conns[i] = h.connect(t, fmt.Sprintf("guest_%03d", i))
	}

	start := time.Now()

	for _, c := range conns {
		wg.Add(1)
		go func(c *internal.Connection) {
			defer wg.Done()

			h.join(t, c, c.ID())
			if _, ok := awaitType(c, internal.TypeGameStart, 5*time.Second); !ok {
				atomic.AddInt32(&failures, 1)
				return
			}
			atomic.AddInt32(&started, 1)

			for s := 10; s <= 100; s += 10 {
				h.score(t, c, s)
			}
			h.die(t, c, 100)

			if _, ok := awaitType(c, internal.TypeGameOver, 5*time.Second); !ok {
				atomic.AddInt32(&failures, 1)
				return
			}
			atomic.AddInt32(&gameOvers, 1)
		}(c)
	}

	wg.Wait()
	elapsed := time.Since(start)

	t.Logf("players=%d elapsed=%v", numPlayers, elapsed)

	assert.Equal(t, int32(0), failures)
	assert.Equal(t, int32(numPlayers), started)
	assert.Equal(t, int32(numPlayers), gameOvers)
	assert.Equal(t, int64(numPlayers/2), h.matchmaker.Matches())
	assert.Equal(t, 0, h.sessions.Len())
	assert.Len(t, h.saved(t), numPlayers)
}

// TestStress_DisconnectStorm 每局一方斷線，另一方仍能正常結算
func TestStress_DisconnectStorm(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	h := newHarness(t)

	const numPlayers = 100

	var (
		wg        sync.WaitGroup
		gameOvers int32
		failures  int32
	)

	conns := make([]*internal.Connection, numPlayers)
	for i := range conns {
		conns[i] = h.connect(t, fmt.Sprintf("guest_%03d", i))
	}

	for _, c := range conns {
		wg.Add(1)
		go func(c *internal.Connection) {
			defer wg.Done()

			h.join(t, c, c.ID())
			msg, ok := awaitType(c, internal.TypeGameStart, 5*time.Second)
			if !ok {
				atomic.AddInt32(&failures, 1)
				return
			}

			var start internal.GameStartPayload
			if err := json.Unmarshal(msg.Payload, &start); err != nil {
				atomic.AddInt32(&failures, 1)
				return
			}

			// ID 較小的一方斷線
			if start.MyID < start.OpponentID {
				h.disconnect(c)
				return
			}

			if _, ok := awaitType(c, internal.TypeOpponentLeft, 5*time.Second); !ok {
				atomic.AddInt32(&failures, 1)
				return
			}
			h.die(t, c, 0)

			over, ok := awaitType(c, internal.TypeGameOver, 5*time.Second)
			if !ok {
				atomic.AddInt32(&failures, 1)
				return
			}
			var payload internal.GameOverPayload
			if err := json.Unmarshal(over.Payload, &payload); err != nil || payload.Reason != internal.ReasonDisconnect {
				atomic.AddInt32(&failures, 1)
				return
			}
			atomic.AddInt32(&gameOvers, 1)
		}(c)
	}

	wg.Wait()

	assert.Equal(t, int32(0), failures)
	assert.Equal(t, int32(numPlayers/2), gameOvers)
	assert.Equal(t, 0, h.sessions.Len())
	assert.Equal(t, numPlayers/2, h.registry.Count())
	assert.Len(t, h.saved(t), numPlayers)
}
