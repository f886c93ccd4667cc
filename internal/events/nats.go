// Package events 把對局事件發布到 NATS
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher NATS 事件發布端
//
// 使用核心 NATS（非 JetStream）：事件只給下游統計用，丟失可接受，
// 發布失敗只記錄，不回傳給遊戲流程。
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect 連接 NATS 並創建發布端
//
//   - MaxReconnects(-1)：無限重連
//   - ReconnectWait(1s)：重連間隔
//   - PingInterval(20s)：心跳檢測
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("duel-arena"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return NewPublisher(conn, prefix, logger), nil
}

// NewPublisher 以現有連線創建發布端
func NewPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		prefix: strings.Trim(prefix, "."),
		logger: logger,
	}
}

// Subject 加上前綴後的完整主題
func (p *Publisher) Subject(subject string) string {
	if p.prefix == "" {
		return subject
	}
	return p.prefix + "." + subject
}

// Publish 編碼並發布事件
func (p *Publisher) Publish(ctx context.Context, subject string, event any) {
	full := p.Subject(subject)

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode event", "subject", full, "error", err)
		return
	}

	if err := p.conn.Publish(full, data); err != nil {
		p.logger.WarnContext(ctx, "failed to publish event", "subject", full, "error", err)
		return
	}

	p.logger.DebugContext(ctx, "event published", "subject", full, "bytes", len(data))
}

// Close 送出緩衝中的事件並關閉連線
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
