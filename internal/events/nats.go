package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"geotag/internal/logger"

	"github.com/nats-io/nats.go"
)

// natsConn：NATSPublisher 需要的最小连接能力
type natsConn interface {
	Publish(subject string, data []byte) error
}

// 文档注释：NATS 发布者
// 约束：主题为 "<subject>.<kind>"，载荷为事件 JSON；发布为异步缓冲写，失败由总线记录。
type NATSPublisher struct {
	conn    natsConn
	subject string
}

func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = "geotag"
	}
	return &NATSPublisher{conn: nc, subject: subject}
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject+"."+string(e.Kind), b)
}

// ConnectNATS：带重连与连接状态日志的连接
func ConnectNATS(url string) (*nats.Conn, error) {
	l := logger.L()
	nc, err := nats.Connect(url,
		nats.Name("geotag"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("nats_disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			l.Info("nats_closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}
