package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "indexao/internal/errors"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

const (
	defaultExchange = "indexao.adapter_switches"
	eventType       = "adapter.switched"
)

// AMQPConfig 描述 RabbitMQ 事件发布参数。
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes switch events to a fanout exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       publishChannel
	conn     io.Closer
	exchange string
	key      string
	log      *slog.Logger
}

// NewAMQPPublisher connects to RabbitMQ and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ exchange 失败")
	}
	return newAMQPPublisher(ch, conn, exchange, cfg.RoutingKey), nil
}

func newAMQPPublisher(ch publishChannel, conn io.Closer, exchange, key string) *AMQPPublisher {
	return &AMQPPublisher{
		ch:       ch,
		conn:     conn,
		exchange: exchange,
		key:      key,
		log:      logger.Named("history.amqp"),
	}
}

func (p *AMQPPublisher) Record(ctx context.Context, event plugin.SwitchEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码切换事件失败: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 发布器已关闭")
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, p.key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         eventType,
		Body:         body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "发布切换事件失败",
			xerrors.WithMetadata("event_id", event.ID))
	}
	p.log.Debug("published switch event", "event_id", event.ID, "exchange", p.exchange)
	return nil
}

// Close 关闭 channel 与连接，可重复调用。
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
		p.ch = nil
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	return errors.Join(errs...)
}
