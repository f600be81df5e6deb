package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier 把告警事件以 JSON 消息发布到 RabbitMQ 交换机，
// 供下游的对账或值班系统消费。
type AMQPNotifier struct {
	conn     *amqp.Connection
	exchange string
}

// NewAMQPNotifier 建立连接并声明目标交换机。
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	if url == "" || exchange == "" {
		return nil, fmt.Errorf("AMQP 地址或交换机为空")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("连接 AMQP 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("打开 AMQP 通道失败: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("声明交换机失败: %w", err)
	}
	return &AMQPNotifier{conn: conn, exchange: exchange}, nil
}

// Channel 返回 AMQP 渠道。
func (n *AMQPNotifier) Channel() Channel { return ChannelAMQP }

// Notify 发布事件，路由键为错误码。
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	ch, err := n.conn.Channel()
	if err != nil {
		return fmt.Errorf("打开 AMQP 通道失败: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警事件失败: %w", err)
	}
	return ch.PublishWithContext(ctx, n.exchange, string(event.Code), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   event.OccurredAt,
		Body:        body,
	})
}

// Close 关闭底层连接。
func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}
