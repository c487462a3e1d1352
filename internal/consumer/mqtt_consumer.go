package consumer

import (
	"context"
	"fmt"

	mqttcommon "aquaflow/common/mqtt"

	"go.uber.org/zap"
)

// Subscriber inbound broker side
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer feeds broker messages to the router
type MQTTConsumer struct {
	client Subscriber
	topics []string
	qos    byte
	router *Router
	logger *zap.Logger
}

// NewMQTTConsumer creates the consumer
func NewMQTTConsumer(client Subscriber, topics Topics, qos byte, router *Router, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		client: client,
		topics: topics.List(),
		qos:    qos,
		router: router,
		logger: logger,
	}
}

// Start subscribes every ingestion topic
func (c *MQTTConsumer) Start(ctx context.Context) error {
	for i, topic := range c.topics {
		if err := c.client.Subscribe(topic, c.qos, c.handleMessage); err != nil {
			if i > 0 {
				_ = c.client.Unsubscribe(c.topics[:i]...)
			}
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started", zap.Strings("topics", c.topics))
	return nil
}

// Stop unsubscribes
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if len(c.topics) == 0 {
		return nil
	}
	if err := c.client.Unsubscribe(c.topics...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)
	return c.router.HandleMessage(topic, payload)
}
