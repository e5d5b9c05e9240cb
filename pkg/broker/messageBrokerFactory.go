package broker

import (
	"context"
	"fmt"

	"github.com/tixflow/go-reconciler/pkg/config"
)

// NewBroker selects the transport. Creator vars are swappable so factory
// behavior can be tested without live brokers.
func NewBroker(ctx context.Context, cfg *config.BrokerSettings, dltSuffix string) (MessageBroker, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqBroker(ctx, cfg, dltSuffix)
	case "gcp-pubsub":
		return NewPubSubClient(ctx, cfg, dltSuffix)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
