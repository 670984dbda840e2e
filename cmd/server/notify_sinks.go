package main

import (
	"bazaar/cmd/server/config"
	"bazaar/internal/market"
	"bazaar/internal/notify"
	"bazaar/internal/realtime"

	"go.uber.org/zap"
)

type closer interface {
	Close() error
}

// buildSinks always includes the websocket hub and adds Kafka and RabbitMQ
// when configured. A broker that cannot be reached is skipped with a warning.
func buildSinks(logger *zap.Logger, hub *realtime.Hub) ([]market.NotificationSink, func()) {
	sinks := []market.NotificationSink{hub}
	var closers []closer

	if kafkaCfg := config.LoadKafka(); len(kafkaCfg.Brokers) > 0 {
		sink := notify.NewKafkaSink(notify.NewKafkaWriter(kafkaCfg.Brokers, kafkaCfg.Topic, logger.Named("kafka")))
		sinks = append(sinks, sink)
		closers = append(closers, sink)
		logger.Info("kafka notifications enabled", zap.Strings("brokers", kafkaCfg.Brokers), zap.String("topic", kafkaCfg.Topic))
	}

	if amqpCfg := config.LoadAMQP(); amqpCfg.URL != "" {
		publisher, err := dialRabbit(amqpCfg.URL, amqpCfg.Exchange)
		if err != nil {
			logger.Warn("rabbitmq unavailable, notifications will skip it", zap.Error(err))
		} else {
			sink := notify.NewRabbitSink(publisher)
			sinks = append(sinks, sink)
			closers = append(closers, sink)
			logger.Info("rabbitmq notifications enabled", zap.String("exchange", amqpCfg.Exchange))
		}
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close notification sink", zap.Error(err))
			}
		}
	}
	return sinks, cleanup
}

var dialRabbit = func(url, exchange string) (notify.Publisher, error) {
	return notify.DialRabbit(url, exchange)
}
