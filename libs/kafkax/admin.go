package kafkax

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// EnsureTopics creates every topic in configs on the cluster behind brokers.
// Topics that already exist are left untouched. Brokers are often still
// electing a controller when services boot, so the whole operation is retried
// with exponential backoff until ctx is done or maxWait elapses.
func EnsureTopics(ctx context.Context, brokers string, configs []kafka.TopicConfig, maxWait time.Duration, log *slog.Logger) error {
	list := SplitBrokers(brokers)
	if len(list) == 0 {
		return errors.New("kafka brokers not configured")
	}

	attempt := 0
	op := func() error {
		attempt++
		err := createTopics(ctx, list[0], configs)
		if err != nil {
			log.Warn("kafka topic provisioning failed, retrying",
				"attempt", attempt, "error", err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxWait

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("ensure kafka topics: %w", err)
	}
	log.Info("kafka topics ensured", "count", len(configs))
	return nil
}

func createTopics(ctx context.Context, broker string, configs []kafka.TopicConfig) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer controllerConn.Close()

	if err := controllerConn.CreateTopics(configs...); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}
