package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

// ConnectWithRetry establishes the Kafka queue with exponential backoff,
// retrying for up to 5 minutes starting at 5 second intervals. This covers
// broker unavailability during rolling deploys and cold starts.
func ConnectWithRetry(cfg *Config, log *logger.Logger, tracer trace.Tracer) (*Queue, error) {
	var queue *Queue

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		queue, err = NewQueue(cfg, log, tracer)
		if err != nil {
			log.Warn(context.Background(), "kafka connection failed, will retry", "brokers", cfg.Brokers, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("connecting to kafka after retries: %w", err)
	}
	return queue, nil
}
