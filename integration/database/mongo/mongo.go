package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomongo "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Config holds MongoDB connection settings with environment variable mapping.
type Config struct {
	ConnectionURL  string        `env:"MONGO_URL,required" envDefault:"mongodb://localhost:27017"`
	DatabaseName   string        `env:"MONGO_DB" envDefault:"app"`
	RetryAttempts  int           `env:"MONGO_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"MONGO_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"MONGO_CONNECT_TIMEOUT" envDefault:"30s"`
}

// Connect creates a MongoDB client and verifies connectivity with a ping,
// retrying with a fixed interval. The context bounds the whole connection
// process. The caller owns the client and must Disconnect it on shutdown.
func Connect(ctx context.Context, cfg Config) (*gomongo.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	client, err := gomongo.Connect(options.Client().ApplyURI(cfg.ConnectionURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMongoNotReady, err)
	}

	attempts := max(1, cfg.RetryAttempts)
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var lastErr error
	for attempt := range attempts {
		if lastErr = client.Ping(ctx, nil); lastErr == nil {
			return client, nil
		}

		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("%w: %w", ErrMongoNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}

	_ = client.Disconnect(context.Background())
	return nil, fmt.Errorf("%w: %w", ErrMongoNotReady, lastErr)
}

// Healthcheck returns a health check function for monitoring MongoDB
// connectivity, suitable for readiness probes or HTTP health endpoints.
func Healthcheck(client *gomongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
