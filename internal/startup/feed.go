package startup

import (
	"context"
	"os"
	"time"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
)

// ConnectFeedWithRetry connects the Redis change feed with retries.
// Exits after maxWait of failed attempts.
func ConnectFeedWithRetry(redisURL string, maxWait time.Duration) feed.Feed {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		f, err := feed.NewRedis(ctx, redisURL)
		cancel()
		if err == nil {
			return f
		}
		if time.Now().After(deadline) {
			logger.Errorf("redis feed (gave up after %v): %v", maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("redis feed connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
