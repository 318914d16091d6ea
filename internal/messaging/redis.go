package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"garage-door-service/internal/logger"
	"garage-door-service/internal/types"
)

// Callbacks holds the handlers for inbound host requests.
type Callbacks struct {
	TriggerCallback  func() error       // momentary trigger request ("pulse")
	SettingsCallback func(string) error // setting key that was updated (e.g. "garage-door.countdown-seconds")
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisClient(host string, port int, l *logger.Logger) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		logger: l,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetCallbacks registers the request handlers. Must be called before
// StartListening.
func (r *RedisClient) SetCallbacks(callbacks Callbacks) {
	r.callbacks = callbacks
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts all Redis listeners after system initialization is
// complete.
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	// Settings changes arrive via pub/sub; the payload is the changed key.
	pubsub := r.client.Subscribe(r.ctx, "settings")
	r.wg.Add(1)
	go r.settingsListener(pubsub)

	// Trigger requests arrive as LPUSH commands on a list.
	r.wg.Add(1)
	go r.listCommandListener("garage-door:trigger", r.handleTriggerCommand)

	return nil
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context
			// cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if err == context.Canceled {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Infof("Error reading from %s list: %v", key, err)
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleTriggerCommand(value string) error {
	if r.callbacks.TriggerCallback == nil {
		return nil
	}
	switch value {
	case "pulse":
		return r.callbacks.TriggerCallback()
	default:
		r.logger.Infof("Invalid trigger command value: %s", value)
		return fmt.Errorf("invalid trigger command: %s", value)
	}
}

func (r *RedisClient) settingsListener(pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	r.logger.Infof("Starting settings listener")
	channel := pubsub.Channel()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting settings listener")
			return
		case msg, ok := <-channel:
			if !ok {
				r.logger.Infof("Redis channel closed unexpectedly")
				r.logger.Fatalf("Redis connection lost, exiting to allow systemd restart")
			}
			if r.callbacks.SettingsCallback != nil {
				r.logger.Infof("Processing settings update: %s", msg.Payload)
				if err := r.callbacks.SettingsCallback(msg.Payload); err != nil {
					r.logger.Infof("Failed to handle settings update: %v", err)
				}
			}
		}
	}
}

// publishHashSet is a helper that atomically updates a hash field and
// publishes a notification
func (r *RedisClient) publishHashSet(hash, field string, value interface{}, channel, payload string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, hash, field, value)
	pipe.Publish(r.ctx, channel, payload)
	_, err := pipe.Exec(r.ctx)
	return err
}

// PublishDoorStatus projects the user-facing door status into the
// garage-door hash with a timestamp.
func (r *RedisClient) PublishDoorStatus(status types.DoorStatus) error {
	r.logger.Infof("Publishing door status: %s", status)
	timestamp := time.Now().Format(time.RFC3339)

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "garage-door", "state", string(status))
	pipe.HSet(r.ctx, "garage-door", "state:timestamp", timestamp)
	pipe.Publish(r.ctx, "garage-door", "state")
	_, err := pipe.Exec(r.ctx)

	if err != nil {
		r.logger.Warnf("Failed to publish door status: %v", err)
		return err
	}
	return nil
}

// SetContactState records the last known position-contact reading.
func (r *RedisClient) SetContactState(open bool) error {
	r.logger.Debugf("Setting contact state: open=%v", open)
	state := "closed"
	if open {
		state = "open"
	}

	if err := r.publishHashSet("garage-door", "contact", state, "garage-door", "contact"); err != nil {
		r.logger.Warnf("Failed to set contact state: %v", err)
		return err
	}
	return nil
}

// GetContactState reads back the persisted contact reading. The second
// return value is false when no reading has ever been stored.
func (r *RedisClient) GetContactState() (bool, bool, error) {
	value, err := r.client.HGet(r.ctx, "garage-door", "contact").Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return value == "open", true, nil
}

// SetStatusCode records the controller's opaque status code.
func (r *RedisClient) SetStatusCode(code string) error {
	if err := r.publishHashSet("garage-door", "status-code", code, "garage-door", "status-code"); err != nil {
		r.logger.Warnf("Failed to set status code: %v", err)
		return err
	}
	return nil
}

// GetSetting reads a runtime setting from the settings hash. Returns an
// empty string when the key is not set.
func (r *RedisClient) GetSetting(key string) (string, error) {
	value, err := r.client.HGet(r.ctx, "settings", key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// PublishRuntimeDiscrepancy emits a discrepancy alert: the door did not
// reach the expected position within the run-time window. Best-effort.
func (r *RedisClient) PublishRuntimeDiscrepancy(expected, actual bool) error {
	r.logger.Infof("Publishing runtime discrepancy alert: expected open=%v, actual open=%v", expected, actual)

	pipe := r.client.Pipeline()
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: "events:alerts",
		MaxLen: 1000,
		Values: map[string]interface{}{
			"type":     "runtime-discrepancy",
			"expected": contactString(expected),
			"actual":   contactString(actual),
			"ts":       time.Now().Unix(),
		},
	})
	pipe.Publish(r.ctx, "garage-door", "alert")

	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Warnf("Failed to publish discrepancy alert: %v", err)
		return err
	}
	return nil
}

// PublishOpenDurationAlert emits an alert that the door has remained open
// past the configured threshold. Best-effort.
func (r *RedisClient) PublishOpenDurationAlert(openFor time.Duration) error {
	r.logger.Infof("Publishing open-duration alert: open for %s", openFor)

	pipe := r.client.Pipeline()
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: "events:alerts",
		MaxLen: 1000,
		Values: map[string]interface{}{
			"type":             "open-duration",
			"open-for-seconds": int(openFor.Seconds()),
			"ts":               time.Now().Unix(),
		},
	})
	pipe.Publish(r.ctx, "garage-door", "alert")

	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Warnf("Failed to publish open-duration alert: %v", err)
		return err
	}
	return nil
}

func contactString(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
