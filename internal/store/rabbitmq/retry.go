package rabbitmq

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// AttemptHeader counts deliveries of a job message; absent means 1.
	AttemptHeader = "x-attempt"
	// MaxAttempts bounds the deliveries of one message, the first included.
	MaxAttempts = 4
	// RetryDelay is how long a message waits in the retry queue.
	RetryDelay = 10 * time.Second
)

// Attempt reports which delivery of its message d is.
func Attempt(d amqp.Delivery) int {
	var n int64
	switch v := d.Headers[AttemptHeader].(type) {
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case int:
		n = int64(v)
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	}
	if n < 1 {
		return 1
	}
	return int(n)
}

func retryPublishing(d amqp.Delivery, attempt int) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[AttemptHeader] = int32(attempt)
	return amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Body:         d.Body,
		Expiration:   strconv.FormatInt(RetryDelay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	}
}

// Retry parks d in the retry queue, from which it returns to the main queue
// after RetryDelay, and acks the original. It reports false and leaves d
// untouched once d has used MaxAttempts.
func (c *Consumer) Retry(ctx context.Context, d amqp.Delivery) (bool, error) {
	attempt := Attempt(d)
	if attempt >= MaxAttempts {
		return false, nil
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.ch.PublishWithContext(cctx, "", retryQueue(c.queue), false, false, retryPublishing(d, attempt+1)); err != nil {
		return false, err
	}
	return true, d.Ack(false)
}
