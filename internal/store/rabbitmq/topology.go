package rabbitmq

import (
	"encoding/json"
	"errors"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage is the queue payload: the job row holds everything else.
type JobMessage struct {
	JobID string `json:"job_id"`
}

var ErrBadMessage = errors.New("malformed job message")

func DecodeJobMessage(body []byte) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return JobMessage{}, errors.Join(ErrBadMessage, err)
	}
	m.JobID = strings.TrimSpace(m.JobID)
	if m.JobID == "" {
		return JobMessage{}, errors.Join(ErrBadMessage, errors.New("job_id is empty"))
	}
	return m, nil
}

func deadLetterQueue(queue string) string { return queue + ".dlq" }
func retryQueue(queue string) string      { return queue + ".retry" }

type queueSpec struct {
	name string
	args amqp.Table
}

// topology lists the queues behind queue in declaration order: the DLQ, the
// retry queue (expired messages dead-letter back to main) and the main queue
// (rejected messages dead-letter to the DLQ).
func topology(queue string) []queueSpec {
	return []queueSpec{
		{name: deadLetterQueue(queue)},
		{name: retryQueue(queue), args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		}},
		{name: queue, args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": deadLetterQueue(queue),
		}},
	}
}

// declareTopology declares every queue of topology. Both the publisher and
// the worker call it, with identical arguments.
func declareTopology(ch *amqp.Channel, queue string) error {
	for _, q := range topology(queue) {
		if _, err := ch.QueueDeclare(
			q.name,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false,
			q.args,
		); err != nil {
			return err
		}
	}
	return nil
}

func dial(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
