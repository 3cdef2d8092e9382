package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sirupsen/logrus"
)

const flushTimeoutMs = 5000

var _ Publisher = (*KafkaQueue)(nil)
var _ Subscriber = (*KafkaQueue)(nil)

// KafkaQueue publishes events as json messages keyed by object id.
type KafkaQueue struct {
	brokers  string
	group    string
	topic    string
	producer *kafka.Producer
}

func NewKafkaQueue(brokers, group, topic string) (*KafkaQueue, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, err
	}

	q := &KafkaQueue{
		brokers:  brokers,
		group:    group,
		topic:    topic,
		producer: producer,
	}
	go q.report()

	return q, nil
}

// report logs delivery failures reported asynchronously by the producer.
func (q *KafkaQueue) report() {
	for e := range q.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				logrus.Errorf("queue: delivery to %v failed: %v", ev.TopicPartition, ev.TopicPartition.Error)
			}
		case kafka.Error:
			logrus.Errorf("queue: producer error: %v", ev)
		}
	}
}

func (q *KafkaQueue) Publish(ctx context.Context, events ...Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		value, err := json.Marshal(event)
		if err != nil {
			return err
		}

		err = q.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &q.topic, Partition: kafka.PartitionAny},
			Key:            []byte(event.ObjectID),
			Value:          value,
		}, nil)
		if err != nil {
			return err
		}
	}

	return nil
}

func (q *KafkaQueue) Subscribe(ctx context.Context) (<-chan Event, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": q.brokers,
		"group.id":          q.group,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, err
	}

	if err := consumer.SubscribeTopics([]string{q.topic}, nil); err != nil {
		_ = consumer.Close()
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer consumer.Close()

		for ctx.Err() == nil {
			msg, err := consumer.ReadMessage(time.Second)
			if err != nil {
				if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				logrus.Errorf("queue: read failed: %v", err)
				continue
			}

			var event Event
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				logrus.Errorf("queue: dropping malformed event at %v: %v", msg.TopicPartition, err)
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (q *KafkaQueue) Close() error {
	if left := q.producer.Flush(flushTimeoutMs); left > 0 {
		logrus.Warnf("queue: %d events not flushed before close", left)
	}
	q.producer.Close()
	return nil
}
