package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/weiawesome/wes-chat/pkg/log"
)

const (
	kafkaPollTimeoutMs   = 200
	kafkaAssignWait      = 10 * time.Second
	kafkaMetadataTimeout = 5000
)

// KafkaPubSub implements PubSub on a single Kafka topic. Every room channel
// maps to the same topic with the room as message key, so a room keeps its
// order within one partition.
//
// Each process consumes the whole topic in its own consumer group and
// routes records to local subscriptions by key. A shared group would split
// the stream across processes instead of broadcasting it.
type KafkaPubSub struct {
	producer *kafka.Producer
	config   KafkaConfig
	groupID  string

	mu       sync.Mutex
	subs     map[string]*subscription // room → subscription
	consumer *kafka.Consumer
	ready    chan struct{}
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   bool

	reportsDone chan struct{}
}

// NewKafkaPubSub creates a Kafka-backed PubSub for one process.
func NewKafkaPubSub(cfg KafkaConfig, instanceID string) (*KafkaPubSub, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "chat-gateway"
	}
	if instanceID != "" {
		groupID = sanitizeGroupID(groupID + "-" + instanceID)
	}

	kps := &KafkaPubSub{
		producer:    p,
		config:      cfg,
		groupID:     groupID,
		subs:        make(map[string]*subscription),
		reportsDone: make(chan struct{}),
	}

	go kps.deliveryReportHandler()

	if err := kps.ensureTopic(); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	return kps, nil
}

// ensureTopic creates the room topic if it does not exist.
func (k *KafkaPubSub) ensureTopic() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 8
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             k.config.Topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", r.Topic, r.Error)
		}
	}
	return nil
}

func (k *KafkaPubSub) deliveryReportHandler() {
	defer close(k.reportsDone)
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l := log.L()
			l.Error().Err(m.TopicPartition.Error).Str("key", string(m.Key)).Msg("kafka delivery failed")
		}
	}
}

// Publish produces the event keyed by room and waits for the broker ack.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	room, ok := RoomFromChannel(channel)
	if !ok {
		return fmt.Errorf("invalid channel format: %s", channel)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	report := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(room),
		Value: data,
	}, report)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-report:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("failed to deliver message: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a room subscription. The first call starts the
// process consumer and returns once it holds a partition assignment.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	room, ok := RoomFromChannel(channel)
	if !ok {
		return nil, fmt.Errorf("invalid channel format: %s", channel)
	}

	ready, err := k.ensureConsumer()
	if err != nil {
		return nil, err
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for kafka assignment: %w", ctx.Err())
	case <-time.After(kafkaAssignWait):
		return nil, fmt.Errorf("kafka consumer %s got no assignment within %s", k.groupID, kafkaAssignWait)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, ErrClosed
	}
	if existing, ok := k.subs[room]; ok {
		existing.stop()
	}
	s := newSubscription(100)
	k.subs[room] = s
	return s.events(), nil
}

func (k *KafkaPubSub) ensureConsumer() (<-chan struct{}, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, ErrClosed
	}
	if k.consumer != nil {
		return k.ready, nil
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           k.groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(k.config.Topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", k.config.Topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.consumer = c
	k.ready = make(chan struct{})
	k.cancel = cancel
	k.loopDone = make(chan struct{})

	go k.consume(ctx, c, k.ready, k.loopDone)
	return k.ready, nil
}

// consume polls the topic and routes records to room subscriptions.
func (k *KafkaPubSub) consume(ctx context.Context, c *kafka.Consumer, ready chan struct{}, done chan struct{}) {
	defer close(done)

	assigned := false
	for ctx.Err() == nil {
		ev := c.Poll(kafkaPollTimeoutMs)

		if !assigned {
			if parts, err := c.Assignment(); err == nil && len(parts) > 0 {
				assigned = true
				close(ready)
			}
		}
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			k.route(ctx, e)
		case kafka.Error:
			l := log.L()
			l.Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

func (k *KafkaPubSub) route(ctx context.Context, m *kafka.Message) {
	k.mu.Lock()
	s, ok := k.subs[string(m.Key)]
	k.mu.Unlock()
	if !ok {
		return
	}

	var event Event
	if err := json.Unmarshal(m.Value, &event); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("key", string(m.Key)).Msg("kafka pubsub: dropping malformed event")
		return
	}
	s.deliver(ctx, &event)
}

// Unsubscribe drops the room subscription. The process consumer keeps
// running for the other rooms.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	room, ok := RoomFromChannel(channel)
	if !ok {
		return fmt.Errorf("invalid channel format: %s", channel)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if s, ok := k.subs[room]; ok {
		s.stop()
		delete(k.subs, room)
	}
	return nil
}

// Ping fetches topic metadata from the cluster.
func (k *KafkaPubSub) Ping(ctx context.Context) error {
	timeout := kafkaMetadataTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if ms := int(time.Until(deadline).Milliseconds()); ms > 0 && ms < timeout {
			timeout = ms
		}
	}
	if _, err := k.producer.GetMetadata(&k.config.Topic, false, timeout); err != nil {
		return fmt.Errorf("kafka metadata: %w", err)
	}
	return nil
}

// Close stops the consumer and flushes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	for room, s := range k.subs {
		s.stop()
		delete(k.subs, room)
	}
	consumer, cancel, loopDone := k.consumer, k.cancel, k.loopDone
	k.mu.Unlock()

	var err error
	if consumer != nil {
		cancel()
		<-loopDone
		err = consumer.Close()
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.reportsDone

	return err
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
