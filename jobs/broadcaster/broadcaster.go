// Package broadcaster drains the durable outbox into Kafka. Delivery is
// at-least-once: a record is marked SENT before the publish attempt and
// ACKED only after the broker confirms, so a crash between the two
// replays the record on the next pass.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"chainbook/infra/outbox"
)

const (
	drainInterval    = 250 * time.Millisecond
	truncateInterval = 30 * time.Second
)

type Broadcaster struct {
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	log      *logrus.Entry
}

func New(ob *outbox.Outbox, brokers []string, topic string, log *logrus.Logger) (*Broadcaster, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{
		outbox:   ob,
		producer: producer,
		topic:    topic,
		log:      log.WithField("component", "broadcaster"),
	}, nil
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Info("started")

	go func() {
		drain := time.NewTicker(drainInterval)
		defer drain.Stop()
		truncate := time.NewTicker(truncateInterval)
		defer truncate.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-drain.C:
				b.drainOnce()

			case <-truncate.C:
				if err := b.outbox.TruncateAcked(); err != nil {
					b.log.WithError(err).Warn("truncate acked")
				}
			}
		}
	}()
}

func (b *Broadcaster) drainOnce() {
	err := b.outbox.ScanPending(func(rec *outbox.Record) error {
		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.WithError(err).WithField("seq", rec.Seq).Warn("publish failed, will retry")
			return nil
		}

		return b.outbox.MarkAcked(rec.Seq)
	})
	if err != nil {
		b.log.WithError(err).Warn("drain pass aborted")
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
