// Package depthfeed periodically publishes aggregated book snapshots.
// Unlike the outbox path this feed is lossy on purpose: a missed tick is
// superseded by the next one, so snapshots go straight to the wire.
package depthfeed

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"chainbook/infra/kafka"
	"chainbook/service"
)

type Feed struct {
	svc      *service.Service
	producer *kafka.Producer
	feed     service.FeedPublisher
	interval time.Duration
	log      *logrus.Entry
}

// New wires the snapshot loop. producer and feed are each optional; a
// zero interval defaults to one second.
func New(svc *service.Service, producer *kafka.Producer, feed service.FeedPublisher, interval time.Duration, log *logrus.Logger) *Feed {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		svc:      svc,
		producer: producer,
		feed:     feed,
		interval: interval,
		log:      log.WithField("component", "depthfeed"),
	}
}

func (f *Feed) Start(ctx context.Context) {
	f.log.Info("started")

	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				f.publishOnce(ctx)
			}
		}
	}()
}

func (f *Feed) publishOnce(ctx context.Context) {
	for _, m := range f.svc.Markets() {
		snap, err := f.svc.BookSnapshot(m.ID)
		if err != nil {
			f.log.WithError(err).WithField("market", m.ID).Warn("snapshot failed")
			continue
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			f.log.WithError(err).Error("marshal snapshot")
			continue
		}

		if f.producer != nil {
			key := []byte(strconv.FormatUint(m.ID, 10))
			if err := f.producer.Send(ctx, key, payload); err != nil {
				f.log.WithError(err).WithField("market", m.ID).Warn("kafka publish failed")
			}
		}
		if f.feed != nil {
			f.feed.Publish(payload)
		}
	}
}
