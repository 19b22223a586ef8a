package job

import (
	"context"
	"time"

	"gymledger/internal/config"
	"gymledger/internal/infrastructure/metrics"
	"gymledger/internal/infrastructure/mq"
	"gymledger/internal/model"
	"gymledger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxSender publishes committed ledger events to Kafka. Delivery is at least once:
// a message is marked sent only after the broker acknowledged it.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	cfg        *config.Config
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, m *metrics.Metrics, log logrus.FieldLogger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		metrics:    m,
		log:        log.WithField("job", "outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context cancelled, outbox sender exiting")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending sends one batch of pending messages and returns how many were sent.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("query pending messages failed")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	logger := s.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"topic":      msg.Topic,
		"event_type": msg.EventType,
	})

	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		s.metrics.OutboxPublished("sent")
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			logger.WithError(updateErr).Error("mark message sent failed")
		} else {
			logger.Debug("message published")
		}
		return true
	}

	s.metrics.OutboxPublished("error")
	logger.WithError(err).Warn("publish failed")

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		logger.WithError(err).Error("increment retry count failed")
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			logger.WithError(err).Error("mark message failed failed")
		} else {
			s.metrics.OutboxPublished("failed")
			logger.Error("message exceeded max retry count, marked failed")
		}
	}
	return false
}
