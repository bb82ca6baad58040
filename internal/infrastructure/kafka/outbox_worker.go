package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

const (
	// listenChannel — канал NOTIFY, который дергает pgdb.OutboxEventRepo.Create
	listenChannel = "outbox_pending"

	drainBatchSize    = 10
	notifyWaitTimeout = 30 * time.Second
	reconnectDelay    = 2 * time.Second
	reconnectRetryGap = 5 * time.Second
)

// OutboxWorker доставляет события синхронизации каталога из outbox_events в Kafka.
// Просыпается по NOTIFY из PostgreSQL; на старте выгребает события, накопившиеся
// пока сервис не работал.
type OutboxWorker struct {
	repo      usecase.OutboxRepository
	logger    logger.Logger
	producer  usecase.MessageProducer
	stop      chan struct{}
	wg        sync.WaitGroup
	dbConnStr string
}

func NewOutboxWorker(
	repo usecase.OutboxRepository,
	logger logger.Logger,
	producer usecase.MessageProducer,
	dbConnStr string,
) *OutboxWorker {
	return &OutboxWorker{
		repo:      repo,
		logger:    logger,
		producer:  producer,
		stop:      make(chan struct{}),
		dbConnStr: dbConnStr,
	}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	go func() {
		defer w.wg.Done()
		w.listenOutboxNotifications(ctx)
	}()
}

func (w *OutboxWorker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *OutboxWorker) run(ctx context.Context) {
	w.logger.Infof("draining pending outbox events on startup")
	w.drainOutbox(ctx)

	<-ctx.Done()
	w.logger.Infof("outbox worker stopped by context cancellation")
}

// drainOutbox выгребает события пачками, пока таблица не опустеет.
// Ошибка выборки прекращает проход: незабранные события дождутся
// следующего уведомления.
func (w *OutboxWorker) drainOutbox(ctx context.Context) {
	for {
		hasMore, err := w.processBatch(ctx)
		if err != nil {
			w.logger.Warnf("outbox batch failed: %v", err)
			return
		}
		if !hasMore {
			return
		}
	}
}

func (w *OutboxWorker) listenOutboxNotifications(ctx context.Context) {
	var conn *pgx.Conn
	var err error

	connect := func() error {
		conn, err = pgx.Connect(ctx, w.dbConnStr)
		if err != nil {
			return e.Wrap("failed to connect for LISTEN", err)
		}

		_, err = conn.Exec(ctx, "LISTEN "+listenChannel)
		if err != nil {
			conn.Close(ctx)
			return e.Wrap("failed to LISTEN", err)
		}

		w.logger.Infof("subscribed to %q channel", listenChannel)
		return nil
	}

	if err := connect(); err != nil {
		w.logger.Warnf("initial LISTEN connect failed: %v", err)
		return
	}
	defer conn.Close(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
			ctxWithTimeout, cancel := context.WithTimeout(ctx, notifyWaitTimeout)
			notif, err := conn.WaitForNotification(ctxWithTimeout)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				w.logger.Warnf("LISTEN connection lost: %v, reconnecting", err)
				conn.Close(ctx)

				time.Sleep(reconnectDelay)
				if err := connect(); err != nil {
					w.logger.Warnf("reconnect failed: %v", err)
					time.Sleep(reconnectRetryGap)
				}
				continue
			}

			if notif != nil && notif.Channel == listenChannel {
				w.logger.Debugf("outbox notification received, draining")
				w.drainOutbox(ctx)
			}
		}
	}
}

// processBatch забирает пачку событий под SKIP LOCKED и публикует их.
// Событие помечается обработанным либо после успешной публикации, либо
// когда оно заведомо невоспроизводимо (пустое тело): такое событие
// переотправкой не починить, а вечный цикл по нему забьёт воркер.
func (w *OutboxWorker) processBatch(ctx context.Context) (bool, error) {
	events, err := w.repo.GetAndMarkAsProcessing(ctx, drainBatchSize)
	if err != nil {
		return false, err
	}

	if len(events) == 0 {
		return false, nil
	}

	for _, event := range events {
		if len(event.Payload) == 0 {
			w.logger.Warnf("outbox event %s (%s) has empty payload, marking processed", event.EventID, event.EventType)
		} else if err := w.publishEvent(ctx, event); err != nil {
			// событие остаётся в processing и будет подобрано следующим проходом
			w.logger.Warnf("publish failed for event %s (%s), product %d: %v",
				event.EventID, event.EventType, event.ProductID, err)
			continue
		}

		if err := w.repo.MarkAsProcessed(ctx, event.ID); err != nil {
			w.logger.Warnf("mark processed failed for event %s: %v", event.EventID, err)
		}
	}

	return true, nil
}

func (w *OutboxWorker) publishEvent(ctx context.Context, event *usecase.OutboxEvent) error {
	if err := w.producer.WriteRawMessage(ctx, usecase.NewWriteRawMessageReq(event.ProductID, event.Payload)); err != nil {
		if isRetryableError(err) {
			return e.Wrap("temporary kafka failure, will retry", err)
		}
		return e.Wrap("permanent kafka failure", err)
	}
	return nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"i/o timeout",
		"network is unreachable",
		"broker not available",
		"connection reset",
		"broken pipe",
		"no such host",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}
