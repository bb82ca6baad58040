package regen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/snapshop-tech/go-backend/internal/cfg"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

// ProductSource отдаёт товары, подлежащие пересчёту.
type ProductSource interface {
	ListActive(ctx context.Context) ([]usecase.ProductInfo, error)
}

// Resyncer пересчитывает embedding одного товара.
type Resyncer interface {
	ResyncProduct(ctx context.Context, info usecase.ProductInfo) error
}

// Worker выполняет полную регенерацию embedding'ов каталога.
// Ошибка на отдельном товаре не прерывает обход: товар пропускается
// с записью в лог джобы, итог остаётся успешным.
type Worker struct {
	products ProductSource
	resyncer Resyncer
	cfg      *cfg.RegenCfg
	logger   logger.Logger
}

func NewWorker(products ProductSource, resyncer Resyncer, cfg *cfg.RegenCfg, logger logger.Logger) *Worker {
	return &Worker{
		products: products,
		resyncer: resyncer,
		cfg:      cfg,
		logger:   logger,
	}
}

// jobLog потокобезопасно накапливает строки лога джобы.
type jobLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *jobLog) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *jobLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

// Run пересчитывает embedding'и всех активных товаров и возвращает итог джобы.
// Работает на контексте, отвязанном от HTTP-запроса: отмена запроса,
// запустившего регенерацию, не прерывает уже идущую работу.
func (w *Worker) Run(ctx context.Context) (res *usecase.RegenJobRes) {
	ctx = context.WithoutCancel(ctx)

	log := &jobLog{}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf(fmt.Errorf("%v", r), "regeneration panicked")
			log.printf("panic: %v", r)
			res = &usecase.RegenJobRes{
				Status:   usecase.JobFailed,
				ExitCode: 1,
				Log:      log.String(),
			}
		}
	}()

	started := time.Now()
	log.printf("regeneration started")

	products, err := w.products.ListActive(ctx)
	if err != nil {
		w.logger.Errorf(err, "failed to list products for regeneration")
		log.printf("failed to list products: %v", err)
		return &usecase.RegenJobRes{
			Status:   usecase.JobFailed,
			ExitCode: 1,
			Log:      log.String(),
		}
	}

	log.printf("found %d products", len(products))

	pool, err := ants.NewPool(w.cfg.Concurrency)
	if err != nil {
		w.logger.Errorf(err, "failed to create regeneration pool")
		log.printf("failed to create worker pool: %v", err)
		return &usecase.RegenJobRes{
			Status:   usecase.JobFailed,
			ExitCode: 1,
			Log:      log.String(),
		}
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
		failed    int
	)

	for _, product := range products {
		wg.Add(1)
		product := product
		submitErr := pool.Submit(func() {
			defer wg.Done()

			itemCtx, cancel := context.WithTimeout(ctx, w.cfg.ItemTimeout)
			defer cancel()

			err := w.resyncer.ResyncProduct(itemCtx, product)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.printf("product %d (%s): skipped: %v", product.ID, product.ImagePath, err)
			} else {
				processed++
			}

			if total := processed + failed; w.cfg.ReportEvery > 0 && total%w.cfg.ReportEvery == 0 {
				log.printf("progress: %d/%d", total, len(products))
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			failed++
			log.printf("product %d (%s): submit failed: %v", product.ID, product.ImagePath, submitErr)
			mu.Unlock()
		}
	}

	wg.Wait()

	log.printf("regeneration finished in %s: %d processed, %d skipped", time.Since(started).Round(time.Millisecond), processed, failed)
	w.logger.Infof("regeneration finished: %d processed, %d skipped", processed, failed)

	return &usecase.RegenJobRes{
		Status:    usecase.JobSucceeded,
		ExitCode:  0,
		Log:       log.String(),
		Processed: processed,
		Failed:    failed,
	}
}
