package usecase

import (
	"context"
	"crypto/subtle"

	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

// RegenUseCase запускает полную регенерацию embedding'ов каталога.
// Токен проверяется до начала любой работы.
type RegenUseCase struct {
	runner       RegenRunner
	refreshToken string
	logger       logger.Logger
}

func NewRegenUC(runner RegenRunner, refreshToken string, logger logger.Logger) *RegenUseCase {
	return &RegenUseCase{
		runner:       runner,
		refreshToken: refreshToken,
		logger:       logger,
	}
}

// RegenerateAll синхронно возвращает результат регенерации вызывающему.
// Сам обход каталога выполняется в изолированном воркере и не блокирует
// обработку параллельных поисковых запросов.
func (r *RegenUseCase) RegenerateAll(ctx context.Context, req *RegenerateReq) (*RegenJobRes, error) {
	const op = "RegenUseCase.RegenerateAll"

	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(r.refreshToken)) != 1 {
		return nil, e.Wrap(op, e.ErrUnauthorized)
	}

	r.logger.Infof("received regeneration request, starting embedding sweep")

	job := r.runner.Run(ctx)

	if job.Status == JobSucceeded {
		r.logger.Infof("regeneration finished: processed=%d failed=%d", job.Processed, job.Failed)
	} else {
		r.logger.Warnf("regeneration failed: exit_code=%d", job.ExitCode)
	}

	return job, nil
}
