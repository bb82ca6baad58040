package http

import (
	"net/http"

	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

type AdminHandler struct {
	regenUsecase usecase.RegenUC
	logger       logger.Logger
}

func NewAdminHandler(regenUsecase usecase.RegenUC, logger logger.Logger) *AdminHandler {
	return &AdminHandler{regenUsecase: regenUsecase, logger: logger}
}

// RegenerateResponse — итог регенерации embedding'ов каталога.
type RegenerateResponse struct {
	Status    string `json:"status"`
	ExitCode  int    `json:"exit_code"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Log       string `json:"log"`
}

// regenerate
//
//	@Summary		Полная регенерация embedding'ов каталога
//	@Description	Пересчитывает векторы всех активных товаров текущей версией модели
//	@Tags			admin
//	@Produce		json
//	@Param			X-Refresh-Token	header		string				true	"Токен регенерации"
//	@Success		200				{object}	RegenerateResponse	"Итог регенерации"
//	@Failure		403				{object}	ErrorResponse		"Неверный токен"
//	@Router			/admin/regenerate [post]
func (a *AdminHandler) regenerate(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Refresh-Token")

	job, err := a.regenUsecase.RegenerateAll(r.Context(), usecase.NewRegenerateReq(token))
	if err != nil {
		a.logger.Warnf("%s", err.Error())
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, RegenerateResponse{
		Status:    string(job.Status),
		ExitCode:  job.ExitCode,
		Processed: job.Processed,
		Failed:    job.Failed,
		Log:       job.Log,
	})
}
