package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	requestresponse "pdf-pipeline-server/internal/model/requestresponse"
	"pdf-pipeline-server/internal/service"
	"pdf-pipeline-server/internal/util"
)

// AdminHandler — служебные маршруты: очереди, DLQ, плановые задачи.
// Все маршруты закрыты InternalTokenMiddleware.
type AdminHandler struct {
	jobs    *service.JobService
	cleanup *service.CleanupService
}

func NewAdminHandler(jobs *service.JobService, cleanup *service.CleanupService) *AdminHandler {
	return &AdminHandler{jobs: jobs, cleanup: cleanup}
}

// QueueStats godoc
// @Summary Статистика очередей
// @Tags Admin
// @Produce json
// @Param X-Internal-Token header string true "Токен внутренних сервисов"
// @Success 200 {object} requestresponse.QueueStatsResponse
// @Router /internal/queues/stats [get]
func (h *AdminHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestresponse.QueueStatsResponse{Stats: stats})
}

// ListDeadLetter godoc
// @Summary Задачи в DEAD_LETTER
// @Description Выдача ограничена 100 строками за вызов.
// @Tags Admin
// @Produce json
// @Param X-Internal-Token header string true "Токен внутренних сервисов"
// @Param limit query int false "Максимум строк"
// @Success 200 {object} requestresponse.JobListResponse
// @Router /internal/dlq [get]
func (h *AdminHandler) ListDeadLetter(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	jobs, err := h.jobs.ListDeadLetter(r.Context(), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestresponse.JobListResponse{Jobs: jobs})
}

// RequeueDeadLetter godoc
// @Summary Возврат задачи из DLQ в очередь
// @Tags Admin
// @Produce json
// @Param X-Internal-Token header string true "Токен внутренних сервисов"
// @Param uuid path string true "UUID задачи"
// @Success 204 "Задача возвращена в очередь"
// @Failure 400 {object} requestresponse.ErrorResponse "Задача не в DEAD_LETTER"
// @Router /internal/dlq/{uuid}/requeue [post]
func (h *AdminHandler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.RequeueDeadLetter(r.Context(), "admin", chi.URLParam(r, "uuid")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunCleanup godoc
// @Summary Принудительный запуск плановых задач
// @Description Идемпотентно прогоняет истечение файлов, гостевой реапер,
// чистку задач и сброс суточных счётчиков.
// @Tags Admin
// @Produce json
// @Param X-Internal-Token header string true "Токен внутренних сервисов"
// @Success 200 {object} requestresponse.CleanupResponse
// @Router /internal/cleanup [post]
func (h *AdminHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := requestresponse.CleanupResponse{}
	var err error

	if resp.Expired, err = h.cleanup.ExpireAgedFiles(r.Context(), now); err != nil {
		writeAppError(w, err)
		return
	}
	if resp.Reaped, err = h.cleanup.ReapGuestFiles(r.Context(), now); err != nil {
		writeAppError(w, err)
		return
	}
	if resp.Pruned, err = h.cleanup.PruneJobs(r.Context(), now, 0); err != nil {
		writeAppError(w, err)
		return
	}
	if resp.Reset, err = h.cleanup.ResetDailyCounters(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecomputeQuota godoc
// @Summary Пересчёт занятого хранилища пользователя
// @Tags Admin
// @Produce json
// @Param X-Internal-Token header string true "Токен внутренних сервисов"
// @Param uuid path string true "UUID пользователя"
// @Success 200 {object} requestresponse.QuotaRecomputeResponse
// @Router /internal/users/{uuid}/quota/recompute [post]
func (h *AdminHandler) RecomputeQuota(w http.ResponseWriter, r *http.Request) {
	userUUID := chi.URLParam(r, "uuid")
	if userUUID == "" {
		util.HandleError(w, "uuid пользователя обязателен", http.StatusBadRequest)
		return
	}

	used, err := h.cleanup.RecomputeQuota(r.Context(), userUUID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestresponse.QuotaRecomputeResponse{
		UserUUID:   userUUID,
		UsedBytes:  used,
		Recomputed: true,
	})
}
