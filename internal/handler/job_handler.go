package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pdf-pipeline-server/internal/apperr"
	requestresponse "pdf-pipeline-server/internal/model/requestresponse"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/service"
	"pdf-pipeline-server/internal/util"
)

type JobHandler struct {
	jobs     *service.JobService
	tools    ports.ToolCatalog
	resolver ports.ContextResolver
}

func NewJobHandler(jobs *service.JobService, tools ports.ToolCatalog, resolver ports.ContextResolver) *JobHandler {
	return &JobHandler{jobs: jobs, tools: tools, resolver: resolver}
}

// GetJob godoc
// @Summary Статус задачи
// @Description Текущий статус, прогресс и результат (или код ошибки) задачи.
// @Tags Jobs
// @Produce json
// @Param uuid path string true "UUID задачи"
// @Success 200 {object} model.Job
// @Failure 403 {object} requestresponse.ErrorResponse
// @Failure 404 {object} requestresponse.ErrorResponse
// @Router /api/jobs/{uuid} [get]
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !uc.IsAdmin && (job.UserUUID == nil || *job.UserUUID != uc.UserUUID) {
		// гостевые задачи не имеют владельца — доступ по uuid
		if job.UserUUID != nil {
			writeAppError(w, apperr.NewSecurity("задача принадлежит другому пользователю"))
			return
		}
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob godoc
// @Summary Отмена задачи
// @Description Идемпотентная отмена: терминальная задача — no-op,
// выполняющаяся получает сигнал между чекпоинтами.
// @Tags Jobs
// @Produce json
// @Param uuid path string true "UUID задачи"
// @Success 204 "Отмена принята"
// @Router /api/jobs/{uuid}/cancel [post]
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !uc.IsAdmin && job.UserUUID != nil && *job.UserUUID != uc.UserUUID {
		writeAppError(w, apperr.NewSecurity("задача принадлежит другому пользователю"))
		return
	}

	if err := h.jobs.Cancel(r.Context(), job.UUID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryJob godoc
// @Summary Повторный запуск задачи
// @Description Явный ретрай FAILED-задачи без ожидания плановой задержки.
// Задачи из DEAD_LETTER возвращает только администратор через служебный API.
// @Tags Jobs
// @Produce json
// @Param uuid path string true "UUID задачи"
// @Success 202 "Ретрай принят"
// @Failure 400 {object} requestresponse.ErrorResponse
// @Failure 403 {object} requestresponse.ErrorResponse
// @Router /api/jobs/{uuid}/retry [post]
func (h *JobHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !uc.IsAdmin && job.UserUUID != nil && *job.UserUUID != uc.UserUUID {
		writeAppError(w, apperr.NewSecurity("задача принадлежит другому пользователю"))
		return
	}

	if err := h.jobs.Retry(r.Context(), job.UUID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListMyJobs godoc
// @Summary Задачи текущего пользователя
// @Tags Jobs
// @Produce json
// @Param limit query int false "Максимум строк (по умолчанию 50)"
// @Success 200 {object} requestresponse.JobListResponse
// @Failure 401 {object} requestresponse.ErrorResponse
// @Router /api/jobs [get]
func (h *JobHandler) ListMyJobs(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if uc.UserUUID == "" {
		util.HandleError(w, "требуется авторизация", http.StatusUnauthorized)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	jobs, err := h.jobs.ListByUser(r.Context(), uc.UserUUID, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestresponse.JobListResponse{Jobs: jobs})
}

// ListTools godoc
// @Summary Каталог инструментов
// @Tags Tools
// @Produce json
// @Success 200 {object} requestresponse.ToolListResponse
// @Router /api/tools [get]
func (h *JobHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, requestresponse.ToolListResponse{Tools: h.tools.List()})
}
