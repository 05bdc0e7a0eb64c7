package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	requestresponse "pdf-pipeline-server/internal/model/requestresponse"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/service"
	"pdf-pipeline-server/internal/util"
)

type FileHandler struct {
	files    *service.FileService
	jobs     *service.JobService
	resolver ports.ContextResolver
}

func NewFileHandler(files *service.FileService, jobs *service.JobService, resolver ports.ContextResolver) *FileHandler {
	return &FileHandler{files: files, jobs: jobs, resolver: resolver}
}

// UploadFile godoc
// @Summary Загрузка файла в конвейер
// @Description Принимает multipart/form-data, валидирует содержимое и регистрирует файл.
// Анонимные загрузки допускаются (гостевой тариф, срок жизни 1 час).
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Загружаемый файл"
// @Param Authorization header string false "Bearer токен" default(Bearer <access_token>)
// @Success 201 {object} requestresponse.UploadFileResponse
// @Failure 400 {object} requestresponse.ErrorResponse "Файл не прошёл валидацию"
// @Failure 402 {object} requestresponse.ErrorResponse "Квота хранилища исчерпана"
// @Failure 429 {object} requestresponse.ErrorResponse "Превышен лимит"
// @Router /api/files [post]
func (h *FileHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		util.HandleError(w, "неверный формат запроса", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		util.HandleError(w, "файл не найден в запросе", http.StatusBadRequest)
		return
	}
	defer file.Close()

	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	registered, err := h.files.Upload(ctx, uc, header.Filename, file, util.RequestContextFrom(r))
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, requestresponse.UploadFileResponse{File: registered})
}

// GetFile godoc
// @Summary Метаданные файла
// @Tags Files
// @Produce json
// @Param uuid path string true "UUID файла"
// @Success 200 {object} model.File
// @Failure 403 {object} requestresponse.ErrorResponse
// @Failure 404 {object} requestresponse.ErrorResponse
// @Router /api/files/{uuid} [get]
func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	file, err := h.files.Get(r.Context(), uc, chi.URLParam(r, "uuid"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// GetFileHistory godoc
// @Summary История переходов состояний файла
// @Tags Files
// @Produce json
// @Param uuid path string true "UUID файла"
// @Success 200 {object} requestresponse.FileHistoryResponse
// @Router /api/files/{uuid}/history [get]
func (h *FileHandler) GetFileHistory(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	history, err := h.files.History(r.Context(), uc, chi.URLParam(r, "uuid"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestresponse.FileHistoryResponse{History: history})
}

// ListVersions godoc
// @Summary Версии файла
// @Tags Files
// @Produce json
// @Param uuid path string true "UUID файла"
// @Success 200 {object} requestresponse.FileVersionsResponse
// @Router /api/files/{uuid}/versions [get]
func (h *FileHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	versions, err := h.files.ListVersions(r.Context(), uc, chi.URLParam(r, "uuid"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestresponse.FileVersionsResponse{Versions: versions})
}

// ProcessFile godoc
// @Summary Запуск обработки файла инструментом
// @Description Создаёт задачу и ставит её в очередь воркеров. Приоритет
// и очередь определяются тарифом вызывающего.
// @Tags Files
// @Accept json
// @Produce json
// @Param uuid path string true "UUID файла"
// @Param request body requestresponse.ProcessFileRequest true "Инструмент и параметры"
// @Success 202 {object} requestresponse.ProcessFileResponse
// @Failure 400 {object} requestresponse.ErrorResponse
// @Failure 429 {object} requestresponse.ErrorResponse "Лимит параллельных или суточных задач"
// @Router /api/files/{uuid}/process [post]
func (h *FileHandler) ProcessFile(w http.ResponseWriter, r *http.Request) {
	var req requestresponse.ProcessFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.HandleError(w, "неверный формат запроса", http.StatusBadRequest)
		return
	}

	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	file, err := h.files.Get(r.Context(), uc, chi.URLParam(r, "uuid"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	job, err := h.jobs.Create(r.Context(), uc, file, req.ToolID, req.Params)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.jobs.Dispatch(r.Context(), job); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, requestresponse.ProcessFileResponse{Job: job})
}

// DownloadFile godoc
// @Summary Подписанная ссылка на скачивание
// @Description Выдаёт pre-signed GET на последнюю версию AVAILABLE-файла.
// @Tags Files
// @Produce json
// @Param uuid path string true "UUID файла"
// @Success 200 {object} requestresponse.DownloadResponse
// @Failure 400 {object} requestresponse.ErrorResponse "Файл не готов к скачиванию"
// @Failure 403 {object} requestresponse.ErrorResponse
// @Router /api/files/{uuid}/download [get]
func (h *FileHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	url, err := h.files.SignedDownloadURL(r.Context(), uc, chi.URLParam(r, "uuid"), util.RequestContextFrom(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestresponse.DownloadResponse{URL: url})
}

// DeleteFile godoc
// @Summary Удаление файла
// @Tags Files
// @Produce json
// @Param uuid path string true "UUID файла"
// @Success 204 "Файл удалён"
// @Failure 403 {object} requestresponse.ErrorResponse
// @Router /api/files/{uuid} [delete]
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if err := h.files.Delete(r.Context(), uc, chi.URLParam(r, "uuid"), util.RequestContextFrom(r)); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
