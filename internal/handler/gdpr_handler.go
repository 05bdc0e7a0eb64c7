package handler

import (
	"net/http"

	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/service"
	"pdf-pipeline-server/internal/util"
)

type GDPRHandler struct {
	gdpr     *service.GDPRService
	resolver ports.ContextResolver
}

func NewGDPRHandler(gdpr *service.GDPRService, resolver ports.ContextResolver) *GDPRHandler {
	return &GDPRHandler{gdpr: gdpr, resolver: resolver}
}

// ExportUserData godoc
// @Summary Выгрузка данных пользователя (GDPR)
// @Description Идентичность, файлы, задачи и последние 1000 audit-строк одним JSON.
// @Tags GDPR
// @Produce json
// @Param Authorization header string true "Bearer токен" default(Bearer <access_token>)
// @Success 200 {object} service.ExportBundle
// @Failure 401 {object} requestresponse.ErrorResponse
// @Router /api/gdpr/export [get]
func (h *GDPRHandler) ExportUserData(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if uc.UserUUID == "" || uc.UserUUID == "admin" {
		util.HandleError(w, "требуется авторизация", http.StatusUnauthorized)
		return
	}

	bundle, err := h.gdpr.ExportUserData(r.Context(), uc.UserUUID, util.RequestContextFrom(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// DeleteUserData godoc
// @Summary Удаление данных пользователя (GDPR)
// @Description Удаляет объекты хранилища, строки файлов и задач,
// анонимизирует учётную запись. Журнал аудита сохраняется.
// @Tags GDPR
// @Produce json
// @Param Authorization header string true "Bearer токен" default(Bearer <access_token>)
// @Success 204 "Данные удалены"
// @Failure 401 {object} requestresponse.ErrorResponse
// @Router /api/gdpr/delete [post]
func (h *GDPRHandler) DeleteUserData(w http.ResponseWriter, r *http.Request) {
	uc, err := resolvePrincipal(r, h.resolver)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if uc.UserUUID == "" || uc.UserUUID == "admin" {
		util.HandleError(w, "требуется авторизация", http.StatusUnauthorized)
		return
	}

	if err := h.gdpr.DeleteUserData(r.Context(), uc.UserUUID, util.RequestContextFrom(r)); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
