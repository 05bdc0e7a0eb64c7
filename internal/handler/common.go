package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/security"
	"pdf-pipeline-server/internal/util"
)

// resolvePrincipal строит контекст возможностей вызывающего: claims из
// JWT либо гостевой контекст по IP. Админ-токен даёт контекст ADMIN
// без обращения к БД.
func resolvePrincipal(r *http.Request, resolver ports.ContextResolver) (*model.UserContext, error) {
	claims := security.GetClaimsFromContext(r.Context())
	if claims != nil && claims.IsAdmin && claims.UserUUID == "admin" {
		return &model.UserContext{
			UserUUID:          "admin",
			Tier:              model.TierAdmin,
			StorageLimitBytes: model.Unlimited,
			DailyJobLimit:     model.Unlimited,
			MonthlyAIOpLimit:  model.Unlimited,
			MaxConcurrentJobs: model.Unlimited,
			MaxFileSizeBytes:  model.Unlimited,
			Priority:          100,
			Queue:             model.QueueHighPriority,
			CanUpload:         true,
			CanProcess:        true,
			CanUsePremium:     true,
			CanUseAI:          true,
			CanUseAutomation:  true,
			IsAdmin:           true,
		}, nil
	}

	userUUID := ""
	if claims != nil {
		userUUID = claims.UserUUID
	}
	return resolver.Resolve(r.Context(), userUUID, util.ClientIP(r))
}

// writeAppError переводит типизированную ошибку в HTTP-ответ со
// стабильным кодом; внутренние детали наружу не отдаются.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.ErrorCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[Handler] внутренняя ошибка: %v", err)
		message = "внутренняя ошибка сервера"
	}
	util.HandleErrorCode(w, message, code, status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Handler] не удалось сериализовать ответ: %v", err)
	}
}
