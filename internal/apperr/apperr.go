// Пакет apperr — типизированные ошибки конвейера обработки файлов.
// Каждый вид ошибки несёт стабильный строковый код; коды — часть
// внешнего контракта и не меняются между релизами.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Коды ValidationError.
const (
	CodeInvalidType     = "INVALID_TYPE"
	CodeTooLarge        = "TOO_LARGE"
	CodeEmpty           = "EMPTY"
	CodePDFUnreadable   = "PDF_UNREADABLE"
	CodeMalware         = "MALWARE"
	CodeScanUnavailable = "SCAN_UNAVAILABLE"
)

// Коды QuotaError.
const (
	CodeStorageFull    = "STORAGE_FULL"
	CodeJobConcurrency = "JOB_CONCURRENCY"
	CodeDailyLimit     = "DAILY_LIMIT"
	CodeGuestLimit     = "GUEST_LIMIT"
)

// Коды StorageError.
const (
	CodeTransient = "TRANSIENT"
	CodeNotFound  = "NOT_FOUND"
	CodeAuth      = "AUTH"
	CodeAborted   = "ABORTED"
)

// Коды WorkerError.
const (
	CodeTimeout         = "TIMEOUT"
	CodeInvalidOutput   = "INVALID_OUTPUT"
	CodeNoInput         = "NO_INPUT"
	CodeTransformFailed = "TRANSFORM_FAILED"
	CodeUnexpectedError = "UNEXPECTED_ERROR"
)

// ValidationError — файл не прошёл валидацию. Не ретраится.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation [%s]: %s", e.Code, e.Message)
}

func NewValidation(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// QuotaError — отказ на этапе допуска. Не ретраится, пользователь
// может повысить тариф.
type QuotaError struct {
	Code    string
	Message string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota [%s]: %s", e.Code, e.Message)
}

func NewQuota(code, message string) *QuotaError {
	return &QuotaError{Code: code, Message: message}
}

// StorageError — ошибка Storage Gateway. Retryable=true только для
// TRANSIENT; такие ошибки один раз ретраятся внутри шлюза.
type StorageError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("storage [%s]: %s", e.Code, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorage(code, message string, err error) *StorageError {
	return &StorageError{
		Code:      code,
		Message:   message,
		Retryable: code == CodeTransient,
		Err:       err,
	}
}

// WorkerError — ошибка выполнения трансформации. NonRecoverable=true
// минует ретраи и отправляет job сразу в DEAD_LETTER.
type WorkerError struct {
	Code           string
	Message        string
	NonRecoverable bool
	Err            error
}

func (e *WorkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("worker [%s]: %s", e.Code, e.Message)
}

func (e *WorkerError) Unwrap() error { return e.Err }

func NewWorker(code, message string, err error) *WorkerError {
	return &WorkerError{Code: code, Message: message, Err: err}
}

func NewWorkerFatal(code, message string, err error) *WorkerError {
	return &WorkerError{Code: code, Message: message, NonRecoverable: true, Err: err}
}

// SecurityError — отказ в доступе. Не ретраится, пишет audit-строку.
type SecurityError struct {
	Message string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security: %s", e.Message)
}

func NewSecurity(message string) *SecurityError {
	return &SecurityError{Message: message}
}

// InvalidTransitionError — попытка перехода вне графа состояний.
// Ошибка программиста, всплывает без ретраев.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход %s: %s -> %s", e.Entity, e.From, e.To)
}

func NewInvalidTransition(entity, from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}

// HTTPStatus сопоставляет вид ошибки HTTP статусу на границе запроса.
// Неизвестные ошибки — 500; стектрейсы наружу не отдаются.
func HTTPStatus(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	var qe *QuotaError
	if errors.As(err, &qe) {
		if qe.Code == CodeStorageFull {
			return http.StatusPaymentRequired
		}
		return http.StatusTooManyRequests
	}
	var se *SecurityError
	if errors.As(err, &se) {
		return http.StatusForbidden
	}
	var ste *StorageError
	if errors.As(err, &ste) && ste.Code == CodeNotFound {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// ErrorCode возвращает стабильный код ошибки для ответа клиенту.
func ErrorCode(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe.Code
	}
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Code
	}
	var ste *StorageError
	if errors.As(err, &ste) {
		return ste.Code
	}
	var se *SecurityError
	if errors.As(err, &se) {
		return "FORBIDDEN"
	}
	return "INTERNAL_ERROR"
}
