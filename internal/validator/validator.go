// Пакет validator — File Validator (C2): сниффинг типа по magic bytes,
// потоковое хэширование, структурная проверка PDF, антивирус.
package validator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/util"
)

const sniffLen = 8 * 1024 // magic bytes ищем в первых 8 KiB

type FileValidator struct {
	scanner    ports.VirusScanner
	production bool
}

func NewFileValidator(scanner ports.VirusScanner, production bool) *FileValidator {
	return &FileValidator{scanner: scanner, production: production}
}

// Validate прогоняет поток через все проверки политики. Клиентскому
// Content-Type не доверяем — тип определяется только по содержимому.
func (v *FileValidator) Validate(ctx context.Context, reader io.ReadSeeker, policy ports.ValidationPolicy) (*ports.ValidationResult, error) {
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return nil, util.LogError("[FileValidator] не удалось перемотать поток", err)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(reader, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, util.LogError("[FileValidator] ошибка чтения заголовка", err)
	}
	head = head[:n]

	if n == 0 {
		return nil, apperr.NewValidation(apperr.CodeEmpty, "пустой файл")
	}

	mimeType := SniffMime(head)
	if len(policy.AllowedMimeTypes) > 0 && !contains(policy.AllowedMimeTypes, mimeType) {
		return nil, apperr.NewValidation(apperr.CodeInvalidType,
			fmt.Sprintf("тип %s не входит в допустимый набор", mimeType))
	}
	if policy.RequirePDF && mimeType != "application/pdf" {
		return nil, apperr.NewValidation(apperr.CodeInvalidType, "ожидался PDF")
	}

	// размер — через позиционирование в конец потока с возвратом
	size, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, util.LogError("[FileValidator] не удалось определить размер", err)
	}
	if size == 0 {
		return nil, apperr.NewValidation(apperr.CodeEmpty, "пустой файл")
	}
	if policy.MaxSizeBytes > 0 && size > policy.MaxSizeBytes {
		return nil, apperr.NewValidation(apperr.CodeTooLarge,
			fmt.Sprintf("размер %d байт превышает лимит %d", size, policy.MaxSizeBytes))
	}

	sha, err := hashStream(reader)
	if err != nil {
		return nil, util.LogError("[FileValidator] ошибка хэширования", err)
	}

	result := &ports.ValidationResult{
		MimeType:  mimeType,
		SizeBytes: size,
		Sha256:    sha,
	}

	if mimeType == "application/pdf" {
		if err := v.inspectPDF(reader, result); err != nil {
			return nil, err
		}
	}

	if policy.VirusScan {
		if err := v.scan(ctx, reader, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// inspectPDF открывает документ толерантным ридером и извлекает число
// страниц. Зашифрованный документ валидацию НЕ проваливает:
// возвращается is_encrypted=true и page_count=0.
func (v *FileValidator) inspectPDF(reader io.ReadSeeker, result *ports.ValidationResult) error {
	tmpDir, err := os.MkdirTemp("", "validate-*")
	if err != nil {
		return util.LogError("[FileValidator] не удалось создать временный каталог", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, "input.pdf")
	if err := copyToFile(reader, tmpPath); err != nil {
		return util.LogError("[FileValidator] не удалось записать временный файл", err)
	}

	pageCount, err := api.PageCountFile(tmpPath)
	if err != nil {
		if isEncryptionError(err) {
			result.IsEncrypted = true
			result.PageCount = 0
			return nil
		}
		return apperr.NewValidation(apperr.CodePDFUnreadable, "PDF структурно нечитаем: "+err.Error())
	}
	result.PageCount = pageCount
	result.PDFMetadata = map[string]string{"pages": fmt.Sprintf("%d", pageCount)}

	return nil
}

// scan вызывает внешний сканер. Недоступный сканер в production
// закрывает доступ (fail closed), в development — scan_skipped=true.
func (v *FileValidator) scan(ctx context.Context, reader io.ReadSeeker, result *ports.ValidationResult) error {
	if v.scanner == nil {
		if v.production {
			return apperr.NewValidation(apperr.CodeScanUnavailable, "антивирусный сканер не настроен")
		}
		result.ScanSkipped = true
		return nil
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return util.LogError("[FileValidator] не удалось перемотать поток", err)
	}

	err := v.scanner.Scan(ctx, reader)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMalwareFound) {
		return apperr.NewValidation(apperr.CodeMalware, "обнаружена вредоносная сигнатура")
	}
	if v.production {
		return apperr.NewValidation(apperr.CodeScanUnavailable, "антивирусный сканер недоступен: "+err.Error())
	}
	result.ScanSkipped = true
	return nil
}

// SniffMime определяет тип по magic bytes; octet-stream — fallback.
func SniffMime(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return "application/pdf"
	case bytes.HasPrefix(head, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(head, []byte{'P', 'K', 0x03, 0x04}):
		// zip-контейнер: docx/xlsx/pptx различаются по содержимому,
		// для допуска достаточно контейнера
		return "application/zip"
	case bytes.HasPrefix(head, []byte("{\\rtf")):
		return "application/rtf"
	case isPlainText(head):
		return "text/plain"
	}
	return "application/octet-stream"
}

func isPlainText(head []byte) bool {
	for _, b := range head {
		if b == 0 {
			return false
		}
		if b < 0x09 && b != 0 {
			return false
		}
	}
	return len(head) > 0
}

func isEncryptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

func hashStream(reader io.ReadSeeker) (string, error) {
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	hasher := sha256.New()
	buf := make([]byte, 8*1024)
	if _, err := io.CopyBuffer(hasher, reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func copyToFile(reader io.ReadSeeker, path string) error {
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, 8*1024)
	_, err = io.CopyBuffer(f, reader, buf)
	return err
}

// HashFile — SHA-256 файла на диске (используется воркерами для выходов).
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, 8*1024)
	n, err := io.CopyBuffer(hasher, f, buf)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
