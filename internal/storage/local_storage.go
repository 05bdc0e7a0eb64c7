package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/ports"
)

// LocalStorage — backend поверх локальной файловой системы.
// Запись атомарна: объект пишется во временный файл в том же каталоге
// и затем переименовывается.
type LocalStorage struct {
	root   string
	secret []byte
}

func NewLocalStorage(root, signingSecret string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("[LocalStorage] не удалось создать корневой каталог: %w", err)
	}
	return &LocalStorage{root: root, secret: []byte(signingSecret)}, nil
}

// abs переводит логический путь объекта в путь на диске и запрещает
// выход за пределы корня.
func (s *LocalStorage) abs(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	if strings.Contains(cleaned, "..") {
		return "", apperr.NewStorage(apperr.CodeAborted, "недопустимый путь объекта: "+path, nil)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *LocalStorage) Upload(ctx context.Context, path string, reader io.Reader, contentType string, metadata map[string]string) error {
	dst, err := s.abs(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.NewStorage(apperr.CodeAborted, "не удалось создать каталог", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return apperr.NewStorage(apperr.CodeAborted, "не удалось создать временный файл", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperr.NewStorage(apperr.CodeAborted, "ошибка записи объекта", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperr.NewStorage(apperr.CodeAborted, "ошибка закрытия временного файла", err)
	}

	// rename в пределах каталога атомарен — частичная запись не видна
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return apperr.NewStorage(apperr.CodeAborted, "не удалось зафиксировать объект", err)
	}
	return nil
}

// UploadMultipart для локального диска — та же атомарная запись,
// но копирование идёт кусками заданного размера.
func (s *LocalStorage) UploadMultipart(ctx context.Context, path string, reader io.Reader, chunkSize int64) error {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	chunked := &chunkedReader{r: reader, buf: make([]byte, chunkSize)}
	return s.Upload(ctx, path, chunked, "", nil)
}

func (s *LocalStorage) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	src, err := s.abs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NewStorage(apperr.CodeNotFound, "объект не найден: "+path, err)
		}
		return nil, apperr.NewStorage(apperr.CodeAborted, "не удалось открыть объект", err)
	}
	return f, nil
}

func (s *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	src, err := s.abs(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperr.NewStorage(apperr.CodeAborted, "ошибка проверки объекта", err)
	}
	return true, nil
}

func (s *LocalStorage) Size(ctx context.Context, path string) (int64, error) {
	src, err := s.abs(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apperr.NewStorage(apperr.CodeNotFound, "объект не найден: "+path, err)
		}
		return 0, apperr.NewStorage(apperr.CodeAborted, "ошибка получения размера", err)
	}
	return info.Size(), nil
}

func (s *LocalStorage) Delete(ctx context.Context, path string) error {
	src, err := s.abs(path)
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return apperr.NewStorage(apperr.CodeAborted, "не удалось удалить объект", err)
	}
	return nil
}

func (s *LocalStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	dir, err := s.abs(prefix)
	if err != nil {
		return 0, err
	}

	count := 0
	walkErr := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort
		}
		if !info.IsDir() {
			if os.Remove(p) == nil {
				count++
			}
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return count, apperr.NewStorage(apperr.CodeAborted, "ошибка удаления по префиксу", walkErr)
	}
	os.RemoveAll(dir)
	return count, nil
}

func (s *LocalStorage) Copy(ctx context.Context, src, dst string) error {
	reader, err := s.Read(ctx, src)
	if err != nil {
		return err
	}
	defer reader.Close()
	return s.Upload(ctx, dst, reader, "", nil)
}

// SignedURL : подписанный HMAC-SHA256 URL со сроком действия.
// Общий секрет в URL не попадает — только подпись.
func (s *LocalStorage) SignedURL(ctx context.Context, path string, op ports.SignedOp, ttl time.Duration) (string, error) {
	expires := time.Now().Add(ttl).Unix()
	sig := s.sign(string(op), path, expires)
	return fmt.Sprintf("/local/%s?op=%s&exp=%d&sig=%s",
		url.PathEscape(path), op, expires, sig), nil
}

func (s *LocalStorage) PresignedPost(ctx context.Context, path, contentType string, ttl time.Duration, maxSize int64) (*ports.PresignedPost, error) {
	expires := time.Now().Add(ttl).Unix()
	sig := s.sign(string(ports.SignedPut), path, expires)
	return &ports.PresignedPost{
		URL: "/local/" + url.PathEscape(path),
		Fields: map[string]string{
			"op":           string(ports.SignedPut),
			"exp":          strconv.FormatInt(expires, 10),
			"sig":          sig,
			"content-type": contentType,
			"max-size":     strconv.FormatInt(maxSize, 10),
		},
	}, nil
}

// VerifySignature проверяет подпись и срок действия локального URL.
func (s *LocalStorage) VerifySignature(op, path string, expires int64, sig string) bool {
	if time.Now().Unix() > expires {
		return false
	}
	expected := s.sign(op, path, expires)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *LocalStorage) sign(op, path string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%s|%d", op, path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// chunkedReader ограничивает размер одного Read заданным буфером.
type chunkedReader struct {
	r   io.Reader
	buf []byte
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	limit := len(p)
	if limit > len(c.buf) {
		limit = len(c.buf)
	}
	return c.r.Read(p[:limit])
}
