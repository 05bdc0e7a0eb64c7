package storage_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/storage"
)

func newLocal(t *testing.T) (*storage.LocalStorage, string) {
	t.Helper()
	root := t.TempDir()
	s, err := storage.NewLocalStorage(root, "test-secret")
	require.NoError(t, err)
	return s, root
}

func TestLocalStorage_UploadReadDelete(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	err := s.Upload(ctx, "uploads/u1/file.pdf", strings.NewReader("содержимое"), "application/pdf", nil)
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "uploads/u1/file.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := s.Size(ctx, "uploads/u1/file.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(len("содержимое")), size)

	r, err := s.Read(ctx, "uploads/u1/file.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "содержимое", string(data))

	require.NoError(t, s.Delete(ctx, "uploads/u1/file.pdf"))
	ok, err = s.Exists(ctx, "uploads/u1/file.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	// повторное удаление идемпотентно
	require.NoError(t, s.Delete(ctx, "uploads/u1/file.pdf"))
}

func TestLocalStorage_ReadMissing(t *testing.T) {
	s, _ := newLocal(t)

	_, err := s.Read(context.Background(), "uploads/нет-такого")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.ErrorCode(err))

	var serr *apperr.StorageError
	require.ErrorAs(t, err, &serr)
	assert.False(t, serr.Retryable)
}

func TestLocalStorage_Copy(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "a/src.bin", bytes.NewReader([]byte{1, 2, 3}), "", nil))
	require.NoError(t, s.Copy(ctx, "a/src.bin", "b/dst.bin"))

	size, err := s.Size(ctx, "b/dst.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestLocalStorage_DeletePrefix(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	for _, p := range []string{"outputs/f1/v1/a.pdf", "outputs/f1/v2/b.pdf", "outputs/f2/v1/c.pdf"} {
		require.NoError(t, s.Upload(ctx, p, strings.NewReader("x"), "", nil))
	}

	count, err := s.DeletePrefix(ctx, "outputs/f1/")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ok, _ := s.Exists(ctx, "outputs/f2/v1/c.pdf")
	assert.True(t, ok, "чужой префикс не затронут")
}

func TestLocalStorage_UploadMultipart(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("abc"), 1000)
	require.NoError(t, s.UploadMultipart(ctx, "big/file.bin", bytes.NewReader(payload), 256))

	size, err := s.Size(ctx, "big/file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
}

func TestLocalStorage_TraversalConfined(t *testing.T) {
	s, root := newLocal(t)
	ctx := context.Background()

	// ".." схлопывается относительно корня, объект остаётся внутри
	require.NoError(t, s.Upload(ctx, "../../escape.txt", strings.NewReader("x"), "", nil))

	_, err := os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err, "объект должен лежать внутри корня")

	_, err = os.Stat(filepath.Join(filepath.Dir(root), "escape.txt"))
	assert.True(t, os.IsNotExist(err), "за пределами корня ничего не создано")
}

func TestLocalStorage_SignedURL(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	u, err := s.SignedURL(ctx, "outputs/f1/v1/out.pdf", ports.SignedGet, 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "sig=")
	assert.Contains(t, u, "exp=")

	// подпись другого бэкенда не проходит
	other, err := storage.NewLocalStorage(t.TempDir(), "другой-секрет")
	require.NoError(t, err)

	parts := strings.Split(u, "sig=")
	require.Len(t, parts, 2)
	sig := parts[1]

	expStart := strings.Index(u, "exp=") + len("exp=")
	expEnd := strings.Index(u[expStart:], "&") + expStart
	expires, err := strconv.ParseInt(u[expStart:expEnd], 10, 64)
	require.NoError(t, err)

	assert.True(t, s.VerifySignature(string(ports.SignedGet), "outputs/f1/v1/out.pdf", expires, sig))
	assert.False(t, other.VerifySignature(string(ports.SignedGet), "outputs/f1/v1/out.pdf", expires, sig))
	assert.False(t, s.VerifySignature(string(ports.SignedGet), "outputs/f1/v1/out.pdf", 1, sig), "просроченный URL")
}
