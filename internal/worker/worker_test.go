package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-pipeline-server/internal/service"
)

func TestOutputFilename(t *testing.T) {
	assert.Equal(t, "doc.pdf", outputFilename("doc.pdf", ".pdf"))
	assert.Equal(t, "doc.zip", outputFilename("doc.pdf", ".zip"))
	assert.Equal(t, "отчёт.txt", outputFilename("отчёт.pdf", ".txt"))
	assert.Equal(t, "doc.pdf", outputFilename("/tmp/uploads/doc.pdf", ".pdf"))
	assert.Equal(t, "output.pdf", outputFilename(".pdf", ".pdf"))
}

// каждый инструмент каталога должен иметь исполнителя и наоборот
func TestBuiltinWorkers_MatchCatalog(t *testing.T) {
	workers := BuiltinWorkers()
	tools := service.BuiltinTools()

	require.Len(t, workers, len(tools))
	for _, tool := range tools {
		w, ok := workers[tool.ID]
		require.True(t, ok, "нет воркера для инструмента %s", tool.ID)
		assert.Equal(t, tool.Category, w.Category)
		assert.NotNil(t, w.Transform)
	}
}
