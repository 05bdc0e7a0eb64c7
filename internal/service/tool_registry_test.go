package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-pipeline-server/internal/model"
	srv "pdf-pipeline-server/internal/service"
)

func TestToolRegistry_GetList(t *testing.T) {
	registry := srv.NewToolRegistry(srv.BuiltinTools())

	tool, ok := registry.Get("pdf_compress")
	require.True(t, ok)
	assert.Equal(t, model.CategoryCompression, tool.Category)

	_, ok = registry.Get("нет-такого")
	assert.False(t, ok)

	list := registry.List()
	require.Len(t, list, 4)
	// выдача отсортирована по id
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestBuiltinTools_Flags(t *testing.T) {
	registry := srv.NewToolRegistry(srv.BuiltinTools())

	watermark, ok := registry.Get("pdf_watermark")
	require.True(t, ok)
	assert.True(t, watermark.IsPremium)
	assert.False(t, watermark.IsAI)

	summarize, ok := registry.Get("ai_summarize")
	require.True(t, ok)
	assert.True(t, summarize.IsAI)
	assert.True(t, summarize.IsPremium)

	split, ok := registry.Get("pdf_split")
	require.True(t, ok)
	assert.Equal(t, "application/zip", split.OutputMimeType)
}
