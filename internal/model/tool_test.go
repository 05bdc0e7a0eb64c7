package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pdf-pipeline-server/internal/model"
)

func pdfTool() *model.Tool {
	return &model.Tool{
		ID:                "pdf_compress",
		Category:          model.CategoryCompression,
		InputMimeTypes:    []string{"application/pdf"},
		MaxInputSizeBytes: 100 << 20,
		RequiresPDFInput:  true,
		MaxPages:          500,
		ParametersSchema: map[string]model.ParameterSpec{
			"quality":  {Type: "string", Enum: []string{"low", "medium", "high"}},
			"dpi":      {Type: "int"},
			"required": {Type: "bool", Required: true},
		},
	}
}

func TestTool_CanProcess(t *testing.T) {
	tool := pdfTool()

	ok, _ := tool.CanProcess("application/pdf", 1<<20, 10)
	assert.True(t, ok)

	ok, reason := tool.CanProcess("image/png", 1<<20, 10)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	ok, _ = tool.CanProcess("application/pdf", 200<<20, 10)
	assert.False(t, ok, "превышение размера")

	ok, _ = tool.CanProcess("application/pdf", 1<<20, 501)
	assert.False(t, ok, "превышение страниц")
}

func TestTool_ValidateParameters(t *testing.T) {
	tool := pdfTool()

	ok, errs := tool.ValidateParameters(map[string]any{
		"quality": "medium", "dpi": float64(150), "required": true,
	})
	assert.True(t, ok)
	assert.Empty(t, errs)

	ok, errs = tool.ValidateParameters(map[string]any{"quality": "medium"})
	assert.False(t, ok, "отсутствует обязательный параметр")
	assert.Len(t, errs, 1)

	ok, errs = tool.ValidateParameters(map[string]any{
		"quality": "ultra", "required": true,
	})
	assert.False(t, ok, "значение вне enum")

	ok, errs = tool.ValidateParameters(map[string]any{
		"required": true, "unknown_param": 1,
	})
	assert.False(t, ok, "неизвестный параметр")

	ok, errs = tool.ValidateParameters(map[string]any{
		"required": "не bool",
	})
	assert.False(t, ok, "неверный тип")
}
