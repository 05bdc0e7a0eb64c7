package service

import (
	"sort"

	"pdf-pipeline-server/internal/model"
)

// ToolRegistry — неизменяемый каталог инструментов, заполняется один
// раз на старте процесса. Исполнение инструментов — за пулом воркеров.
type ToolRegistry struct {
	tools map[string]*model.Tool
}

func NewToolRegistry(tools []*model.Tool) *ToolRegistry {
	m := make(map[string]*model.Tool, len(tools))
	for _, t := range tools {
		m[t.ID] = t
	}
	return &ToolRegistry{tools: m}
}

func (r *ToolRegistry) Get(toolID string) (*model.Tool, bool) {
	t, ok := r.tools[toolID]
	return t, ok
}

func (r *ToolRegistry) List() []*model.Tool {
	out := make([]*model.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BuiltinTools — встроенный набор инструментов конвейера.
func BuiltinTools() []*model.Tool {
	return []*model.Tool{
		{
			ID:                "pdf_compress",
			Name:              "Сжатие PDF",
			Category:          model.CategoryCompression,
			InputMimeTypes:    []string{"application/pdf"},
			MaxInputSizeBytes: 500 << 20,
			OutputMimeType:    "application/pdf",
			OutputExtension:   ".pdf",
			RequiresPDFInput:  true,
			MaxPages:          -1,
			ParametersSchema: map[string]model.ParameterSpec{
				"quality": {Type: "string", Enum: []string{"low", "medium", "high"}, Default: "medium"},
			},
		},
		{
			ID:                "pdf_split",
			Name:              "Разбиение PDF",
			Category:          model.CategoryEditing,
			InputMimeTypes:    []string{"application/pdf"},
			MaxInputSizeBytes: 200 << 20,
			OutputMimeType:    "application/zip",
			OutputExtension:   ".zip",
			RequiresPDFInput:  true,
			MaxPages:          2000,
			ParametersSchema: map[string]model.ParameterSpec{
				"pages_per_file": {Type: "int", Default: 1},
			},
		},
		{
			ID:                "pdf_watermark",
			Name:              "Водяной знак",
			Category:          model.CategorySecurity,
			InputMimeTypes:    []string{"application/pdf"},
			MaxInputSizeBytes: 200 << 20,
			OutputMimeType:    "application/pdf",
			OutputExtension:   ".pdf",
			RequiresPDFInput:  true,
			MaxPages:          -1,
			IsPremium:         true,
			ParametersSchema: map[string]model.ParameterSpec{
				"text":     {Type: "string", Required: true},
				"opacity":  {Type: "float", Default: 0.3},
				"diagonal": {Type: "bool", Default: true},
			},
		},
		{
			ID:                "ai_summarize",
			Name:              "Краткое содержание (AI)",
			Category:          model.CategoryAI,
			InputMimeTypes:    []string{"application/pdf", "text/plain"},
			MaxInputSizeBytes: 50 << 20,
			OutputMimeType:    "text/plain",
			OutputExtension:   ".txt",
			MaxPages:          300,
			IsPremium:         true,
			IsAI:              true,
			ParametersSchema: map[string]model.ParameterSpec{
				"language": {Type: "string", Enum: []string{"ru", "en"}, Default: "ru"},
			},
		},
	}
}
