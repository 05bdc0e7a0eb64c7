package model

import "fmt"

// ToolCategory — категория инструмента.
type ToolCategory string

const (
	CategoryConversion  ToolCategory = "conversion"
	CategoryCompression ToolCategory = "compression"
	CategoryEditing     ToolCategory = "editing"
	CategorySecurity    ToolCategory = "security"
	CategoryAI          ToolCategory = "ai"
	CategoryRepair      ToolCategory = "repair"
)

// ParameterSpec — схема одного параметра инструмента.
type ParameterSpec struct {
	Type     string   `json:"type"` // string | int | bool | float
	Enum     []string `json:"enum,omitempty"`
	Required bool     `json:"required,omitempty"`
	Default  any      `json:"default,omitempty"`
}

// Tool — декларативное описание инструмента. Каталог не исполняет
// инструменты, исполнение — за Worker Runtime.
type Tool struct {
	ID                string                   `json:"id"`
	Name              string                   `json:"name"`
	Category          ToolCategory             `json:"category"`
	InputMimeTypes    []string                 `json:"input_mime_types"`
	MaxInputSizeBytes int64                    `json:"max_input_size_bytes"`
	OutputMimeType    string                   `json:"output_mime_type"`
	OutputExtension   string                   `json:"output_extension"`
	RequiresPDFInput  bool                     `json:"requires_pdf_input"`
	MaxPages          int                      `json:"max_pages"` // -1 = без лимита
	IsPremium         bool                     `json:"is_premium"`
	IsAI              bool                     `json:"is_ai"`
	ParametersSchema  map[string]ParameterSpec `json:"parameters_schema,omitempty"`
}

// CanProcess проверяет, применим ли инструмент к файлу.
func (t *Tool) CanProcess(mimeType string, sizeBytes int64, pages int) (bool, string) {
	allowed := false
	for _, m := range t.InputMimeTypes {
		if m == mimeType {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, fmt.Sprintf("тип %s не поддерживается инструментом %s", mimeType, t.ID)
	}
	if t.RequiresPDFInput && mimeType != "application/pdf" {
		return false, "инструмент требует PDF на входе"
	}
	if t.MaxInputSizeBytes > 0 && sizeBytes > t.MaxInputSizeBytes {
		return false, fmt.Sprintf("размер %d превышает лимит инструмента %d", sizeBytes, t.MaxInputSizeBytes)
	}
	if t.MaxPages > 0 && pages > t.MaxPages {
		return false, fmt.Sprintf("страниц %d больше лимита %d", pages, t.MaxPages)
	}
	return true, ""
}

// ValidateParameters сверяет параметры запроса со схемой инструмента.
func (t *Tool) ValidateParameters(params map[string]any) (bool, []string) {
	var errs []string

	for name, spec := range t.ParametersSchema {
		val, present := params[name]
		if !present {
			if spec.Required {
				errs = append(errs, fmt.Sprintf("параметр %s обязателен", name))
			}
			continue
		}
		if !typeMatches(spec.Type, val) {
			errs = append(errs, fmt.Sprintf("параметр %s: ожидался тип %s", name, spec.Type))
			continue
		}
		if len(spec.Enum) > 0 {
			s, _ := val.(string)
			found := false
			for _, e := range spec.Enum {
				if e == s {
					found = true
					break
				}
			}
			if !found {
				errs = append(errs, fmt.Sprintf("параметр %s: значение %v вне допустимого набора", name, val))
			}
		}
	}

	for name := range params {
		if _, ok := t.ParametersSchema[name]; !ok {
			errs = append(errs, fmt.Sprintf("неизвестный параметр %s", name))
		}
	}

	return len(errs) == 0, errs
}

func typeMatches(specType string, val any) bool {
	switch specType {
	case "string":
		_, ok := val.(string)
		return ok
	case "bool":
		_, ok := val.(bool)
		return ok
	case "int":
		// JSON-числа приходят как float64
		switch val.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case "float":
		switch val.(type) {
		case float64, int, int64:
			return true
		}
		return false
	}
	return false
}
