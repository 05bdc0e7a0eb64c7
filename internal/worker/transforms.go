// Пакет worker — Worker Runtime (C8): пул горутин, жизненный цикл
// выполнения задачи и встроенные трансформации.
package worker

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
)

// ProgressFunc — канал прогресса из трансформации наружу.
type ProgressFunc func(percent int, message string)

// Transform — чистая функция над локальными путями: вход -> выход.
// Возвращаемая карта попадает в result задачи.
type Transform func(ctx context.Context, inputPath, outputPath string, params model.Metadata, progress ProgressFunc) (model.Metadata, error)

// Worker — пара (категория, трансформация); таймаут берётся по категории.
type Worker struct {
	Category  model.ToolCategory
	Transform Transform
}

// BuiltinWorkers — воркеры для встроенных инструментов каталога.
func BuiltinWorkers() map[string]Worker {
	return map[string]Worker{
		"pdf_compress":  {Category: model.CategoryCompression, Transform: compressTransform},
		"pdf_split":     {Category: model.CategoryEditing, Transform: splitTransform},
		"pdf_watermark": {Category: model.CategorySecurity, Transform: watermarkTransform},
		"ai_summarize":  {Category: model.CategoryAI, Transform: summarizeTransform},
	}
}

func compressTransform(ctx context.Context, inputPath, outputPath string, params model.Metadata, progress ProgressFunc) (model.Metadata, error) {
	progress(40, "оптимизация документа")
	if err := api.OptimizeFile(inputPath, outputPath, nil); err != nil {
		return nil, apperr.NewWorker(apperr.CodeTransformFailed, "оптимизация PDF не удалась", err)
	}

	inInfo, err := os.Stat(inputPath)
	if err != nil {
		return nil, err
	}
	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, err
	}
	progress(70, "оптимизация завершена")
	return model.Metadata{
		"original_bytes":   inInfo.Size(),
		"compressed_bytes": outInfo.Size(),
	}, nil
}

// splitTransform режет документ на части и упаковывает их в zip.
func splitTransform(ctx context.Context, inputPath, outputPath string, params model.Metadata, progress ProgressFunc) (model.Metadata, error) {
	pagesPerFile := 1
	if v, ok := params["pages_per_file"].(float64); ok && v >= 1 {
		pagesPerFile = int(v)
	}

	partsDir, err := os.MkdirTemp("", "split-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(partsDir)

	progress(40, "разбиение документа")
	if err := api.SplitFile(inputPath, partsDir, pagesPerFile, nil); err != nil {
		return nil, apperr.NewWorker(apperr.CodeTransformFailed, "разбиение PDF не удалось", err)
	}

	progress(60, "упаковка частей")
	count, err := zipDir(partsDir, outputPath)
	if err != nil {
		return nil, apperr.NewWorker(apperr.CodeTransformFailed, "не удалось упаковать части", err)
	}
	return model.Metadata{"parts": count, "pages_per_file": pagesPerFile}, nil
}

func watermarkTransform(ctx context.Context, inputPath, outputPath string, params model.Metadata, progress ProgressFunc) (model.Metadata, error) {
	text, _ := params["text"].(string)
	if text == "" {
		return nil, apperr.NewWorkerFatal(apperr.CodeTransformFailed, "параметр text пуст", nil)
	}

	opacity := 0.3
	if v, ok := params["opacity"].(float64); ok && v > 0 && v <= 1 {
		opacity = v
	}
	rotation := 0
	if diag, ok := params["diagonal"].(bool); !ok || diag {
		rotation = 45
	}

	progress(40, "нанесение водяного знака")
	if err := applyTextWatermark(inputPath, outputPath, text, opacity, rotation); err != nil {
		return nil, apperr.NewWorker(apperr.CodeTransformFailed, "водяной знак не нанесён", err)
	}
	return model.Metadata{"text": text}, nil
}

// applyTextWatermark — общая точка для инструмента pdf_watermark и
// принудительного знака на выходах бесплатных тарифов.
func applyTextWatermark(inputPath, outputPath, text string, opacity float64, rotation int) error {
	desc := fmt.Sprintf("opacity:%.2f, rotation:%d, scale:0.8 rel, fillcolor:#808080", opacity, rotation)
	return api.AddTextWatermarksFile(inputPath, outputPath, nil, true, text, desc, nil)
}

// summarizeTransform — детерминированная заглушка AI-категории: сетевых
// вызовов нет, контракт воркера тот же.
func summarizeTransform(ctx context.Context, inputPath, outputPath string, params model.Metadata, progress ProgressFunc) (model.Metadata, error) {
	language := "ru"
	if v, ok := params["language"].(string); ok && v != "" {
		language = v
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, apperr.NewWorker(apperr.CodeTransformFailed, "вход недоступен", err)
	}

	pages := 0
	if n, err := api.PageCountFile(inputPath); err == nil {
		pages = n
	}

	progress(50, "подготовка резюме")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}

	summary := fmt.Sprintf("[%s] Документ: %d страниц, %d байт.\n", language, pages, info.Size())
	if err := os.WriteFile(outputPath, []byte(summary), 0o644); err != nil {
		return nil, err
	}
	return model.Metadata{"pages": pages, "language": language}, nil
}

func zipDir(dir, outputPath string) (int, error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	count := 0
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		w, err := zw.Create(filepath.Base(path))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		buf := make([]byte, 8*1024)
		if _, err := io.CopyBuffer(w, f, buf); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
