package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/service"
	"pdf-pipeline-server/internal/storage"
	"pdf-pipeline-server/internal/validator"
)

// Runtime — единый жизненный цикл выполнения задачи: загрузка входа,
// трансформация с таймаутом по категории, проверка и публикация выхода,
// переходы состояний файла, политика ошибок. Временные файлы убираются
// на всех путях, включая панику.
type Runtime struct {
	db             *config.Database
	jobRepo        ports.JobRepository
	fileRepo       ports.FileRepository
	versionRepo    ports.VersionRepository
	store          ports.Storage
	jobs           *service.JobService
	resolver       ports.ContextResolver
	tools          ports.ToolCatalog
	workers        map[string]Worker
	defaultTimeout time.Duration
	aiTimeout      time.Duration
}

func NewRuntime(db *config.Database, jobRepo ports.JobRepository, fileRepo ports.FileRepository,
	versionRepo ports.VersionRepository, store ports.Storage, jobs *service.JobService,
	resolver ports.ContextResolver, tools ports.ToolCatalog, workers map[string]Worker,
	defaultTimeout, aiTimeout time.Duration) *Runtime {
	if defaultTimeout <= 0 {
		defaultTimeout = 300 * time.Second
	}
	if aiTimeout <= 0 {
		aiTimeout = 600 * time.Second
	}
	return &Runtime{
		db:             db,
		jobRepo:        jobRepo,
		fileRepo:       fileRepo,
		versionRepo:    versionRepo,
		store:          store,
		jobs:           jobs,
		resolver:       resolver,
		tools:          tools,
		workers:        workers,
		defaultTimeout: defaultTimeout,
		aiTimeout:      aiTimeout,
	}
}

// Execute выполняет задачу по uuid из очереди. Ошибка возвращается
// только при невозможности применить политику ошибок: сами сбои
// трансформаций поглощаются ретраями и DLQ.
func (r *Runtime) Execute(ctx context.Context, jobUUID string) error {
	job, err := r.jobRepo.GetByUUID(ctx, r.db, jobUUID)
	if err != nil {
		return err
	}

	// идемпотентность: завершённую задачу не перезапускаем
	if job.Status == model.JobCompleted {
		return nil
	}
	if job.Status == model.JobCanceled || job.Status == model.JobDeadLetter {
		return nil
	}

	// путь ретрая: FAILED -> QUEUED с обнулением прогресса
	if job.Status == model.JobFailed {
		moved, err := r.jobRepo.TransitionStatus(ctx, r.db, jobUUID, model.JobFailed, model.JobQueued)
		if err != nil || !moved {
			return err
		}
		if err := r.jobRepo.ResetProgress(ctx, r.db, jobUUID); err != nil {
			return err
		}
		job.Status = model.JobQueued
	}

	started, err := r.jobRepo.MarkProcessing(ctx, r.db, jobUUID, time.Now())
	if err != nil {
		return err
	}
	if !started {
		// задачу успели отменить между постановкой и захватом
		return nil
	}

	file, err := r.fileRepo.GetByUUID(ctx, r.db, job.FileUUID)
	if err != nil {
		return r.fail(ctx, job, nil, apperr.NewWorkerFatal(apperr.CodeNoInput, "файл задачи не найден", err))
	}

	// файл после ретрая стоит в FAILED — возвращаем на путь обработки
	if file.State == model.StateFailed {
		if err := r.fileRepo.Transition(ctx, file.UUID, model.StateQueued, jobUUID, model.ActorWorker, nil); err != nil {
			return err
		}
		file.State = model.StateQueued
	}
	if err := r.fileRepo.Transition(ctx, file.UUID, model.StateProcessing, jobUUID, model.ActorWorker, nil); err != nil {
		return err
	}
	file.State = model.StateProcessing

	result, werr := r.run(ctx, job, file)
	if werr != nil {
		return r.fail(ctx, job, file, werr)
	}

	completed, err := r.jobRepo.MarkCompleted(ctx, r.db, jobUUID, result, time.Now())
	if err != nil {
		return err
	}
	if !completed {
		log.Printf("[WorkerRuntime] задача %s не зафиксирована как COMPLETED", jobUUID)
	}
	return nil
}

// run — шаги 3–7 жизненного цикла; возвращает result успешной задачи.
func (r *Runtime) run(ctx context.Context, job *model.Job, file *model.File) (result model.Metadata, werr error) {
	tool, ok := r.tools.Get(job.ToolID)
	if !ok {
		return nil, apperr.NewWorkerFatal(apperr.CodeTransformFailed, "инструмент не зарегистрирован: "+job.ToolID, nil)
	}
	w, ok := r.workers[job.ToolID]
	if !ok {
		return nil, apperr.NewWorkerFatal(apperr.CodeTransformFailed, "воркер не зарегистрирован: "+job.ToolID, nil)
	}

	tmpDir, err := os.MkdirTemp("", "job-"+job.UUID[:8]+"-*")
	if err != nil {
		return nil, apperr.NewWorker(apperr.CodeUnexpectedError, "не удалось создать временный каталог", err)
	}
	defer os.RemoveAll(tmpDir)

	defer func() {
		if p := recover(); p != nil {
			werr = apperr.NewWorker(apperr.CodeUnexpectedError, fmt.Sprintf("паника трансформации: %v", p), nil)
		}
	}()

	r.progress(ctx, job.UUID, 10, "загрузка входного файла")
	inputPath := filepath.Join(tmpDir, "input"+filepath.Ext(file.FilenameOriginal))
	if err := r.download(ctx, file.StoragePath, inputPath); err != nil {
		return nil, err
	}

	if r.canceled(ctx, job.UUID) {
		return nil, errCanceled
	}

	r.progress(ctx, job.UUID, 20, "подготовка")
	outName := outputFilename(file.FilenameOriginal, tool.OutputExtension)
	outputPath := filepath.Join(tmpDir, "output"+tool.OutputExtension)

	info, err := r.transformWithTimeout(ctx, job, w, inputPath, outputPath)
	if err != nil {
		return nil, err
	}

	if r.canceled(ctx, job.UUID) {
		return nil, errCanceled
	}

	r.progress(ctx, job.UUID, 80, "проверка результата")
	outInfo, err := os.Stat(outputPath)
	if err != nil || outInfo.Size() == 0 {
		return nil, apperr.NewWorkerFatal(apperr.CodeInvalidOutput, "трансформация не произвела выход", err)
	}

	outputPath, err = r.maybeWatermark(ctx, job, tool, tmpDir, outputPath)
	if err != nil {
		return nil, err
	}

	sha, size, err := validator.HashFile(outputPath)
	if err != nil {
		return nil, apperr.NewWorker(apperr.CodeInvalidOutput, "не удалось захэшировать выход", err)
	}

	r.progress(ctx, job.UUID, 90, "публикация результата")
	nextVersion := file.Version + 1
	storedPath := storage.OutputPath(file.UUID, nextVersion, outName)
	if err := r.upload(ctx, outputPath, storedPath, tool.OutputMimeType, sha); err != nil {
		return nil, err
	}

	if err := r.fileRepo.Transition(ctx, file.UUID, model.StateOutputGenerated, job.UUID, model.ActorWorker, nil); err != nil {
		return nil, err
	}
	if err := r.versionRepo.Add(ctx, r.db, &model.FileVersion{
		FileUUID:      file.UUID,
		VersionNumber: nextVersion,
		StoragePath:   storedPath,
		SizeBytes:     size,
		Sha256:        sha,
	}); err != nil {
		return nil, err
	}
	if err := r.fileRepo.Transition(ctx, file.UUID, model.StateStoredFinal, job.UUID, model.ActorWorker, nil); err != nil {
		return nil, err
	}
	if err := r.fileRepo.Transition(ctx, file.UUID, model.StateAvailable, job.UUID, model.ActorWorker, nil); err != nil {
		return nil, err
	}

	result = model.Metadata{
		"output_path":   storedPath,
		"output_bytes":  size,
		"output_sha256": sha,
		"version":       nextVersion,
	}
	for k, v := range info {
		result[k] = v
	}
	return result, nil
}

var errCanceled = errors.New("задача отменена")

// transformWithTimeout изолирует трансформацию в горутине и обрывает её
// по таймауту категории (по умолчанию 300 с, AI — 600 с).
func (r *Runtime) transformWithTimeout(ctx context.Context, job *model.Job, w Worker, inputPath, outputPath string) (model.Metadata, error) {
	timeout := r.defaultTimeout
	if w.Category == model.CategoryAI {
		timeout = r.aiTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		info model.Metadata
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: apperr.NewWorker(apperr.CodeUnexpectedError, fmt.Sprintf("паника трансформации: %v", p), nil)}
			}
		}()
		info, err := w.Transform(tctx, inputPath, outputPath, job.Params, func(percent int, message string) {
			// прогресс трансформации проецируется на окно 20..80
			r.progress(ctx, job.UUID, 20+percent*60/100, message)
		})
		done <- outcome{info: info, err: err}
	}()

	select {
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.NewWorker(apperr.CodeTimeout,
				fmt.Sprintf("трансформация не уложилась в %s", timeout), tctx.Err())
		}
		return nil, tctx.Err()
	case out := <-done:
		if out.err != nil {
			var we *apperr.WorkerError
			if errors.As(out.err, &we) {
				return nil, out.err
			}
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, apperr.NewWorker(apperr.CodeTimeout, "трансформация прервана по таймауту", out.err)
			}
			return nil, apperr.NewWorker(apperr.CodeTransformFailed, "трансформация завершилась ошибкой", out.err)
		}
		return out.info, nil
	}
}

// maybeWatermark принудительно ставит водяной знак на PDF-выходы
// бесплатных тарифов. Тип выхода определяется по magic bytes, а не по
// расширению.
func (r *Runtime) maybeWatermark(ctx context.Context, job *model.Job, tool *model.Tool, tmpDir, outputPath string) (string, error) {
	if tool.ID == "pdf_watermark" {
		return outputPath, nil
	}

	uc, err := r.resolveContext(ctx, job)
	if err != nil || uc.CanUsePremium {
		return outputPath, err
	}

	head := make([]byte, 16)
	f, err := os.Open(outputPath)
	if err != nil {
		return outputPath, nil
	}
	n, _ := io.ReadFull(f, head)
	f.Close()
	if validator.SniffMime(head[:n]) != "application/pdf" {
		return outputPath, nil
	}

	marked := filepath.Join(tmpDir, "watermarked.pdf")
	if err := applyTextWatermark(outputPath, marked, "pdf-pipeline free", 0.25, 45); err != nil {
		log.Printf("[WorkerRuntime] водяной знак на выход задачи %s не нанесён: %v", job.UUID, err)
		return outputPath, nil
	}
	return marked, nil
}

func (r *Runtime) resolveContext(ctx context.Context, job *model.Job) (*model.UserContext, error) {
	if job.UserUUID == nil || *job.UserUUID == "" {
		return &model.UserContext{Tier: model.TierGuest}, nil
	}
	return r.resolver.Resolve(ctx, *job.UserUUID, "")
}

func (r *Runtime) download(ctx context.Context, storagePath, localPath string) error {
	rc, err := r.store.Read(ctx, storagePath)
	if err != nil {
		var se *apperr.StorageError
		if errors.As(err, &se) && se.Code == apperr.CodeNotFound {
			return apperr.NewWorkerFatal(apperr.CodeNoInput, "входной объект отсутствует в хранилище", err)
		}
		return apperr.NewWorker(apperr.CodeNoInput, "не удалось прочитать входной объект", err)
	}
	defer rc.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return apperr.NewWorker(apperr.CodeUnexpectedError, "не удалось создать локальный вход", err)
	}
	defer f.Close()

	buf := make([]byte, 8*1024)
	if _, err := io.CopyBuffer(f, rc, buf); err != nil {
		return apperr.NewWorker(apperr.CodeNoInput, "не удалось скачать входной объект", err)
	}
	return nil
}

func (r *Runtime) upload(ctx context.Context, localPath, storagePath, contentType, sha string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperr.NewWorker(apperr.CodeUnexpectedError, "не удалось открыть выход", err)
	}
	defer f.Close()
	if err := r.store.Upload(ctx, storagePath, f, contentType, map[string]string{"sha256": sha}); err != nil {
		return apperr.NewWorker(apperr.CodeTransformFailed, "не удалось загрузить выход", err)
	}
	return nil
}

// fail применяет политику ошибок: ретрай с экспоненциальной задержкой
// или DEAD_LETTER; файл уходит в FAILED.
func (r *Runtime) fail(ctx context.Context, job *model.Job, file *model.File, cause error) error {
	if errors.Is(cause, errCanceled) {
		// отмена получена между чекпоинтами: статус уже CANCELED
		if file != nil && file.State == model.StateProcessing {
			if err := r.fileRepo.Transition(ctx, file.UUID, model.StateFailed, job.UUID, model.ActorWorker,
				model.Metadata{"reason": "canceled"}); err != nil {
				log.Printf("[WorkerRuntime] файл %s не переведён в FAILED после отмены: %v", file.UUID, err)
			}
		}
		return nil
	}

	code := apperr.CodeUnexpectedError
	nonRecoverable := false
	var we *apperr.WorkerError
	if errors.As(cause, &we) {
		code = we.Code
		nonRecoverable = we.NonRecoverable
	}
	log.Printf("[WorkerRuntime] задача %s завершилась ошибкой [%s]: %v", job.UUID, code, cause)

	if file != nil && file.State == model.StateProcessing {
		if err := r.fileRepo.Transition(ctx, file.UUID, model.StateFailed, job.UUID, model.ActorWorker,
			model.Metadata{"error_code": code}); err != nil {
			log.Printf("[WorkerRuntime] файл %s не переведён в FAILED: %v", file.UUID, err)
		}
	}

	return r.jobs.HandleFailure(ctx, job, code, cause.Error(), nonRecoverable)
}

func (r *Runtime) progress(ctx context.Context, jobUUID string, percent int, message string) {
	if err := r.jobRepo.UpdateProgress(ctx, r.db, jobUUID, percent, message); err != nil {
		log.Printf("[WorkerRuntime] прогресс задачи %s не записан: %v", jobUUID, err)
	}
}

// canceled проверяет кооперативный сигнал отмены между чекпоинтами.
func (r *Runtime) canceled(ctx context.Context, jobUUID string) bool {
	job, err := r.jobRepo.GetByUUID(ctx, r.db, jobUUID)
	if err != nil {
		return false
	}
	return job.Status == model.JobCanceled
}

func outputFilename(original, newExt string) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	if base == "" {
		base = "output"
	}
	return base + newExt
}
