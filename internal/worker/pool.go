package worker

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"pdf-pipeline-server/internal/ports"
)

// Pool — N горутин-воркеров над общей очередью. Свободный воркер
// блокируется на чтении очереди; high_priority опрашивается раньше
// default внутри самой очереди.
type Pool struct {
	runtime     *Runtime
	queue       ports.JobQueue
	count       int
	pollTimeout time.Duration
}

func NewPool(runtime *Runtime, queue ports.JobQueue, count int, pollTimeout time.Duration) *Pool {
	if count <= 0 {
		count = 4
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Pool{runtime: runtime, queue: queue, count: count, pollTimeout: pollTimeout}
}

// Run блокируется до отмены контекста; воркеры дорабатывают текущие
// задачи и выходят.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.count; i++ {
		workerID := i
		g.Go(func() error {
			return p.loop(gctx, workerID)
		})
	}
	log.Printf("[WorkerPool] запущено воркеров: %d", p.count)
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jobUUID, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[WorkerPool] воркер %d: ошибка чтения очереди: %v", workerID, err)
			time.Sleep(time.Second)
			continue
		}
		if jobUUID == "" {
			continue
		}

		if err := p.runtime.Execute(ctx, jobUUID); err != nil {
			log.Printf("[WorkerPool] воркер %d: задача %s: %v", workerID, jobUUID, err)
		}
	}
}
