// Пакет pipeline — фоновая обработка импортов: планировщик заданий
// с ограниченной очередью и координатор конвейера одного файла.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/bigkaa/dataimport/internal/parser"
)

// Job — задание на обработку одного загруженного файла.
// Импорт уже зарезервирован в хранилище в статусе pending.
type Job struct {
	ImportID string
	Filename string
	Format   parser.Format
	Data     []byte
}

// Runner выполняет задание до завершения. Контекст несет
// таймаут-бюджет задания. Abort переводит задание, которое не удалось
// запустить, в терминальный статус, чтобы импорт не завис в pending.
type Runner interface {
	Run(ctx context.Context, job Job)
	Abort(job Job, reason string)
}

// Scheduler — планировщик заданий: ограниченная очередь емкости Q
// перед пулом из W воркеров. Submit никогда не блокирует вызывающего.
type Scheduler struct {
	queue      chan Job
	pool       *ants.Pool
	runner     Runner
	jobTimeout time.Duration
	logger     *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler создает планировщик и запускает диспетчер очереди.
func NewScheduler(runner Runner, workers, queueCapacity int, jobTimeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		queue:      make(chan Job, queueCapacity),
		pool:       pool,
		runner:     runner,
		jobTimeout: jobTimeout,
		logger:     logger.With("component", "scheduler"),
	}

	s.wg.Add(1)
	go s.dispatch()

	return s, nil
}

// Submit ставит задание в очередь. Возвращает false, если очередь
// заполнена — вызывающий должен ответить сигналом backpressure.
func (s *Scheduler) Submit(job Job) bool {
	select {
	case s.queue <- job:
		jobsAcceptedTotal.Inc()
		queueDepth.Inc()
		return true
	default:
		jobsRejectedTotal.Inc()
		return false
	}
}

// dispatch передает задания из очереди в пул воркеров. pool.Submit
// блокируется, когда все воркеры заняты, поэтому задание не покидает
// очередь раньше, чем освободится воркер.
func (s *Scheduler) dispatch() {
	defer s.wg.Done()

	for job := range s.queue {
		queueDepth.Dec()

		job := job
		s.wg.Add(1)
		if err := s.pool.Submit(func() {
			defer s.wg.Done()
			s.runJob(job)
		}); err != nil {
			s.wg.Done()
			s.dropJob(job, err)
		}
	}
}

// dropJob обрабатывает задание, которое пул отказался принять:
// импорт переводится в терминальный статус, иначе он навсегда
// останется в pending.
func (s *Scheduler) dropJob(job Job, cause error) {
	s.logger.Error("не удалось передать задание в пул воркеров",
		"import_id", job.ImportID, "error", cause)
	s.runner.Abort(job, "задание не принято пулом воркеров: "+cause.Error())
}

// runJob выполняет одно задание с таймаут-бюджетом.
// Превышение бюджета отменяет контекст: координатор помечает
// импорт как failed и освобождает воркер.
func (s *Scheduler) runJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	s.logger.Info("задание взято в работу",
		"import_id", job.ImportID, "filename", job.Filename)

	s.runner.Run(ctx, job)
}

// Stop закрывает очередь, дожидается дорабатывания оставшихся
// заданий и освобождает пул. Новые Submit после Stop паникуют —
// останавливать следует после остановки HTTP-сервера.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
		s.pool.Release()
		s.logger.Info("планировщик остановлен")
	})
}
