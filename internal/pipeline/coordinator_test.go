package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/dataimport/internal/domain/model"
	"github.com/bigkaa/dataimport/internal/embedding"
	"github.com/bigkaa/dataimport/internal/parser"
	"github.com/bigkaa/dataimport/internal/validator"
)

// fakeImportStore — потокобезопасная заглушка реестра импортов.
type fakeImportStore struct {
	mu         sync.Mutex
	processing []string
	finalized  map[string]model.ImportCounts
	failed     map[string]string

	markProcessingErr error
	finalizeErr       error
}

func newFakeImportStore() *fakeImportStore {
	return &fakeImportStore{
		finalized: make(map[string]model.ImportCounts),
		failed:    make(map[string]string),
	}
}

func (f *fakeImportStore) MarkProcessing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markProcessingErr != nil {
		return f.markProcessingErr
	}
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeImportStore) Finalize(_ context.Context, id string, counts model.ImportCounts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized[id] = counts
	return nil
}

func (f *fakeImportStore) MarkFailed(_ context.Context, id string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

// fakeRecordStore — заглушка хранилища записей.
type fakeRecordStore struct {
	mu        sync.Mutex
	inserted  map[string][]*model.Record
	insertErr error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{inserted: make(map[string][]*model.Record)}
}

func (f *fakeRecordStore) InsertBatch(_ context.Context, importID string, records []*model.Record, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted[importID] = append(f.inserted[importID], records...)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(imports ImportStore, records RecordStore, emb embedding.Embedder) *Coordinator {
	return NewCoordinator(imports, records, validator.New(false), emb, 500, 2, 2, testLogger())
}

func TestCoordinatorHappyPath(t *testing.T) {
	imports := newFakeImportStore()
	records := newFakeRecordStore()
	emb := embedding.NewMock()
	c := newTestCoordinator(imports, records, emb)

	data := []byte("name,email,age\nИван,ivan@example.com,30\nМария,maria@example.com,25\nПетр,petr-без-собаки,40\n")
	c.Run(context.Background(), Job{ImportID: "imp-1", Filename: "users.csv", Format: parser.FormatCSV, Data: data})

	counts, ok := imports.finalized["imp-1"]
	if !ok {
		t.Fatalf("импорт не финализирован; failed = %v", imports.failed)
	}
	if counts.Total != 3 || counts.Processed != 2 || counts.Failed != 1 {
		t.Errorf("счетчики = %+v, ожидалось {3 2 1}", counts)
	}

	saved := records.inserted["imp-1"]
	if len(saved) != 3 {
		t.Fatalf("сохранено %d записей, ожидалось 3", len(saved))
	}
	// Порядок ввода сохраняется
	if saved[2].Status != model.RecordStatusInvalid {
		t.Errorf("третья запись должна быть invalid, получено %q", saved[2].Status)
	}
	// Валидные записи получили векторы, невалидная — нет
	if saved[0].Embedding == nil || saved[1].Embedding == nil {
		t.Error("валидные записи должны иметь векторы")
	}
	if saved[2].Embedding != nil {
		t.Error("невалидная запись не должна векторизоваться")
	}
	// Два валидных текста при размере пакета 2 — один вызов
	if emb.Calls() != 1 {
		t.Errorf("число вызовов векторизации = %d, ожидалось 1", emb.Calls())
	}
}

func TestCoordinatorParseFailureIsFatal(t *testing.T) {
	imports := newFakeImportStore()
	records := newFakeRecordStore()
	c := newTestCoordinator(imports, records, nil)

	c.Run(context.Background(), Job{ImportID: "imp-2", Filename: "broken.json", Format: parser.FormatJSON, Data: []byte(`[{"name":`)})

	if _, ok := imports.finalized["imp-2"]; ok {
		t.Fatal("импорт с ошибкой разбора не должен финализироваться")
	}
	if reason, ok := imports.failed["imp-2"]; !ok || reason == "" {
		t.Fatalf("импорт должен быть помечен failed с причиной, получено %q", reason)
	}
	if len(records.inserted["imp-2"]) != 0 {
		t.Error("записи не должны сохраняться при ошибке разбора")
	}
}

func TestCoordinatorEmbeddingDegradation(t *testing.T) {
	imports := newFakeImportStore()
	records := newFakeRecordStore()
	emb := embedding.NewMock()
	attempts := 0
	emb.EmbedBatchFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		attempts++
		return nil, errors.New("сервис недоступен")
	}
	c := newTestCoordinator(imports, records, emb)

	data := []byte(`[{"name":"Иван","email":"ivan@example.com"},{"name":"Мария","email":"maria@example.com"}]`)
	c.Run(context.Background(), Job{ImportID: "imp-3", Filename: "users.json", Format: parser.FormatJSON, Data: data})

	// Сбой векторизации не фатален: импорт завершается, записи valid без векторов
	counts, ok := imports.finalized["imp-3"]
	if !ok {
		t.Fatalf("импорт должен финализироваться несмотря на сбой векторизации; failed = %v", imports.failed)
	}
	if counts.Processed != 2 {
		t.Errorf("processed = %d, ожидалось 2", counts.Processed)
	}
	for i, rec := range records.inserted["imp-3"] {
		if rec.Status != model.RecordStatusValid {
			t.Errorf("запись %d: статус = %q, ожидался valid", i, rec.Status)
		}
		if rec.Embedding != nil {
			t.Errorf("запись %d: вектор должен отсутствовать после деградации", i)
		}
	}
	// Повторы ограничены embedMaxAttempts
	if attempts != 2 {
		t.Errorf("число попыток = %d, ожидалось 2", attempts)
	}
}

func TestCoordinatorPersistFailure(t *testing.T) {
	imports := newFakeImportStore()
	records := newFakeRecordStore()
	records.insertErr = errors.New("соединение потеряно")
	c := newTestCoordinator(imports, records, nil)

	data := []byte(`[{"name":"Иван","email":"ivan@example.com"}]`)
	c.Run(context.Background(), Job{ImportID: "imp-4", Filename: "users.json", Format: parser.FormatJSON, Data: data})

	if _, ok := imports.finalized["imp-4"]; ok {
		t.Fatal("импорт не должен финализироваться при ошибке сохранения")
	}
	if _, ok := imports.failed["imp-4"]; !ok {
		t.Fatal("импорт должен быть помечен failed")
	}
}

func TestCoordinatorMarkFailedOnExpiredContext(t *testing.T) {
	imports := newFakeImportStore()
	records := newFakeRecordStore()
	c := newTestCoordinator(imports, records, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	imports.markProcessingErr = ctx.Err()

	data := []byte(`[{"name":"Иван","email":"ivan@example.com"}]`)
	c.Run(ctx, Job{ImportID: "imp-5", Filename: "users.json", Format: parser.FormatJSON, Data: data})

	// Финальный статус пишется отсоединенным контекстом
	if _, ok := imports.failed["imp-5"]; !ok {
		t.Fatal("импорт должен быть помечен failed даже при истекшем контексте задания")
	}
}

func TestCoordinatorEmbeddingDisabled(t *testing.T) {
	imports := newFakeImportStore()
	records := newFakeRecordStore()
	c := newTestCoordinator(imports, records, nil)

	data := []byte(`[{"name":"Иван","email":"ivan@example.com"}]`)
	c.Run(context.Background(), Job{ImportID: "imp-6", Filename: "users.json", Format: parser.FormatJSON, Data: data})

	if _, ok := imports.finalized["imp-6"]; !ok {
		t.Fatal("импорт должен финализироваться без векторизации")
	}
	if records.inserted["imp-6"][0].Embedding != nil {
		t.Error("вектор должен отсутствовать при отключенной векторизации")
	}
}

func TestSchedulerBackpressure(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 16)

	runner := runnerFunc(func(ctx context.Context, job Job) {
		started <- struct{}{}
		<-block
	})

	s, err := NewScheduler(runner, 1, 2, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("не удалось создать планировщик: %v", err)
	}

	if !s.Submit(Job{ImportID: "a"}) {
		t.Fatal("первое задание должно быть принято")
	}
	// Дожидаемся, пока воркер заберет первое задание
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("воркер не взял задание")
	}

	// Воркер занят: очередь (плюс задание в руках диспетчера)
	// вмещает не больше трех заданий — дальше отказ без блокировки
	accepted := 0
	rejected := false
	for i := 0; i < 10; i++ {
		if s.Submit(Job{ImportID: "extra"}) {
			accepted++
			continue
		}
		rejected = true
		break
	}
	if !rejected {
		t.Fatal("переполнение очереди должно приводить к отказу")
	}
	if accepted > 3 {
		t.Fatalf("принято %d заданий при занятом воркере, ожидалось не больше 3", accepted)
	}

	close(block)
	s.Stop()
}

func TestSchedulerRunsAllAccepted(t *testing.T) {
	var mu sync.Mutex
	ran := make(map[string]bool)

	runner := runnerFunc(func(ctx context.Context, job Job) {
		mu.Lock()
		ran[job.ImportID] = true
		mu.Unlock()
	})

	s, err := NewScheduler(runner, 2, 8, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("не удалось создать планировщик: %v", err)
	}

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if !s.Submit(Job{ImportID: id}) {
			t.Fatalf("задание %s должно быть принято", id)
		}
	}
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 5 {
		t.Fatalf("выполнено %d заданий, ожидалось 5: %v", len(ran), ran)
	}
}

func TestSchedulerJobTimeout(t *testing.T) {
	expired := make(chan bool, 1)

	runner := runnerFunc(func(ctx context.Context, job Job) {
		select {
		case <-ctx.Done():
			expired <- true
		case <-time.After(2 * time.Second):
			expired <- false
		}
	})

	s, err := NewScheduler(runner, 1, 1, 20*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("не удалось создать планировщик: %v", err)
	}
	defer s.Stop()

	if !s.Submit(Job{ImportID: "slow"}) {
		t.Fatal("задание должно быть принято")
	}

	select {
	case ok := <-expired:
		if !ok {
			t.Fatal("контекст задания должен истечь по таймаут-бюджету")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("задание не завершилось")
	}
}

func TestCoordinatorAbortMarksFailed(t *testing.T) {
	imports := newFakeImportStore()
	records := newFakeRecordStore()
	c := newTestCoordinator(imports, records, nil)

	c.Abort(Job{ImportID: "imp-7", Filename: "users.csv"}, "задание не принято пулом воркеров: пул остановлен")

	reason, ok := imports.failed["imp-7"]
	if !ok {
		t.Fatal("прерванное задание должно переводить импорт в failed")
	}
	if !strings.Contains(reason, "пулом воркеров") {
		t.Errorf("причина = %q, ожидалось упоминание пула воркеров", reason)
	}
	if len(imports.processing) != 0 {
		t.Error("прерванное задание не должно переходить в processing")
	}
}

func TestSchedulerDroppedJobIsAborted(t *testing.T) {
	var mu sync.Mutex
	var aborted []string

	runner := &abortRecorder{
		abort: func(job Job, reason string) {
			mu.Lock()
			aborted = append(aborted, job.ImportID)
			mu.Unlock()
		},
	}

	s, err := NewScheduler(runner, 1, 1, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("не удалось создать планировщик: %v", err)
	}
	defer s.Stop()

	// Отказ пула не должен оставлять импорт в pending
	s.dropJob(Job{ImportID: "imp-8"}, errors.New("пул остановлен"))

	mu.Lock()
	defer mu.Unlock()
	if len(aborted) != 1 || aborted[0] != "imp-8" {
		t.Fatalf("прерванные задания = %v, ожидалось [imp-8]", aborted)
	}
}

// runnerFunc — адаптер функции к интерфейсу Runner.
type runnerFunc func(ctx context.Context, job Job)

func (f runnerFunc) Run(ctx context.Context, job Job) { f(ctx, job) }

func (f runnerFunc) Abort(Job, string) {}

// abortRecorder фиксирует прерванные задания.
type abortRecorder struct {
	abort func(job Job, reason string)
}

func (r *abortRecorder) Run(context.Context, Job) {}

func (r *abortRecorder) Abort(job Job, reason string) { r.abort(job, reason) }
