package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bigkaa/dataimport/internal/domain/model"
	"github.com/bigkaa/dataimport/internal/parser"
	"github.com/bigkaa/dataimport/internal/pipeline"
	"github.com/bigkaa/dataimport/internal/repository"
)

// fakeImportRepo — заглушка repository.ImportRepository для юнит-тестов
// сервисного слоя.
type fakeImportRepo struct {
	imports map[string]*model.Import
	byHash  map[string]string

	reserveErr error
	deleted    []string
}

func newFakeImportRepo() *fakeImportRepo {
	return &fakeImportRepo{
		imports: make(map[string]*model.Import),
		byHash:  make(map[string]string),
	}
}

func (f *fakeImportRepo) Reserve(_ context.Context, filename, contentHash string) (*model.Import, bool, error) {
	if f.reserveErr != nil {
		return nil, false, f.reserveErr
	}
	if id, ok := f.byHash[contentHash]; ok {
		return f.imports[id], true, nil
	}
	imp := &model.Import{
		ID:          "imp-" + contentHash[:8],
		Filename:    filename,
		ContentHash: contentHash,
		Status:      model.ImportStatusPending,
	}
	f.imports[imp.ID] = imp
	f.byHash[contentHash] = imp.ID
	return imp, false, nil
}

func (f *fakeImportRepo) MarkProcessing(_ context.Context, id string) error { return nil }

func (f *fakeImportRepo) Finalize(_ context.Context, id string, _ model.ImportCounts) error {
	return nil
}

func (f *fakeImportRepo) MarkFailed(_ context.Context, id, _ string) error { return nil }

func (f *fakeImportRepo) GetByID(_ context.Context, id string) (*model.Import, error) {
	imp, ok := f.imports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return imp, nil
}

func (f *fakeImportRepo) List(_ context.Context, limit, offset int) ([]*repository.ImportWithCount, int, error) {
	var items []*repository.ImportWithCount
	for _, imp := range f.imports {
		items = append(items, &repository.ImportWithCount{Import: *imp})
	}
	return items, len(f.imports), nil
}

func (f *fakeImportRepo) Delete(_ context.Context, id string) error {
	imp, ok := f.imports[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(f.byHash, imp.ContentHash)
	delete(f.imports, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeImportRepo) Stats(_ context.Context) (*repository.Stats, error) {
	return &repository.Stats{TotalImports: len(f.imports)}, nil
}

// fakeSubmitter — заглушка планировщика с управляемым исходом Submit.
type fakeSubmitter struct {
	accept bool
	jobs   []pipeline.Job
}

func (f *fakeSubmitter) Submit(job pipeline.Job) bool {
	if f.accept {
		f.jobs = append(f.jobs, job)
	}
	return f.accept
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIngestUpload(t *testing.T) {
	repo := newFakeImportRepo()
	sched := &fakeSubmitter{accept: true}
	svc := NewIngestService(repo, sched, discardLogger())

	data := []byte(`[{"name":"Иван","email":"ivan@example.com"}]`)
	res, err := svc.Upload(context.Background(), "users.json", data)
	if err != nil {
		t.Fatalf("неожиданная ошибка загрузки: %v", err)
	}
	if res.Status != model.ImportStatusPending || res.Duplicate {
		t.Errorf("результат = %+v, ожидался pending", res)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("в очередь поставлено %d заданий, ожидалось 1", len(sched.jobs))
	}
	if sched.jobs[0].Format != parser.FormatJSON {
		t.Errorf("формат задания = %q, ожидался json", sched.jobs[0].Format)
	}
	if sched.jobs[0].ImportID != res.ImportID {
		t.Errorf("id задания %q не совпадает с id импорта %q", sched.jobs[0].ImportID, res.ImportID)
	}
}

func TestIngestUploadDuplicate(t *testing.T) {
	repo := newFakeImportRepo()
	sched := &fakeSubmitter{accept: true}
	svc := NewIngestService(repo, sched, discardLogger())

	data := []byte("name,email\nИван,ivan@example.com\n")
	first, err := svc.Upload(context.Background(), "users.csv", data)
	if err != nil {
		t.Fatalf("первая загрузка: %v", err)
	}

	// То же содержимое под другим именем — дубликат
	second, err := svc.Upload(context.Background(), "copy.csv", data)
	if err != nil {
		t.Fatalf("повторная загрузка: %v", err)
	}
	if !second.Duplicate || second.Status != "duplicate" {
		t.Errorf("результат = %+v, ожидался duplicate", second)
	}
	if second.ImportID != first.ImportID {
		t.Errorf("id дубликата %q должен совпадать с исходным %q", second.ImportID, first.ImportID)
	}
	if len(sched.jobs) != 1 {
		t.Errorf("дубликат не должен порождать новое задание, заданий: %d", len(sched.jobs))
	}
}

func TestIngestUploadUnsupportedFormat(t *testing.T) {
	repo := newFakeImportRepo()
	svc := NewIngestService(repo, &fakeSubmitter{accept: true}, discardLogger())

	_, err := svc.Upload(context.Background(), "users.xml", []byte("<xml/>"))
	if !errors.Is(err, parser.ErrUnsupportedFormat) {
		t.Fatalf("ожидалась ErrUnsupportedFormat, получено %v", err)
	}
	if len(repo.imports) != 0 {
		t.Error("импорт не должен резервироваться для неподдерживаемого формата")
	}
}

func TestIngestUploadBackpressure(t *testing.T) {
	repo := newFakeImportRepo()
	sched := &fakeSubmitter{accept: false}
	svc := NewIngestService(repo, sched, discardLogger())

	data := []byte("name,email\nИван,ivan@example.com\n")
	_, err := svc.Upload(context.Background(), "users.csv", data)
	if !errors.Is(err, ErrQueueSaturated) {
		t.Fatalf("ожидалась ErrQueueSaturated, получено %v", err)
	}

	// Резервирование снято: повторная загрузка того же содержимого
	// не считается дубликатом
	if len(repo.deleted) != 1 {
		t.Fatalf("резервирование должно быть снято, удалено: %d", len(repo.deleted))
	}
	sched.accept = true
	res, err := svc.Upload(context.Background(), "users.csv", data)
	if err != nil {
		t.Fatalf("повторная загрузка после отказа: %v", err)
	}
	if res.Duplicate {
		t.Error("после снятого резервирования загрузка не должна быть дубликатом")
	}
}

func TestIngestUploadStorageUnavailable(t *testing.T) {
	repo := newFakeImportRepo()
	repo.reserveErr = errors.New("соединение с БД потеряно")
	svc := NewIngestService(repo, &fakeSubmitter{accept: true}, discardLogger())

	_, err := svc.Upload(context.Background(), "users.csv", []byte("name,email\nИван,i@e.com\n"))
	if err == nil {
		t.Fatal("ожидалась ошибка при недоступном хранилище")
	}
}
