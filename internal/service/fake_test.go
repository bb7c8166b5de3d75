package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
	"github.com/arturkryukov/studydocs/internal/domain/model"
	"github.com/arturkryukov/studydocs/internal/storage/primary"
)

// errNetwork — имитация сетевой ошибки первичного хранилища.
var errNetwork = errors.New("имитация сетевой ошибки")

// fakePrimary — in-memory реализация PrimaryStore для тестов.
// Поле available имитирует доступность сети: при false любая операция
// завершается ошибкой и, как настоящий клиент, сбрасывает флаг доступности.
type fakePrimary struct {
	mu        sync.Mutex
	state     *dbstate.State
	available bool

	docs     map[string]*model.Document
	payloads map[string][]byte

	// failNextBatch — одноразовый сбой следующего UpsertBatch
	failNextBatch bool

	upsertCalls int
	batchCalls  int
	deleteCalls int
}

func newFakePrimary(state *dbstate.State) *fakePrimary {
	return &fakePrimary{
		state:    state,
		docs:     make(map[string]*model.Document),
		payloads: make(map[string][]byte),
	}
}

// setAvailable переключает имитацию доступности сети.
func (f *fakePrimary) setAvailable(available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = available
}

// fail имитирует побочный эффект настоящего клиента: сброс флага доступности.
func (f *fakePrimary) fail() error {
	f.state.SetReachable(false)
	return errNetwork
}

func (f *fakePrimary) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return f.fail()
	}
	f.state.SetReachable(true)
	return nil
}

func (f *fakePrimary) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return f.fail()
	}
	return nil
}

func (f *fakePrimary) IsReachable() bool {
	return f.state.IsReachable()
}

func (f *fakePrimary) List(_ context.Context, typeFilter model.DocumentType) ([]*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return nil, f.fail()
	}

	var result []*model.Document
	for _, d := range f.docs {
		if typeFilter != "" && d.Type != typeFilter {
			continue
		}
		copied := d.Clone()
		copied.SyncStatus = model.SyncSynced
		copied.Origin = model.OriginPrimary
		result = append(result, copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DateAdded.After(result[j].DateAdded)
	})
	return result, nil
}

func (f *fakePrimary) CountByType(_ context.Context) (map[model.DocumentType]int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return nil, 0, f.fail()
	}

	byType := make(map[model.DocumentType]int)
	for _, d := range f.docs {
		byType[d.Type]++
	}
	return byType, len(f.docs), nil
}

func (f *fakePrimary) Upsert(_ context.Context, doc *model.Document, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if !f.available {
		return f.fail()
	}

	f.docs[doc.ID] = doc.Clone()
	if payload != nil {
		f.payloads[doc.ID] = payload
	}
	return nil
}

func (f *fakePrimary) UpsertBatch(_ context.Context, docs []*model.Document, payloads map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if !f.available || f.failNextBatch {
		f.failNextBatch = false
		return f.fail()
	}

	// Всё или ничего, как транзакция настоящего клиента
	for _, doc := range docs {
		f.docs[doc.ID] = doc.Clone()
		if payloads != nil {
			if p, ok := payloads[doc.ID]; ok {
				f.payloads[doc.ID] = p
			}
		}
	}
	return nil
}

func (f *fakePrimary) Delete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if !f.available {
		return false, f.fail()
	}

	_, existed := f.docs[id]
	delete(f.docs, id)
	delete(f.payloads, id)
	return existed, nil
}

func (f *fakePrimary) GetPayload(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return nil, f.fail()
	}

	payload, ok := f.payloads[id]
	if !ok || len(payload) == 0 {
		return nil, primary.ErrNotFound
	}
	return payload, nil
}

// count возвращает количество документов в fake-хранилище.
func (f *fakePrimary) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// has проверяет присутствие документа в fake-хранилище.
func (f *fakePrimary) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok
}

// Проверка соответствия интерфейсу.
var _ PrimaryStore = (*fakePrimary)(nil)
