// store.go — интерфейс первичного хранилища для сервисного слоя.
// Сервисы зависят от интерфейса, а не от *primary.Client: в тестах
// подставляется in-memory реализация без PostgreSQL.
package service

import (
	"context"

	"github.com/arturkryukov/studydocs/internal/domain/model"
	"github.com/arturkryukov/studydocs/internal/storage/primary"
)

// PrimaryStore — операции первичного хранилища документов.
// Контракт: любая неуспешная операция переводит флаг доступности
// в false как побочный эффект (кроме ErrNotFound при чтении payload).
type PrimaryStore interface {
	// Connect устанавливает подключение с ограниченным таймаутом
	// и применяет миграции при первом успехе.
	Connect(ctx context.Context) error
	// Ping проверяет живость подключения.
	Ping(ctx context.Context) error
	// IsReachable возвращает текущую доступность.
	IsReachable() bool

	// List возвращает метаданные документов, опционально по типу.
	List(ctx context.Context, typeFilter model.DocumentType) ([]*model.Document, error)
	// CountByType возвращает количество документов по типам и общее.
	CountByType(ctx context.Context) (map[model.DocumentType]int, int, error)
	// Upsert записывает документ, переиспользуя его id (идемпотентно).
	Upsert(ctx context.Context, doc *model.Document, payload []byte) error
	// UpsertBatch записывает пакет документов в одной транзакции.
	UpsertBatch(ctx context.Context, docs []*model.Document, payloads map[string][]byte) error
	// Delete удаляет документ; (false, nil) если записи не было.
	Delete(ctx context.Context, id string) (bool, error)
	// GetPayload читает payload документа.
	GetPayload(ctx context.Context, id string) ([]byte, error)
}

// Проверка соответствия клиента PostgreSQL интерфейсу.
var _ PrimaryStore = (*primary.Client)(nil)
