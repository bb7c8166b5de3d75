// Пакет localstore — долговечное локальное хранилище метаданных документов.
//
// Единственный snapshot-файл в формате JSON:
//
//	{ "documents": [...], "pending_deletes": [...], "visits": N, "last_updated": "..." }
//
// Каждая мутация читает полный snapshot, применяет изменение и атомарно
// переписывает файл (temp → fsync → rename). Read-modify-write окна
// сериализуются через RWMutex: одновременные мутации из запроса и сверки
// не теряют обновления друг друга.
//
// Это последний рубеж durability: повреждённый snapshot трактуется как
// пустой с логированием, ошибки чтения никогда не роняют вызывающий код.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/studydocs/internal/domain/model"
)

// ErrNotFound — документ отсутствует в snapshot.
var ErrNotFound = errors.New("документ не найден в локальном хранилище")

// snapshot — формат snapshot-файла на диске.
type snapshot struct {
	// Documents — все документы, включая уже зеркалированные (synced).
	// Snapshot хранит полный набор, а не только очередь pending:
	// при падении PostgreSQL чтения обслуживаются отсюда целиком.
	Documents []*model.Document `json:"documents"`

	// PendingDeletes — tombstone-ы удалений, выполненных при недоступном
	// первичном хранилище. Проигрываются сверкой при восстановлении.
	PendingDeletes []string `json:"pending_deletes,omitempty"`

	// Visits — счётчик просмотров каталога документов
	Visits int64 `json:"visits"`

	// LastUpdated — время последней мутации snapshot (UTC)
	LastUpdated time.Time `json:"last_updated"`
}

// Store — долговечное локальное хранилище на основе snapshot-файла.
type Store struct {
	mu     sync.RWMutex
	path   string
	logger *slog.Logger
}

// New создаёт хранилище по указанному пути snapshot-файла.
// Если файл не существует — создаёт пустой snapshot с нулевым
// счётчиком просмотров. Повреждённый файл не является ошибкой.
func New(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With(slog.String("component", "localstore")),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию snapshot %s: %w", filepath.Dir(path), err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(&snapshot{
			Documents:   []*model.Document{},
			Visits:      0,
			LastUpdated: time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("не удалось создать пустой snapshot: %w", err)
		}
		s.logger.Info("Создан пустой snapshot", slog.String("path", path))
	}

	return s, nil
}

// load читает snapshot с диска. Ошибки чтения и повреждённый JSON
// не фатальны: возвращается пустой snapshot, проблема логируется.
// Вызывается строго под блокировкой (mu или mu.RLock).
func (s *Store) load() *snapshot {
	empty := &snapshot{Documents: []*model.Document{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("Ошибка чтения snapshot, работаем с пустым набором",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return empty
	}

	var sn snapshot
	if err := json.Unmarshal(data, &sn); err != nil {
		s.logger.Error("Snapshot повреждён, работаем с пустым набором",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return empty
	}

	if sn.Documents == nil {
		sn.Documents = []*model.Document{}
	}
	return &sn
}

// save атомарно записывает snapshot на диск.
// Паттерн: JSON → temp файл → fsync → atomic rename.
// Вызывается строго под mu.Lock.
func (s *Store) save(sn *snapshot) error {
	sn.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(sn, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации snapshot: %w", err)
	}

	tmpPath := s.path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи snapshot: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// ReadAll возвращает копии всех документов snapshot.
func (s *Store) ReadAll() []*model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn := s.load()
	result := make([]*model.Document, 0, len(sn.Documents))
	for _, d := range sn.Documents {
		d.Origin = model.OriginLocal
		result = append(result, d.Clone())
	}
	return result
}

// Get возвращает копию документа по id или nil, если он отсутствует.
func (s *Store) Get(id string) *model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.load().Documents {
		if d.ID == id {
			d.Origin = model.OriginLocal
			return d.Clone()
		}
	}
	return nil
}

// Append добавляет документ в snapshot и возвращает его копию.
// Если у документа нет ID — генерирует UUID v4; если не задана дата —
// проставляет текущую. Новый документ всегда получает статус pending.
func (s *Store) Append(doc *model.Document) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := doc.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.DateAdded.IsZero() {
		stored.DateAdded = time.Now().UTC()
	}
	if stored.SyncStatus == "" {
		stored.SyncStatus = model.SyncPending
	}

	sn := s.load()

	// ID уникален в объединении обоих хранилищ: повторный append
	// с тем же id — это перезапись (re-upload payload), не дубликат.
	replaced := false
	for i, d := range sn.Documents {
		if d.ID == stored.ID {
			sn.Documents[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		sn.Documents = append(sn.Documents, stored)
	}

	if err := s.save(sn); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// RemoveByID удаляет документ из snapshot.
// Возвращает true, если документ был найден и удалён.
func (s *Store) RemoveByID(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.load()
	found := false
	filtered := sn.Documents[:0]
	for _, d := range sn.Documents {
		if d.ID == id {
			found = true
			continue
		}
		filtered = append(filtered, d)
	}
	if !found {
		return false, nil
	}
	sn.Documents = filtered

	if err := s.save(sn); err != nil {
		return false, err
	}
	return true, nil
}

// ReplaceAll полностью заменяет набор документов snapshot.
// Счётчик просмотров и tombstone-ы сохраняются.
func (s *Store) ReplaceAll(docs []*model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.load()
	replaced := make([]*model.Document, 0, len(docs))
	for _, d := range docs {
		replaced = append(replaced, d.Clone())
	}
	sn.Documents = replaced
	return s.save(sn)
}

// Pending возвращает копии документов, ещё не зеркалированных
// в первичное хранилище.
func (s *Store) Pending() []*model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Document
	for _, d := range s.load().Documents {
		if d.IsPending() {
			d.Origin = model.OriginLocal
			result = append(result, d.Clone())
		}
	}
	return result
}

// PendingCount возвращает количество pending документов.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, d := range s.load().Documents {
		if d.IsPending() {
			count++
		}
	}
	return count
}

// MarkSynced переводит перечисленные документы в статус synced.
// Документы, добавленные после снятия снимка сверкой, в списке
// отсутствуют и остаются pending — они не теряются и не зеркалируются
// дважды.
func (s *Store) MarkSynced(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	sn := s.load()
	changed := false
	for _, d := range sn.Documents {
		if idSet[d.ID] && d.SyncStatus != model.SyncSynced {
			d.SyncStatus = model.SyncSynced
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(sn)
}

// AddPendingDelete записывает tombstone удаления для последующего
// проигрывания в первичном хранилище.
func (s *Store) AddPendingDelete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.load()
	for _, existing := range sn.PendingDeletes {
		if existing == id {
			return nil
		}
	}
	sn.PendingDeletes = append(sn.PendingDeletes, id)
	return s.save(sn)
}

// PendingDeletes возвращает копию списка tombstone-ов удалений.
func (s *Store) PendingDeletes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn := s.load()
	result := make([]string, len(sn.PendingDeletes))
	copy(result, sn.PendingDeletes)
	return result
}

// ClearPendingDeletes удаляет перечисленные tombstone-ы.
// Tombstone-ы, добавленные после снятия снимка сверкой, сохраняются.
func (s *Store) ClearPendingDeletes(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	sn := s.load()
	filtered := sn.PendingDeletes[:0]
	for _, id := range sn.PendingDeletes {
		if !idSet[id] {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) == len(sn.PendingDeletes) {
		return nil
	}
	sn.PendingDeletes = filtered
	return s.save(sn)
}

// IncrementVisits увеличивает счётчик просмотров каталога.
func (s *Store) IncrementVisits() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.load()
	sn.Visits++
	return s.save(sn)
}

// Visits возвращает текущее значение счётчика просмотров.
func (s *Store) Visits() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load().Visits
}

// Count возвращает общее количество документов в snapshot.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.load().Documents)
}

// CountByType возвращает количество документов по типам и общее количество.
func (s *Store) CountByType() (map[model.DocumentType]int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn := s.load()
	byType := make(map[model.DocumentType]int)
	for _, d := range sn.Documents {
		byType[d.Type]++
	}
	return byType, len(sn.Documents)
}

// LastUpdated возвращает время последней мутации snapshot.
func (s *Store) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load().LastUpdated
}
