// Пакет dbstate — общее состояние доступности первичного хранилища.
//
// Единственный объект состояния передаётся клиенту PostgreSQL, монитору
// соединения и фасаду. Все изменения проходят через методы-переходы,
// чтение — через аккессоры. Никаких скрытых глобальных флагов.
package dbstate

import (
	"sync"
	"time"
)

// State — process-wide состояние доступности первичного хранилища.
// Потокобезопасен: пишется клиентом, монитором и сверкой, читается
// обработчиками запросов.
type State struct {
	mu        sync.RWMutex
	reachable bool
	lastCheck time.Time
	lastSync  time.Time
}

// New создаёт состояние. Первичное хранилище изначально считается
// недоступным до первого успешного подключения.
func New() *State {
	return &State{}
}

// SetReachable фиксирует результат последней проверки доступности.
func (s *State) SetReachable(reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = reachable
	s.lastCheck = time.Now().UTC()
}

// IsReachable возвращает текущую доступность первичного хранилища.
func (s *State) IsReachable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reachable
}

// MarkSynced фиксирует время последней успешной сверки.
func (s *State) MarkSynced(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
}

// LastSync возвращает время последней успешной сверки.
// Второе значение false, если сверка ещё не выполнялась.
func (s *State) LastSync() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync, !s.lastSync.IsZero()
}

// LastCheck возвращает время последней проверки доступности.
func (s *State) LastCheck() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCheck
}
