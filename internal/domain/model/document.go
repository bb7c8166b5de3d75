// Пакет model — доменные модели studydocs.
// Document — единая структура метаданных учебного документа, используется
// как in-memory представление, формат записи snapshot-файла и строка
// таблицы documents в PostgreSQL.
package model

import (
	"time"
)

// DocumentType — тип учебного документа.
type DocumentType string

const (
	// TypeMaterial — обычный учебный материал
	TypeMaterial DocumentType = "material"
	// TypeImpMaterial — важный материал (выделяется в интерфейсе)
	TypeImpMaterial DocumentType = "imp-material"
)

// Valid проверяет, что тип документа входит в допустимый набор.
func (t DocumentType) Valid() bool {
	return t == TypeMaterial || t == TypeImpMaterial
}

// SyncStatus — статус зеркалирования документа в первичное хранилище.
// Имеет смысл только для записей локального snapshot:
// присутствие записи в первичном хранилище означает synced.
type SyncStatus string

const (
	// SyncPending — документ записан локально, но ещё не отражён в PostgreSQL
	SyncPending SyncStatus = "pending"
	// SyncSynced — документ присутствует в обоих хранилищах
	SyncSynced SyncStatus = "synced"
)

// Origin — источник записи при чтении или сверке.
// Транзитный тег, не персистентный: помогает сверке и диагностике
// различать, откуда пришла запись.
type Origin string

const (
	// OriginLocal — запись прочитана из локального snapshot
	OriginLocal Origin = "local"
	// OriginPrimary — запись прочитана из PostgreSQL
	OriginPrimary Origin = "primary"
	// OriginBoth — запись подтверждена в обоих хранилищах
	OriginBoth Origin = "both"
)

// DefaultColor — цвет документа по умолчанию, если не задан при загрузке.
const DefaultColor = "#4a6fa5"

// Document — метаданные учебного документа.
// Бинарное содержимое (PDF) хранится отдельно: на диске под Filename
// и инлайн в столбце pdf_data первичного хранилища.
type Document struct {
	// ID — уникальный идентификатор документа (UUID v4).
	// Генерируется приложением при создании, а не базой данных:
	// один и тот же ID используется в обоих хранилищах.
	ID string `json:"id"`

	// Name — машинное имя документа (slug от DisplayName)
	Name string `json:"name"`

	// DisplayName — отображаемое название (обязательно при создании)
	DisplayName string `json:"display_name"`

	// Filename — имя файла payload на диске (относительно директории загрузок)
	Filename string `json:"filename"`

	// Path — логический ключ получения payload: /api/pdf/{id}
	Path string `json:"path"`

	// Type — тип документа (обязательно при создании)
	Type DocumentType `json:"type"`

	// Icon — идентификатор иконки (обязательно при создании)
	Icon string `json:"icon"`

	// Color — цвет карточки документа (опционально, DefaultColor по умолчанию)
	Color string `json:"color"`

	// Size — размер payload в байтах
	Size int64 `json:"size"`

	// Checksum — SHA-256 хэш payload
	Checksum string `json:"checksum"`

	// AddedBy — идентификатор загрузившего (sub из JWT или "anonymous")
	AddedBy string `json:"added_by"`

	// DateAdded — дата создания (UTC). Устанавливается один раз, неизменяемо.
	DateAdded time.Time `json:"date_added"`

	// SyncStatus — pending/synced, только для локального snapshot
	SyncStatus SyncStatus `json:"sync_status"`

	// HasFile — признак доступности payload. Вычисляется при чтении,
	// в snapshot сохраняется как есть.
	HasFile bool `json:"has_file"`

	// Origin — источник записи, заполняется при чтении. Не сериализуется.
	Origin Origin `json:"-"`
}

// IsPending возвращает true, если документ ещё не зеркалирован
// в первичное хранилище.
func (d *Document) IsPending() bool {
	return d.SyncStatus != SyncSynced
}

// Clone возвращает независимую копию документа.
// Используется хранилищами, чтобы избежать data race при внешних изменениях.
func (d *Document) Clone() *Document {
	copied := *d
	return &copied
}
