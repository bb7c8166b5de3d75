// Пакет filestore — операции с payload-файлами (PDF) на диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение, удаление и проверку существования.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore — управление payload-файлами на диске.
type FileStore struct {
	// uploadDir — директория хранения payload-файлов (SD_UPLOAD_DIR)
	uploadDir string
}

// SaveResult — результат сохранения payload на диск.
type SaveResult struct {
	// StorageName — имя файла в uploadDir
	StorageName string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт новый FileStore. Создаёт директорию, если она не существует.
func New(uploadDir string) (*FileStore, error) {
	if err := os.MkdirAll(uploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", uploadDir, err)
	}

	return &FileStore{uploadDir: uploadDir}, nil
}

// Save записывает данные из reader на диск с подсчётом SHA-256 на лету.
// Формат имени файла: {slug}_{timestamp}_{uuid}.pdf
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Save(reader io.Reader, displayName string) (*SaveResult, error) {
	storageName := generateStorageName(displayName)
	fullPath := filepath.Join(fs.uploadDir, storageName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StorageName: storageName,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает payload для чтения и возвращает *os.File.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(storageName string) (*os.File, error) {
	fullPath := filepath.Join(fs.uploadDir, storageName)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", storageName)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storageName, err)
	}

	return f, nil
}

// ReadBytes читает payload целиком в память.
// Используется при зеркалировании и сверке: лимит размера загрузки
// (10 МиБ) делает это безопасным.
func (fs *FileStore) ReadBytes(storageName string) ([]byte, error) {
	f, err := fs.Open(storageName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", storageName, err)
	}
	return data, nil
}

// Delete удаляет payload с диска.
// Возвращает nil, если файл уже не существует.
func (fs *FileStore) Delete(storageName string) error {
	fullPath := filepath.Join(fs.uploadDir, storageName)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storageName, err)
	}
	return nil
}

// Exists проверяет существование payload на диске.
func (fs *FileStore) Exists(storageName string) bool {
	if storageName == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(fs.uploadDir, storageName))
	return err == nil
}

// FullPath возвращает абсолютный путь к payload на диске.
func (fs *FileStore) FullPath(storageName string) string {
	return filepath.Join(fs.uploadDir, storageName)
}

// UploadDir возвращает путь к директории загрузок.
func (fs *FileStore) UploadDir() string {
	return fs.uploadDir
}

// generateStorageName генерирует имя payload-файла на диске.
// Формат: {slug}_{timestamp}_{uuid}.pdf
// Пример: unit_1_20260825150405_a1b2c3d4.pdf
func generateStorageName(displayName string) string {
	name := Slug(displayName)
	if len(name) > 50 {
		name = name[:50]
	}

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8] // Короткий UUID для уникальности

	return fmt.Sprintf("%s_%s_%s.pdf", name, ts, uid)
}

// Slug приводит отображаемое название к безопасному машинному имени.
// Оставляет буквы, цифры, дефис и подчёркивание; пробелы заменяются
// подчёркиванием, остальное отбрасывается.
func Slug(s string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			result.WriteRune(r)
		case r >= 0x0400 && r <= 0x04FF: // Кириллица
			result.WriteRune(r)
		case r == ' ':
			result.WriteRune('_')
		}
	}
	if result.Len() == 0 {
		return "document"
	}
	return result.String()
}
