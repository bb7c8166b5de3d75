// Пакет primary — клиент первичного хранилища документов (PostgreSQL).
//
// Оборачивает pgxpool: подключение с ограниченным таймаутом, миграции
// схемы (golang-migrate) при первом успешном подключении и CRUD-операции
// над таблицей documents. Любая неуспешная операция (таймаут, сетевая
// ошибка) как побочный эффект переводит общий флаг доступности в false,
// чтобы фасад немедленно ушёл на fallback, не дожидаясь следующего тика
// монитора.
//
// Upsert-ы выполняются как INSERT ... ON CONFLICT (id) DO UPDATE:
// повторное зеркалирование с тем же id — перезапись, а не дубликат.
// Именно это делает сверку идемпотентной.
package primary

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // драйвер pgx5 для миграций
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arturkryukov/studydocs/internal/config"
	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
	"github.com/arturkryukov/studydocs/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ошибки клиента первичного хранилища.
var (
	// ErrUnavailable — пул соединений ещё не создан или подключение не установлено.
	ErrUnavailable = errors.New("первичное хранилище недоступно")
	// ErrNotFound — запись отсутствует в таблице documents.
	ErrNotFound = errors.New("документ не найден в первичном хранилище")
)

// documentColumns — список столбцов таблицы documents для SELECT-запросов
// метаданных (payload не включается). DRY: одно место для всех SELECT'ов.
const documentColumns = `id, name, display_name, filename, path, doc_type,
	icon, color, size, checksum, added_by, date_added`

// Client — клиент первичного хранилища.
type Client struct {
	cfg    *config.Config
	state  *dbstate.State
	logger *slog.Logger

	// mu защищает pool и migrated при переподключении
	mu       sync.Mutex
	pool     *pgxpool.Pool
	migrated bool
}

// New создаёт клиент первичного хранилища. Подключение не выполняется:
// вызовите Connect.
func New(cfg *config.Config, state *dbstate.State, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		state:  state,
		logger: logger.With(slog.String("component", "primary")),
	}
}

// Connect устанавливает подключение к PostgreSQL с ограниченным таймаутом.
// При первом успешном подключении применяет миграции схемы.
// Неуспех переводит флаг доступности в false и возвращает ошибку —
// никогда не паникует.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil {
		poolCfg, err := pgxpool.ParseConfig(c.cfg.DatabaseDSN())
		if err != nil {
			c.state.SetReachable(false)
			return fmt.Errorf("ошибка парсинга DSN: %w", err)
		}
		poolCfg.ConnConfig.ConnectTimeout = c.cfg.DBConnectTimeout

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			c.state.SetReachable(false)
			return fmt.Errorf("ошибка создания пула подключений: %w", err)
		}
		c.pool = pool
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.DBConnectTimeout)
	defer cancel()

	if err := c.pool.Ping(pingCtx); err != nil {
		c.state.SetReachable(false)
		return fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	if !c.migrated {
		if err := c.migrate(); err != nil {
			c.state.SetReachable(false)
			return fmt.Errorf("ошибка применения миграций: %w", err)
		}
		c.migrated = true
	}

	c.state.SetReachable(true)
	c.logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", c.cfg.DBHost),
		slog.Int("port", c.cfg.DBPort),
		slog.String("database", c.cfg.DBName),
	)
	return nil
}

// migrate применяет SQL-миграции из embedded FS.
// Использует golang-migrate с драйвером pgx5. Вызывается под c.mu.
func (c *Client) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, c.cfg.MigrateDSN())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	version, dirty, _ := m.Version()
	c.logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// IsReachable возвращает текущую доступность первичного хранилища.
func (c *Client) IsReachable() bool {
	return c.state.IsReachable()
}

// Ping проверяет подключение с ограниченным таймаутом.
// Неуспех переводит флаг доступности в false.
func (c *Client) Ping(ctx context.Context) error {
	pool := c.getPool()
	if pool == nil {
		c.state.SetReachable(false)
		return ErrUnavailable
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.DBConnectTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		c.state.SetReachable(false)
		return fmt.Errorf("ping PostgreSQL: %w", err)
	}
	return nil
}

// getPool возвращает текущий пул соединений (или nil до первого Connect).
func (c *Client) getPool() *pgxpool.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// Pool возвращает пул соединений для внешних интеграций (dephealth).
// Может вернуть nil, если Connect ещё не вызывался.
func (c *Client) Pool() *pgxpool.Pool {
	return c.getPool()
}

// fail фиксирует неуспех операции: флаг доступности в false + обёртка ошибки.
func (c *Client) fail(op string, err error) error {
	c.state.SetReachable(false)
	c.logger.Warn("Операция первичного хранилища не выполнена",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s: %w", op, err)
}

// opCtx возвращает контекст операции с таймаутом запроса.
func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.DBQueryTimeout)
}

// List возвращает метаданные документов, опционально отфильтрованные
// по типу (пустой фильтр = все). Payload не читается.
func (c *Client) List(ctx context.Context, typeFilter model.DocumentType) ([]*model.Document, error) {
	pool := c.getPool()
	if pool == nil {
		return nil, ErrUnavailable
	}

	opCtx, cancel := c.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM documents`, documentColumns)
	args := []any{}
	if typeFilter != "" {
		query += ` WHERE doc_type = $1`
		args = append(args, string(typeFilter))
	}
	query += ` ORDER BY date_added DESC`

	rows, err := pool.Query(opCtx, query, args...)
	if err != nil {
		return nil, c.fail("выборка документов", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d := &model.Document{}
		if err := rows.Scan(
			&d.ID, &d.Name, &d.DisplayName, &d.Filename, &d.Path, &d.Type,
			&d.Icon, &d.Color, &d.Size, &d.Checksum, &d.AddedBy, &d.DateAdded,
		); err != nil {
			return nil, c.fail("сканирование документа", err)
		}
		d.SyncStatus = model.SyncSynced
		d.Origin = model.OriginPrimary
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("итерация результатов", err)
	}

	return result, nil
}

// CountByType возвращает количество документов по типам и общее количество.
func (c *Client) CountByType(ctx context.Context) (map[model.DocumentType]int, int, error) {
	pool := c.getPool()
	if pool == nil {
		return nil, 0, ErrUnavailable
	}

	opCtx, cancel := c.opCtx(ctx)
	defer cancel()

	rows, err := pool.Query(opCtx, `SELECT doc_type, COUNT(*) FROM documents GROUP BY doc_type`)
	if err != nil {
		return nil, 0, c.fail("подсчёт документов", err)
	}
	defer rows.Close()

	byType := make(map[model.DocumentType]int)
	total := 0
	for rows.Next() {
		var docType string
		var count int
		if err := rows.Scan(&docType, &count); err != nil {
			return nil, 0, c.fail("сканирование подсчёта", err)
		}
		byType[model.DocumentType(docType)] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, 0, c.fail("итерация подсчёта", err)
	}

	return byType, total, nil
}

// upsertSQL — идемпотентная вставка документа: повторная запись
// с тем же id обновляет существующую строку.
const upsertSQL = `
	INSERT INTO documents (id, name, display_name, filename, path, doc_type,
		icon, color, size, checksum, added_by, date_added, pdf_data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		display_name = EXCLUDED.display_name,
		filename = EXCLUDED.filename,
		path = EXCLUDED.path,
		doc_type = EXCLUDED.doc_type,
		icon = EXCLUDED.icon,
		color = EXCLUDED.color,
		size = EXCLUDED.size,
		checksum = EXCLUDED.checksum,
		added_by = EXCLUDED.added_by,
		date_added = EXCLUDED.date_added,
		pdf_data = COALESCE(EXCLUDED.pdf_data, documents.pdf_data)`

// Upsert записывает документ в первичное хранилище, переиспользуя его id.
// payload может быть nil — тогда существующий pdf_data сохраняется.
func (c *Client) Upsert(ctx context.Context, doc *model.Document, payload []byte) error {
	pool := c.getPool()
	if pool == nil {
		return ErrUnavailable
	}

	opCtx, cancel := c.opCtx(ctx)
	defer cancel()

	_, err := pool.Exec(opCtx, upsertSQL,
		doc.ID, doc.Name, doc.DisplayName, doc.Filename, doc.Path, string(doc.Type),
		doc.Icon, doc.Color, doc.Size, doc.Checksum, doc.AddedBy, doc.DateAdded, payload,
	)
	if err != nil {
		return c.fail("запись документа", err)
	}
	return nil
}

// UpsertBatch записывает пакет документов в одной транзакции.
// Либо весь пакет фиксируется, либо ничего: частичный успех невозможен,
// что упрощает семантику сверки.
func (c *Client) UpsertBatch(ctx context.Context, docs []*model.Document, payloads map[string][]byte) error {
	if len(docs) == 0 {
		return nil
	}

	pool := c.getPool()
	if pool == nil {
		return ErrUnavailable
	}

	// Таймаут пакета пропорционален размеру, но не меньше таймаута запроса
	batchTimeout := c.cfg.DBQueryTimeout * time.Duration(len(docs))
	if batchTimeout < c.cfg.DBQueryTimeout {
		batchTimeout = c.cfg.DBQueryTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	tx, err := pool.Begin(opCtx)
	if err != nil {
		return c.fail("открытие транзакции", err)
	}
	defer tx.Rollback(opCtx) //nolint:errcheck // rollback после commit — no-op

	for _, doc := range docs {
		var payload []byte
		if payloads != nil {
			payload = payloads[doc.ID]
		}
		if _, err := tx.Exec(opCtx, upsertSQL,
			doc.ID, doc.Name, doc.DisplayName, doc.Filename, doc.Path, string(doc.Type),
			doc.Icon, doc.Color, doc.Size, doc.Checksum, doc.AddedBy, doc.DateAdded, payload,
		); err != nil {
			return c.fail("пакетная запись документов", err)
		}
	}

	if err := tx.Commit(opCtx); err != nil {
		return c.fail("фиксация транзакции", err)
	}
	return nil
}

// Delete удаляет документ из первичного хранилища.
// Возвращает (false, nil), если записи не было — это не ошибка:
// проигрывание tombstone-а для никогда не зеркалированного id легально.
func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	pool := c.getPool()
	if pool == nil {
		return false, ErrUnavailable
	}

	opCtx, cancel := c.opCtx(ctx)
	defer cancel()

	tag, err := pool.Exec(opCtx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return false, c.fail("удаление документа", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetPayload читает payload документа из столбца pdf_data.
// Возвращает ErrNotFound, если записи нет или payload пуст —
// без сброса флага доступности (хранилище ответило, данных просто нет).
func (c *Client) GetPayload(ctx context.Context, id string) ([]byte, error) {
	pool := c.getPool()
	if pool == nil {
		return nil, ErrUnavailable
	}

	opCtx, cancel := c.opCtx(ctx)
	defer cancel()

	var payload []byte
	err := pool.QueryRow(opCtx, `SELECT pdf_data FROM documents WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, c.fail("чтение payload", err)
	}
	if len(payload) == 0 {
		return nil, ErrNotFound
	}
	return payload, nil
}

// Close освобождает пул соединений.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}
