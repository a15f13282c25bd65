package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/o2o/erpsync/internal/domain/numbering"
	"github.com/o2o/erpsync/internal/infrastructure/persistence/models"
)

// GormInvoiceCounterRepository implements numbering.CounterRepository.
//
// Every allocation is a single UPDATE that bumps last_number and yields the new
// value in the same statement, so concurrent callers on any number of hosts
// never observe the same number. On MySQL the value comes back through
// LAST_INSERT_ID(expr); Postgres and SQLite use RETURNING.
type GormInvoiceCounterRepository struct {
	db    *gorm.DB
	table string
	now   func() time.Time
}

// CounterRepositoryOption configures a GormInvoiceCounterRepository
type CounterRepositoryOption func(*GormInvoiceCounterRepository)

// WithCounterTable overrides the counter table name. The name must already be
// validated as a plain identifier.
func WithCounterTable(table string) CounterRepositoryOption {
	return func(r *GormInvoiceCounterRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// WithCounterClock overrides the clock used for created_at and updated_at
func WithCounterClock(now func() time.Time) CounterRepositoryOption {
	return func(r *GormInvoiceCounterRepository) {
		r.now = now
	}
}

// NewGormInvoiceCounterRepository creates a new GormInvoiceCounterRepository
func NewGormInvoiceCounterRepository(db *gorm.DB, opts ...CounterRepositoryOption) *GormInvoiceCounterRepository {
	r := &GormInvoiceCounterRepository{
		db:    db,
		table: models.InvoiceCounterModel{}.TableName(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithTx returns a repository bound to tx
func (r *GormInvoiceCounterRepository) WithTx(tx *gorm.DB) *GormInvoiceCounterRepository {
	cp := *r
	cp.db = tx
	return &cp
}

// Table returns the counter table name
func (r *GormInvoiceCounterRepository) Table() string {
	return r.table
}

// EnsureSchema creates the counter table if it does not exist
func (r *GormInvoiceCounterRepository) EnsureSchema(ctx context.Context) error {
	ddl := counterTableDDL(r.dialect(), r.quote(r.table))
	if err := r.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return classifyStoreError("create counter table", err)
	}
	return nil
}

// EnsureCounter inserts the row for key unless it exists
func (r *GormInvoiceCounterRepository) EnsureCounter(ctx context.Context, key numbering.CounterKey, seed int64) (bool, error) {
	if seed < 0 {
		seed = 0
	}
	now := r.now().UTC()

	var stmt string
	insert := fmt.Sprintf(
		"INSERT INTO %s (prefix, financial_year, last_number, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		r.quote(r.table),
	)
	if r.dialect() == "mysql" {
		stmt = insert + " ON DUPLICATE KEY UPDATE last_number = last_number"
	} else {
		stmt = insert + " ON CONFLICT (prefix, financial_year) DO NOTHING"
	}

	res := r.db.WithContext(ctx).Exec(stmt, key.Prefix, key.FinancialYear.String(), seed, now, now)
	if res.Error != nil {
		return false, classifyStoreError("ensure counter row", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Increment atomically adds one to last_number and returns the new value
func (r *GormInvoiceCounterRepository) Increment(ctx context.Context, key numbering.CounterKey) (int64, bool, error) {
	now := r.now().UTC()

	if r.dialect() == "mysql" {
		return r.incrementMySQL(ctx, key, now)
	}

	stmt := fmt.Sprintf(
		"UPDATE %s SET last_number = last_number + 1, updated_at = ? WHERE prefix = ? AND financial_year = ? RETURNING last_number",
		r.quote(r.table),
	)
	var value int64
	err := r.db.WithContext(ctx).Raw(stmt, now, key.Prefix, key.FinancialYear.String()).Row().Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classifyStoreError("increment counter", err)
	}
	return value, true, nil
}

// incrementMySQL bumps the row with LAST_INSERT_ID(expr) and reads the value
// back on the same connection, since LAST_INSERT_ID is per session.
func (r *GormInvoiceCounterRepository) incrementMySQL(ctx context.Context, key numbering.CounterKey, now time.Time) (int64, bool, error) {
	stmt := fmt.Sprintf(
		"UPDATE %s SET last_number = LAST_INSERT_ID(last_number + 1), updated_at = ? WHERE prefix = ? AND financial_year = ?",
		r.quote(r.table),
	)

	var (
		value int64
		found bool
	)
	run := func(conn *gorm.DB) error {
		res := conn.Exec(stmt, now, key.Prefix, key.FinancialYear.String())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := conn.Raw("SELECT LAST_INSERT_ID()").Row().Scan(&value); err != nil {
			return err
		}
		found = true
		return nil
	}

	db := r.db.WithContext(ctx)
	var err error
	if _, inTx := db.Statement.ConnPool.(gorm.TxCommitter); inTx {
		err = run(db)
	} else {
		err = db.Connection(run)
	}
	if err != nil {
		return 0, false, classifyStoreError("increment counter", err)
	}
	return value, found, nil
}

// Get returns the counter for key. A counter table that was never created
// holds no counters.
func (r *GormInvoiceCounterRepository) Get(ctx context.Context, key numbering.CounterKey) (*numbering.Counter, error) {
	var m models.InvoiceCounterModel
	err := r.db.WithContext(ctx).
		Table(r.table).
		Where("prefix = ? AND financial_year = ?", key.Prefix, key.FinancialYear.String()).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err != nil && isMissingTable(err)) {
		return nil, fmt.Errorf("%w: %s", numbering.ErrCounterNotFound, key)
	}
	if err != nil {
		return nil, classifyStoreError("get counter", err)
	}
	c := m.ToDomain()
	return &c, nil
}

// List returns all counters ordered by prefix then financial year
func (r *GormInvoiceCounterRepository) List(ctx context.Context, prefix string) ([]numbering.Counter, error) {
	var rows []models.InvoiceCounterModel
	query := r.db.WithContext(ctx).Table(r.table)
	if prefix != "" {
		query = query.Where("prefix = ?", prefix)
	}
	if err := query.Order("prefix ASC, financial_year ASC").Find(&rows).Error; err != nil {
		if isMissingTable(err) {
			return []numbering.Counter{}, nil
		}
		return nil, classifyStoreError("list counters", err)
	}
	counters := make([]numbering.Counter, len(rows))
	for i := range rows {
		counters[i] = rows[i].ToDomain()
	}
	return counters, nil
}

func (r *GormInvoiceCounterRepository) dialect() string {
	return r.db.Dialector.Name()
}

func (r *GormInvoiceCounterRepository) quote(name string) string {
	return quoteIdent(r.db, name)
}

func quoteIdent(db *gorm.DB, name string) string {
	var b strings.Builder
	db.Dialector.QuoteTo(&b, name)
	return b.String()
}

func counterTableDDL(dialect, table string) string {
	switch dialect {
	case "mysql":
		return "CREATE TABLE IF NOT EXISTS " + table + ` (
	prefix VARCHAR(32) NOT NULL,
	financial_year CHAR(5) NOT NULL,
	last_number BIGINT UNSIGNED NOT NULL DEFAULT 0,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	PRIMARY KEY (prefix, financial_year)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	case "postgres":
		return "CREATE TABLE IF NOT EXISTS " + table + ` (
	prefix VARCHAR(32) NOT NULL,
	financial_year CHAR(5) NOT NULL,
	last_number BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (prefix, financial_year)
)`
	default:
		return "CREATE TABLE IF NOT EXISTS " + table + ` (
	prefix TEXT NOT NULL,
	financial_year TEXT NOT NULL,
	last_number INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (prefix, financial_year)
)`
	}
}
