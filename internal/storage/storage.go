// Package storage persists processed counter results in SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DefaultSQLiteDSN is used when the sqlite3 driver is selected without a DSN.
const DefaultSQLiteDSN = "contagem.db"

// ErrUnsupportedDriver is returned for drivers other than sqlite3 and postgres.
var ErrUnsupportedDriver = errors.New("storage: unsupported driver")

// Registro is one processed counter result.
type Registro struct {
	ValorAtual int64
	Producer   string
	Consumer   string
	Kernel     string
	Framework  string
	Mensagem   string
	// TraceID links the row to the trace that produced it. May be empty.
	TraceID      string
	RegistradoEm time.Time
}

// Repository stores Registro rows in the historico_contagem table.
type Repository struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and returns a repository owning the pool.
func Open(driver, dsn string) (*Repository, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// Writers serialize on the file lock anyway.
		db.SetMaxOpenConns(1)
	}
	return &Repository{db: db, driver: driver}, nil
}

// New wraps an existing pool. driver selects the SQL dialect.
func New(db *sql.DB, driver string) *Repository {
	if driver == "" {
		driver = DriverSQLite
	}
	return &Repository{db: db, driver: driver}
}

// Migrate creates the table when it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if r.driver == DriverPostgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS historico_contagem (
			id ` + id + `,
			valor_atual BIGINT NOT NULL,
			producer TEXT NOT NULL,
			consumer TEXT NOT NULL,
			kernel TEXT NOT NULL,
			framework TEXT NOT NULL,
			mensagem TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			registrado_em TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Save inserts reg. A zero RegistradoEm is stamped with the current time.
func (r *Repository) Save(ctx context.Context, reg Registro) error {
	if reg.RegistradoEm.IsZero() {
		reg.RegistradoEm = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO historico_contagem
			(valor_atual, producer, consumer, kernel, framework, mensagem, trace_id, registrado_em)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), reg.ValorAtual, reg.Producer, reg.Consumer, reg.Kernel, reg.Framework, reg.Mensagem, reg.TraceID, reg.RegistradoEm)
	if err != nil {
		return fmt.Errorf("storage: save: %w", err)
	}
	return nil
}

// Count returns the number of stored rows.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM historico_contagem`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count: %w", err)
	}
	return n, nil
}

// Latest returns up to limit rows, newest first.
func (r *Repository) Latest(ctx context.Context, limit int) ([]Registro, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT valor_atual, producer, consumer, kernel, framework, mensagem, trace_id, registrado_em
		FROM historico_contagem
		ORDER BY id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: latest: %w", err)
	}
	defer rows.Close()

	var out []Registro
	for rows.Next() {
		var reg Registro
		if err := rows.Scan(&reg.ValorAtual, &reg.Producer, &reg.Consumer, &reg.Kernel,
			&reg.Framework, &reg.Mensagem, &reg.TraceID, &reg.RegistradoEm); err != nil {
			return nil, fmt.Errorf("storage: scan: %w", err)
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *Repository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
