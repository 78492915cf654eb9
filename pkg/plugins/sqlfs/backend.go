package sqlfs

import (
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/huanghantao/agfs/pkg/plugin/config"
)

// Backend abstracts the dialect differences between the supported SQL
// drivers: connection setup and the schema statement.
type Backend interface {
	// Name returns the backend identifier used in logs and file metadata.
	Name() string

	// Initialize opens and verifies the database connection.
	Initialize(cfg *config.Config) (*sql.DB, error)

	// CreateTableSQL returns the dialect's statement for the file table.
	CreateTableSQL(table string) string
}

// newBackend maps a configured backend name to its implementation. TiDB
// speaks the MySQL protocol and shares that backend.
func newBackend(kind string) Backend {
	switch kind {
	case "sqlite", "sqlite3":
		return &sqliteBackend{}
	case "mysql", "tidb":
		return &mysqlBackend{}
	}
	return nil
}

type sqliteBackend struct{}

func (b *sqliteBackend) Name() string {
	return "sqlite3"
}

func (b *sqliteBackend) Initialize(cfg *config.Config) (*sql.DB, error) {
	dsn := cfg.GetString("db_path", "sqlfs.db")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", dsn, err)
	}
	// An in-memory sqlite database exists per connection, so the pool must
	// never open a second one.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to sqlite database %s: %w", dsn, err)
	}
	return db, nil
}

func (b *sqliteBackend) CreateTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	path     TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	is_dir   INTEGER NOT NULL DEFAULT 0,
	mode     INTEGER NOT NULL,
	mod_time INTEGER NOT NULL,
	data     BLOB
)`, table)
}

type mysqlBackend struct{}

func (b *mysqlBackend) Name() string {
	return "mysql"
}

func (b *mysqlBackend) Initialize(cfg *config.Config) (*sql.DB, error) {
	dsn, err := b.buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql database: %w", err)
	}
	// Pool limits the driver documentation recommends.
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to mysql database: %w", err)
	}
	return db, nil
}

func (b *mysqlBackend) buildDSN(cfg *config.Config) (string, error) {
	// An explicit DSN wins over the discrete connection keys.
	if dsn := cfg.GetString("dsn", ""); dsn != "" {
		return dsn, nil
	}

	host := cfg.GetString("host", "127.0.0.1")

	mc := mysql.NewConfig()
	mc.User = cfg.GetString("user", "root")
	mc.Passwd = cfg.GetString("password", "")
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", host, cfg.GetInt64("port", 3306))
	mc.DBName = cfg.GetString("database", "")
	mc.ParseTime = true
	if mc.DBName == "" {
		return "", fmt.Errorf("mysql backend requires a database name (set database or dsn)")
	}

	if cfg.GetBool("enable_tls", false) {
		tlsCfg := &tls.Config{
			ServerName:         cfg.GetString("tls_server_name", host),
			InsecureSkipVerify: cfg.GetBool("tls_skip_verify", false),
		}
		if err := mysql.RegisterTLSConfig("sqlfs", tlsCfg); err != nil {
			return "", fmt.Errorf("register mysql TLS config: %w", err)
		}
		mc.TLSConfig = "sqlfs"
	}
	return mc.FormatDSN(), nil
}

func (b *mysqlBackend) CreateTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	path     VARCHAR(512) PRIMARY KEY,
	name     VARCHAR(255) NOT NULL,
	is_dir   TINYINT(1) NOT NULL DEFAULT 0,
	mode     INT UNSIGNED NOT NULL,
	mod_time BIGINT NOT NULL,
	data     LONGBLOB
) DEFAULT CHARSET=utf8mb4`, table)
}
