// Package sqlfs stores a filesystem tree in a SQL database, one row per
// file or directory. The sqlite backend gives a single-file local store;
// the mysql backend (TiDB speaks the same protocol) gives a shared one.
// Everything goes through database/sql, so operations behave identically
// across backends.
package sqlfs

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

const (
	PluginName = "sqlfs"

	defaultTable = "agfs_files"
)

// identPattern guards the table name, which is interpolated into SQL text.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLFSPlugin stores files as rows in a SQL table.
type SQLFSPlugin struct {
	db      *sql.DB
	backend Backend
	table   string
}

// NewSQLFSPlugin creates a new SQLFS plugin
func NewSQLFSPlugin() *SQLFSPlugin {
	return &SQLFSPlugin{}
}

func (p *SQLFSPlugin) Name() string {
	return PluginName
}

func (p *SQLFSPlugin) Validate(cfg *config.Config) error {
	allowedKeys := []string{"backend", "db_path", "table", "dsn", "user", "password", "host", "port", "database",
		"enable_tls", "tls_server_name", "tls_skip_verify", "mount_path"}
	if err := config.ValidateOnlyKnownKeys(cfg, allowedKeys); err != nil {
		return err
	}

	backendType := cfg.GetString("backend", "sqlite")
	if newBackend(backendType) == nil {
		return fmt.Errorf("unsupported database backend: %s (valid options: sqlite, sqlite3, mysql, tidb)", backendType)
	}

	if table := cfg.GetString("table", defaultTable); !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name: %q (letters, digits and underscores only)", table)
	}

	if cfg.Has("port") {
		if port := cfg.GetInt64("port", 0); port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port: %q", cfg.GetString("port", ""))
		}
	}

	return nil
}

func (p *SQLFSPlugin) Initialize(cfg *config.Config) error {
	backendType := cfg.GetString("backend", "sqlite")
	backend := newBackend(backendType)
	if backend == nil {
		return fmt.Errorf("unsupported backend: %s", backendType)
	}

	table := cfg.GetString("table", defaultTable)
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name: %q", table)
	}

	db, err := backend.Initialize(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s backend: %w", backendType, err)
	}

	if _, err := db.Exec(backend.CreateTableSQL(table)); err != nil {
		db.Close()
		return fmt.Errorf("create file table %s: %w", table, err)
	}

	p.backend = backend
	p.table = table
	p.db = db

	if err := p.ensureRoot(); err != nil {
		db.Close()
		p.db = nil
		return err
	}

	log.Infof("[sqlfs] Initialized with backend: %s", backendType)
	return nil
}

// ensureRoot makes the root directory row exist so an empty database is a
// valid empty filesystem.
func (p *SQLFSPlugin) ensureRoot() error {
	var one int
	err := p.db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE path = '/'", p.table)).Scan(&one)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check root row: %w", err)
	}
	_, err = p.db.Exec(
		fmt.Sprintf("INSERT INTO %s (path, name, is_dir, mode, mod_time, data) VALUES ('/', '/', 1, ?, ?, NULL)", p.table),
		0755, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert root row: %w", err)
	}
	return nil
}

func (p *SQLFSPlugin) GetFileSystem() filesystem.FileSystem {
	return &SQLFS{plugin: p}
}

func (p *SQLFSPlugin) GetReadme() string {
	return `SQLFS Plugin - SQL-Backed File System

This plugin stores files and directories as rows in a SQL table, one row
per entry with the content in a BLOB column. The tree survives restarts and
can be shared by pointing several hosts at the same database.

BACKENDS:
  sqlite (default)  - Single-file local database, no server required
  mysql             - MySQL server
  tidb              - TiDB / TiDB Cloud (MySQL protocol)

CONFIGURATION:
  SQLite:
    backend = "sqlite"
    db_path = "sqlfs.db"

  MySQL:
    backend = "mysql"
    host = "127.0.0.1"
    port = 3306
    user = "root"
    password = "secret"
    database = "agfs"

  TiDB Cloud (TLS):
    backend = "tidb"
    host = "gateway01.us-west-2.prod.aws.tidbcloud.com"
    port = 4000
    user = "user.root"
    password = "secret"
    database = "agfs"
    enable_tls = true

  Or a full DSN:
    backend = "mysql"
    dsn = "user:password@tcp(host:4000)/database?charset=utf8mb4&parseTime=True"

  The table name defaults to "agfs_files" and can be changed with the
  "table" key. The table is created on initialize when missing.

WRITE FLAG SEMANTICS:
  APPEND     - Write at the current end of file (offset -1 does the same)
  CREATE     - Create the file if it does not exist
  EXCLUSIVE  - With CREATE, fail if the file already exists
  TRUNCATE   - Discard existing content first; combined with APPEND the
               write lands at the start of the emptied file
  SYNC       - Durability comes from the database commit; no extra flush

CHARACTERISTICS:
  - Content lives in a single BLOB per file; suited to small and medium
    files, not multi-gigabyte blobs
  - Mutations run in a transaction per operation
  - Reading at or past the end of a file returns empty data, not an error

VERSION: 1.0.0
`
}

func (p *SQLFSPlugin) GetConfigParams() []plugin.ConfigParameter {
	return []plugin.ConfigParameter{
		{
			Name:        "backend",
			Type:        "string",
			Required:    false,
			Default:     "sqlite",
			Description: "Database backend (sqlite, sqlite3, mysql, tidb)",
		},
		{
			Name:        "db_path",
			Type:        "string",
			Required:    false,
			Default:     "sqlfs.db",
			Description: "Database file path (for SQLite)",
		},
		{
			Name:        "table",
			Type:        "string",
			Required:    false,
			Default:     defaultTable,
			Description: "Name of the file table",
		},
		{
			Name:        "dsn",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Database connection string (DSN)",
		},
		{
			Name:        "user",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Database username",
		},
		{
			Name:        "password",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Database password",
		},
		{
			Name:        "host",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Database host",
		},
		{
			Name:        "port",
			Type:        "int",
			Required:    false,
			Default:     "",
			Description: "Database port",
		},
		{
			Name:        "database",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Database name",
		},
		{
			Name:        "enable_tls",
			Type:        "bool",
			Required:    false,
			Default:     "false",
			Description: "Enable TLS for database connection",
		},
		{
			Name:        "tls_server_name",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "TLS server name for verification",
		},
		{
			Name:        "tls_skip_verify",
			Type:        "bool",
			Required:    false,
			Default:     "false",
			Description: "Skip TLS certificate verification",
		},
	}
}

func (p *SQLFSPlugin) Shutdown() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// SQLFS implements the FileSystem interface over the plugin's file table.
type SQLFS struct {
	plugin *SQLFSPlugin
}

func (fs *SQLFS) db() *sql.DB {
	return fs.plugin.db
}

// q substitutes the configured table name into a query template.
func (fs *SQLFS) q(format string) string {
	return fmt.Sprintf(format, fs.plugin.table)
}

// escapeLike escapes the LIKE wildcards in a literal path prefix. '#' is
// the escape character in every query: unlike backslash, its literal
// syntax is the same in the sqlite and mysql dialects.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "#", "##")
	s = strings.ReplaceAll(s, "%", "#%")
	return strings.ReplaceAll(s, "_", "#_")
}

// childPattern matches every path strictly below p.
func childPattern(p string) string {
	if p == "/" {
		return escapeLike("/") + "%"
	}
	return escapeLike(p+"/") + "%"
}

// grandchildPattern matches every path at least two levels below p.
func grandchildPattern(p string) string {
	return childPattern(p) + "/%"
}

func (fs *SQLFS) Read(p string, offset, size int64) ([]byte, error) {
	p = filesystem.NormalizePath(p)

	var isDir bool
	var data []byte
	err := fs.db().QueryRow(fs.q("SELECT is_dir, data FROM %s WHERE path = ?"), p).Scan(&isDir, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, filesystem.NewNotFoundError("read", p)
	}
	if err != nil {
		return nil, filesystem.NewIOError(err.Error())
	}
	if isDir {
		return nil, filesystem.ErrIsDirectory
	}
	return plugin.ApplyRangeRead(data, offset, size)
}

func (fs *SQLFS) Write(p string, data []byte, offset int64, flags filesystem.WriteFlag) (int64, error) {
	p = filesystem.NormalizePath(p)
	if offset < filesystem.AppendOffset {
		return 0, filesystem.NewInvalidInputError(fmt.Sprintf("write offset %d", offset))
	}

	tx, err := fs.db().Begin()
	if err != nil {
		return 0, filesystem.NewIOError(err.Error())
	}
	defer tx.Rollback()

	var isDir bool
	var existing []byte
	err = tx.QueryRow(fs.q("SELECT is_dir, data FROM %s WHERE path = ?"), p).Scan(&isDir, &existing)
	exists := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return 0, filesystem.NewIOError(err.Error())
	case isDir:
		return 0, filesystem.ErrIsDirectory
	}

	if exists && flags.Has(filesystem.WriteFlagCreate) && flags.Has(filesystem.WriteFlagExclusive) {
		return 0, filesystem.NewAlreadyExistsError("write", p)
	}
	if !exists {
		if !flags.Has(filesystem.WriteFlagCreate) {
			return 0, filesystem.NewNotFoundError("write", p)
		}
		if err := fs.checkParentTx(tx, p); err != nil {
			return 0, err
		}
	}

	if flags.Has(filesystem.WriteFlagTruncate) {
		existing = nil
	}
	at := offset
	if flags.Has(filesystem.WriteFlagAppend) || offset == filesystem.AppendOffset {
		at = int64(len(existing))
	}
	content := existing
	// A zero-length write never extends the file, even at a far offset.
	if len(data) > 0 {
		end := at + int64(len(data))
		if gap := end - int64(len(content)); gap > 0 {
			content = append(content, make([]byte, gap)...)
		}
		copy(content[at:end], data)
	}

	now := time.Now().Unix()
	if exists {
		_, err = tx.Exec(fs.q("UPDATE %s SET data = ?, mod_time = ? WHERE path = ?"), content, now, p)
	} else {
		_, err = tx.Exec(fs.q("INSERT INTO %s (path, name, is_dir, mode, mod_time, data) VALUES (?, ?, 0, ?, ?, ?)"),
			p, path.Base(p), 0644, now, content)
	}
	if err != nil {
		return 0, filesystem.NewIOError(err.Error())
	}
	if err := tx.Commit(); err != nil {
		return 0, filesystem.NewIOError(err.Error())
	}
	return int64(len(data)), nil
}

func (fs *SQLFS) Create(p string) error {
	p = filesystem.NormalizePath(p)

	tx, err := fs.db().Begin()
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	defer tx.Rollback()

	if err := fs.checkAbsentTx(tx, "create", p); err != nil {
		return err
	}
	if err := fs.checkParentTx(tx, p); err != nil {
		return err
	}
	_, err = tx.Exec(fs.q("INSERT INTO %s (path, name, is_dir, mode, mod_time, data) VALUES (?, ?, 0, ?, ?, ?)"),
		p, path.Base(p), 0644, time.Now().Unix(), []byte{})
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if err := tx.Commit(); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *SQLFS) Mkdir(p string, mode uint32) error {
	p = filesystem.NormalizePath(p)

	tx, err := fs.db().Begin()
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	defer tx.Rollback()

	if err := fs.checkAbsentTx(tx, "mkdir", p); err != nil {
		return err
	}
	if err := fs.checkParentTx(tx, p); err != nil {
		return err
	}
	_, err = tx.Exec(fs.q("INSERT INTO %s (path, name, is_dir, mode, mod_time, data) VALUES (?, ?, 1, ?, ?, NULL)"),
		p, path.Base(p), mode, time.Now().Unix())
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if err := tx.Commit(); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *SQLFS) Remove(p string) error {
	p = filesystem.NormalizePath(p)

	tx, err := fs.db().Begin()
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	defer tx.Rollback()

	var isDir bool
	err = tx.QueryRow(fs.q("SELECT is_dir FROM %s WHERE path = ?"), p).Scan(&isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return filesystem.NewNotFoundError("remove", p)
	}
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if isDir {
		if p == "/" {
			return filesystem.NewInvalidInputError("cannot remove root directory")
		}
		var one int
		err = tx.QueryRow(fs.q("SELECT 1 FROM %s WHERE path LIKE ? ESCAPE '#' LIMIT 1"), childPattern(p)).Scan(&one)
		if err == nil {
			return filesystem.NewError(filesystem.KindOther, fmt.Sprintf("remove %s: directory not empty", p))
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return filesystem.NewIOError(err.Error())
		}
	}

	if _, err := tx.Exec(fs.q("DELETE FROM %s WHERE path = ?"), p); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if err := tx.Commit(); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *SQLFS) RemoveAll(p string) error {
	p = filesystem.NormalizePath(p)

	// Removing what is already gone succeeds, so no existence check.
	var err error
	if p == "/" {
		_, err = fs.db().Exec(fs.q("DELETE FROM %s WHERE path <> '/'"))
	} else {
		_, err = fs.db().Exec(fs.q("DELETE FROM %s WHERE path = ? OR path LIKE ? ESCAPE '#'"), p, childPattern(p))
	}
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *SQLFS) ReadDir(p string) ([]filesystem.FileInfo, error) {
	p = filesystem.NormalizePath(p)

	var isDir bool
	err := fs.db().QueryRow(fs.q("SELECT is_dir FROM %s WHERE path = ?"), p).Scan(&isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, filesystem.NewNotFoundError("readdir", p)
	}
	if err != nil {
		return nil, filesystem.NewIOError(err.Error())
	}
	if !isDir {
		return nil, filesystem.ErrNotDirectory
	}

	rows, err := fs.db().Query(
		fs.q("SELECT name, is_dir, mode, mod_time, COALESCE(LENGTH(data), 0) FROM %s WHERE path LIKE ? ESCAPE '#' AND path NOT LIKE ? ESCAPE '#' AND path <> ? ORDER BY name"),
		childPattern(p), grandchildPattern(p), p)
	if err != nil {
		return nil, filesystem.NewIOError(err.Error())
	}
	defer rows.Close()

	infos := []filesystem.FileInfo{}
	for rows.Next() {
		var (
			name    string
			dir     bool
			mode    uint32
			modTime int64
			size    int64
		)
		if err := rows.Scan(&name, &dir, &mode, &modTime, &size); err != nil {
			return nil, filesystem.NewIOError(err.Error())
		}
		infos = append(infos, fs.makeInfo(name, dir, mode, modTime, size))
	}
	if err := rows.Err(); err != nil {
		return nil, filesystem.NewIOError(err.Error())
	}
	return infos, nil
}

func (fs *SQLFS) Stat(p string) (*filesystem.FileInfo, error) {
	p = filesystem.NormalizePath(p)

	var (
		name    string
		dir     bool
		mode    uint32
		modTime int64
		size    int64
	)
	err := fs.db().QueryRow(
		fs.q("SELECT name, is_dir, mode, mod_time, COALESCE(LENGTH(data), 0) FROM %s WHERE path = ?"), p).
		Scan(&name, &dir, &mode, &modTime, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, filesystem.NewNotFoundError("stat", p)
	}
	if err != nil {
		return nil, filesystem.NewIOError(err.Error())
	}
	info := fs.makeInfo(name, dir, mode, modTime, size)
	return &info, nil
}

func (fs *SQLFS) Rename(oldPath, newPath string) error {
	oldPath = filesystem.NormalizePath(oldPath)
	newPath = filesystem.NormalizePath(newPath)
	if oldPath == "/" || newPath == "/" {
		return filesystem.NewInvalidInputError("cannot rename root directory")
	}
	if oldPath == newPath {
		return nil
	}

	tx, err := fs.db().Begin()
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	defer tx.Rollback()

	var oldIsDir bool
	err = tx.QueryRow(fs.q("SELECT is_dir FROM %s WHERE path = ?"), oldPath).Scan(&oldIsDir)
	if errors.Is(err, sql.ErrNoRows) {
		return filesystem.NewNotFoundError("rename", oldPath)
	}
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}

	if err := fs.checkParentTx(tx, newPath); err != nil {
		return err
	}

	var targetIsDir bool
	err = tx.QueryRow(fs.q("SELECT is_dir FROM %s WHERE path = ?"), newPath).Scan(&targetIsDir)
	switch {
	case err == nil:
		// Only file-over-file replacement is allowed.
		if oldIsDir || targetIsDir {
			return filesystem.NewAlreadyExistsError("rename", newPath)
		}
		if _, err := tx.Exec(fs.q("DELETE FROM %s WHERE path = ?"), newPath); err != nil {
			return filesystem.NewIOError(err.Error())
		}
	case !errors.Is(err, sql.ErrNoRows):
		return filesystem.NewIOError(err.Error())
	}

	if oldIsDir {
		if strings.HasPrefix(newPath, oldPath+"/") {
			return filesystem.NewInvalidInputError("cannot move a directory into itself")
		}

		rows, err := tx.Query(fs.q("SELECT path FROM %s WHERE path LIKE ? ESCAPE '#'"), childPattern(oldPath))
		if err != nil {
			return filesystem.NewIOError(err.Error())
		}
		var children []string
		for rows.Next() {
			var cp string
			if err := rows.Scan(&cp); err != nil {
				rows.Close()
				return filesystem.NewIOError(err.Error())
			}
			children = append(children, cp)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return filesystem.NewIOError(err.Error())
		}
		rows.Close()

		for _, cp := range children {
			if _, err := tx.Exec(fs.q("UPDATE %s SET path = ? WHERE path = ?"), newPath+cp[len(oldPath):], cp); err != nil {
				return filesystem.NewIOError(err.Error())
			}
		}
	}

	_, err = tx.Exec(fs.q("UPDATE %s SET path = ?, name = ?, mod_time = ? WHERE path = ?"),
		newPath, path.Base(newPath), time.Now().Unix(), oldPath)
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if err := tx.Commit(); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *SQLFS) Chmod(p string, mode uint32) error {
	p = filesystem.NormalizePath(p)

	tx, err := fs.db().Begin()
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow(fs.q("SELECT 1 FROM %s WHERE path = ?"), p).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return filesystem.NewNotFoundError("chmod", p)
	}
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if _, err := tx.Exec(fs.q("UPDATE %s SET mode = ? WHERE path = ?"), mode, p); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if err := tx.Commit(); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

// Truncate changes a file's size in place, zero-filling on extension.
func (fs *SQLFS) Truncate(p string, size int64) error {
	p = filesystem.NormalizePath(p)
	if size < 0 {
		return filesystem.NewInvalidInputError(fmt.Sprintf("truncate size %d", size))
	}

	tx, err := fs.db().Begin()
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	defer tx.Rollback()

	var isDir bool
	var data []byte
	err = tx.QueryRow(fs.q("SELECT is_dir, data FROM %s WHERE path = ?"), p).Scan(&isDir, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return filesystem.NewNotFoundError("truncate", p)
	}
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if isDir {
		return filesystem.ErrIsDirectory
	}

	if size <= int64(len(data)) {
		data = data[:size]
	} else {
		data = append(data, make([]byte, size-int64(len(data)))...)
	}
	if _, err := tx.Exec(fs.q("UPDATE %s SET data = ?, mod_time = ? WHERE path = ?"), data, time.Now().Unix(), p); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if err := tx.Commit(); err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *SQLFS) Open(p string) (io.ReadCloser, error) {
	data, err := fs.Read(p, 0, -1)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (fs *SQLFS) OpenWrite(p string) (io.WriteCloser, error) {
	p = filesystem.NormalizePath(p)

	var isDir bool
	err := fs.db().QueryRow(fs.q("SELECT is_dir FROM %s WHERE path = ?"), p).Scan(&isDir)
	if err == nil && isDir {
		return nil, filesystem.ErrIsDirectory
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, filesystem.NewIOError(err.Error())
	}
	return filesystem.NewBufferedWriter(p, fs.Write), nil
}

// checkParentTx verifies the parent of p exists and is a directory.
func (fs *SQLFS) checkParentTx(tx *sql.Tx, p string) error {
	parent := path.Dir(p)
	var isDir bool
	err := tx.QueryRow(fs.q("SELECT is_dir FROM %s WHERE path = ?"), parent).Scan(&isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return filesystem.NewNotFoundError("stat", parent)
	}
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	if !isDir {
		return filesystem.ErrNotDirectory
	}
	return nil
}

// checkAbsentTx fails with already-exists when p has a row.
func (fs *SQLFS) checkAbsentTx(tx *sql.Tx, op, p string) error {
	var one int
	err := tx.QueryRow(fs.q("SELECT 1 FROM %s WHERE path = ?"), p).Scan(&one)
	if err == nil {
		return filesystem.NewAlreadyExistsError(op, p)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *SQLFS) makeInfo(name string, isDir bool, mode uint32, modTime, size int64) filesystem.FileInfo {
	typ := "file"
	if isDir {
		typ = "directory"
	}
	return filesystem.FileInfo{
		Name:    name,
		Size:    size,
		Mode:    mode,
		ModTime: time.Unix(modTime, 0),
		IsDir:   isDir,
		Meta: filesystem.MetaData{
			Name:    PluginName,
			Type:    typ,
			Content: map[string]string{"backend": fs.plugin.backend.Name()},
		},
	}
}

// Ensure SQLFSPlugin implements ServicePlugin
var _ plugin.ServicePlugin = (*SQLFSPlugin)(nil)
var _ filesystem.FileSystem = (*SQLFS)(nil)
var _ filesystem.Truncater = (*SQLFS)(nil)
