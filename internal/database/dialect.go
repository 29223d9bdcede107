package database

import (
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// ErrUnsupportedBackend is returned for a backend name that has no driver.
var ErrUnsupportedBackend = errors.New("unsupported database backend")

// DatabaseType identifies a storage backend.
type DatabaseType string

const (
	SQLite     DatabaseType = "sqlite"
	MySQL      DatabaseType = "mysql"
	MariaDB    DatabaseType = "mariadb"
	PostgreSQL DatabaseType = "postgresql"
	Mongo      DatabaseType = "mongo"
)

// ParseDatabaseType maps a configured backend name to a DatabaseType.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3", "":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "mariadb":
		return MariaDB, nil
	case "postgresql", "postgres":
		return PostgreSQL, nil
	case "mongo", "mongodb":
		return Mongo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
}

// IsSQL reports whether t is served through database/sql.
func (t DatabaseType) IsSQL() bool {
	_, ok := dialects[t]
	return ok
}

type placeholderStyle int

const (
	questionMark placeholderStyle = iota
	dollar
)

type upsertStyle int

const (
	onConflict upsertStyle = iota
	onDuplicateKey
)

// Dialect describes everything that differs between SQL backends. Only
// statement text varies; binding and scanning are shared.
type Dialect struct {
	Type        DatabaseType
	Driver      string
	Local       bool
	DefaultPort int
	TablesQuery string

	placeholder placeholderStyle
	upsert      upsertStyle
}

var dialects = map[DatabaseType]Dialect{
	SQLite: {
		Type:        SQLite,
		Driver:      "sqlite",
		Local:       true,
		TablesQuery: `SELECT name FROM sqlite_master WHERE type = 'table'`,
		placeholder: questionMark,
		upsert:      onConflict,
	},
	MySQL: {
		Type:        MySQL,
		Driver:      "mysql",
		DefaultPort: 3306,
		TablesQuery: `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`,
		placeholder: questionMark,
		upsert:      onDuplicateKey,
	},
	MariaDB: {
		Type:        MariaDB,
		Driver:      "mysql",
		DefaultPort: 3306,
		TablesQuery: `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`,
		placeholder: questionMark,
		upsert:      onDuplicateKey,
	},
	PostgreSQL: {
		Type:        PostgreSQL,
		Driver:      "postgres",
		DefaultPort: 5432,
		TablesQuery: `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`,
		placeholder: dollar,
		upsert:      onConflict,
	},
}

// DialectFor returns the SQL dialect of t.
func DialectFor(t DatabaseType) (Dialect, error) {
	d, ok := dialects[t]
	if !ok {
		return Dialect{}, fmt.Errorf("%w: %q has no sql dialect", ErrUnsupportedBackend, t)
	}
	return d, nil
}

// Placeholders returns n comma separated bind markers starting at position start (1-based).
func (d Dialect) Placeholders(start, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = d.Placeholder(start + i)
	}
	return strings.Join(marks, ", ")
}

// Placeholder returns the bind marker for position i (1-based).
func (d Dialect) Placeholder(i int) string {
	if d.placeholder == dollar {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// Rebind rewrites '?' markers in query for the dialect.
func (d Dialect) Rebind(query string) string {
	if d.placeholder == questionMark {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert builds a plain INSERT for cols.
func (d Dialect) Insert(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), d.Placeholders(1, len(cols)))
}

// Upsert builds an insert-or-replace keyed on key. Every column not in key is overwritten.
func (d Dialect) Upsert(table string, cols, key []string) string {
	var sets []string
	for _, c := range cols {
		if contains(key, c) {
			continue
		}
		if d.upsert == onDuplicateKey {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	insert := d.Insert(table, cols)
	if d.upsert == onDuplicateKey {
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return insert + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(key, ", "), strings.Join(sets, ", "))
}

// InsertIgnore builds an insert that silently skips rows whose key already exists.
func (d Dialect) InsertIgnore(table string, cols, key []string) string {
	if d.upsert == onDuplicateKey {
		return "INSERT IGNORE" + strings.TrimPrefix(d.Insert(table, cols), "INSERT")
	}
	return d.Insert(table, cols) + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(key, ", "))
}

// Update builds "UPDATE table SET a = ?, b = ? WHERE k = ?".
func (d Dialect) Update(table string, cols []string, where ...string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", c, d.Placeholder(i+1))
	}
	return fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), d.where(len(cols)+1, where))
}

// Delete builds "DELETE FROM table WHERE ...".
func (d Dialect) Delete(table string, where ...string) string {
	return fmt.Sprintf("DELETE FROM %s%s", table, d.where(1, where))
}

// Select builds "SELECT cols FROM table WHERE ...".
func (d Dialect) Select(table string, cols []string, where ...string) string {
	return fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), table, d.where(1, where))
}

func (d Dialect) where(start int, cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = fmt.Sprintf("%s = %s", c, d.Placeholder(start+i))
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// SchemaStatements loads the DDL script for the dialect, split into statements.
func (d Dialect) SchemaStatements() ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + string(d.Type) + "_schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for %s: %w", d.Type, err)
	}
	var stmts []string
	for _, s := range strings.Split(string(raw), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
