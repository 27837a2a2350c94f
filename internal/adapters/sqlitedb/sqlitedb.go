// Package sqlitedb introspects a SQLite database to confirm that tables and
// columns named by claims exist. The database is opened read-only.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"depverify/internal/adapters"
	"depverify/internal/gateway"
)

// ID is the adapter id.
const ID = "sqlite"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a table, column or
// schema name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func readOnlyDSN(path string) string {
	return "file:" + path + "?mode=ro"
}

// Adapter answers introspect requests against one SQLite file plus
// optional attached databases.
type Adapter struct {
	path   string
	attach map[string]string

	mu sync.Mutex
	db *sql.DB
}

// New returns an adapter for the database at path. attach maps schema
// aliases to further database files opened alongside it.
func New(path string, attach map[string]string) *Adapter {
	a := &Adapter{path: path, attach: make(map[string]string, len(attach))}
	for alias, p := range attach {
		a.attach[alias] = p
	}
	return a
}

func (a *Adapter) ID() string { return ID }

func (a *Adapter) Capability() gateway.Capability { return gateway.CapabilityIntrospect }

// Close releases the database handle.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *Adapter) open(ctx context.Context) (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db, nil
	}

	if _, err := os.Stat(a.path); err != nil {
		return nil, gateway.Unavailable(fmt.Sprintf("database %s not found", a.path), err)
	}
	db, err := sql.Open("sqlite", readOnlyDSN(a.path))
	if err != nil {
		return nil, gateway.Unavailable("failed to open database", err)
	}
	// Attached schemas live on the connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA query_only=ON"); err != nil {
		db.Close()
		return nil, gateway.Unavailable("failed to configure database", err)
	}

	aliases := make([]string, 0, len(a.attach))
	for alias := range a.attach {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		if !ValidIdentifier(alias) {
			db.Close()
			return nil, gateway.Rejectedf("unsafe schema alias %q", alias)
		}
		stmt := fmt.Sprintf("ATTACH DATABASE ? AS %s", quoteIdentifier(alias))
		if _, err := db.ExecContext(ctx, stmt, readOnlyDSN(a.attach[alias])); err != nil {
			db.Close()
			return nil, gateway.Unavailable(fmt.Sprintf("failed to attach %s", alias), err)
		}
	}

	a.db = db
	return db, nil
}

// Invoke checks the claim object, "table" or "table.column". A table found
// in more than one schema carries the collision marker; a missing table or
// column is a negative observation.
func (a *Adapter) Invoke(ctx context.Context, req gateway.Request) ([]gateway.Observation, error) {
	table, column := adapters.TableColumn(req.Claim.Object)
	if !ValidIdentifier(table) {
		return nil, gateway.Rejectedf("unsafe identifier %q", table)
	}
	if column != "" && !ValidIdentifier(column) {
		return nil, gateway.Rejectedf("unsafe identifier %q", column)
	}

	db, err := a.open(ctx)
	if err != nil {
		return nil, err
	}

	schemas, err := listSchemas(ctx, db)
	if err != nil {
		return nil, gateway.Unavailable("failed to list schemas", err)
	}

	type hit struct{ schema, table string }
	var hits []hit
	for _, schema := range schemas {
		name, ok, err := findTable(ctx, db, schema, table)
		if err != nil {
			return nil, gateway.Unavailable("table lookup failed", err)
		}
		if ok {
			hits = append(hits, hit{schema, name})
		}
	}
	collision := len(hits) > 1

	var obs []gateway.Observation
	for _, h := range hits {
		if column == "" {
			count, err := rowCount(ctx, db, h.schema, h.table)
			if err != nil {
				return nil, gateway.Unavailable("row count failed", err)
			}
			obs = append(obs, gateway.Observation{
				Locator:   fmt.Sprintf("sqlite:%s.%s", h.schema, h.table),
				Snippet:   fmt.Sprintf("row_count=%d", count),
				Collision: collision,
			})
			continue
		}

		col, ok, err := findColumn(ctx, db, h.schema, h.table, column)
		if err != nil {
			return nil, gateway.Unavailable("column lookup failed", err)
		}
		if ok {
			obs = append(obs, gateway.Observation{
				Locator:   fmt.Sprintf("sqlite:%s.%s.%s", h.schema, h.table, col.name),
				Snippet:   fmt.Sprintf("column %s %s", col.name, col.typ),
				Collision: collision,
			})
		}
	}

	if len(obs) == 0 {
		return []gateway.Observation{{
			Locator:   "sqlite:" + req.Claim.Object,
			Negative:  true,
			Collision: collision,
		}}, nil
	}
	return obs, nil
}

func listSchemas(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_database_list ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name == "temp" || !ValidIdentifier(name) {
			continue
		}
		schemas = append(schemas, name)
	}
	return schemas, rows.Err()
}

func findTable(ctx context.Context, db *sql.DB, schema, table string) (string, bool, error) {
	query := fmt.Sprintf(
		"SELECT name FROM %s.sqlite_master WHERE type IN ('table', 'view') AND name = ? COLLATE NOCASE",
		quoteIdentifier(schema))
	var name string
	err := db.QueryRowContext(ctx, query, table).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

type columnInfo struct {
	name string
	typ  string
}

func findColumn(ctx context.Context, db *sql.DB, schema, table, column string) (columnInfo, bool, error) {
	var col columnInfo
	err := db.QueryRowContext(ctx,
		"SELECT name, type FROM pragma_table_info(?, ?) WHERE name = ? COLLATE NOCASE",
		table, schema, column,
	).Scan(&col.name, &col.typ)
	if err == sql.ErrNoRows {
		return col, false, nil
	}
	if err != nil {
		return col, false, err
	}
	return col, true, nil
}

func rowCount(ctx context.Context, db *sql.DB, schema, table string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT count(*) FROM %s.%s", quoteIdentifier(schema), quoteIdentifier(table))
	err := db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}
