package builtin

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB is the handle returned by db.connect.
type DB struct {
	*sql.DB
	Driver string
}

// Connect opens a database. An empty driver is inferred from the url
// scheme; sqlite:/// urls are accepted for sqlite files.
func Connect(driver, url string) (*DB, error) {
	if driver == "" {
		switch {
		case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
			driver = DriverPostgres
		default:
			driver = DriverSQLite
		}
	}
	switch driver {
	case DriverSQLite, "sqlite3":
		driver = DriverSQLite
		url = strings.TrimPrefix(url, "sqlite:///")
	case DriverPostgres, "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return &DB{DB: db, Driver: driver}, nil
}

// bindNamed rewrites :name placeholders into the driver's positional form
// and returns the matching arguments. Text inside quotes and :: casts are
// left alone.
func (d *DB) bindNamed(query string, values map[string]any) (string, []any, error) {
	if len(values) == 0 {
		return query, nil, nil
	}
	var (
		b     strings.Builder
		args  []any
		index = map[string]int{}
		quote byte
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
			continue
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
			continue
		case c == ':' && i+1 < len(query) && query[i+1] == ':':
			b.WriteString("::")
			i++
			continue
		case c != ':' || i+1 == len(query) || !isIdentStart(query[i+1]):
			b.WriteByte(c)
			continue
		}

		j := i + 1
		for j < len(query) && isIdent(query[j]) {
			j++
		}
		name := query[i+1 : j]
		v, ok := values[name]
		if !ok {
			return "", nil, fmt.Errorf("missing value for :%s", name)
		}
		if d.Driver == DriverPostgres {
			n, seen := index[name]
			if !seen {
				args = append(args, v)
				n = len(args)
				index[name] = n
			}
			b.WriteString("$" + strconv.Itoa(n))
		} else {
			args = append(args, v)
			b.WriteByte('?')
		}
		i = j - 1
	}
	return b.String(), args, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Exec runs a statement with named values.
func (d *DB) Exec(ctx context.Context, query string, values map[string]any) (sql.Result, error) {
	q, args, err := d.bindNamed(query, values)
	if err != nil {
		return nil, err
	}
	return d.ExecContext(ctx, q, args...)
}

// Query runs a query with named values and returns every row as a mapping
// of column name to value.
func (d *DB) Query(ctx context.Context, query string, values map[string]any) ([]map[string]any, error) {
	q, args, err := d.bindNamed(query, values)
	if err != nil {
		return nil, err
	}
	rows, err := d.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = cell(cells[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// cell maps driver values onto playbook values.
func cell(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		return int(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return v
}

type connectArgs struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type queryArgs struct {
	Engine     any            `mapstructure:"engine"`
	SQL        string         `mapstructure:"sql"`
	Values     map[string]any `mapstructure:"values"`
	ReturnType string         `mapstructure:"return_type"`
}

func (a queryArgs) db() (*DB, error) {
	db, ok := a.Engine.(*DB)
	if !ok {
		return nil, fmt.Errorf("engine is not a database handle: %T", a.Engine)
	}
	return db, nil
}

func dbActions() map[string]action.Action {
	connect := schema.ActionSpec{
		Description: "Open a database connection.",
		Arguments: []schema.ArgSpec{
			{Name: "url", Type: "string", Description: "Database connection URL or DSN.", Required: true},
			{Name: "driver", Type: "string", Description: "sqlite or postgres. Inferred from the url when omitted."},
		},
	}
	connectFn := func(_ context.Context, _ action.Call, a connectArgs) (any, error) {
		return Connect(a.Driver, a.URL)
	}
	engineArg := schema.ArgSpec{Name: "engine", Type: "object", Description: "Handle returned by db.connect.", Required: true}
	valuesArg := schema.ArgSpec{Name: "values", Type: "dict", Description: "Optional dictionary of parameters bound to :name placeholders."}

	return map[string]action.Action{
		"db.connect":       typed("db.connect", connect, connectFn),
		"db.create_engine": typed("db.create_engine", connect, connectFn),
		"db.exec": typed("db.exec", schema.ActionSpec{
			Description: "Execute an SQL statement.",
			Arguments: []schema.ArgSpec{
				engineArg,
				{Name: "sql", Type: "string", Description: "SQL statement to be executed.", Required: true},
				valuesArg,
			},
		}, func(ctx context.Context, _ action.Call, a queryArgs) (any, error) {
			db, err := a.db()
			if err != nil {
				return nil, err
			}
			if _, err := db.Exec(ctx, a.SQL, a.Values); err != nil {
				return nil, fmt.Errorf("db.exec: %w", err)
			}
			return nil, nil
		}),
		"db.select": typed("db.select", schema.ActionSpec{
			Description: "Execute a select statement and return the results.",
			Arguments: []schema.ArgSpec{
				engineArg,
				{Name: "sql", Type: "string", Description: "SQL select query to be executed.", Required: true},
				valuesArg,
			},
		}, func(ctx context.Context, _ action.Call, a queryArgs) (any, error) {
			db, err := a.db()
			if err != nil {
				return nil, err
			}
			rows, err := db.Query(ctx, a.SQL, a.Values)
			if err != nil {
				return nil, fmt.Errorf("db.select: %w", err)
			}
			switch len(rows) {
			case 0:
				return nil, nil
			case 1:
				return rows[0], nil
			}
			return records(rows), nil
		}),
		"db.read": typed("db.read", schema.ActionSpec{
			Description: "Read data from the database into a list of dictionaries.",
			Arguments: []schema.ArgSpec{
				engineArg,
				{Name: "sql", Type: "string", Description: "SQL query string to be executed.", Required: true},
				{Name: "return_type", Type: "string", Description: "Only dict is supported."},
			},
		}, func(ctx context.Context, _ action.Call, a queryArgs) (any, error) {
			db, err := a.db()
			if err != nil {
				return nil, err
			}
			if rt := strings.ToLower(a.ReturnType); rt != "" && rt != "dict" {
				return nil, fmt.Errorf("db.read: unsupported return_type %q", a.ReturnType)
			}
			rows, err := db.Query(ctx, a.SQL, nil)
			if err != nil {
				return nil, fmt.Errorf("db.read: %w", err)
			}
			return records(rows), nil
		}),
	}
}

func records(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
