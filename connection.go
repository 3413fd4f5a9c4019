package datakit

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/syssam/datakit/dialect"
)

// Connection describes how to open a database. It is a value: the With
// methods return modified copies.
//
// DataSource takes the native form of each dialect:
//
//	postgres://app@localhost/shop?sslmode=disable   (or host=... dbname=shop)
//	app:secret@tcp(localhost:3306)/shop?parseTime=true
//	file:/var/data/shop.db?_pragma=foreign_keys(1)  (or a plain path)
type Connection struct {
	Name          string `yaml:"name"`
	Dialect       string `yaml:"dialect"`
	DataSource    string `yaml:"data_source"`
	LazyLoading   bool   `yaml:"lazy_loading"`
	ProxyCreation bool   `yaml:"proxy_creation"`
}

// Validate checks that the connection can be opened.
func (c Connection) Validate() error {
	if !dialect.Supported(c.Dialect) {
		return fmt.Errorf("datakit: connection %q: unsupported dialect %q", c.Name, c.Dialect)
	}
	if strings.TrimSpace(c.DataSource) == "" {
		return fmt.Errorf("datakit: connection %q: empty data source", c.Name)
	}
	return nil
}

// Database returns the database the connection points at: the catalog name
// for server dialects and the file path for SQLite.
func (c Connection) Database() (string, error) {
	switch c.Dialect {
	case dialect.Postgres:
		pairs, err := pgPairs(c.DataSource)
		if err != nil {
			return "", err
		}
		for _, p := range pairs {
			if p[0] == "dbname" {
				return p[1], nil
			}
		}
		return "", nil
	case dialect.MySQL:
		cfg, err := mysql.ParseDSN(c.DataSource)
		if err != nil {
			return "", fmt.Errorf("datakit: parse mysql data source: %w", err)
		}
		return cfg.DBName, nil
	case dialect.SQLite:
		path, _ := sqlitePath(c.DataSource)
		return path, nil
	}
	return "", fmt.Errorf("datakit: unsupported dialect %q", c.Dialect)
}

// WithDatabase returns a copy of the connection pointing at database name.
func (c Connection) WithDatabase(name string) (Connection, error) {
	switch c.Dialect {
	case dialect.Postgres:
		if isURL(c.DataSource) {
			u, err := url.Parse(c.DataSource)
			if err != nil {
				return c, fmt.Errorf("datakit: parse postgres url: %w", err)
			}
			u.Path = "/" + name
			c.DataSource = u.String()
			return c, nil
		}
		pairs, err := parsePairs(c.DataSource)
		if err != nil {
			return c, err
		}
		c.DataSource = formatPairs(setPair(pairs, "dbname", name))
	case dialect.MySQL:
		cfg, err := mysql.ParseDSN(c.DataSource)
		if err != nil {
			return c, fmt.Errorf("datakit: parse mysql data source: %w", err)
		}
		cfg.DBName = name
		c.DataSource = cfg.FormatDSN()
	case dialect.SQLite:
		path, query := sqlitePath(c.DataSource)
		if strings.HasPrefix(c.DataSource, "file:") {
			c.DataSource = "file:" + filepath.Join(filepath.Dir(path), name) + query
		} else {
			c.DataSource = filepath.Join(filepath.Dir(path), name) + query
		}
	default:
		return c, fmt.Errorf("datakit: unsupported dialect %q", c.Dialect)
	}
	return c, nil
}

// Admin returns a copy of the connection pointing at the maintenance
// database used to create and drop databases: "postgres" for PostgreSQL and
// no default schema for MySQL. SQLite needs no administrative connection and
// the connection is returned unchanged.
func (c Connection) Admin() (Connection, error) {
	switch c.Dialect {
	case dialect.Postgres:
		return c.WithDatabase("postgres")
	case dialect.MySQL:
		return c.WithDatabase("")
	}
	return c, nil
}

// Randomized returns a copy of the connection whose database name carries a
// random suffix, so parallel test runs do not collide.
func (c Connection) Randomized() (Connection, error) {
	db, err := c.Database()
	if err != nil {
		return c, err
	}
	if db == "" || db == ":memory:" {
		return c, fmt.Errorf("datakit: connection %q has no database to randomize", c.Name)
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if c.Dialect == dialect.SQLite {
		base := filepath.Base(db)
		ext := filepath.Ext(base)
		return c.WithDatabase(strings.TrimSuffix(base, ext) + "_" + token + ext)
	}
	return c.WithDatabase(db + "_" + token)
}

func isURL(ds string) bool {
	return strings.HasPrefix(ds, "postgres://") || strings.HasPrefix(ds, "postgresql://")
}

// pgPairs returns the key/value pairs of a PostgreSQL data source in
// either URL or keyword form.
func pgPairs(ds string) ([][2]string, error) {
	if isURL(ds) {
		kv, err := pq.ParseURL(ds)
		if err != nil {
			return nil, fmt.Errorf("datakit: parse postgres url: %w", err)
		}
		ds = kv
	}
	return parsePairs(ds)
}

// parsePairs parses the keyword/value form "host=x dbname='my db'".
func parsePairs(s string) ([][2]string, error) {
	var (
		pairs [][2]string
		r     = []rune(s)
	)
	for i := 0; i < len(r); {
		for i < len(r) && r[i] == ' ' {
			i++
		}
		if i == len(r) {
			break
		}
		start := i
		for i < len(r) && r[i] != '=' && r[i] != ' ' {
			i++
		}
		key := strings.TrimSpace(string(r[start:i]))
		for i < len(r) && r[i] == ' ' {
			i++
		}
		if i == len(r) || r[i] != '=' {
			return nil, fmt.Errorf("datakit: missing %q after %q in data source", "=", key)
		}
		i++
		for i < len(r) && r[i] == ' ' {
			i++
		}
		var val strings.Builder
		if i < len(r) && r[i] == '\'' {
			i++
			closed := false
			for i < len(r) {
				switch {
				case r[i] == '\\' && i+1 < len(r):
					val.WriteRune(r[i+1])
					i += 2
				case r[i] == '\'':
					closed = true
					i++
				default:
					val.WriteRune(r[i])
					i++
				}
				if closed {
					break
				}
			}
			if !closed {
				return nil, fmt.Errorf("datakit: unterminated quoted value for %q", key)
			}
		} else {
			for i < len(r) && r[i] != ' ' {
				val.WriteRune(r[i])
				i++
			}
		}
		pairs = append(pairs, [2]string{key, val.String()})
	}
	return pairs, nil
}

func setPair(pairs [][2]string, key, value string) [][2]string {
	for i := range pairs {
		if pairs[i][0] == key {
			pairs[i][1] = value
			return pairs
		}
	}
	pairs = append(pairs, [2]string{key, value})
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}

func formatPairs(pairs [][2]string) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		v := p[1]
		if v == "" || strings.ContainsAny(v, ` '\`) {
			v = "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
		}
		parts[i] = p[0] + "=" + v
	}
	return strings.Join(parts, " ")
}

// sqlitePath splits a SQLite data source into its file path and query
// suffix (including the "?").
func sqlitePath(ds string) (path, query string) {
	ds = strings.TrimPrefix(ds, "file:")
	if i := strings.IndexByte(ds, '?'); i >= 0 {
		return ds[:i], ds[i:]
	}
	return ds, ""
}
