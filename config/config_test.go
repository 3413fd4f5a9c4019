package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/audit"
	"github.com/syssam/datakit/config"
)

const document = `
connections:
  - name: main
    dialect: postgres
    data_source: postgres://app@localhost/shop?sslmode=disable
    lazy_loading: true
  - name: cache
    dialect: sqlite
    data_source: file:/tmp/cache.db
audit:
  enabled: true
  date_time_kind: local
  types:
    - entity: Customer
      audit: CustomerAudit
      properties: [Name, Email]
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datakit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o600))
	f, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, f.Connections, 2)

	main, err := f.Connection("main")
	require.NoError(t, err)
	assert.Equal(t, datakit.Connection{
		Name:        "main",
		Dialect:     "postgres",
		DataSource:  "postgres://app@localhost/shop?sslmode=disable",
		LazyLoading: true,
	}, main)
	db, err := main.Database()
	require.NoError(t, err)
	assert.Equal(t, "shop", db)

	_, err = f.Connection("missing")
	assert.ErrorContains(t, err, `connection "missing" not found`)

	assert.True(t, f.Audit.Enabled)
	assert.Equal(t, []audit.TypePair{{Entity: "Customer", Audit: "CustomerAudit", Properties: []string{"Name", "Email"}}}, f.Audit.Types)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	f, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Connections)

	tests := []struct {
		name string
		doc  string
		err  string
	}{
		{
			name: "unknown key",
			doc:  "connection: []",
			err:  "field connection not found",
		},
		{
			name: "no name",
			doc:  "connections:\n  - dialect: sqlite\n    data_source: a.db\n",
			err:  "connection 0 has no name",
		},
		{
			name: "duplicate",
			doc:  "connections:\n  - {name: a, dialect: sqlite, data_source: a.db}\n  - {name: a, dialect: sqlite, data_source: b.db}\n",
			err:  `connection "a" is defined twice`,
		},
		{
			name: "dialect",
			doc:  "connections:\n  - {name: a, dialect: oracle, data_source: a}\n",
			err:  `unsupported dialect "oracle"`,
		},
		{
			name: "audit",
			doc:  "audit:\n  date_time_kind: utc+2\n",
			err:  "date_time_kind",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.err)
		})
	}
}
