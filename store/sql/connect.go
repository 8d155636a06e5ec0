package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/migrations"
)

type connectOptions struct {
	migrate      bool
	maxOpenConns int
}

type ConnectOption func(*connectOptions)

// WithMigrations applies the embedded payhooks schema after connecting.
func WithMigrations() ConnectOption {
	return func(o *connectOptions) {
		o.migrate = true
	}
}

func WithMaxOpenConns(n int) ConnectOption {
	return func(o *connectOptions) {
		o.maxOpenConns = n
	}
}

// Connect opens cfg through go-persistence-bun with the bun dialect matching
// the driver and registers the payhooks migrations for that dialect.
func Connect(ctx context.Context, cfg core.DatabaseConfig, opts ...ConnectOption) (*persistence.Client, error) {
	options := connectOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	driver := cfg.GetDriver()
	dialectName, ok := migrations.DialectForDriver(driver)
	if !ok {
		return nil, core.NewConfigurationError("database.driver", fmt.Sprintf("unsupported driver %q", driver))
	}
	if cfg.GetServer() == "" {
		return nil, core.NewConfigurationError("database.dsn", "is required")
	}

	var (
		driverName string
		dialect    schema.Dialect
	)
	switch dialectName {
	case migrations.DialectPostgres:
		driverName, dialect = "postgres", pgdialect.New()
	default:
		driverName, dialect = "sqlite3", sqlitedialect.New()
	}

	sqlDB, err := sql.Open(driverName, cfg.GetServer())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	if dialectName == migrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	if options.maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(options.maxOpenConns)
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = migrations.Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialectName))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if options.migrate {
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return client, nil
}
