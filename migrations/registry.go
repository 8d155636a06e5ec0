package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	payhooks "github.com/goliatone/go-payhooks"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	SourceLabel = "go-payhooks"

	embeddedRoot = "data/sql/migrations"
)

// driverDialects maps database/sql driver names to migration dialects.
var driverDialects = map[string]string{
	"postgres":   DialectPostgres,
	"postgresql": DialectPostgres,
	"pg":         DialectPostgres,
	"pgx":        DialectPostgres,
	"sqlite":     DialectSQLite,
	"sqlite3":    DialectSQLite,
}

// FilesystemSpec is one dialect's migration tree. Path is relative to the
// source the tree was resolved from.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

// RegisterFunc hands one dialect tree to a migration runner.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(targets); len(normalized) > 0 {
			r.ValidationTargets = normalized
		}
	}
}

// WithDriver limits registration to the dialect serving driver. Unknown
// drivers leave the targets untouched.
func WithDriver(driver string) Option {
	return func(r *Registration) {
		if dialect, ok := DialectForDriver(driver); ok {
			r.ValidationTargets = []string{dialect}
		}
	}
}

// WithFilesystems replaces the embedded trees. Entries without a dialect or
// filesystem are skipped.
func WithFilesystems(filesystems ...FilesystemSpec) Option {
	return func(r *Registration) {
		var kept []FilesystemSpec
		for _, spec := range filesystems {
			spec.Dialect = strings.ToLower(strings.TrimSpace(spec.Dialect))
			if spec.Dialect != "" && spec.FS != nil {
				kept = append(kept, spec)
			}
		}
		if len(kept) > 0 {
			r.Filesystems = kept
		}
	}
}

func DialectForDriver(driver string) (string, bool) {
	dialect, ok := driverDialects[strings.ToLower(strings.TrimSpace(driver))]
	return dialect, ok
}

// Filesystems resolves the postgres tree and its sqlite sub tree from source,
// or from the embedded migrations when source is omitted. source may hold the
// embedded layout or the postgres files at its root.
func Filesystems(source ...fs.FS) ([]FilesystemSpec, error) {
	src := payhooks.GetMigrationsFS()
	if len(source) > 0 && source[0] != nil {
		src = source[0]
	}
	base, basePath, err := locateTree(src)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	specs := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: path.Join(basePath, DialectSQLite), FS: sqliteFS},
	}
	for _, spec := range specs {
		if _, err := UpMigrations(spec.FS); err != nil {
			return nil, fmt.Errorf("migrations: %s filesystem %q: %w", spec.Dialect, spec.Path, err)
		}
	}
	return specs, nil
}

// UpMigrations lists the *.up.sql files of fsys in apply order. Every up
// file needs a matching *.down.sql.
func UpMigrations(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	slices.Sort(ups)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			return nil, fmt.Errorf("missing %s for %s", down, up)
		}
	}
	return ups, nil
}

// Register passes every targeted dialect tree to registerFn, stopping at the
// first error.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       SourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	specs, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = specs
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if len(reg.ValidationTargets) == 0 {
		return reg, fmt.Errorf("migrations: validation targets are required")
	}

	for _, spec := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

func locateTree(src fs.FS) (fs.FS, string, error) {
	if info, err := fs.Stat(src, embeddedRoot); err == nil && info.IsDir() {
		sub, err := fs.Sub(src, embeddedRoot)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: resolve %s: %w", embeddedRoot, err)
		}
		return sub, embeddedRoot, nil
	}
	if matches, err := fs.Glob(src, "*.sql"); err == nil && len(matches) > 0 {
		return src, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", embeddedRoot)
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.ToLower(strings.TrimSpace(value)); value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
