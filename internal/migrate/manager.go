// Package migrate runs the versioned schema scripts and the seed scripts,
// recording both kinds in one ledger table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

const ledgerTable = "rhgestor_migrations"

// Kind tells schema scripts from seed scripts in the ledger.
type Kind string

const (
	KindSchema Kind = "schema"
	KindSeed   Kind = "seed"
)

// Entry is one script with the time it ran; AppliedAt is zero while pending.
type Entry struct {
	Kind      Kind
	Name      string
	AppliedAt time.Time
}

// String is the line the migrate CLI prints for status.
func (e Entry) String() string {
	if e.AppliedAt.IsZero() {
		return fmt.Sprintf("%-6s %s pending", e.Kind, e.Name)
	}
	return fmt.Sprintf("%-6s %s applied %s", e.Kind, e.Name, e.AppliedAt.UTC().Format(time.RFC3339))
}

// scriptSet is a directory of scripts of one kind. Names drop the suffix.
type scriptSet struct {
	kind   Kind
	fsys   fs.FS
	suffix string
}

type script struct {
	name string
	path string
}

func (s scriptSet) scripts() ([]script, error) {
	if s.fsys == nil {
		return nil, nil
	}
	matches, err := fs.Glob(s.fsys, "*"+s.suffix)
	if err != nil {
		return nil, err
	}
	out := make([]script, 0, len(matches))
	for _, p := range matches {
		out = append(out, script{name: strings.TrimSuffix(path.Base(p), s.suffix), path: p})
	}
	return out, nil
}

// Manager applies scripts from two file systems, usually the embedded
// rhgestor.org/migrations tree or os.DirFS.
type Manager struct {
	db     *sql.DB
	schema scriptSet
	seeds  scriptSet
	now    func() time.Time
	logger *zap.Logger
}

// Option configures Manager.
type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time recorded for applied scripts.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager. Schema files end in .up.sql with a
// matching .down.sql; seed files end in .sql. A nil seeds file system
// makes Seed a no-op.
func NewManager(db *sql.DB, schema, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		schema: scriptSet{kind: KindSchema, fsys: schema, suffix: ".up.sql"},
		seeds:  scriptSet{kind: KindSeed, fsys: seeds, suffix: ".sql"},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending schema scripts in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.apply(ctx, m.schema)
}

// Seed applies pending seed scripts in name order.
func (m *Manager) Seed(ctx context.Context) error {
	return m.apply(ctx, m.seeds)
}

// Down reverts the most recently applied schema script.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureLedger(ctx); err != nil {
		return err
	}
	var name string
	err := m.db.QueryRowContext(ctx, fmt.Sprintf(
		`select name from %s where kind = $1 order by applied_at desc, name desc limit 1`, ledgerTable),
		string(KindSchema)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.New("no migrations applied")
	}
	if err != nil {
		return err
	}
	down := name + ".down.sql"
	if m.schema.fsys == nil {
		return fmt.Errorf("missing down migration for %s", name)
	}
	if _, err := fs.Stat(m.schema.fsys, down); err != nil {
		return fmt.Errorf("missing down migration for %s", name)
	}
	err = m.run(ctx, m.schema.fsys, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where kind = $1 and name = $2`, ledgerTable), string(KindSchema), name)
		return err
	})
	if err != nil {
		return fmt.Errorf("rollback migration %s: %w", name, err)
	}
	m.logger.Info("migration reverted", zap.String("name", name))
	return nil
}

// Status lists every schema script and then every seed script, applied or not.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	var out []Entry
	for _, set := range []scriptSet{m.schema, m.seeds} {
		applied, err := m.applied(ctx, set.kind)
		if err != nil {
			return nil, err
		}
		scripts, err := set.scripts()
		if err != nil {
			return nil, err
		}
		for _, s := range scripts {
			out = append(out, Entry{Kind: set.kind, Name: s.name, AppliedAt: applied[s.name]})
		}
	}
	return out, nil
}

func (m *Manager) apply(ctx context.Context, set scriptSet) error {
	if err := m.ensureLedger(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, set.kind)
	if err != nil {
		return err
	}
	scripts, err := set.scripts()
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if _, ok := applied[s.name]; ok {
			continue
		}
		err := m.run(ctx, set.fsys, s.path, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(kind, name, applied_at) values ($1, $2, $3)`, ledgerTable),
				string(set.kind), s.name, m.now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s %s: %w", set.kind, s.name, err)
		}
		m.logger.Info("script applied", zap.String("kind", string(set.kind)), zap.String("name", s.name))
	}
	return nil
}

func (m *Manager) ensureLedger(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			kind text not null,
			name text not null,
			applied_at timestamptz not null default now(),
			primary key (kind, name)
		);`, ledgerTable))
	return err
}

// run executes one script and its ledger change in a single transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, name string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, kind Kind) (map[string]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s where kind = $1`, ledgerTable), string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at time.Time
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out[name] = at
	}
	return out, rows.Err()
}

// splitStatements splits SQL on semicolons outside string literals and
// line comments.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString, inComment bool
	var prev rune
	for _, r := range sql {
		current.WriteRune(r)
		switch {
		case inComment:
			inComment = r != '\n'
		case r == '\'':
			inString = !inString
		case r == '-' && !inString && prev == '-':
			inComment = true
		case r == ';' && !inString:
			stmts = append(stmts, current.String())
			current.Reset()
		}
		prev = r
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
