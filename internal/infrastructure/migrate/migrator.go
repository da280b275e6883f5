package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"MedicineCrawler/internal/infrastructure/metrics"
	"MedicineCrawler/internal/infrastructure/storage"
	"MedicineCrawler/internal/retry"
)

// Report summarises one rebuild.
type Report struct {
	SourceRows map[string]int
	Primary    int
	Added      map[string]int
	Total      int
	// DistinctKeys and CoveredKeys count distinct values per key column in
	// the sources and in the destination.
	DistinctKeys map[string]int
	CoveredKeys  map[string]int
}

// Complete reports whether every key column of the destination holds at
// least as many distinct values as the sources do.
func (r Report) Complete() bool {
	for col, n := range r.DistinctKeys {
		if r.CoveredKeys[col] < n {
			return false
		}
	}
	return true
}

// Migrator runs a Plan against one database.
type Migrator struct {
	db     *storage.DB
	plan   Plan
	logger *slog.Logger
	now    func() time.Time
}

// New validates the plan.
func New(db *storage.DB, plan Plan, logger *slog.Logger) (*Migrator, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, plan: plan, logger: logger, now: time.Now}, nil
}

// row is one source or destination row keyed by column.
type row map[string]string

type sourceData struct {
	src  Source
	rows map[string]row
	read int
}

// Run truncates the destination and rebuilds it inside one transaction.
// Any error rolls the destination back to its previous content.
func (m *Migrator) Run(ctx context.Context) (Report, error) {
	report := Report{
		SourceRows:   map[string]int{},
		Added:        map[string]int{},
		DistinctKeys: map[string]int{},
		CoveredKeys:  map[string]int{},
	}

	err := retry.Do(ctx, retry.Policy{MaxAttempts: 3, BaseDelay: 3 * time.Second, Logger: m.logger, Name: "connect database"}, func(int) error {
		return m.db.PingContext(ctx)
	})
	if err != nil {
		return report, fmt.Errorf("connect: %w", err)
	}
	if err := m.ensureDestination(ctx); err != nil {
		return report, err
	}

	var loaded []sourceData
	err = storage.RunTx(ctx, m.db.DB, func(tx *sql.Tx) error {
		if err := m.clear(ctx, tx); err != nil {
			return err
		}

		loaded = loaded[:0]
		for _, src := range m.plan.Sources {
			data, err := m.load(ctx, tx, src)
			if err != nil {
				return err
			}
			report.SourceRows[src.Table] = data.read
			m.logger.Info("loaded source table", "table", src.Table, "rows", data.read, "keys", len(data.rows))
			loaded = append(loaded, data)
		}

		rows, err := m.primaryRows(ctx, tx, loaded)
		if err != nil {
			return err
		}
		now := m.now().UTC().Format(time.RFC3339)
		for _, r := range rows {
			if err := m.insert(ctx, tx, r, now); err != nil {
				return err
			}
			report.Primary++
			if report.Primary%1000 == 0 {
				m.logger.Info("migration progress", "rows", report.Primary)
			}
		}

		for _, src := range m.plan.Sources {
			n, err := m.antiJoin(ctx, tx, src, now)
			if err != nil {
				return err
			}
			report.Added[src.Table] = n
			m.logger.Info("added unmatched source rows", "table", src.Table, "rows", n)
		}

		if report.Total, err = m.count(ctx, tx); err != nil {
			return err
		}
		for _, col := range m.plan.KeyColumns() {
			if report.CoveredKeys[col], err = m.coveredKeys(ctx, tx, col); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("migration rolled back: %w", err)
	}

	report.DistinctKeys = distinctKeys(loaded)
	metrics.MigrationRows.WithLabelValues("primary").Set(float64(report.Primary))
	for table, n := range report.Added {
		metrics.MigrationRows.WithLabelValues(table).Set(float64(n))
	}
	metrics.MigrationRows.WithLabelValues("total").Set(float64(report.Total))

	if !report.Complete() {
		m.logger.Error("consolidated table is missing source keys",
			"destination", m.plan.Destination, "source_keys", report.DistinctKeys, "covered_keys", report.CoveredKeys)
	}
	m.logger.Info("migration finished",
		"destination", m.plan.Destination, "primary", report.Primary, "total", report.Total)
	return report, nil
}

// ensureDestination creates the table and adds columns a changed plan needs.
func (m *Migrator) ensureDestination(ctx context.Context) error {
	d := m.db.Dialect
	cols := []string{d.AutoID()}
	keys := map[string]bool{}
	for _, k := range m.plan.KeyColumns() {
		keys[k] = true
	}
	wanted := m.plan.DestinationColumns()
	for _, c := range wanted {
		cols = append(cols, c+" "+columnType(c, keys))
	}
	cols = append(cols, "created_at VARCHAR(40)")

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)%s",
		m.plan.Destination, strings.Join(cols, ",\n\t"), d.TableSuffix())
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create %s: %w", m.plan.Destination, err)
	}

	existing, err := m.columns(ctx)
	if err != nil {
		return err
	}
	for _, c := range wanted {
		if existing[strings.ToLower(c)] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.plan.Destination, c, columnType(c, keys))
		if _, err := m.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("add column %s: %w", c, err)
		}
		m.logger.Info("added destination column", "column", c)
	}
	return nil
}

func columnType(col string, keys map[string]bool) string {
	if keys[col] {
		return "VARCHAR(100)"
	}
	return "TEXT"
}

func (m *Migrator) columns(ctx context.Context) (map[string]bool, error) {
	query, _, err := sq.Select("*").From(m.plan.Destination).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build column probe: %w", err)
	}
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", m.plan.Destination, err)
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = true
	}
	return out, nil
}

// clear empties the destination. MySQL TRUNCATE commits implicitly, so only
// PostgreSQL uses it.
func (m *Migrator) clear(ctx context.Context, tx *sql.Tx) error {
	stmt := "DELETE FROM " + m.plan.Destination
	if m.db.Dialect == storage.Postgres {
		stmt = "TRUNCATE TABLE " + m.plan.Destination
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("clear %s: %w", m.plan.Destination, err)
	}
	return nil
}

func (m *Migrator) load(ctx context.Context, tx *sql.Tx, src Source) (sourceData, error) {
	data := sourceData{src: src, rows: map[string]row{}}
	cols := append([]string{src.Key}, src.Fields...)

	query, args, err := m.db.Builder().
		Select(cols...).
		From(src.Table).
		Where(sq.NotEq{src.Key: nil}).
		ToSql()
	if err != nil {
		return data, fmt.Errorf("build load %s: %w", src.Table, err)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return data, fmt.Errorf("load %s: %w", src.Table, err)
	}
	defer rows.Close()

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return data, fmt.Errorf("scan %s: %w", src.Table, err)
		}
		data.read++
		key := strings.TrimSpace(values[0].String)
		if key == "" {
			continue
		}
		if _, ok := data.rows[key]; ok {
			continue
		}
		r := row{}
		for i, c := range src.Fields {
			if v := strings.TrimSpace(values[i+1].String); values[i+1].Valid && v != "" {
				r[c] = v
			}
		}
		data.rows[key] = r
	}
	if err := rows.Err(); err != nil {
		return data, fmt.Errorf("rows iteration %s: %w", src.Table, err)
	}
	return data, nil
}

// primaryRows builds one merged row per relation entry, or per distinct key
// value when there is no relation table.
func (m *Migrator) primaryRows(ctx context.Context, tx *sql.Tx, loaded []sourceData) ([]row, error) {
	var combos []row
	if m.plan.Relation != "" {
		var err error
		combos, err = m.relationKeys(ctx, tx)
		if err != nil {
			return nil, err
		}
	} else {
		combos = directKeys(m.plan.KeyColumns(), loaded)
	}

	out := make([]row, 0, len(combos))
	for _, keys := range combos {
		if len(keys) == 0 {
			continue
		}
		out = append(out, merge(keys, loaded))
	}
	return out, nil
}

func (m *Migrator) relationKeys(ctx context.Context, tx *sql.Tx) ([]row, error) {
	keys := m.plan.KeyColumns()
	query, args, err := m.db.Builder().Select(keys...).From(m.plan.Relation).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build relation select: %w", err)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", m.plan.Relation, err)
	}
	defer rows.Close()

	values := make([]sql.NullString, len(keys))
	dest := make([]any, len(keys))
	for i := range values {
		dest[i] = &values[i]
	}
	var out []row
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", m.plan.Relation, err)
		}
		r := row{}
		for i, k := range keys {
			if v := strings.TrimSpace(values[i].String); values[i].Valid && v != "" {
				r[k] = v
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration %s: %w", m.plan.Relation, err)
	}
	return out, nil
}

// directKeys lists every distinct value of each key column, sorted so the
// rebuild is deterministic.
func directKeys(keyCols []string, loaded []sourceData) []row {
	var out []row
	for _, col := range keyCols {
		seen := map[string]bool{}
		for _, d := range loaded {
			if d.src.Key != col {
				continue
			}
			for k := range d.rows {
				seen[k] = true
			}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		for _, v := range values {
			out = append(out, row{col: v})
		}
	}
	return out
}

// merge folds matching source rows into one. Sources are visited in plan
// order; a later source overwrites a field unless a higher priority source
// already set it.
func merge(keys row, loaded []sourceData) row {
	out := row{}
	for k, v := range keys {
		out[k] = v
	}
	prio := map[string]int{}
	for _, d := range loaded {
		key, ok := keys[d.src.Key]
		if !ok {
			continue
		}
		src, ok := d.rows[key]
		if !ok {
			continue
		}
		for _, f := range d.src.Fields {
			v, ok := src[f]
			if !ok {
				continue
			}
			if p, set := prio[f]; set && p > d.src.Priority {
				continue
			}
			out[f] = v
			prio[f] = d.src.Priority
		}
	}
	return out
}

func (m *Migrator) insert(ctx context.Context, tx *sql.Tx, r row, now string) error {
	values := make(map[string]any, len(r)+1)
	for k, v := range r {
		values[k] = v
	}
	values["created_at"] = now
	query, args, err := m.db.Builder().Insert(m.plan.Destination).SetMap(values).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", m.plan.Destination, err)
	}
	return nil
}

// antiJoin copies the source rows whose key is absent from the destination.
func (m *Migrator) antiJoin(ctx context.Context, tx *sql.Tx, src Source, now string) (int, error) {
	cols := append([]string{src.Key}, src.Fields...)
	selectCols := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		selectCols = append(selectCols, "s."+c)
	}

	sel := sq.Select(selectCols...).
		Column(sq.Expr("?", now)).
		From(src.Table + " s").
		LeftJoin(fmt.Sprintf("%s d ON d.%s = s.%s", m.plan.Destination, src.Key, src.Key)).
		Where("d.id IS NULL").
		Where(sq.NotEq{"s." + src.Key: nil})

	query, args, err := m.db.Builder().
		Insert(m.plan.Destination).
		Columns(append(cols, "created_at")...).
		Select(sel).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build anti-join %s: %w", src.Table, err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("anti-join %s: %w", src.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected %s: %w", src.Table, err)
	}
	return int(n), nil
}

func (m *Migrator) count(ctx context.Context, tx *sql.Tx) (int, error) {
	query, args, err := m.db.Builder().Select("COUNT(*)").From(m.plan.Destination).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", m.plan.Destination, err)
	}
	return n, nil
}

func (m *Migrator) coveredKeys(ctx context.Context, tx *sql.Tx, col string) (int, error) {
	query, args, err := m.db.Builder().
		Select(fmt.Sprintf("COUNT(DISTINCT %s)", col)).
		From(m.plan.Destination).
		Where(sq.NotEq{col: nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build key count: %w", err)
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s keys: %w", col, err)
	}
	return n, nil
}

// distinctKeys counts distinct key values per key column across all sources.
func distinctKeys(loaded []sourceData) map[string]int {
	seen := map[string]map[string]bool{}
	for _, d := range loaded {
		if seen[d.src.Key] == nil {
			seen[d.src.Key] = map[string]bool{}
		}
		for k := range d.rows {
			seen[d.src.Key][k] = true
		}
	}
	out := make(map[string]int, len(seen))
	for col, values := range seen {
		out[col] = len(values)
	}
	return out
}
