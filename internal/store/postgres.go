package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"adspend-etl/internal/logging"
	"adspend-etl/internal/model"
	"adspend-etl/internal/util"
)

// pgxPoolNewFunc allows overriding pool creation in tests.
var pgxPoolNewFunc = pgxpool.NewWithConfig

// Default per-operation timeout when none is configured.
const defaultDbTimeout = 30 * time.Second

// collapsedDateSQL is the stored form of a collapsed date.
const collapsedDateSQL = "DATE '0001-01-01'"

const insertRawSQL = `INSERT INTO raw_ads_spend (
	date, platform, account, campaign, country, device,
	spend, clicks, impressions, conversions, load_date, source_file_name, batch_id
) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13)`

const upsertKPISQL = `INSERT INTO kpi_metrics (
	date, platform, account, campaign, country, device,
	total_spend, total_conversions, total_clicks, total_impressions, cac, roas, revenue, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11::numeric, $12::numeric, $13::numeric, $14)
ON CONFLICT (date, platform, account, campaign, country, device) DO UPDATE SET
	total_spend = EXCLUDED.total_spend,
	total_conversions = EXCLUDED.total_conversions,
	total_clicks = EXCLUDED.total_clicks,
	total_impressions = EXCLUDED.total_impressions,
	cac = EXCLUDED.cac,
	roas = EXCLUDED.roas,
	revenue = EXCLUDED.revenue,
	created_at = EXCLUDED.created_at`

var _ Store = (*Postgres)(nil)

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	MaxConns int32
	Timeout  time.Duration
}

// Postgres is the pgxpool-backed Store.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// OpenPostgres creates a pool for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*Postgres, error) {
	expanded := util.ExpandEnvUniversal(dsn)
	masked := util.MaskCredentials(expanded)

	cfg, err := pgxpool.ParseConfig(expanded)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string (%s): %w", masked, err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDbTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxPoolNewFunc(connectCtx, cfg)
	if err != nil {
		logging.Logf(logging.Error, "Failed to create connection pool: %s", masked)
		return nil, fmt.Errorf("failed to create connection pool (using %s): %w", masked, err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		if errors.Is(err, context.DeadlineExceeded) || connectCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("database connection timed out (using %s): %w", masked, err)
		}
		return nil, fmt.Errorf("failed to connect to database (using %s): %w", masked, err)
	}
	logging.Logf(logging.Info, "Connected to postgres: %s", masked)
	return &Postgres{pool: pool, timeout: timeout}, nil
}

func (p *Postgres) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// Migrate runs a goose command against the pool.
func (p *Postgres) Migrate(ctx context.Context, command string, args ...string) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()
	return Migrate(ctx, db, command, args...)
}

// EnsureSchema applies pending migrations.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if err := p.Migrate(ctx, "up"); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func rawArgs(r model.TaggedRecord) []interface{} {
	return []interface{}{
		model.Day(r.Date), r.Platform, r.Account, r.Campaign, r.Country, r.Device,
		r.Spend.String(), r.Clicks, r.Impressions, r.Conversions,
		r.LoadTimestamp, r.SourceFileName, r.BatchID,
	}
}

// logPgError logs code and detail when err carries a server error.
func logPgError(op string, err error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		logging.Logf(logging.Error, "%s failed. PG Error Code: %s, Message: %s, Detail: %s", op, pgErr.Code, pgErr.Message, pgErr.Detail)
		return
	}
	logging.Logf(logging.Error, "%s failed. Error: %v", op, err)
}

// InsertRaw inserts every record in one transaction using a pgx batch.
func (p *Postgres) InsertRaw(ctx context.Context, records []model.TaggedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			rbCtx, rbCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rbCancel()
			if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				logging.Logf(logging.Error, "Failed to rollback raw insert transaction: %v", err)
			}
		}
	}()

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertRawSQL, rawArgs(r)...)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			logPgError("Batch insert into raw_ads_spend", err)
			return 0, fmt.Errorf("batch insert failed at record %d: %w", i+1, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close insert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit raw insert: %w", err)
	}
	committed = true
	logging.Logf(logging.Debug, "Inserted %d rows into raw_ads_spend", len(records))
	return len(records), nil
}

// InsertRawOne inserts a single record as an autocommit statement.
func (p *Postgres) InsertRawOne(ctx context.Context, record model.TaggedRecord) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	if _, err := p.pool.Exec(ctx, insertRawSQL, rawArgs(record)...); err != nil {
		logPgError("Single insert into raw_ads_spend", err)
		return err
	}
	return nil
}

func (p *Postgres) BatchExists(ctx context.Context, batchID string) (bool, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM raw_ads_spend WHERE batch_id = $1)`, batchID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check batch %s: %w", batchID, err)
	}
	return exists, nil
}

func (p *Postgres) BatchInfo(ctx context.Context, batchID string) (*BatchInfo, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	info := &BatchInfo{}
	err := p.pool.QueryRow(ctx, `SELECT batch_id, MIN(source_file_name), MIN(load_date), MAX(load_date),
		COUNT(*), MIN(date), MAX(date)
		FROM raw_ads_spend WHERE batch_id = $1 GROUP BY batch_id`, batchID).Scan(
		&info.BatchID, &info.SourceFileName, &info.FirstLoad, &info.LastLoad,
		&info.RecordCount, &info.EarliestDate, &info.LatestDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("batch info %s: %w", batchID, err)
	}
	return info, nil
}

func (p *Postgres) DeleteBatch(ctx context.Context, batchID string) (int64, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx, `DELETE FROM raw_ads_spend WHERE batch_id = $1`, batchID)
	if err != nil {
		logPgError("Delete batch", err)
		return 0, fmt.Errorf("delete batch %s: %w", batchID, err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) TableStats(ctx context.Context) (*TableStats, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	var (
		stats                                 TableStats
		earliest, latest, firstLoad, lastLoad *time.Time
	)
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT batch_id), COUNT(DISTINCT source_file_name),
		MIN(date), MAX(date), MIN(load_date), MAX(load_date) FROM raw_ads_spend`).Scan(
		&stats.TotalRecords, &stats.TotalBatches, &stats.TotalSourceFiles,
		&earliest, &latest, &firstLoad, &lastLoad)
	if err != nil {
		return nil, fmt.Errorf("table stats: %w", err)
	}
	stats.EarliestDate = deref(earliest)
	stats.LatestDate = deref(latest)
	stats.FirstLoad = deref(firstLoad)
	stats.LastLoad = deref(lastLoad)
	return &stats, nil
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (p *Postgres) DataQuality(ctx context.Context) ([]QualityRow, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx, `SELECT batch_id, source_file_name, load_date, record_count,
		zero_spend_records, zero_conversion_records, invalid_click_records, earliest_date, latest_date
		FROM data_quality_summary ORDER BY load_date DESC, batch_id`)
	if err != nil {
		return nil, fmt.Errorf("data quality query: %w", err)
	}
	defer rows.Close()

	var out []QualityRow
	for rows.Next() {
		var q QualityRow
		if err := rows.Scan(&q.BatchID, &q.SourceFileName, &q.LoadDate, &q.RecordCount,
			&q.ZeroSpendRecords, &q.ZeroConversionRecords, &q.InvalidClickRecords,
			&q.EarliestDate, &q.LatestDate); err != nil {
			return nil, fmt.Errorf("scan data quality row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// buildAggregateQuery renders the GROUP BY over the grouped dimensions. Collapsed
// dimensions are selected as sentinel literals so every row has all six columns.
func buildAggregateQuery(dims model.DimensionSet, filter RawFilter) (string, []interface{}) {
	selects := make([]string, 0, len(model.AllDimensions)+7)
	var groups []string
	for _, d := range model.AllDimensions {
		col := d.String()
		switch {
		case dims.Has(d):
			selects = append(selects, col)
			groups = append(groups, col)
		case d == model.DimDate:
			selects = append(selects, collapsedDateSQL+" AS date")
		default:
			selects = append(selects, fmt.Sprintf("'%s' AS %s", model.AllValue, col))
		}
	}
	selects = append(selects,
		"COALESCE(SUM(spend), 0)::text AS total_spend",
		"COALESCE(SUM(conversions), 0)::bigint AS total_conversions",
		"COALESCE(SUM(clicks), 0)::bigint AS total_clicks",
		"COALESCE(SUM(impressions), 0)::bigint AS total_impressions",
		"COUNT(DISTINCT date)::bigint AS days_with_data",
		"COUNT(DISTINCT campaign)::bigint AS campaign_count",
		"COUNT(DISTINCT platform)::bigint AS platform_count",
	)

	var (
		conds []string
		args  []interface{}
	)
	if filter.Start != nil {
		args = append(args, model.Day(*filter.Start))
		conds = append(conds, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.End != nil {
		args = append(args, model.Day(*filter.End))
		conds = append(conds, fmt.Sprintf("date <= $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM raw_ads_spend")
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if len(groups) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	}
	// Without grouping an empty table still yields one row of NULL sums.
	sb.WriteString(" HAVING COUNT(*) > 0")
	if len(groups) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(groups, ", "))
	}
	return sb.String(), args
}

func (p *Postgres) AggregateRaw(ctx context.Context, dims model.DimensionSet, filter RawFilter) ([]AggregateRow, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	query, args := buildAggregateQuery(dims, filter)
	logging.Logf(logging.Debug, "Aggregate query: %s", query)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		logPgError("Aggregate raw_ads_spend", err)
		return nil, fmt.Errorf("aggregate raw data: %w", err)
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var (
			a     AggregateRow
			spend string
		)
		if err := rows.Scan(&a.Key.Date, &a.Key.Platform, &a.Key.Account, &a.Key.Campaign,
			&a.Key.Country, &a.Key.Device, &spend, &a.Conversions, &a.Clicks, &a.Impressions,
			&a.Days, &a.Campaigns, &a.Platforms); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		if a.Spend, err = decimal.NewFromString(spend); err != nil {
			return nil, fmt.Errorf("parse aggregate spend '%s': %w", spend, err)
		}
		a.Key.Date = normalizeDate(a.Key.Date)
		out = append(out, a)
	}
	return out, rows.Err()
}

// normalizeDate maps the stored collapsed date onto the zero time.
func normalizeDate(t time.Time) time.Time {
	if t.Year() <= 1 {
		return time.Time{}
	}
	return model.Day(t)
}

func nullArg(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

// UpsertKPIs writes all rows in one transaction; existing keys are replaced.
func (p *Postgres) UpsertKPIs(ctx context.Context, rows []model.KPIRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			rbCtx, rbCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rbCancel()
			if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				logging.Logf(logging.Error, "Failed to rollback KPI upsert transaction: %v", err)
			}
		}
	}()

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertKPISQL,
			r.Date, r.Platform, r.Account, r.Campaign, r.Country, r.Device,
			r.TotalSpend.String(), r.TotalConversions, r.TotalClicks, r.TotalImpressions,
			nullArg(r.CAC), nullArg(r.ROAS), r.Revenue.String(), r.CreatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			logPgError("Upsert into kpi_metrics", err)
			return 0, fmt.Errorf("kpi upsert failed at row %d: %w", i+1, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close upsert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit kpi upsert: %w", err)
	}
	committed = true
	return len(rows), nil
}

func buildKPIQuery(filter KPIFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.HasDateRange() {
		conds = append(conds, "date <> "+collapsedDateSQL)
	}
	if filter.Start != nil {
		args = append(args, model.Day(*filter.Start))
		conds = append(conds, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.End != nil {
		args = append(args, model.Day(*filter.End))
		conds = append(conds, fmt.Sprintf("date <= $%d", len(args)))
	}
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		conds = append(conds, fmt.Sprintf("platform = $%d", len(args)))
	}
	if filter.Account != "" {
		args = append(args, filter.Account)
		conds = append(conds, fmt.Sprintf("account = $%d", len(args)))
	}

	query := `SELECT date, platform, account, campaign, country, device,
	total_spend::text, total_conversions, total_clicks, total_impressions,
	cac::text, roas::text, revenue::text, created_at
FROM kpi_metrics`
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY date DESC, platform, account, campaign, country, device"
	return query, args
}

func (p *Postgres) ListKPIs(ctx context.Context, filter KPIFilter) ([]model.KPIRecord, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	query, args := buildKPIQuery(filter)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list kpi metrics: %w", err)
	}
	defer rows.Close()

	var out []model.KPIRecord
	for rows.Next() {
		var (
			r              model.KPIRecord
			spend, revenue string
			cac, roas      *string
		)
		if err := rows.Scan(&r.Date, &r.Platform, &r.Account, &r.Campaign, &r.Country, &r.Device,
			&spend, &r.TotalConversions, &r.TotalClicks, &r.TotalImpressions,
			&cac, &roas, &revenue, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan kpi row: %w", err)
		}
		r.Date = normalizeDate(r.Date)
		if r.TotalSpend, err = decimal.NewFromString(spend); err != nil {
			return nil, fmt.Errorf("parse total_spend '%s': %w", spend, err)
		}
		if r.Revenue, err = decimal.NewFromString(revenue); err != nil {
			return nil, fmt.Errorf("parse revenue '%s': %w", revenue, err)
		}
		if r.CAC, err = parseNull(cac); err != nil {
			return nil, fmt.Errorf("parse cac: %w", err)
		}
		if r.ROAS, err = parseNull(roas); err != nil {
			return nil, fmt.Errorf("parse roas: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseNull(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
