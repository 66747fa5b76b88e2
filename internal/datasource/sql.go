package datasource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/gridkit/internal/models"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
)

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// SQLConfig describes the table a SQLSource pages over.
type SQLConfig struct {
	Table   string
	Columns []string
	// KeyColumn orders ties so LIMIT/OFFSET pages never overlap. It must be
	// unique and defaults to the first column.
	KeyColumn string
	// Unaccent wraps searched text in unaccent(), which requires the
	// PostgreSQL unaccent extension.
	Unaccent bool
}

// SQLSource pages over a PostgreSQL table. Only configured columns may be
// selected, searched, filtered or sorted on.
type SQLSource struct {
	db       *sqlx.DB
	table    string
	columns  []string
	allowed  map[string]struct{}
	key      string
	unaccent bool
	observer queryObserver
}

// NewSQLSource constructs a SQLSource. observer may be nil.
func NewSQLSource(db *sqlx.DB, cfg SQLConfig, observer queryObserver) (*SQLSource, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("sql source requires a table")
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("sql source %s requires at least one column", cfg.Table)
	}
	allowed := make(map[string]struct{}, len(cfg.Columns))
	for _, c := range cfg.Columns {
		allowed[c] = struct{}{}
	}
	key := cfg.KeyColumn
	if key == "" {
		key = cfg.Columns[0]
	}
	if _, ok := allowed[key]; !ok {
		return nil, fmt.Errorf("sql source %s: key column %q is not a configured column", cfg.Table, key)
	}
	return &SQLSource{
		db:       db,
		table:    cfg.Table,
		columns:  append([]string(nil), cfg.Columns...),
		allowed:  allowed,
		key:      key,
		unaccent: cfg.Unaccent,
		observer: observer,
	}, nil
}

// FetchPage implements Source. It runs a COUNT query followed by the page
// query, both sharing the same WHERE clause.
func (s *SQLSource) FetchPage(ctx context.Context, q models.Query) (models.Page, error) {
	if err := q.Validate(); err != nil {
		return models.Page{}, appErrors.Wrap(err, appErrors.ErrInvalidQuery.Code, appErrors.ErrInvalidQuery.Status, appErrors.ErrInvalidQuery.Message)
	}
	where, err := s.where(q)
	if err != nil {
		return models.Page{}, err
	}
	order, err := s.orderBy(q.Sort)
	if err != nil {
		return models.Page{}, err
	}

	table := pq.QuoteIdentifier(s.table)
	countSQL, countArgs, err := squirrel.Select("COUNT(*)").
		From(table).
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return models.Page{}, fmt.Errorf("build count query: %w", err)
	}

	var total int
	start := time.Now()
	err = s.db.GetContext(ctx, &total, countSQL, countArgs...)
	s.observe("grid_count", start)
	if err != nil {
		return models.Page{}, fmt.Errorf("count %s: %w", s.table, err)
	}

	selectCols := make([]string, len(s.columns))
	for i, c := range s.columns {
		selectCols[i] = pq.QuoteIdentifier(c)
	}
	pageSQL, pageArgs, err := squirrel.Select(selectCols...).
		From(table).
		Where(where).
		OrderBy(order...).
		Limit(uint64(q.PageSize)).
		Offset(uint64(q.Offset())).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return models.Page{}, fmt.Errorf("build page query: %w", err)
	}

	start = time.Now()
	rows, err := s.db.QueryxContext(ctx, pageSQL, pageArgs...)
	if err != nil {
		s.observe("grid_page", start)
		return models.Page{}, fmt.Errorf("select %s: %w", s.table, err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]models.Row, 0, q.PageSize)
	for rows.Next() {
		raw := make(map[string]interface{}, len(s.columns))
		if err := rows.MapScan(raw); err != nil {
			return models.Page{}, fmt.Errorf("scan %s: %w", s.table, err)
		}
		row := make(models.Row, len(raw))
		for k, v := range raw {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[k] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return models.Page{}, fmt.Errorf("iterate %s: %w", s.table, err)
	}
	s.observe("grid_page", start)

	return models.Page{Rows: out, TotalRows: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func (s *SQLSource) observe(label string, start time.Time) {
	if s.observer != nil {
		s.observer.ObserveDBQuery(label, time.Since(start))
	}
}

func (s *SQLSource) column(field string) (string, error) {
	if _, ok := s.allowed[field]; !ok {
		return "", appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("unknown column %q", field))
	}
	return pq.QuoteIdentifier(field), nil
}

// foldExpr mirrors textnorm.Fold on the database side.
func (s *SQLSource) foldExpr(col string, caseSensitive, accentInsensitive bool) string {
	expr := col + "::text"
	if accentInsensitive && s.unaccent {
		expr = "unaccent(" + expr + ")"
	}
	if !caseSensitive {
		expr = "LOWER(" + expr + ")"
	}
	return expr
}

func (s *SQLSource) where(q models.Query) (squirrel.And, error) {
	conds := squirrel.And{}

	if q.SearchText != "" {
		fields := q.SearchableFields
		if len(fields) == 0 {
			fields = s.columns
		}
		matchAny := squirrel.Or{}
		for _, f := range fields {
			col, err := s.column(f)
			if err != nil {
				return nil, err
			}
			matchAny = append(matchAny, s.searchCond(col, q))
		}
		conds = append(conds, matchAny)
	}

	for _, f := range q.Filters {
		cond, err := s.filterCond(f)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func (s *SQLSource) searchCond(col string, q models.Query) squirrel.Sqlizer {
	needle := q.SearchText
	switch q.SearchMode {
	case models.SearchRegex:
		op := "~*"
		if q.SearchCaseSensitive {
			op = "~"
		}
		return squirrel.Expr(fmt.Sprintf("%s::text %s ?", col, op), needle)
	case models.SearchEquals:
		return squirrel.Eq{s.foldExpr(col, q.SearchCaseSensitive, q.SearchAccentInsensitive): needle}
	case models.SearchStartsWith:
		return squirrel.Like{s.foldExpr(col, q.SearchCaseSensitive, q.SearchAccentInsensitive): escapeLike(needle) + "%"}
	default:
		return squirrel.Like{s.foldExpr(col, q.SearchCaseSensitive, q.SearchAccentInsensitive): "%" + escapeLike(needle) + "%"}
	}
}

func (s *SQLSource) filterCond(f models.FilterSpec) (squirrel.Sqlizer, error) {
	col, err := s.column(f.Field)
	if err != nil {
		return nil, err
	}
	switch f.Op {
	case models.OpEquals:
		return squirrel.Eq{col: f.Value}, nil
	case models.OpNotEquals:
		return squirrel.Or{squirrel.NotEq{col: f.Value}, squirrel.Eq{col: nil}}, nil
	case models.OpIn:
		return squirrel.Eq{col: sliceValues(f.Value)}, nil
	case models.OpGreaterThan:
		return squirrel.Gt{col: f.Value}, nil
	case models.OpGreaterOrEqual:
		return squirrel.GtOrEq{col: f.Value}, nil
	case models.OpLessThan:
		return squirrel.Lt{col: f.Value}, nil
	case models.OpLessOrEqual:
		return squirrel.LtOrEq{col: f.Value}, nil
	case models.OpContains, models.OpStartsWith, models.OpEndsWith:
		needle := escapeLike(strings.ToLower(fmt.Sprint(f.Value)))
		switch f.Op {
		case models.OpStartsWith:
			needle += "%"
		case models.OpEndsWith:
			needle = "%" + needle
		default:
			needle = "%" + needle + "%"
		}
		return squirrel.Like{s.foldExpr(col, false, true): needle}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("unknown filter operator %q", f.Op))
	}
}

// orderBy always ends with the key column so every page query sees the same
// total order.
func (s *SQLSource) orderBy(specs []models.SortSpec) ([]string, error) {
	out := make([]string, 0, len(specs)+1)
	keyed := false
	for _, spec := range specs {
		col, err := s.column(spec.Field)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if !spec.Ascending {
			dir = "DESC"
		}
		out = append(out, fmt.Sprintf("%s %s NULLS LAST", col, dir))
		keyed = keyed || spec.Field == s.key
	}
	if !keyed {
		out = append(out, pq.QuoteIdentifier(s.key)+" ASC")
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
