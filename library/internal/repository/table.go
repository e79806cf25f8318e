package repository

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/Astemirdum/library-desk/library/internal/errs"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const idColumn = "id"

// Table is a row gateway keyed by an int64 id column.
// Rows come back in insertion order unless a caller orders them otherwise.
type Table[T any] struct {
	db      *sqlx.DB
	qb      sq.StatementBuilderType
	dialect Dialect
	log     *zap.Logger

	name    string
	columns []string
	id      func(T) int64
	fields  func(T) map[string]any
}

func newTable[T any](r *repository, name string, columns []string, id func(T) int64, fields func(T) map[string]any) *Table[T] {
	return &Table[T]{
		db:      r.db,
		qb:      r.qb,
		dialect: r.dialect,
		log:     r.log.With(zap.String("table", name)),
		name:    name,
		columns: columns,
		id:      id,
		fields:  fields,
	}
}

func (t *Table[T]) selectAll() sq.SelectBuilder {
	return t.qb.Select(t.columns...).From(t.name)
}

func (t *Table[T]) Get(ctx context.Context, id int64) (T, error) {
	var rec T
	query, args, err := t.selectAll().
		Where(sq.Eq{idColumn: id}).
		Limit(1).
		ToSql()
	if err != nil {
		return rec, err
	}
	if err := t.db.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, errors.Wrapf(errs.ErrNotFound, "%s %d", t.name, id)
		}
		t.log.Error("Get", zap.String("q", query), zap.Any("args", args), zap.Error(err))
		return rec, errs.Storage(t.name+".Get", err)
	}
	return rec, nil
}

// Put inserts rec, or overwrites the row with rec's id when it is set. It returns the row id.
func (t *Table[T]) Put(ctx context.Context, rec T) (int64, error) {
	values := t.fields(rec)
	id := t.id(rec)
	if id != 0 {
		values[idColumn] = id
	}
	ins := t.qb.Insert(t.name).SetMap(values)
	if id != 0 {
		ins = ins.Suffix(upsertClause(values))
	}
	query, args, err := ins.Suffix("RETURNING " + idColumn).ToSql()
	if err != nil {
		return 0, err
	}
	if err := t.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		if t.dialect.uniqueViolation(err) {
			return 0, errors.Wrap(errs.ErrAlreadyExists, t.name)
		}
		t.log.Error("Put", zap.String("q", query), zap.Any("args", args), zap.Error(err))
		return 0, errs.Storage(t.name+".Put", err)
	}
	return id, nil
}

func upsertClause(values map[string]any) string {
	set := make([]string, 0, len(values))
	for _, col := range slices.Sorted(maps.Keys(values)) {
		if col == idColumn {
			continue
		}
		set = append(set, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", idColumn, strings.Join(set, ", "))
}

// Query returns every row matching pred; a nil pred matches all rows.
func (t *Table[T]) Query(ctx context.Context, pred sq.Sqlizer) ([]T, error) {
	return t.list(ctx, t.selectAll().Where(pred).OrderBy(idColumn))
}

func (t *Table[T]) list(ctx context.Context, q sq.SelectBuilder) ([]T, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	t.log.Debug("list", zap.String("query", query), zap.Any("args", args))

	items := make([]T, 0)
	if err := t.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, errs.Storage(t.name+".Query", err)
	}
	return items, nil
}

// Scan streams the rows matching pred. The query runs anew on every iteration.
func (t *Table[T]) Scan(ctx context.Context, pred sq.Sqlizer) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		query, args, err := t.selectAll().Where(pred).OrderBy(idColumn).ToSql()
		if err != nil {
			yield(zero, err)
			return
		}
		rows, err := t.db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(zero, errs.Storage(t.name+".Scan", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec T
			if err := rows.StructScan(&rec); err != nil {
				yield(zero, errs.Storage(t.name+".Scan", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, errs.Storage(t.name+".Scan", err))
		}
	}
}

func (t *Table[T]) Delete(ctx context.Context, id int64) error {
	query, args, err := t.qb.Delete(t.name).Where(sq.Eq{idColumn: id}).ToSql()
	if err != nil {
		return err
	}
	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errs.Storage(t.name+".Delete", err)
	}
	return expectRow(res, errors.Wrapf(errs.ErrNotFound, "%s %d", t.name, id))
}

func (t *Table[T]) Count(ctx context.Context, pred sq.Sqlizer) (int, error) {
	query, args, err := t.qb.Select("COUNT(*)").From(t.name).Where(pred).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := t.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errs.Storage(t.name+".Count", err)
	}
	return n, nil
}

// exec runs an update on ex, the db or a transaction, and reports missing when it touched no row.
func (t *Table[T]) exec(ctx context.Context, ex sqlx.ExecerContext, upd sq.UpdateBuilder, missing error) error {
	query, args, err := upd.ToSql()
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		t.log.Error("exec", zap.String("q", query), zap.Any("args", args), zap.Error(err))
		return errs.Storage(t.name+".Update", err)
	}
	return expectRow(res, missing)
}

func expectRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Storage("RowsAffected", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
