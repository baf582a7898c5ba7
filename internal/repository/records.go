package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/period"
)

const recordsTable = "step_records"

var recordColumns = []string{"id", "user_id", "date", "steps", "verified", "proof_ref", "created_at", "updated_at"}

// RecordRepository is a local record store speaking the same contracts as the remote API.
type RecordRepository interface {
	client.RecordCommitter
	client.BulkMutator
	client.RecordLister
	Get(ctx context.Context, id string) (*entity.Record, error)
}

type recordRepository struct {
	db     *DB
	userID string
	now    func() time.Time
	logger *slog.Logger
}

// NewRecordRepository scopes writes to the context user, falling back to defaultUserID.
func NewRecordRepository(db *DB, defaultUserID string, logger *slog.Logger) RecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &recordRepository{db: db, userID: defaultUserID, now: time.Now, logger: logger}
}

func (r *recordRepository) user(ctx context.Context) string {
	if id := common.UserIDFromContext(ctx); id != "" {
		return id
	}
	return r.userID
}

func (r *recordRepository) stamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func (r *recordRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect())
}

func scanRecord(rows *entsql.Rows) (entity.Record, error) {
	var (
		rec              entity.Record
		created, updated string
	)
	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Date, &rec.Steps, &rec.Verified, &rec.ProofRef, &created, &updated); err != nil {
		return entity.Record{}, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return rec, nil
}

func (r *recordRepository) queryRecords(ctx context.Context, ex dialect.ExecQuerier, sel *entsql.Selector) ([]entity.Record, error) {
	q, args := sel.Query()
	rows := &entsql.Rows{}
	if err := ex.Query(ctx, q, args, rows); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", common.ErrDatabase, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *recordRepository) byUserDate(ctx context.Context, ex dialect.ExecQuerier, userID, date string) (*entity.Record, error) {
	b := r.builder()
	sel := b.Select(recordColumns...).From(b.Table(recordsTable)).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.EQ("date", date))).
		Limit(1)
	recs, err := r.queryRecords(ctx, ex, sel)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// Get returns one record of the current user.
func (r *recordRepository) Get(ctx context.Context, id string) (*entity.Record, error) {
	b := r.builder()
	sel := b.Select(recordColumns...).From(b.Table(recordsTable)).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("user_id", r.user(ctx))))
	recs, err := r.queryRecords(ctx, r.db.drv, sel)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	return &recs[0], nil
}

func exec(ctx context.Context, ex dialect.ExecQuerier, q string, args []any) (int64, error) {
	var res sql.Result
	if err := ex.Exec(ctx, q, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func toExisting(rec *entity.Record) entity.ExistingRecord {
	return entity.ExistingRecord{ID: rec.ID, Steps: rec.Steps, Verified: rec.Verified, ProofRef: rec.ProofRef}
}

// Commit inserts a record, or overwrites the one on the same date when asked.
// Overwritten records lose their verified flag.
func (r *recordRepository) Commit(ctx context.Context, req client.CommitRequest) (client.CommitResult, error) {
	v := common.NewValidator().
		Field("date", req.Date, common.Required, common.DateYMD).
		Field("steps", req.Steps, common.NonNegative)
	if err := v.Error(); err != nil {
		return client.CommitResult{}, err
	}
	userID := r.user(ctx)

	tx, err := r.db.drv.Tx(ctx)
	if err != nil {
		return client.CommitResult{}, fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := r.byUserDate(ctx, tx, userID, req.Date)
	if err != nil {
		return client.CommitResult{}, err
	}

	b := r.builder()
	now := r.stamp()
	var id string
	switch {
	case existing != nil && !req.Overwrite:
		return client.CommitResult{}, &common.ConflictError{Date: req.Date, Existing: toExisting(existing)}
	case existing != nil:
		id = existing.ID
		q, args := b.Update(recordsTable).
			Set("steps", req.Steps).
			Set("proof_ref", req.ProofRef).
			Set("verified", false).
			Set("updated_at", now).
			Where(entsql.EQ("id", id)).
			Query()
		if _, err := exec(ctx, tx, q, args); err != nil {
			return client.CommitResult{}, fmt.Errorf("%w: overwrite: %v", common.ErrDatabase, err)
		}
	default:
		id = uuid.NewString()
		q, args := b.Insert(recordsTable).
			Columns(recordColumns...).
			Values(id, userID, req.Date, req.Steps, false, req.ProofRef, now, now).
			Query()
		if _, err := exec(ctx, tx, q, args); err != nil {
			if isUniqueViolation(err) {
				_ = tx.Rollback()
				if cur, gerr := r.byUserDate(ctx, r.db.drv, userID, req.Date); gerr == nil && cur != nil {
					return client.CommitResult{}, &common.ConflictError{Date: req.Date, Existing: toExisting(cur)}
				}
			}
			return client.CommitResult{}, fmt.Errorf("%w: insert: %v", common.ErrDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return client.CommitResult{}, fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)
	}
	r.logger.Info("repository.record.committed", "id", id, "date", req.Date, "overwrite", existing != nil)
	return client.CommitResult{ID: id}, nil
}

// DeleteByIDs deletes each id independently and reports per-id misses.
func (r *recordRepository) DeleteByIDs(ctx context.Context, ids []string) (client.BulkResult, error) {
	userID := r.user(ctx)
	res := client.BulkResult{}
	for _, id := range ids {
		q, args := r.builder().Delete(recordsTable).
			Where(entsql.And(entsql.EQ("id", id), entsql.EQ("user_id", userID))).
			Query()
		n, err := exec(ctx, r.db.drv, q, args)
		switch {
		case err != nil:
			res.Fail(id, err.Error())
		case n == 0:
			res.Fail(id, common.ErrNotFound.Error())
		default:
			res.Succeeded++
		}
	}
	r.logger.Info("repository.records.deleted", "succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}

// PatchDate moves a record to date. Moving onto an occupied date is a conflict.
func (r *recordRepository) PatchDate(ctx context.Context, id, date string) error {
	if err := period.ValidateRecordDate(date, r.now()); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Date == date {
		return nil
	}
	if other, err := r.byUserDate(ctx, r.db.drv, cur.UserID, date); err != nil {
		return err
	} else if other != nil {
		return &common.ConflictError{Date: date, Existing: toExisting(other)}
	}

	q, args := r.builder().Update(recordsTable).
		Set("date", date).
		Set("updated_at", r.stamp()).
		Where(entsql.EQ("id", id)).
		Query()
	if _, err := exec(ctx, r.db.drv, q, args); err != nil {
		if isUniqueViolation(err) {
			return &common.ConflictError{Date: date}
		}
		return fmt.Errorf("%w: patch date: %v", common.ErrDatabase, err)
	}
	return nil
}

// ReverifyByIDs queues records with a proof for verification again by clearing
// their verified flag. Records without a proof cannot be verified.
func (r *recordRepository) ReverifyByIDs(ctx context.Context, ids []string) (client.BulkResult, error) {
	res := client.BulkResult{}
	for _, id := range ids {
		cur, err := r.Get(ctx, id)
		if err != nil {
			res.Fail(id, err.Error())
			continue
		}
		if cur.ProofRef == "" {
			res.Fail(id, "record has no proof")
			continue
		}
		q, args := r.builder().Update(recordsTable).
			Set("verified", false).
			Set("updated_at", r.stamp()).
			Where(entsql.EQ("id", id)).
			Query()
		if _, err := exec(ctx, r.db.drv, q, args); err != nil {
			res.Fail(id, err.Error())
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

func (r *recordRepository) filterPredicate(ctx context.Context, f entity.RecordFilter) (*entsql.Predicate, error) {
	userID := f.UserID
	if f.ViewContext == constants.ViewProxy {
		if f.ProxyID == "" {
			return nil, common.ErrProxyRequired
		}
		userID = f.ProxyID
	}
	if userID == "" {
		userID = r.user(ctx)
	}

	preds := []*entsql.Predicate{entsql.EQ("user_id", userID)}
	if f.From != "" {
		preds = append(preds, entsql.GTE("date", f.From))
	}
	if f.To != "" {
		preds = append(preds, entsql.LTE("date", f.To))
	}
	if f.Verified != nil {
		preds = append(preds, entsql.EQ("verified", *f.Verified))
	}
	return entsql.And(preds...), nil
}

// List returns one page of records, newest date first.
func (r *recordRepository) List(ctx context.Context, filter entity.RecordFilter, page, pageSize int) (entity.RecordPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return entity.RecordPage{}, fmt.Errorf("%w: page size must be positive", common.ErrInvalidInput)
	}
	pred, err := r.filterPredicate(ctx, filter)
	if err != nil {
		return entity.RecordPage{}, err
	}

	b := r.builder()
	cq, cargs := b.Select().Count().From(b.Table(recordsTable)).Where(pred).Query()
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, cq, cargs, rows); err != nil {
		return entity.RecordPage{}, fmt.Errorf("%w: count: %v", common.ErrDatabase, err)
	}
	var total int
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			rows.Close()
			return entity.RecordPage{}, fmt.Errorf("%w: count: %v", common.ErrDatabase, err)
		}
	}
	rows.Close()

	sel := b.Select(recordColumns...).From(b.Table(recordsTable)).
		Where(pred).
		OrderBy(entsql.Desc("date"), entsql.Asc("id")).
		Limit(pageSize).
		Offset((page - 1) * pageSize)
	items, err := r.queryRecords(ctx, r.db.drv, sel)
	if err != nil {
		return entity.RecordPage{}, err
	}
	if items == nil {
		items = []entity.Record{}
	}
	return entity.RecordPage{Items: items, Total: total}, nil
}
