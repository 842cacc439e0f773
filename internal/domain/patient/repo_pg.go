package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/unicode/norm"
)

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

const recordCols = `id, name, age, country, identifiers, source_url, status, created_at`

// canonicalNameSQL matches the expression of idx_patient_record_demographics.
// Names are stored in NFC, so only case and whitespace are folded here.
const canonicalNameSQL = `lower(regexp_replace(btrim(name), '\s+', ' ', 'g'))`

func (r *recordRepoPG) Create(ctx context.Context, rec *StoredRecord) error {
	rec.ID = uuid.New()
	rec.Name = norm.NFC.String(rec.Name)
	if rec.Status == "" {
		rec.Status = StatusExtracted
	}
	identifiers := rec.Identifiers
	if identifiers == nil {
		identifiers = map[string]string{}
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO patient_record (id, name, age, country, identifiers, source_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		rec.ID, rec.Name, nullableAge(rec.Age), string(rec.Country), identifiers,
		nullableString(rec.SourceURL), string(rec.Status),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert patient record: %w", err)
	}
	return nil
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StoredRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordCols+` FROM patient_record WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient record: %w", err)
	}
	return rec, nil
}

func (r *recordRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE patient_record SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update patient record status: %w", err)
	}
	return requireAffected(tag)
}

func (r *recordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM patient_record WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient record: %w", err)
	}
	return requireAffected(tag)
}

func (r *recordRepoPG) List(ctx context.Context, limit, offset int) ([]*StoredRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient_record`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordCols+` FROM patient_record ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// FindExact ORs every clause of q. Identifier clauses use jsonb containment so
// the GIN index on identifiers applies.
func (r *recordRepoPG) FindExact(ctx context.Context, q ExactQuery) ([]StoredRecord, error) {
	if q.Empty() {
		return nil, fmt.Errorf("exact query has no clauses")
	}

	var conds []string
	var args []interface{}
	for _, c := range q.Identifiers {
		args = append(args, c.Key, c.Value)
		conds = append(conds, fmt.Sprintf("identifiers @> jsonb_build_object($%d::text, $%d::text)", len(args)-1, len(args)))
	}
	if d := q.Demographic; d != nil {
		args = append(args, d.Name, d.Age, string(d.Country))
		n := len(args)
		conds = append(conds, fmt.Sprintf("(%s = lower($%d) AND age = $%d AND country = $%d)", canonicalNameSQL, n-2, n-1, n))
	}

	sql := `SELECT ` + recordCols + ` FROM patient_record WHERE ` + strings.Join(conds, " OR ") + ` ORDER BY created_at, id`
	return r.queryRecords(ctx, sql, args...)
}

// SearchCandidates ranks records by trigram similarity of the lowered name,
// falling back to substring containment for short names. An empty country
// searches every country.
func (r *recordRepoPG) SearchCandidates(ctx context.Context, q CandidateQuery) ([]StoredRecord, error) {
	exclude := q.Exclude
	if exclude == nil {
		exclude = []uuid.UUID{}
	}
	name := strings.ToLower(strings.TrimSpace(q.Name))

	return r.queryRecords(ctx, `
		SELECT `+recordCols+` FROM patient_record
		WHERE ($1 = '' OR country = $1)
			AND NOT (id = ANY($2))
			AND (lower(name) % $3 OR lower(name) LIKE '%' || $4 || '%' ESCAPE '\')
		ORDER BY similarity(lower(name), $3) DESC, created_at, id
		LIMIT $5`,
		string(q.Country), exclude, name, escapeLike(name), q.Limit,
	)
}

func (r *recordRepoPG) queryRecords(ctx context.Context, sql string, args ...interface{}) ([]StoredRecord, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*StoredRecord, error) {
	var (
		rec       StoredRecord
		age       *int
		country   string
		sourceURL *string
		status    string
	)
	if err := row.Scan(&rec.ID, &rec.Name, &age, &country, &rec.Identifiers, &sourceURL, &status, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if age != nil {
		rec.Age = *age
	}
	if sourceURL != nil {
		rec.SourceURL = *sourceURL
	}
	rec.Country = Country(country)
	rec.Status = Status(status)
	return &rec, nil
}

func requireAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableAge(age int) *int {
	if age == 0 {
		return nil
	}
	return &age
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
