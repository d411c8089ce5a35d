package rule

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"halia/pkg/metrics"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// observe records a query once the enclosing function has set *err.
func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery("postgres", operation, status, time.Since(start))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint")
}

func (r *PostgresRepository) Create(ctx context.Context, rule *Rule) (err error) {
	defer observe("create_rule", time.Now(), &err)
	prepareNew(rule)

	graphJSON, err := json.Marshal(rule.Graph)
	if err != nil {
		return storageError("encode rule graph", err)
	}

	query := `
		INSERT INTO rules (id, name, description, graph, is_on, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, graphJSON,
		rule.On, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nameConflict(rule.Name, err)
		}
		return storageError("create rule", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (*Rule, error) {
	var (
		rule      Rule
		graphJSON []byte
	)
	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &graphJSON,
		&rule.On, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(graphJSON, &rule.Graph); err != nil {
		return nil, fmt.Errorf("rule %s has a corrupt graph: %w", rule.ID, err)
	}
	return &rule, nil
}

const selectRule = `SELECT id, name, description, graph, is_on, created_at, updated_at FROM rules`

func (r *PostgresRepository) Get(ctx context.Context, id string) (rule *Rule, err error) {
	defer observe("get_rule", time.Now(), &err)
	rule, err = scanRule(r.db.QueryRowContext(ctx, selectRule+` WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storageError("get rule", err)
	}
	return rule, nil
}

func (r *PostgresRepository) Update(ctx context.Context, rule *Rule) (err error) {
	defer observe("update_rule", time.Now(), &err)
	rule.UpdatedAt = time.Now().UTC()

	graphJSON, err := json.Marshal(rule.Graph)
	if err != nil {
		return storageError("encode rule graph", err)
	}

	query := `
		UPDATE rules
		SET name = $1, description = $2, graph = $3, is_on = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Description, graphJSON, rule.On, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nameConflict(rule.Name, err)
		}
		return storageError("update rule", err)
	}
	return affectedOne(res, rule.ID)
}

func (r *PostgresRepository) SetOn(ctx context.Context, id string, on bool) (err error) {
	defer observe("set_rule_on", time.Now(), &err)
	res, err := r.db.ExecContext(ctx, `UPDATE rules SET is_on = $1 WHERE id = $2`, on, id)
	if err != nil {
		return storageError("update rule state", err)
	}
	return affectedOne(res, id)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (err error) {
	defer observe("delete_rule", time.Now(), &err)
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return storageError("delete rule", err)
	}
	return affectedOne(res, id)
}

func affectedOne(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return storageError("read affected rows", err)
	}
	if rows == 0 {
		return notFound(id)
	}
	return nil
}

func (r *PostgresRepository) Search(ctx context.Context, q SearchQuery) (rules []Rule, total int, err error) {
	defer observe("search_rules", time.Now(), &err)

	where := `WHERE ($1 = '' OR name ILIKE '%' || $1 || '%') AND ($2::boolean IS NULL OR is_on = $2)`
	on := sql.NullBool{}
	if q.On != nil {
		on = sql.NullBool{Bool: *q.On, Valid: true}
	}

	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules `+where, q.Name, on).Scan(&total); err != nil {
		return nil, 0, storageError("count rules", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectRule+` `+where+` ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`,
		q.Name, on, q.Size, offset(q),
	)
	if err != nil {
		return nil, 0, storageError("search rules", err)
	}
	defer rows.Close()

	rules, err = collect(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

func (r *PostgresRepository) ListOn(ctx context.Context) (rules []Rule, err error) {
	defer observe("list_rules_on", time.Now(), &err)
	rows, err := r.db.QueryContext(ctx, selectRule+` WHERE is_on ORDER BY created_at`)
	if err != nil {
		return nil, storageError("list rules", err)
	}
	defer rows.Close()
	return collect(ctx, rows)
}

func collect(ctx context.Context, rows *sql.Rows) ([]Rule, error) {
	var rules []Rule
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}
		rule, err := scanRule(rows)
		if err != nil {
			return nil, storageError("scan rule", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate rules", err)
	}
	return rules, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (total, on int, err error) {
	defer observe("count_rules", time.Now(), &err)
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_on) FROM rules`,
	).Scan(&total, &on)
	if err != nil {
		return 0, 0, storageError("count rules", err)
	}
	return total, on, nil
}
