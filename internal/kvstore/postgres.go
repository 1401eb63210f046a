package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"storefront/internal/logging"
)

// NotifyChannel is the Postgres channel that carries changed paths.
const NotifyChannel = "kv_changes"

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres stores leaves in the kv_leaves table. Changes committed by any process
// reach local subscribers once Listen is running; local writes are published directly.
type Postgres struct {
	pool *pgxpool.Pool
	hub  *hub
	log  logrus.FieldLogger
}

func NewPostgres(pool *pgxpool.Pool, log logrus.FieldLogger) *Postgres {
	s := &Postgres{pool: pool, log: logging.OrDiscard(log)}
	s.hub = newHub(s.Read, s.log)
	return s
}

func (s *Postgres) Read(ctx context.Context, path string) (Snapshot, error) {
	p, err := Clean(path)
	if err != nil {
		return Snapshot{}, err
	}
	return readAt(ctx, s.pool, p)
}

func (s *Postgres) Write(ctx context.Context, path string, value any) error {
	op, err := writeOp(path, value)
	if err != nil {
		return err
	}
	return s.commit(ctx, []mutation{op})
}

func (s *Postgres) Update(ctx context.Context, path string, fields map[string]any) error {
	ops, err := updateOps(path, fields)
	if err != nil {
		return err
	}
	return s.commit(ctx, ops)
}

func (s *Postgres) Delete(ctx context.Context, path string) error {
	p, err := Clean(path)
	if err != nil {
		return err
	}
	return s.commit(ctx, []mutation{{path: p}})
}

func (s *Postgres) Push(ctx context.Context, path string, value any) (string, error) {
	key := NewKey()
	if err := s.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Postgres) Transaction(ctx context.Context, root string, fn func(tx Tx) error) error {
	r, err := Clean(root)
	if err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r); err != nil {
		return fmt.Errorf("lock %s: %w", r, err)
	}

	ptx := &postgresTx{root: r, tx: tx}
	if err := fn(ptx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, p := range ptx.touched {
		s.hub.publish(p)
	}
	return nil
}

func (s *Postgres) Subscribe(path string, fn func(Snapshot)) (Unsubscribe, error) {
	p, err := Clean(path)
	if err != nil {
		return nil, err
	}
	return s.hub.subscribe(p, fn), nil
}

// Listen relays change notifications from every process to local subscribers until ctx
// ends or the connection fails. Subscribers are refreshed on start, so callers can
// simply call Listen again after an error.
func (s *Postgres) Listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	s.log.Info("kvstore: listening for changes")
	s.hub.publishAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		s.hub.publish(n.Payload)
	}
}

func (s *Postgres) commit(ctx context.Context, ops []mutation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		if err := applyRows(ctx, tx, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, op := range ops {
		s.hub.publish(op.path)
	}
	return nil
}

type postgresTx struct {
	root    string
	tx      pgx.Tx
	touched []string
}

func (t *postgresTx) Read(ctx context.Context, path string) (Snapshot, error) {
	p, err := t.scoped(path)
	if err != nil {
		return Snapshot{}, err
	}
	return readAt(ctx, t.tx, p)
}

func (t *postgresTx) Write(ctx context.Context, path string, value any) error {
	if _, err := t.scoped(path); err != nil {
		return err
	}
	op, err := writeOp(path, value)
	if err != nil {
		return err
	}
	return t.apply(ctx, op)
}

func (t *postgresTx) Update(ctx context.Context, path string, fields map[string]any) error {
	if _, err := t.scoped(path); err != nil {
		return err
	}
	ops, err := updateOps(path, fields)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := t.apply(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (t *postgresTx) Delete(ctx context.Context, path string) error {
	p, err := t.scoped(path)
	if err != nil {
		return err
	}
	return t.apply(ctx, mutation{path: p})
}

func (t *postgresTx) Push(ctx context.Context, path string, value any) (string, error) {
	key := NewKey()
	if err := t.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (t *postgresTx) apply(ctx context.Context, op mutation) error {
	if err := applyRows(ctx, t.tx, op); err != nil {
		return err
	}
	t.touched = append(t.touched, op.path)
	return nil
}

func (t *postgresTx) scoped(path string) (string, error) {
	p, err := Clean(path)
	if err != nil {
		return "", err
	}
	if !within(t.root, p) {
		return "", ErrOutsideTransaction
	}
	return p, nil
}

// subtreeBounds returns the key range holding every descendant of p under "C" collation.
// '0' is the byte after '/'.
func subtreeBounds(p string) (lo, hi string) {
	return p + "/", p + "0"
}

func readAt(ctx context.Context, q dbtx, p string) (Snapshot, error) {
	lo, hi := subtreeBounds(p)
	rows, err := q.Query(ctx, `
SELECT path, value::text
FROM kv_leaves
WHERE path = $1 OR (path >= $2 AND path < $3)
`, p, lo, hi)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	leaves := make(map[string]json.RawMessage)
	for rows.Next() {
		var path, value string
		if err := rows.Scan(&path, &value); err != nil {
			return Snapshot{}, err
		}
		leaves[path] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	raw, err := unflatten(p, leaves)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: p, raw: raw}, nil
}

func applyRows(ctx context.Context, q dbtx, op mutation) error {
	lo, hi := subtreeBounds(op.path)
	if _, err := q.Exec(ctx, `
DELETE FROM kv_leaves
WHERE path = $1 OR (path >= $2 AND path < $3)
`, op.path, lo, hi); err != nil {
		return err
	}

	if len(op.leaves) > 0 {
		if anc := ancestors(op.path); len(anc) > 0 {
			if _, err := q.Exec(ctx, `DELETE FROM kv_leaves WHERE path = ANY($1)`, anc); err != nil {
				return err
			}
		}
		paths := make([]string, 0, len(op.leaves))
		values := make([]string, 0, len(op.leaves))
		for p, v := range op.leaves {
			paths = append(paths, p)
			values = append(values, string(v))
		}
		if _, err := q.Exec(ctx, `
INSERT INTO kv_leaves (path, value)
SELECT p, v::jsonb
FROM unnest($1::text[], $2::text[]) AS t(p, v)
`, paths, values); err != nil {
			return err
		}
	}

	_, err := q.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, op.path)
	return err
}
