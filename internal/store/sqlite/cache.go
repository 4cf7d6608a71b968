package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/valhallatattoo/sitecache/internal/store"
)

func (d *DB) CreateCache(ctx context.Context, name string) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, formatTime(time.Now()),
	)
	return err
}

func (d *DB) ListCaches(ctx context.Context) ([]string, error) {
	rows, err := d.q.QueryContext(ctx, `SELECT name FROM caches ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (d *DB) DeleteCache(ctx context.Context, name string) error {
	return d.withTx(ctx, func(q queryable) error {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE cache_name = ?`, name,
		); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

func (d *DB) Match(ctx context.Context, cacheName string, key store.RequestKey) (*store.CachedResponse, error) {
	var r store.CachedResponse
	var headers, storedAt string
	err := d.q.QueryRowContext(ctx, `
		SELECT status, headers, body, stored_at
		FROM cache_entries
		WHERE cache_name = ? AND method = ? AND url = ?`,
		cacheName, key.Method, key.URL,
	).Scan(&r.Status, &headers, &r.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Header = decodeHeader(headers)
	r.StoredAt = parseTime(storedAt)
	if r.Body == nil {
		r.Body = []byte{}
	}
	return &r, nil
}

func (d *DB) Put(ctx context.Context, cacheName string, key store.RequestKey, resp *store.CachedResponse) error {
	headers, err := encodeHeader(resp.Header)
	if err != nil {
		return err
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	return d.withTx(ctx, func(q queryable) error {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
			cacheName, formatTime(time.Now()),
		); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO cache_entries
				(cache_name, method, url, status, headers, body, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (cache_name, method, url) DO UPDATE SET
				status = excluded.status,
				headers = excluded.headers,
				body = excluded.body,
				stored_at = excluded.stored_at`,
			cacheName, key.Method, key.URL, resp.Status, headers, resp.Body,
			formatTime(storedAt),
		)
		return err
	})
}

func (d *DB) DeleteEntry(ctx context.Context, cacheName string, key store.RequestKey) error {
	res, err := d.q.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE cache_name = ? AND method = ? AND url = ?`,
		cacheName, key.Method, key.URL,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) CountEntries(ctx context.Context, cacheName string) (int, error) {
	var exists int
	if err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM caches WHERE name = ?`, cacheName,
	).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, store.ErrNotFound
	}
	var n int
	err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE cache_name = ?`, cacheName,
	).Scan(&n)
	return n, err
}
