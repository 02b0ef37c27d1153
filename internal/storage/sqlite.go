package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO speed_tests(at, download_mbps, upload_mbps, ping_ms, download_pct, upload_pct, server_host, server_location, client_ip, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.Timestamp.Format(time.RFC3339Nano), r.DownloadMbps, r.UploadMbps, r.PingMs,
		r.DownloadPercent, r.UploadPercent,
		nullStr(r.ServerHost), nullStr(r.ServerLocation), nullStr(r.ClientIP), nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) Load(ctx context.Context) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, download_mbps, upload_mbps, ping_ms, download_pct, upload_pct,
		        COALESCE(server_host,''), COALESCE(server_location,''), COALESCE(client_ip,''), COALESCE(err,'')
		 FROM speed_tests ORDER BY at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var at string
		if err := rows.Scan(&at, &r.DownloadMbps, &r.UploadMbps, &r.PingMs,
			&r.DownloadPercent, &r.UploadPercent,
			&r.ServerHost, &r.ServerLocation, &r.ClientIP, &r.Error); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			s.log.Warn("skipping row with bad timestamp", logx.String("at", at))
			continue
		}
		r.Timestamp = ts
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
