package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	xerrors "indexao/internal/errors"
	"indexao/internal/storage/sqlstore"
	"indexao/pkg/capability"
	"indexao/pkg/plugin"
)

// SQLStore writes switch events to the adapter_switch_history table.
type SQLStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLStore opens the database described by cfg and applies migrations.
func NewSQLStore(ctx context.Context, cfg sqlstore.Config) (*SQLStore, error) {
	db, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开切换历史数据库失败")
	}
	if err := sqlstore.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行切换历史迁移失败")
	}
	return &SQLStore{db: db, owned: true}, nil
}

// NewSQLStoreWithDB uses an already migrated database. Close leaves db open.
func NewSQLStoreWithDB(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Record(ctx context.Context, event plugin.SwitchEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO adapter_switch_history (id, kind, from_name, to_name, switched_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(event.Kind), event.From, event.To, ts.UnixNano())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入切换历史失败",
			xerrors.WithMetadata("event_id", id))
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, kind capability.Kind, limit int) ([]plugin.SwitchEvent, error) {
	limit = normalizeLimit(limit)
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, kind, from_name, to_name, switched_at FROM adapter_switch_history ORDER BY switched_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, kind, from_name, to_name, switched_at FROM adapter_switch_history WHERE kind = ? ORDER BY switched_at DESC LIMIT ?`,
			string(kind), limit)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询切换历史失败")
	}
	defer rows.Close()

	var events []plugin.SwitchEvent
	for rows.Next() {
		var (
			ev     plugin.SwitchEvent
			kindDB string
			nanos  int64
		)
		if err := rows.Scan(&ev.ID, &kindDB, &ev.From, &ev.To, &nanos); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析切换历史失败")
		}
		ev.Kind = capability.Kind(kindDB)
		ev.Timestamp = time.Unix(0, nanos).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历切换历史失败")
	}

	// newest first from the query, oldest first to the caller
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}
