package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskbot/internal/domain"
	logx "taskbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	// Pragmas in the DSN are applied to every connection the pool opens.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")

	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage"))}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `id, chat_id, user_id, text, due_at, reminder_minutes, notified, main_notified, confirmed, active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner, extra ...any) (domain.Task, error) {
	var (
		t   domain.Task
		due int64
	)
	dest := append([]any{
		&t.ID, &t.ChatID, &t.CreatorID, &t.Text, &due, &t.ReminderMinutes,
		&t.Notified, &t.MainNotified, &t.Confirmed, &t.Active,
	}, extra...)
	if err := r.Scan(dest...); err != nil {
		return domain.Task{}, err
	}
	t.Due = time.Unix(due, 0).UTC()
	return t, nil
}

func (s *sqliteStore) CreateTask(ctx context.Context, t domain.Task) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(chat_id, user_id, text, due_at, reminder_minutes, notified, main_notified, confirmed, active)
		 VALUES(?,?,?,?,?,?,?,?,1)`,
		t.ChatID, t.CreatorID, t.Text, t.Due.Unix(), t.ReminderMinutes,
		t.Notified, t.MainNotified, t.Confirmed,
	)
	if err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

func (s *sqliteStore) ListChatTasks(ctx context.Context, chatID int64, dueAfter time.Time) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE chat_id=? AND active=1 AND due_at > ?
		 ORDER BY due_at ASC, id ASC`,
		chatID, dueAfter.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("list chat tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListActiveTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.chat_id, t.user_id, t.text, t.due_at, t.reminder_minutes,
		        t.notified, t.main_notified, t.confirmed, t.active,
		        g.chat_id, g.timezone, g.custom_name, g.custom_offset
		 FROM tasks t
		 LEFT JOIN group_timezones g ON t.chat_id = g.chat_id
		 WHERE t.active=1
		 ORDER BY t.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledTask
	for rows.Next() {
		var (
			tzChat sql.NullInt64
			zone   sql.NullString
			name   sql.NullString
			offset sql.NullInt64
		)
		t, err := scanTask(rows, &tzChat, &zone, &name, &offset)
		if err != nil {
			return nil, err
		}
		st := domain.ScheduledTask{Task: t}
		if tzChat.Valid {
			st.Timezone = groupTimezone(tzChat.Int64, zone, name, offset)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateTask(ctx context.Context, id int64, u domain.TaskUpdate) error {
	if u.IsEmpty() {
		return nil
	}
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if u.Text != nil {
		add("text", *u.Text)
	}
	if u.Due != nil {
		add("due_at", u.Due.Unix())
	}
	if u.ReminderMinutes != nil {
		add("reminder_minutes", *u.ReminderMinutes)
	}
	if u.Notified != nil {
		add("notified", *u.Notified)
	}
	if u.MainNotified != nil {
		add("main_notified", *u.MainNotified)
	}
	if u.Confirmed != nil {
		add("confirmed", *u.Confirmed)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id=?`, args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteChatTasks(ctx context.Context, chatID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE chat_id=?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("delete chat tasks: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) ArchiveConfirmed(ctx context.Context, cutoff time.Time) ([]domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE confirmed=1 AND due_at < ?`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("archive select: %w", err)
	}
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE confirmed=1 AND due_at < ?`, cutoff.Unix()); err != nil {
		return nil, fmt.Errorf("archive delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) AddAssignee(ctx context.Context, taskID int64, handle string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_assignees(task_id, assignee) VALUES(?,?)`, taskID, handle)
	if err != nil {
		if isForeignKeyErr(err) {
			return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
		}
		return fmt.Errorf("add assignee: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListAssignees(ctx context.Context, taskID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT assignee FROM task_assignees WHERE task_id=? ORDER BY rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetGroupTimezone(ctx context.Context, chatID int64) (*domain.GroupTimezone, error) {
	var (
		zone   sql.NullString
		name   sql.NullString
		offset sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT timezone, custom_name, custom_offset FROM group_timezones WHERE chat_id=?`, chatID,
	).Scan(&zone, &name, &offset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group timezone: %w", err)
	}
	return groupTimezone(chatID, zone, name, offset), nil
}

func (s *sqliteStore) SetGroupTimezone(ctx context.Context, tz domain.GroupTimezone) error {
	var offset any
	if tz.CustomOffset != nil {
		offset = *tz.CustomOffset
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO group_timezones(chat_id, timezone, custom_name, custom_offset) VALUES(?,?,?,?)`,
		tz.ChatID, tz.Zone, nullStr(tz.CustomName), offset,
	)
	if err != nil {
		return fmt.Errorf("set group timezone: %w", err)
	}
	return nil
}

func (s *sqliteStore) AddTracked(ctx context.Context, m domain.TrackedMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_messages(chat_id, message_id, task_id, created_at) VALUES(?,?,?,?)`,
		m.ChatID, m.MessageID, m.TaskID, m.CreatedAt.Unix(),
	)
	return err
}

func (s *sqliteStore) ListTracked(ctx context.Context, chatID, taskID int64) ([]domain.TrackedMessage, error) {
	query := `SELECT chat_id, message_id, task_id, created_at FROM bot_messages WHERE chat_id=?`
	args := []any{chatID}
	if taskID != 0 {
		query += ` AND task_id=?`
		args = append(args, taskID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	defer rows.Close()
	var out []domain.TrackedMessage
	for rows.Next() {
		var (
			m  domain.TrackedMessage
			at int64
		)
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.TaskID, &at); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(at, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTracked(ctx context.Context, chatID int64, messageID int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bot_messages WHERE chat_id=? AND message_id=?`, chatID, messageID)
	return err
}

func (s *sqliteStore) GetPinned(ctx context.Context, chatID, taskID int64) (domain.PinnedMessage, bool, error) {
	p := domain.PinnedMessage{ChatID: chatID, TaskID: taskID}
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id FROM pinned_messages WHERE chat_id=? AND task_id=?`, chatID, taskID,
	).Scan(&p.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PinnedMessage{}, false, nil
	}
	if err != nil {
		return domain.PinnedMessage{}, false, fmt.Errorf("get pinned: %w", err)
	}
	return p, true, nil
}

func (s *sqliteStore) SetPinned(ctx context.Context, p domain.PinnedMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pinned_messages(chat_id, task_id, message_id) VALUES(?,?,?)`,
		p.ChatID, p.TaskID, p.MessageID,
	)
	return err
}

func (s *sqliteStore) DeletePinned(ctx context.Context, chatID, taskID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pinned_messages WHERE chat_id=? AND task_id=?`, chatID, taskID)
	return err
}

func groupTimezone(chatID int64, zone, name sql.NullString, offset sql.NullInt64) *domain.GroupTimezone {
	tz := &domain.GroupTimezone{ChatID: chatID, Zone: zone.String, CustomName: name.String}
	if offset.Valid {
		v := int(offset.Int64)
		tz.CustomOffset = &v
	}
	return tz
}

func isForeignKeyErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "foreign key")
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
