package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/model"
)

type SQLiteStorage struct {
	DB  *sql.DB
	now func() time.Time
}

// NewStorage creates new SQLite storage, creates tables if they don't exist
func NewStorage(ctx context.Context, path string) (*SQLiteStorage, error) {
	sqliteDatabase, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// single writer, upserts are serialized by the connection itself
	sqliteDatabase.SetMaxOpenConns(1)

	go func() {
		<-ctx.Done()
		sqliteDatabase.Close()
	}()

	q := `CREATE TABLE IF NOT EXISTS meetings (
		eventId TEXT PRIMARY KEY,
		userId TEXT,
		title TEXT,
		date TEXT,
		startTime TEXT,
		endTime TEXT,
		organizer TEXT,
		source TEXT,
		categoryId TEXT,
		botId TEXT,
		summary TEXT,
		actionPoints TEXT,
		topics TEXT,
		participants TEXT,
		isPublic INTEGER,
		status TEXT,
		errorMessage TEXT,
		startsAt TEXT,
		updatedAt TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_meetings_user ON meetings(userId, startsAt);`
	_, err = sqliteDatabase.ExecContext(ctx, q)
	if err != nil {
		return nil, err
	}

	return &SQLiteStorage{DB: sqliteDatabase, now: time.Now}, nil
}

const columns = `eventId, userId, title, date, startTime, endTime, organizer, source, categoryId, botId,
	summary, actionPoints, topics, participants, isPublic, status, errorMessage, updatedAt`

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row scanner) (*model.Meeting, error) {
	m := model.Meeting{}
	var summary, actionPoints, topics, participants, updatedAt string
	err := row.Scan(
		&m.EventId,
		&m.UserId,
		&m.Title,
		&m.Date,
		&m.StartTime,
		&m.EndTime,
		&m.Organizer,
		&m.Source,
		&m.CategoryId,
		&m.BotId,
		&summary,
		&actionPoints,
		&topics,
		&participants,
		&m.IsPublic,
		&m.Status,
		&m.ErrorMessage,
		&updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNoRows
		}
		return nil, err
	}
	m.Summary, m.ActionPoints, m.Topics, m.Participants = []byte(summary), []byte(actionPoints), []byte(topics), []byte(participants)
	if updatedAt != "" {
		m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("bad updatedAt for %s: %w", m.EventId, err)
		}
	}
	res := m.Normalize()
	return &res, nil
}

// Upsert inserts or replaces the meeting keyed by EventId. A write with a less
// terminal status than the stored one is rejected with storage.ErrStaleWrite,
// a write with identical content leaves the row untouched.
func (s *SQLiteStorage) Upsert(ctx context.Context, meeting model.Meeting) error {
	if meeting.EventId == "" {
		return errors.New("meeting without event id")
	}
	meeting = meeting.Normalize()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanMeeting(tx.QueryRowContext(ctx, "SELECT "+columns+" FROM `meetings` WHERE eventId = $1", meeting.EventId))
	switch {
	case err == storage.ErrNoRows:
	case err != nil:
		return fmt.Errorf("read %s: %w", meeting.EventId, err)
	case meeting.Status.Rank() < existing.Status.Rank():
		return fmt.Errorf("%s is %s, refusing %s: %w", meeting.EventId, existing.Status, meeting.Status, storage.ErrStaleWrite)
	case existing.SameContent(meeting):
		log.Printf("[DEBUG] meeting %s unchanged", meeting.EventId)
		return nil
	}

	meeting.UpdatedAt = s.now().UTC()
	startsAt := ""
	if t := meeting.StartsAt(); !t.IsZero() {
		startsAt = t.Format(time.DateTime)
	}

	q := "INSERT INTO `meetings`(" + columns + `, startsAt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT(eventId) DO UPDATE SET
			userId = excluded.userId,
			title = excluded.title,
			date = excluded.date,
			startTime = excluded.startTime,
			endTime = excluded.endTime,
			organizer = excluded.organizer,
			source = excluded.source,
			categoryId = excluded.categoryId,
			botId = excluded.botId,
			summary = excluded.summary,
			actionPoints = excluded.actionPoints,
			topics = excluded.topics,
			participants = excluded.participants,
			isPublic = excluded.isPublic,
			status = excluded.status,
			errorMessage = excluded.errorMessage,
			updatedAt = excluded.updatedAt,
			startsAt = excluded.startsAt`
	_, err = tx.ExecContext(ctx, q,
		meeting.EventId,
		meeting.UserId,
		meeting.Title,
		meeting.Date,
		meeting.StartTime,
		meeting.EndTime,
		meeting.Organizer,
		meeting.Source,
		meeting.CategoryId,
		meeting.BotId,
		string(meeting.Summary),
		string(meeting.ActionPoints),
		string(meeting.Topics),
		string(meeting.Participants),
		meeting.IsPublic,
		meeting.Status,
		meeting.ErrorMessage,
		meeting.UpdatedAt.Format(time.RFC3339Nano),
		startsAt)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", meeting.EventId, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByKey returns a meeting from the database
func (s *SQLiteStorage) GetByKey(ctx context.Context, eventId string) (*model.Meeting, error) {
	q := "SELECT " + columns + " FROM `meetings` WHERE eventId = $1"
	return scanMeeting(s.DB.QueryRowContext(ctx, q, eventId))
}

// GetAll returns meetings of the user, most recent first
func (s *SQLiteStorage) GetAll(ctx context.Context, userId string) ([]model.Meeting, error) {
	q := "SELECT " + columns + " FROM `meetings` WHERE userId = $1 ORDER BY startsAt DESC, eventId"
	rows, err := s.DB.QueryContext(ctx, q, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meetings []model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, *m)
	}
	return meetings, rows.Err()
}

// Keys returns event ids of the user's meetings
func (s *SQLiteStorage) Keys(ctx context.Context, userId string) ([]string, error) {
	q := "SELECT eventId FROM `meetings` WHERE userId = $1"
	rows, err := s.DB.QueryContext(ctx, q, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes the meeting, storage.ErrNoRows if there was nothing to remove
func (s *SQLiteStorage) Delete(ctx context.Context, eventId string) error {
	q := "DELETE FROM `meetings` WHERE eventId = $1"
	res, err := s.DB.ExecContext(ctx, q, eventId)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNoRows
	}
	return nil
}

// Stats returns the number of meetings in each status
func (s *SQLiteStorage) Stats(ctx context.Context) (map[model.MeetingStatus]int, error) {
	q := "SELECT status, count(eventId) FROM `meetings` GROUP BY status"
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[model.MeetingStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[model.MeetingStatus(status)] = count
	}
	return stats, rows.Err()
}

// Cleanup deletes all meetings from the database, used for testing
func (s *SQLiteStorage) Cleanup(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM `meetings`")
	return err
}
