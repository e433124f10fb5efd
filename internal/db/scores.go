package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cortical-data/affinity.report/internal/eeg"
)

// ErrNoScores is returned by LatestScore when nothing has been recorded.
var ErrNoScores = errors.New("db: no scores recorded")

// Session describes one streaming run against a board.
type Session struct {
	ID         string     `json:"session_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Port       string     `json:"port"`
	SampleRate float64    `json:"sample_rate"`
	Channels   int        `json:"channels"`
}

// ScoreRecord is one persisted analysis result.
type ScoreRecord struct {
	ID         int64      `json:"score_id"`
	SessionID  string     `json:"session_id"`
	RecordedAt time.Time  `json:"recorded_at"`
	Result     eeg.Result `json:"result"`
}

// StartSession inserts a new session row and returns its ID.
func (db *DB) StartSession(port string, sampleRate float64, channels int) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, port, sample_rate, channels) VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), port, sampleRate, channels,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string) error {
	_, err := db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	return nil
}

// Sessions lists sessions newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, started_at, ended_at, port, sample_rate, channels
		 FROM sessions ORDER BY started_at DESC LIMIT 500`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var ended sql.NullTime
		if err := rows.Scan(&s.ID, &s.StartedAt, &ended, &s.Port, &s.SampleRate, &s.Channels); err != nil {
			return nil, err
		}
		if ended.Valid {
			s.EndedAt = &ended.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RecordScore persists an analysis result with its per-channel band
// powers and returns the score row ID.
func (db *DB) RecordScore(sessionID string, res *eeg.Result, bands []eeg.BandPowerMap) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO scores (session_id, recorded_at, score, category,
		   faa_score, arousal_score, p300_score, faa_raw, arousal_raw, p300_raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, time.Now().UTC(), res.Score, string(res.Category),
		res.Components.FAA, res.Components.Arousal, res.Components.P300,
		res.Raw.FAA, res.Raw.Arousal, res.Raw.P300,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record score: %w", err)
	}
	scoreID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for ch, powers := range bands {
		for band, power := range powers {
			if _, err := tx.Exec(
				`INSERT INTO band_powers (score_id, channel, band, power) VALUES (?, ?, ?, ?)`,
				scoreID, ch, band, power,
			); err != nil {
				return 0, fmt.Errorf("failed to record band power: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return scoreID, nil
}

// LatestScore returns the most recent score across all sessions.
func (db *DB) LatestScore() (*ScoreRecord, error) {
	row := db.QueryRow(
		`SELECT score_id, session_id, recorded_at, score, category,
		   faa_score, arousal_score, p300_score, faa_raw, arousal_raw, p300_raw
		 FROM scores ORDER BY recorded_at DESC, score_id DESC LIMIT 1`)
	rec, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoScores
	}
	return rec, err
}

// ScoresBySession lists a session's scores oldest first.
func (db *DB) ScoresBySession(sessionID string) ([]ScoreRecord, error) {
	rows, err := db.Query(
		`SELECT score_id, session_id, recorded_at, score, category,
		   faa_score, arousal_score, p300_score, faa_raw, arousal_raw, p300_raw
		 FROM scores WHERE session_id = ? ORDER BY recorded_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ScoreRecord
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// BandPowersForScore returns the stored per-channel band powers.
func (db *DB) BandPowersForScore(scoreID int64) ([]eeg.BandPowerMap, error) {
	rows, err := db.Query(
		`SELECT channel, band, power FROM band_powers WHERE score_id = ? ORDER BY channel`, scoreID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byChannel := map[int]eeg.BandPowerMap{}
	maxChannel := -1
	for rows.Next() {
		var channel int
		var band string
		var power float64
		if err := rows.Scan(&channel, &band, &power); err != nil {
			return nil, err
		}
		if byChannel[channel] == nil {
			byChannel[channel] = eeg.BandPowerMap{}
		}
		byChannel[channel][band] = power
		if channel > maxChannel {
			maxChannel = channel
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]eeg.BandPowerMap, maxChannel+1)
	for ch, powers := range byChannel {
		out[ch] = powers
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*ScoreRecord, error) {
	var rec ScoreRecord
	var category string
	err := row.Scan(
		&rec.ID, &rec.SessionID, &rec.RecordedAt, &rec.Result.Score, &category,
		&rec.Result.Components.FAA, &rec.Result.Components.Arousal, &rec.Result.Components.P300,
		&rec.Result.Raw.FAA, &rec.Result.Raw.Arousal, &rec.Result.Raw.P300,
	)
	if err != nil {
		return nil, err
	}
	rec.Result.Category = eeg.Category(category)
	return &rec, nil
}
