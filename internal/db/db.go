// Package db stores capture sessions and decoded SLIP packets in sqlite.
package db

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/slip.capture/internal/slip"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("capture session not found")

type DB struct {
	*sql.DB
}

// pragmas are applied to every connection. The pool is capped at a single
// connection so they hold for every query.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// NewDB opens (or creates) the database at path and migrates it to the latest
// schema version.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenDB opens the database and applies the pragmas without touching the
// schema. The migrate subcommand uses it so it sees the real version.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return &DB{sqlDB}, nil
}

// SessionInfo describes the port a capture session reads from.
type SessionInfo struct {
	PortPath     string
	BaudRate     int
	MaxPacketLen int
	StartedAt    time.Time
}

// Session is a stored capture session.
type Session struct {
	ID           string     `json:"session_id"`
	PortPath     string     `json:"port_path"`
	BaudRate     int        `json:"baud_rate"`
	MaxPacketLen int        `json:"max_packet_len"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Stats        slip.Stats `json:"stats"`
}

// StoredPacket is a decoded packet as recorded in the store.
type StoredPacket struct {
	ID         int64     `json:"packet_id"`
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	Length     int       `json:"length"`
	Data       []byte    `json:"-"`
	Hex        string    `json:"hex"`
	ReceivedAt time.Time `json:"received_at"`
}

// StartSession records a new capture session and returns its id.
func (db *DB) StartSession(info SessionInfo) (string, error) {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO capture_sessions (session_id, port_path, baud_rate, max_packet_len, started_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		id, info.PortPath, info.BaudRate, info.MaxPacketLen, info.StartedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession records endedAt as the session's end time and stores the
// decoder counters. A zero endedAt means now.
func (db *DB) EndSession(id string, stats slip.Stats, endedAt time.Time) error {
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	res, err := db.Exec(`
		UPDATE capture_sessions
		SET ended_unix_nanos = ?, packets_decoded = ?, bytes_decoded = ?,
			empty_ends = ?, invalid_escapes = ?, dropped_bytes = ?
		WHERE session_id = ?`,
		endedAt.UnixNano(),
		int64(stats.PacketsDecoded), int64(stats.BytesDecoded),
		int64(stats.EmptyEnds), int64(stats.InvalidEscapes), int64(stats.DroppedBytes),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RecordPacket stores one decoded packet.
func (db *DB) RecordPacket(sessionID string, seq uint64, data []byte, receivedAt time.Time) error {
	if len(data) == 0 {
		return errors.New("refusing to record empty packet")
	}
	_, err := db.Exec(`
		INSERT INTO slip_packets (session_id, seq, length, data, data_hex, received_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, int64(seq), len(data), data, hex.EncodeToString(data), receivedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record packet: %w", err)
	}
	return nil
}

// Packets returns up to limit packets for the session, newest first. An empty
// sessionID spans every session.
func (db *DB) Packets(sessionID string, limit int) ([]StoredPacket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT packet_id, session_id, seq, length, data, data_hex, received_unix_nanos
		FROM slip_packets
		WHERE ? = '' OR session_id = ?
		ORDER BY received_unix_nanos DESC, packet_id DESC
		LIMIT ?`,
		sessionID, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredPacket
	for rows.Next() {
		var p StoredPacket
		var seq, nanos int64
		if err := rows.Scan(&p.ID, &p.SessionID, &seq, &p.Length, &p.Data, &p.Hex, &nanos); err != nil {
			return nil, err
		}
		p.Seq = uint64(seq)
		p.ReceivedAt = time.Unix(0, nanos)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Sessions lists up to limit sessions, most recently started first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT session_id, port_path, baud_rate, max_packet_len, started_unix_nanos, ended_unix_nanos,
			packets_decoded, bytes_decoded, empty_ends, invalid_escapes, dropped_bytes
		FROM capture_sessions
		ORDER BY started_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started int64
		var ended sql.NullInt64
		var packets, bytes, emptyEnds, invalidEscapes, dropped int64
		if err := rows.Scan(&s.ID, &s.PortPath, &s.BaudRate, &s.MaxPacketLen, &started, &ended,
			&packets, &bytes, &emptyEnds, &invalidEscapes, &dropped); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			s.EndedAt = &t
		}
		s.Stats = slip.Stats{
			PacketsDecoded: uint64(packets),
			BytesDecoded:   uint64(bytes),
			EmptyEnds:      uint64(emptyEnds),
			InvalidEscapes: uint64(invalidEscapes),
			DroppedBytes:   uint64(dropped),
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LengthCounts returns the number of stored packets per packet length. An
// empty sessionID spans every session.
func (db *DB) LengthCounts(sessionID string) (map[int]int, error) {
	rows, err := db.Query(`
		SELECT length, COUNT(*)
		FROM slip_packets
		WHERE ? = '' OR session_id = ?
		GROUP BY length`, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var length, n int
		if err := rows.Scan(&length, &n); err != nil {
			return nil, err
		}
		counts[length] = n
	}
	return counts, rows.Err()
}
