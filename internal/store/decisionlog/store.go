package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"quantbot/internal/trader"
)

// 决策日志走独立的 sqlite 文件，与账本库分开，避免高频写入互相拖累。

// Store 管理决策周期留痕，方便排查与前端展示。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS decision_cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_id TEXT NOT NULL,
	trace_id TEXT NOT NULL,
	ts INTEGER NOT NULL,
	trigger_kind TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	raw_output TEXT NOT NULL DEFAULT '',
	transcript_json TEXT NOT NULL DEFAULT '[]',
	decisions_json TEXT NOT NULL DEFAULT '[]',
	notes_json TEXT NOT NULL DEFAULT '[]',
	success INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_decision_cycles_bot_ts ON decision_cycles(bot_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_decision_cycles_trace ON decision_cycles(trace_id);
`

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log: 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("decision log: 建表失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append 写入一条周期留痕。实现 trader.DecisionJournal。
func (s *Store) Append(entry trader.JournalEntry) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("decision log 未初始化")
	}
	transcript, err := json.Marshal(entry.Transcript)
	if err != nil {
		transcript = []byte("[]")
	}
	decisions, err := json.Marshal(entry.Decisions)
	if err != nil {
		decisions = []byte("[]")
	}
	notes, err := json.Marshal(entry.Notes)
	if err != nil {
		notes = []byte("[]")
	}
	_, err = db.ExecContext(context.Background(),
		`INSERT INTO decision_cycles
		 (bot_id, trace_id, ts, trigger_kind, state, prompt, raw_output, transcript_json, decisions_json, notes_json, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.BotID,
		entry.TraceID,
		entry.At.UnixMilli(),
		entry.Trigger,
		entry.State,
		entry.Prompt,
		entry.RawOutput,
		string(transcript),
		string(decisions),
		string(notes),
		boolToInt(entry.Success),
	)
	return err
}

// Record 读出的一条留痕。Transcript/Decisions 保持原始 JSON，由前端自行解析。
type Record struct {
	ID         int64           `json:"id"`
	BotID      string          `json:"bot_id"`
	TraceID    string          `json:"trace_id"`
	Timestamp  int64           `json:"ts"`
	Trigger    string          `json:"trigger"`
	State      string          `json:"state"`
	Prompt     string          `json:"prompt"`
	RawOutput  string          `json:"raw_output"`
	Transcript json.RawMessage `json:"transcript"`
	Decisions  json.RawMessage `json:"decisions"`
	Notes      []string        `json:"notes,omitempty"`
	Success    bool            `json:"success"`
}

// Recent 按 bot 查最近的周期留痕，新的在前。limit 夹在 [5,50]。
func (s *Store) Recent(botID string, limit int) ([]Record, error) {
	if limit < 5 {
		limit = 5
	}
	if limit > 50 {
		limit = 50
	}
	return s.query(
		`SELECT id, bot_id, trace_id, ts, trigger_kind, state, prompt, raw_output,
		        transcript_json, decisions_json, notes_json, success
		 FROM decision_cycles WHERE bot_id = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		strings.TrimSpace(botID), limit)
}

// Trace 按 trace_id 精确取一条。
func (s *Store) Trace(traceID string) (Record, bool, error) {
	recs, err := s.query(
		`SELECT id, bot_id, trace_id, ts, trigger_kind, state, prompt, raw_output,
		        transcript_json, decisions_json, notes_json, success
		 FROM decision_cycles WHERE trace_id = ? LIMIT 1`, traceID)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[0], true, nil
}

func (s *Store) query(stmt string, args ...any) ([]Record, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("decision log 未初始化")
	}
	rows, err := db.QueryContext(context.Background(), stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var transcript, decisions, notes string
		var success int
		if err := rows.Scan(&rec.ID, &rec.BotID, &rec.TraceID, &rec.Timestamp, &rec.Trigger,
			&rec.State, &rec.Prompt, &rec.RawOutput, &transcript, &decisions, &notes, &success); err != nil {
			return nil, err
		}
		rec.Transcript = json.RawMessage(transcript)
		rec.Decisions = json.RawMessage(decisions)
		rec.Success = success != 0
		_ = json.Unmarshal([]byte(notes), &rec.Notes)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune 删除 ts 早于 cutoff 的记录，返回删除行数。
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("decision log 未初始化")
	}
	res, err := db.ExecContext(context.Background(),
		`DELETE FROM decision_cycles WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
