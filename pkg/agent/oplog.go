package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultOpLogPath = "/var/lib/wan-doctor/oplog.db"

// OpLog records every mutating device command in a local SQLite database so
// changes the controller pushed (and their rollbacks) stay traceable on the
// device itself. All operations are best effort: a broken op log never blocks
// command execution.
type OpLog struct {
	db *sql.DB
}

// OpRecord is one logged command.
type OpRecord struct {
	Path   string `json:"path"`
	Action string `json:"action"`
	Args   string `json:"args"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	TS     int64  `json:"ts"`
}

// OpenOpLog opens (or creates) the op log at path. Failures are logged and
// yield an op log that silently drops records.
func OpenOpLog(path string) *OpLog {
	if path == "" {
		path = defaultOpLogPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("oplog mkdir failed: %v", err)
		return &OpLog{}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Printf("oplog open failed: %v", err)
		return &OpLog{}
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Printf("oplog ping failed: %v", err)
		_ = db.Close()
		return &OpLog{}
	}
	schema := `CREATE TABLE IF NOT EXISTS command_ops(path TEXT, action TEXT, args TEXT, ok INTEGER, detail TEXT, ts INTEGER);
CREATE INDEX IF NOT EXISTS idx_command_ops_ts ON command_ops(ts);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		log.Printf("oplog schema failed: %v", err)
		_ = db.Close()
		return &OpLog{}
	}
	return &OpLog{db: db}
}

// Record logs one mutating command outcome.
func (l *OpLog) Record(path, action string, args map[string]string, ok bool, detail string) {
	if l == nil || l.db == nil {
		return
	}
	argsJSON, _ := json.Marshal(args)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO command_ops(path, action, args, ok, detail, ts) VALUES(?,?,?,?,?,?)`,
		path, action, string(argsJSON), boolInt(ok), detail, time.Now().Unix())
	if err != nil {
		log.Printf("oplog insert failed: %v", err)
	}
}

// Recent returns the newest records, most recent first.
func (l *OpLog) Recent(limit int) ([]OpRecord, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rows, err := l.db.QueryContext(ctx,
		`SELECT path, action, args, ok, detail, ts FROM command_ops ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpRecord
	for rows.Next() {
		var r OpRecord
		var ok int
		if err := rows.Scan(&r.Path, &r.Action, &r.Args, &ok, &r.Detail, &r.TS); err != nil {
			continue
		}
		r.OK = ok == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (l *OpLog) Close() {
	if l != nil && l.db != nil {
		_ = l.db.Close()
	}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
