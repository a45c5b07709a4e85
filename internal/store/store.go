// Copyright 2020-2022 JackTrip Labs, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists the "optional" state of spec.md §6: a mirror
// of the node registry and a tool-invocation history table. Its
// absence is a supported degraded mode -- core operation never depends
// on it, so every method here is also satisfiable by the Noop store.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/skeleton-crew/agentd/internal/model"
)

// Store is the persistence surface the registry and discovery table
// write through to. Implementations must be safe for concurrent use.
type Store interface {
	SaveNode(node model.NodeDescriptor) error
	Nodes() ([]model.NodeDescriptor, error)
	SaveInvocation(inv model.ToolInvocation) error
	Invocations(limit int) ([]model.ToolInvocation, error)
	Close() error
}

// SQLite is a Store backed by modernc.org/sqlite through sqlx, using
// the same struct-tag-driven shape as the teacher's pkg/client structs
// (json + db tags on one struct, no separate row type).
type SQLite struct {
	db *sqlx.DB
}

// Open opens (creating if absent) a SQLite-backed Store at dsn and runs
// its migrations. dsn may be a file path or ":memory:".
func Open(dsn string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	host TEXT NOT NULL,
	control_port INTEGER NOT NULL,
	roles TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	last_seen DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS invocations (
	id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	caller_id TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME NOT NULL,
	outcome TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_invocations_started ON invocations(started_at);
`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error { return s.db.Close() }

type nodeRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Host        string    `db:"host"`
	ControlPort uint16    `db:"control_port"`
	Roles       string    `db:"roles"`
	Tags        string    `db:"tags"`
	Status      string    `db:"status"`
	LastSeen    time.Time `db:"last_seen"`
}

// SaveNode upserts node into the registry mirror.
func (s *SQLite) SaveNode(node model.NodeDescriptor) error {
	roles, err := json.Marshal(node.Roles)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(node.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExec(`
		INSERT INTO nodes (id, name, host, control_port, roles, tags, status, last_seen)
		VALUES (:id, :name, :host, :control_port, :roles, :tags, :status, :last_seen)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, host=excluded.host, control_port=excluded.control_port,
			roles=excluded.roles, tags=excluded.tags, status=excluded.status, last_seen=excluded.last_seen
	`, nodeRow{
		ID: node.ID, Name: node.Name, Host: node.Host, ControlPort: node.ControlPort,
		Roles: string(roles), Tags: string(tags), Status: string(node.Status), LastSeen: node.LastSeen,
	})
	return err
}

// Nodes returns every persisted node, most recently seen first.
func (s *SQLite) Nodes() ([]model.NodeDescriptor, error) {
	var rows []nodeRow
	if err := s.db.Select(&rows, `SELECT * FROM nodes ORDER BY last_seen DESC`); err != nil {
		return nil, err
	}
	out := make([]model.NodeDescriptor, 0, len(rows))
	for _, r := range rows {
		var roles []model.Role
		var tags map[string]string
		_ = json.Unmarshal([]byte(r.Roles), &roles)
		_ = json.Unmarshal([]byte(r.Tags), &tags)
		out = append(out, model.NodeDescriptor{
			ID: r.ID, Name: r.Name, Host: r.Host, ControlPort: r.ControlPort,
			Roles: roles, Tags: tags, Status: model.NodeStatus(r.Status), LastSeen: r.LastSeen,
		})
	}
	return out, nil
}

type invocationRow struct {
	ID           string    `db:"id"`
	ToolName     string    `db:"tool_name"`
	CallerID     string    `db:"caller_id"`
	StartedAt    time.Time `db:"started_at"`
	EndedAt      time.Time `db:"ended_at"`
	Outcome      string    `db:"outcome"`
	ErrorKind    string    `db:"error_kind"`
	ErrorMessage string    `db:"error_message"`
}

// SaveInvocation appends inv to the persisted command-history table.
// Arguments and results are not persisted -- only the audit fields spec.md
// §6 names for the history table.
func (s *SQLite) SaveInvocation(inv model.ToolInvocation) error {
	_, err := s.db.NamedExec(`
		INSERT INTO invocations (id, tool_name, caller_id, started_at, ended_at, outcome, error_kind, error_message)
		VALUES (:id, :tool_name, :caller_id, :started_at, :ended_at, :outcome, :error_kind, :error_message)
		ON CONFLICT(id) DO NOTHING
	`, invocationRow{
		ID: inv.ID, ToolName: inv.ToolName, CallerID: inv.CallerID,
		StartedAt: inv.StartedAt, EndedAt: inv.EndedAt, Outcome: string(inv.Outcome),
		ErrorKind: inv.ErrorKind, ErrorMessage: inv.ErrorMsg,
	})
	return err
}

// Invocations returns up to limit persisted invocations, most recent first.
func (s *SQLite) Invocations(limit int) ([]model.ToolInvocation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []invocationRow
	if err := s.db.Select(&rows, `SELECT * FROM invocations ORDER BY started_at DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	out := make([]model.ToolInvocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ToolInvocation{
			ID: r.ID, ToolName: r.ToolName, CallerID: r.CallerID,
			StartedAt: r.StartedAt, EndedAt: r.EndedAt, Outcome: model.InvocationOutcome(r.Outcome),
			ErrorKind: r.ErrorKind, ErrorMsg: r.ErrorMessage,
		})
	}
	return out, nil
}

// Noop is a Store that persists nothing, used when DaemonConfig.StoreDSN
// is empty -- the documented degraded mode of spec.md §6.
type Noop struct{}

// SaveNode is a no-op.
func (Noop) SaveNode(model.NodeDescriptor) error { return nil }

// Nodes always returns an empty set.
func (Noop) Nodes() ([]model.NodeDescriptor, error) { return nil, nil }

// SaveInvocation is a no-op.
func (Noop) SaveInvocation(model.ToolInvocation) error { return nil }

// Invocations always returns an empty set.
func (Noop) Invocations(int) ([]model.ToolInvocation, error) { return nil, nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
