package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/maxkimambo/taskgraph/internal/dag"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
)

// DB is the subset of sqlx used by the Postgres store. *sqlx.DB and *sqlx.Tx satisfy it.
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

const (
	queryUpsertExecution = `INSERT INTO executions (id, deployment_id, workflow_name, status, owner_id, heartbeat_at, created_at, updated_at, snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, owner_id = EXCLUDED.owner_id,
heartbeat_at = EXCLUDED.heartbeat_at, updated_at = EXCLUDED.updated_at, snapshot = EXCLUDED.snapshot`
	queryGetExecution    = `SELECT id, status, owner_id, heartbeat_at, snapshot FROM executions WHERE id = $1`
	queryListExecutions  = `SELECT id, status, owner_id, heartbeat_at, snapshot FROM executions ORDER BY created_at, id`
	queryListByStatus    = `SELECT id, status, owner_id, heartbeat_at, snapshot FROM executions WHERE status = ANY($1) ORDER BY created_at, id`
	queryTouchExecution  = `UPDATE executions SET heartbeat_at = $3 WHERE id = $1 AND owner_id = $2`
	queryExecutionExists = `SELECT COUNT(*) FROM executions WHERE id = $1`
	queryUpsertCancel    = `INSERT INTO cancel_requests (execution_id, kill, requested_at) VALUES ($1, $2, $3)
ON CONFLICT (execution_id) DO UPDATE SET kill = cancel_requests.kill OR EXCLUDED.kill, requested_at = EXCLUDED.requested_at`
	queryGetCancel       = `SELECT execution_id, kill, requested_at FROM cancel_requests WHERE execution_id = $1`
	queryDeleteCancel    = `DELETE FROM cancel_requests WHERE execution_id = $1`
	queryGetInstance     = `SELECT properties FROM node_instances WHERE deployment_id = $1 AND node_id = $2`
	queryLockInstance    = `SELECT properties FROM node_instances WHERE deployment_id = $1 AND node_id = $2 FOR UPDATE`
	queryUpsertInstance  = `INSERT INTO node_instances (deployment_id, node_id, properties, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (deployment_id, node_id) DO UPDATE SET properties = EXCLUDED.properties, updated_at = EXCLUDED.updated_at`
)

type executionRow struct {
	ID          string    `db:"id"`
	Status      string    `db:"status"`
	OwnerID     string    `db:"owner_id"`
	HeartbeatAt time.Time `db:"heartbeat_at"`
	Snapshot    []byte    `db:"snapshot"`
}

func (r executionRow) decode() (*dag.ExecutionSnapshot, error) {
	s, err := decodeSnapshot(r.Snapshot)
	if err != nil {
		return nil, readError("decode execution "+r.ID, err)
	}
	// heartbeat_at is updated without rewriting the document
	s.HeartbeatAt = r.HeartbeatAt.UTC()
	return s, nil
}

// Postgres stores executions in PostgreSQL through sqlx
type Postgres struct {
	db DB
}

// NewPostgres connects to the database at dsn. The schema is created by Migrate.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, engerrors.NewValidationFailedError("store.dsn", dsn, "Store setup")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, readError("open database", errors.Wrap(err, "sqlx open"))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, readError("connect to database", errors.Wrap(err, "ping"))
	}
	return &Postgres{db: db}, nil
}

// NewPostgresWithDB wraps an existing connection or transaction
func NewPostgresWithDB(db DB) *Postgres {
	return &Postgres{db: db}
}

// withTx runs fn in a transaction when the underlying handle can begin one
func (p *Postgres) withTx(ctx context.Context, fn func(DB) error) error {
	beginner, ok := p.db.(txBeginner)
	if !ok {
		return fn(p.db)
	}
	tx, err := beginner.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func (p *Postgres) Save(ctx context.Context, snapshot *dag.ExecutionSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return writeError("encode execution", err)
	}
	_, err = p.db.ExecContext(ctx, queryUpsertExecution,
		snapshot.ID, snapshot.DeploymentID, snapshot.WorkflowName, string(snapshot.Status),
		snapshot.OwnerID, snapshot.HeartbeatAt, snapshot.CreatedAt, snapshot.UpdatedAt, data)
	if err != nil {
		return writeError("save execution "+snapshot.ID, errors.Wrapf(err, "upsert execution %s", snapshot.ID))
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, id string) (*dag.ExecutionSnapshot, error) {
	var row executionRow
	err := p.db.GetContext(ctx, &row, queryGetExecution, id)
	if err == sql.ErrNoRows {
		return nil, engerrors.NewExecutionNotFoundError(id)
	}
	if err != nil {
		return nil, readError("load execution "+id, errors.Wrapf(err, "select execution %s", id))
	}
	return row.decode()
}

func (p *Postgres) List(ctx context.Context, statuses ...dag.ExecutionStatus) ([]*dag.ExecutionSnapshot, error) {
	var rows []executionRow
	var err error
	if len(statuses) == 0 {
		err = p.db.SelectContext(ctx, &rows, queryListExecutions)
	} else {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		err = p.db.SelectContext(ctx, &rows, queryListByStatus, pq.Array(names))
	}
	if err != nil {
		return nil, readError("list executions", errors.Wrap(err, "select executions"))
	}

	out := make([]*dag.ExecutionSnapshot, 0, len(rows))
	for _, row := range rows {
		s, err := row.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *Postgres) Touch(ctx context.Context, id, ownerID string, at time.Time) error {
	if _, err := p.db.ExecContext(ctx, queryTouchExecution, id, ownerID, at.UTC()); err != nil {
		return writeError("touch execution "+id, errors.Wrapf(err, "update heartbeat of %s", id))
	}
	return nil
}

func (p *Postgres) RequestCancel(ctx context.Context, id string, kill bool) error {
	var count int
	if err := p.db.GetContext(ctx, &count, queryExecutionExists, id); err != nil {
		return readError("look up execution "+id, errors.Wrapf(err, "count execution %s", id))
	}
	if count == 0 {
		return engerrors.NewExecutionNotFoundError(id)
	}
	if _, err := p.db.ExecContext(ctx, queryUpsertCancel, id, kill, time.Now().UTC()); err != nil {
		return writeError("record cancel request for "+id, errors.Wrapf(err, "upsert cancel %s", id))
	}
	return nil
}

func (p *Postgres) PendingCancel(ctx context.Context, id string) (*CancelRequest, error) {
	var req CancelRequest
	err := p.db.GetContext(ctx, &req, queryGetCancel, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, readError("read cancel request for "+id, errors.Wrapf(err, "select cancel %s", id))
	}
	return &req, nil
}

func (p *Postgres) ClearCancel(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, queryDeleteCancel, id); err != nil {
		return writeError("clear cancel request for "+id, errors.Wrapf(err, "delete cancel %s", id))
	}
	return nil
}

func selectProperties(ctx context.Context, db DB, query, deploymentID, nodeID string) (map[string]interface{}, error) {
	var data []byte
	err := db.GetContext(ctx, &data, query, deploymentID, nodeID)
	if err != nil && err != sql.ErrNoRows {
		return nil, readError("read instance properties", errors.Wrapf(err, "select %s", instanceKey(deploymentID, nodeID)))
	}
	return decodeProperties(data)
}

func (p *Postgres) LoadInstanceProperties(ctx context.Context, deploymentID, nodeID string) (map[string]interface{}, error) {
	return selectProperties(ctx, p.db, queryGetInstance, deploymentID, nodeID)
}

func (p *Postgres) UpdateInstanceProperties(ctx context.Context, deploymentID, nodeID string, fn PropertiesUpdater) error {
	return p.withTx(ctx, func(db DB) error {
		props, err := selectProperties(ctx, db, queryLockInstance, deploymentID, nodeID)
		if err != nil {
			return err
		}
		if err := fn(props); err != nil {
			return err
		}
		data, err := json.Marshal(props)
		if err != nil {
			return writeError("encode instance properties", err)
		}
		if _, err := db.ExecContext(ctx, queryUpsertInstance, deploymentID, nodeID, data, time.Now().UTC()); err != nil {
			return writeError("save instance properties", errors.Wrapf(err, "upsert %s", instanceKey(deploymentID, nodeID)))
		}
		return nil
	})
}

func (p *Postgres) Close() error {
	if db, ok := p.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil
}
