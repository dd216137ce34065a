package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
)

type fakeExecution struct {
	row       executionRow
	createdAt time.Time
}

// fakeDB interprets the store's fixed queries against maps
type fakeDB struct {
	mu         sync.Mutex
	executions map[string]*fakeExecution
	cancels    map[string]CancelRequest
	instances  map[string][]byte
	failExec   error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		executions: make(map[string]*fakeExecution),
		cancels:    make(map[string]CancelRequest),
		instances:  make(map[string][]byte),
	}
}

func (f *fakeDB) GetContext(_ context.Context, dest interface{}, query string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch query {
	case queryGetExecution:
		e, ok := f.executions[args[0].(string)]
		if !ok {
			return sql.ErrNoRows
		}
		*dest.(*executionRow) = e.row
	case queryExecutionExists:
		n := 0
		if _, ok := f.executions[args[0].(string)]; ok {
			n = 1
		}
		*dest.(*int) = n
	case queryGetCancel:
		req, ok := f.cancels[args[0].(string)]
		if !ok {
			return sql.ErrNoRows
		}
		*dest.(*CancelRequest) = req
	case queryGetInstance, queryLockInstance:
		data, ok := f.instances[instanceKey(args[0].(string), args[1].(string))]
		if !ok {
			return sql.ErrNoRows
		}
		*dest.(*[]byte) = append([]byte(nil), data...)
	default:
		return fmt.Errorf("unexpected get query: %s", query)
	}
	return nil
}

func (f *fakeDB) SelectContext(_ context.Context, dest interface{}, query string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var filter map[string]bool
	switch query {
	case queryListExecutions:
	case queryListByStatus:
		filter = make(map[string]bool)
		for _, s := range *args[0].(*pq.StringArray) {
			filter[s] = true
		}
	default:
		return fmt.Errorf("unexpected select query: %s", query)
	}

	var matched []*fakeExecution
	for _, e := range f.executions {
		if filter == nil || filter[e.row.Status] {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].createdAt.Equal(matched[j].createdAt) {
			return matched[i].row.ID < matched[j].row.ID
		}
		return matched[i].createdAt.Before(matched[j].createdAt)
	})

	rows := dest.(*[]executionRow)
	for _, e := range matched {
		*rows = append(*rows, e.row)
	}
	return nil
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failExec != nil {
		return nil, f.failExec
	}

	switch query {
	case queryUpsertExecution:
		id := args[0].(string)
		e, ok := f.executions[id]
		if !ok {
			e = &fakeExecution{createdAt: args[6].(time.Time)}
			f.executions[id] = e
		}
		e.row = executionRow{
			ID:          id,
			Status:      args[3].(string),
			OwnerID:     args[4].(string),
			HeartbeatAt: args[5].(time.Time),
			Snapshot:    args[8].([]byte),
		}
	case queryTouchExecution:
		e, ok := f.executions[args[0].(string)]
		if !ok || e.row.OwnerID != args[1].(string) {
			return driver.RowsAffected(0), nil
		}
		e.row.HeartbeatAt = args[2].(time.Time)
	case queryUpsertCancel:
		id := args[0].(string)
		kill := args[1].(bool) || f.cancels[id].Kill
		f.cancels[id] = CancelRequest{ExecutionID: id, Kill: kill, RequestedAt: args[2].(time.Time)}
	case queryDeleteCancel:
		delete(f.cancels, args[0].(string))
	case queryUpsertInstance:
		f.instances[instanceKey(args[0].(string), args[1].(string))] = args[2].([]byte)
	default:
		return nil, fmt.Errorf("unexpected exec query: %s", query)
	}
	return driver.RowsAffected(1), nil
}
