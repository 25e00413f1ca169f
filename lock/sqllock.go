package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// lock-timeout SQLSTATE codes for the databases the SQL locker is used with.
// H2/SQL Server use HYT00; PostgreSQL uses 55P03 (lock_not_available);
// MariaDB/MySQL report ER_LOCK_WAIT_TIMEOUT (1205, SQLSTATE HY000 41000).
var lockTimeoutStates = map[string]struct{}{
	"HYT00": {},
	"55P03": {},
	"41000": {},
}

// sqlState is implemented by driver errors that expose a SQLSTATE code.
type sqlState interface {
	SQLState() string
}

// SQL is a Locker backed by row-level locks in a relational database. Each
// object has a row in the ocfl_object_lock table; acquiring the lock is a
// SELECT ... FOR UPDATE on that row inside a transaction that stays open for
// the duration of the protected work. COMMIT (or ROLLBACK) releases the
// lock, so locks never outlive their connection.
type SQL struct {
	db      *sql.DB
	timeout time.Duration
}

// CreateLockTableSQL is the schema for the lock table. Callers run it (or an
// equivalent migration) before using the SQL locker.
const CreateLockTableSQL = `CREATE TABLE IF NOT EXISTS ocfl_object_lock (object_id varchar(512) PRIMARY KEY)`

// NewSQL returns a Locker using row locks in db. A non-positive timeout
// means DefaultTimeout.
func NewSQL(db *sql.DB, timeout time.Duration) *SQL {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SQL{db: db, timeout: timeout}
}

// DoInWriteLock implements Locker.
func (l *SQL) DoInWriteLock(ctx context.Context, objectID string, fn func() error) (err error) {
	// ensure the row exists; a duplicate-key race with another writer is fine
	_, err = l.db.ExecContext(ctx,
		`MERGE INTO ocfl_object_lock (object_id) KEY (object_id) VALUES (?)`, objectID)
	if err != nil {
		// MERGE is not universal; fall back to a portable upsert
		_, err = l.db.ExecContext(ctx,
			`INSERT INTO ocfl_object_lock (object_id) SELECT ? WHERE NOT EXISTS
			 (SELECT 1 FROM ocfl_object_lock WHERE object_id = ?)`, objectID, objectID)
		if err != nil {
			return fmt.Errorf("preparing lock row for %q: %w", objectID, err)
		}
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("opening lock transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCK_TIMEOUT %d", l.timeout.Milliseconds())); err != nil {
		// not all databases support SET LOCK_TIMEOUT; rely on the context
		// deadline below in that case
		err = nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	var id string
	err = tx.QueryRowContext(lockCtx,
		`SELECT object_id FROM ocfl_object_lock WHERE object_id = ? FOR UPDATE`, objectID).Scan(&id)
	if err != nil {
		if isLockTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("object %q: %w", objectID, ErrTimeout)
		}
		return fmt.Errorf("acquiring row lock for %q: %w", objectID, err)
	}
	if err = fn(); err != nil {
		return err
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("releasing lock for %q: %w", objectID, commitErr)
	}
	return nil
}

func isLockTimeout(err error) bool {
	var st sqlState
	if errors.As(err, &st) {
		_, ok := lockTimeoutStates[st.SQLState()]
		return ok
	}
	return false
}
