package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/taskrelay/internal/testutil"
)

func TestWithSQLTx_RequiresFunc(t *testing.T) {
	err := WithSQLTx(context.Background(), nil, SQLTxConfig{})
	require.Error(t, err)
}

func TestPgxBridge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()

		t.Run("native conn", func(t *testing.T) {
			var got int
			err := WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
				return conn.QueryRow(ctx, "SELECT 41 + 1").Scan(&got)
			})
			require.NoError(t, err)
			assert.Equal(t, 42, got)
		})

		t.Run("rollback on error", func(t *testing.T) {
			boom := errors.New("boom")
			err := WithSQLTx(ctx, db, SQLTxConfig{Fn: func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO task_archive (job_id, vendor, status, result)
					VALUES ('tx-1', 'lip_sync', 'SUCCESS', '{}'::jsonb)`); err != nil {
					return err
				}
				return boom
			}})
			require.ErrorIs(t, err, boom)

			var n int
			require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM task_archive WHERE job_id = 'tx-1'").Scan(&n))
			assert.Zero(t, n)
		})

		t.Run("commit on success", func(t *testing.T) {
			err := WithSQLTx(ctx, db, SQLTxConfig{Fn: func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO task_archive (job_id, vendor, status, result)
					VALUES ('tx-2', 'lip_sync', 'SUCCESS', '{}'::jsonb)`)
				return err
			}})
			require.NoError(t, err)

			var n int
			require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM task_archive WHERE job_id = 'tx-2'").Scan(&n))
			assert.Equal(t, 1, n)
		})
	})
}
