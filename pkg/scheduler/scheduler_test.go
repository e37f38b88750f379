// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestAdvisoryKeyIsStablePerNamespace(t *testing.T) {
	a := advisoryKey("app_jsonb")
	b := advisoryKey("app_jsonb")
	c := advisoryKey("other_jsonb")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAdvisoryLockRoundTrip(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		rdb := &db.RDB{Conn: conn}
		ctx := context.Background()
		key := advisoryKey("roundtrip_test")

		acquired, err := tryAdvisoryLock(ctx, rdb, key)
		require.NoError(t, err)
		assert.True(t, acquired)

		// Advisory locks are re-entrant within the session that holds them,
		// so contention only shows from a second session.
		otherConn, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer otherConn.Close()
		other := &db.RDB{Conn: otherConn}

		stillHeld, err := tryAdvisoryLock(ctx, other, key)
		require.NoError(t, err)
		assert.False(t, stillHeld, "a second advisory lock attempt on the same key must be refused while the first holds it")

		require.NoError(t, advisoryUnlock(ctx, rdb, key))

		reacquired, err := tryAdvisoryLock(ctx, rdb, key)
		require.NoError(t, err)
		assert.True(t, reacquired)
		require.NoError(t, advisoryUnlock(ctx, rdb, key))
	})
}

func TestStatusReportsOverlapCount(t *testing.T) {
	s := &Scheduler{Namespace: "ns"}
	s.overlapCount = 2
	status := s.Status()
	assert.Equal(t, 2, status.OverlapCount)
}
