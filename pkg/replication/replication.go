// SPDX-License-Identifier: Apache-2.0

// Package replication implements the logical replication coordinator: the
// state machine and operations that keep a target database's in-scope
// tables streaming from a PostgreSQL source after the initial snapshot.
package replication

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/tooldriver"
)

// State is a ReplicationLink's position in the lifecycle state machine.
type State string

const (
	Initializing  State = "initializing"
	CopyingTables State = "copying_tables"
	Streaming     State = "streaming"
	Disabled      State = "disabled"
	Dropped       State = "dropped"
)

const (
	// PublicationName and SubscriptionName are fixed, not derived from
	// scope or endpoint identity, per the engine's single-link model.
	PublicationName  = "seren_replication_pub"
	SubscriptionName = "seren_replication_sub"

	// minMajorVersion is the floor for logical replication support at all.
	minMajorVersion = 12
	// minMajorVersionWithPredicates is required once the scope carries any
	// row predicate, since row-filtered publications need PG15's
	// WHERE-clause publication support.
	minMajorVersionWithPredicates = 15
)

// ReplicationLink is the coordinator's view of a configured pub/sub pair.
type ReplicationLink struct {
	State  State
	Tables []scope.QualifiedTable
}

// Diagnosis is Validate's structured report.
type Diagnosis struct {
	OK                bool
	SourceVersion     int
	TargetVersion     int
	SourceHasReplRole bool
	TargetIsOwner     bool
	Problems          []string
}

// Coordinator drives the publication/subscription pair between a
// PostgreSQL source and the target database.
type Coordinator struct {
	Source     *sql.DB
	Target     db.DB
	SourceConn tooldriver.ConnParams
	TargetConn tooldriver.ConnParams
	Scope      scope.Scope
}

// Validate checks the preconditions for logical replication: PostgreSQL
// major version on both endpoints (≥12, or ≥15 if scope has row
// predicates), replication role on source, ownership on target, and that
// the source answers a ping from this process. Whether the target server
// can reach the source is not checked.
func (c *Coordinator) Validate(ctx context.Context) (*Diagnosis, error) {
	diag := &Diagnosis{OK: true}

	sourceVersion, err := serverMajorVersion(ctx, c.Source)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "reading source server version", err)
	}
	diag.SourceVersion = sourceVersion

	targetVersion, err := serverMajorVersionDB(ctx, c.Target)
	if err != nil {
		return nil, errs.Wrap(errs.TargetPrecondition, "reading target server version", err)
	}
	diag.TargetVersion = targetVersion

	required := minMajorVersion
	if scope.HasRowPredicates(c.Scope) {
		required = minMajorVersionWithPredicates
	}
	if sourceVersion < required {
		diag.OK = false
		diag.Problems = append(diag.Problems, fmt.Sprintf("source PostgreSQL %d is below the required major version %d", sourceVersion, required))
	}
	if targetVersion < minMajorVersion {
		diag.OK = false
		diag.Problems = append(diag.Problems, fmt.Sprintf("target PostgreSQL %d is below the required major version %d", targetVersion, minMajorVersion))
	}

	var canReplicate bool
	if err := c.Source.QueryRowContext(ctx,
		`SELECT rolreplication OR rolsuper FROM pg_roles WHERE rolname = current_user`,
	).Scan(&canReplicate); err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "checking source replication privilege", err)
	}
	diag.SourceHasReplRole = canReplicate
	if !canReplicate {
		diag.OK = false
		diag.Problems = append(diag.Problems, "source role lacks REPLICATION privilege")
	}

	var isOwnerOrSuper bool
	if err := c.Target.QueryRowContext(ctx,
		`SELECT rolsuper OR EXISTS (SELECT 1 FROM pg_database d JOIN pg_roles r ON d.datdba = r.oid WHERE d.datname = current_database() AND r.rolname = current_user) FROM pg_roles WHERE rolname = current_user`,
	).Scan(&isOwnerOrSuper); err != nil {
		return nil, errs.Wrap(errs.TargetPrecondition, "checking target ownership", err)
	}
	diag.TargetIsOwner = isOwnerOrSuper
	if !isOwnerOrSuper {
		diag.OK = false
		diag.Problems = append(diag.Problems, "target role is neither superuser nor database owner")
	}

	if err := c.Source.PingContext(ctx); err != nil {
		diag.OK = false
		diag.Problems = append(diag.Problems, "source connectivity check failed")
	}

	return diag, nil
}

func serverMajorVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var versionNum int
	if err := conn.QueryRowContext(ctx, `SHOW server_version_num`).Scan(&versionNum); err != nil {
		var raw string
		if err2 := conn.QueryRowContext(ctx, `SELECT current_setting('server_version_num')`).Scan(&raw); err2 != nil {
			return 0, err
		}
		fmt.Sscanf(raw, "%d", &versionNum)
	}
	return versionNum / 10000, nil
}

func serverMajorVersionDB(ctx context.Context, conn db.DB) (int, error) {
	var raw string
	if err := conn.QueryRowContext(ctx, `SHOW server_version_num`).Scan(&raw); err != nil {
		return 0, err
	}
	var versionNum int
	fmt.Sscanf(raw, "%d", &versionNum)
	return versionNum / 10000, nil
}

// SetUp idempotently creates the publication on the source and the
// subscription on the target, restricted to the tables sc admits for data
// copy, with per-table WHERE predicates where the scope carries one. The
// publication is recreated if its table set no longer matches the scope
// (§4.5 "set_up").
func (c *Coordinator) SetUp(ctx context.Context, tables []scope.QualifiedTable) (*ReplicationLink, error) {
	current, err := c.publicationTables(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "reading existing publication", err)
	}

	if current != nil && !sameTableSet(current, tables) {
		if _, err := c.Source.ExecContext(ctx, fmt.Sprintf(`DROP PUBLICATION %s`, pq.QuoteIdentifier(PublicationName))); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "dropping stale publication", err)
		}
		current = nil
	}

	if current == nil {
		stmt := buildCreatePublication(tables, c.Scope)
		if _, err := c.Source.ExecContext(ctx, stmt); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "creating publication", err)
		}
	}

	if err := c.ensureSubscription(ctx); err != nil {
		return nil, err
	}

	return &ReplicationLink{State: CopyingTables, Tables: tables}, nil
}

func buildCreatePublication(tables []scope.QualifiedTable, sc scope.Scope) string {
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		qualified := fmt.Sprintf("%s.%s", pq.QuoteIdentifier(t.Schema), pq.QuoteIdentifier(t.Table))
		if predicate, ok := sc.RowFilters[t]; ok && predicate != "" {
			qualified = fmt.Sprintf("%s WHERE (%s)", qualified, predicate)
		}
		parts = append(parts, qualified)
	}
	stmt := fmt.Sprintf(`CREATE PUBLICATION %s FOR TABLE `, pq.QuoteIdentifier(PublicationName))
	for i, p := range parts {
		if i > 0 {
			stmt += ", "
		}
		stmt += p
	}
	return stmt
}

func (c *Coordinator) publicationTables(ctx context.Context) ([]scope.QualifiedTable, error) {
	var exists bool
	if err := c.Source.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = $1)`, PublicationName,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := c.Source.QueryContext(ctx,
		`SELECT schemaname, tablename FROM pg_publication_tables WHERE pubname = $1`, PublicationName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []scope.QualifiedTable
	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return nil, err
		}
		tables = append(tables, scope.QualifiedTable{Schema: schemaName, Table: tableName})
	}
	return tables, rows.Err()
}

func sameTableSet(a, b []scope.QualifiedTable) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[scope.QualifiedTable]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// ensureSubscription creates the subscription on the target if absent.
// Per the security contract (§4.5), the source connection string must not
// carry a password: PostgreSQL persists pg_subscription.subconninfo in
// plaintext in the catalog, so the source-side password is expected to
// come from a password file at connect time and never flow into
// subconninfo. If SourceConn.Password is set anyway, a warning is the
// caller's responsibility (see SetUp callers in cmd/).
func (c *Coordinator) ensureSubscription(ctx context.Context) error {
	var exists bool
	if err := c.Target.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_subscription WHERE subname = $1)`, SubscriptionName,
	).Scan(&exists); err != nil {
		return errs.Wrap(errs.TargetPrecondition, "checking existing subscription", err)
	}
	if exists {
		return nil
	}

	conninfo := sourceConnInfo(c.SourceConn)
	stmt := fmt.Sprintf(
		`CREATE SUBSCRIPTION %s CONNECTION %s PUBLICATION %s`,
		pq.QuoteIdentifier(SubscriptionName),
		pq.QuoteLiteral(conninfo),
		pq.QuoteIdentifier(PublicationName),
	)
	if _, err := c.Target.ExecContext(ctx, stmt); err != nil {
		return errs.Wrap(errs.TargetPrecondition, "creating subscription", err)
	}
	return nil
}

// sourceConnInfo builds a libpq keyword/value connection string for the
// subscription's CONNECTION clause. Password is intentionally included
// here only when the caller supplied one in SourceConn; the documented,
// preferred mode leaves it empty and relies on a password file on the
// target host, which opens the subscription's connection to the source.
func sourceConnInfo(conn tooldriver.ConnParams) string {
	info := fmt.Sprintf("host=%s port=%d dbname=%s user=%s", conn.Host, conn.Port, conn.Database, conn.User)
	if conn.Password != "" {
		info += " password=" + conn.Password
	}
	return info
}

// Status returns the subscription's current state, lag, and remaining
// table-sync count (§4.5 "status").
type Status struct {
	State           State
	LagBytes        int64
	LagTime         time.Duration
	LastReceivedLSN string
	TablesRemaining int
}

func (c *Coordinator) Status(ctx context.Context, link *ReplicationLink) (*Status, error) {
	var enabled bool
	if err := c.Target.QueryRowContext(ctx,
		`SELECT subenabled FROM pg_subscription WHERE subname = $1`, SubscriptionName,
	).Scan(&enabled); err != nil {
		if err == sql.ErrNoRows {
			return &Status{State: Dropped}, nil
		}
		return nil, errs.Wrap(errs.TargetPrecondition, "reading subscription state", err)
	}

	var remaining int
	if err := c.Target.QueryRowContext(ctx,
		`SELECT count(*) FROM pg_subscription_rel WHERE srsubid = (SELECT oid FROM pg_subscription WHERE subname = $1) AND srsubstate <> 'r'`, SubscriptionName,
	).Scan(&remaining); err != nil {
		return nil, errs.Wrap(errs.TargetPrecondition, "reading table-sync state", err)
	}

	state := Streaming
	switch {
	case !enabled:
		state = Disabled
	case remaining > 0:
		state = CopyingTables
	}

	var lagBytes sql.NullInt64
	var lastLSN sql.NullString
	var lagSeconds sql.NullFloat64
	_ = c.Target.QueryRowContext(ctx,
		`SELECT pg_wal_lsn_diff(pg_current_wal_lsn(), s.received_lsn),
		        s.received_lsn,
		        EXTRACT(EPOCH FROM (now() - s.last_msg_receipt_time))
		 FROM pg_stat_subscription s
		 JOIN pg_subscription sub ON sub.oid = s.subid
		 WHERE sub.subname = $1`, SubscriptionName,
	).Scan(&lagBytes, &lastLSN, &lagSeconds)

	status := &Status{State: state, TablesRemaining: remaining}
	if lagBytes.Valid {
		status.LagBytes = lagBytes.Int64
	}
	if lastLSN.Valid {
		status.LastReceivedLSN = lastLSN.String
	}
	if lagSeconds.Valid {
		status.LagTime = time.Duration(lagSeconds.Float64 * float64(time.Second))
	}
	return status, nil
}

// Disable runs ALTER SUBSCRIPTION … DISABLE (Streaming → Disabled).
func (c *Coordinator) Disable(ctx context.Context) error {
	_, err := c.Target.ExecContext(ctx, fmt.Sprintf(`ALTER SUBSCRIPTION %s DISABLE`, pq.QuoteIdentifier(SubscriptionName)))
	if err != nil {
		return errs.Wrap(errs.TargetPrecondition, "disabling subscription", err)
	}
	return nil
}

// Enable runs ALTER SUBSCRIPTION … ENABLE (Disabled → Streaming).
func (c *Coordinator) Enable(ctx context.Context) error {
	_, err := c.Target.ExecContext(ctx, fmt.Sprintf(`ALTER SUBSCRIPTION %s ENABLE`, pq.QuoteIdentifier(SubscriptionName)))
	if err != nil {
		return errs.Wrap(errs.TargetPrecondition, "enabling subscription", err)
	}
	return nil
}

// Drop tears down the link: DROP SUBSCRIPTION on the target, then DROP
// PUBLICATION on the source (* → Dropped).
func (c *Coordinator) Drop(ctx context.Context) error {
	if _, err := c.Target.ExecContext(ctx, fmt.Sprintf(`DROP SUBSCRIPTION IF EXISTS %s`, pq.QuoteIdentifier(SubscriptionName))); err != nil {
		return errs.Wrap(errs.TargetPrecondition, "dropping subscription", err)
	}
	if _, err := c.Source.ExecContext(ctx, fmt.Sprintf(`DROP PUBLICATION IF EXISTS %s`, pq.QuoteIdentifier(PublicationName))); err != nil {
		return errs.Wrap(errs.SourcePrecondition, "dropping publication", err)
	}
	return nil
}
