// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/tooldriver"
)

func TestBuildCreatePublicationIncludesPredicates(t *testing.T) {
	sc := scope.New()
	orders := scope.NewQualifiedTable("", "public", "orders")
	sc.RowFilters[orders] = "status = 'paid'"

	stmt := buildCreatePublication([]scope.QualifiedTable{orders}, sc)

	assert.Contains(t, stmt, `CREATE PUBLICATION "seren_replication_pub" FOR TABLE`)
	assert.Contains(t, stmt, `"public"."orders" WHERE (status = 'paid')`)
}

func TestBuildCreatePublicationOmitsPredicateWhenAbsent(t *testing.T) {
	sc := scope.New()
	users := scope.NewQualifiedTable("", "public", "users")

	stmt := buildCreatePublication([]scope.QualifiedTable{users}, sc)

	assert.Contains(t, stmt, `"public"."users"`)
	assert.NotContains(t, stmt, "WHERE")
}

func TestSameTableSetIgnoresOrder(t *testing.T) {
	a := scope.NewQualifiedTable("", "public", "a")
	b := scope.NewQualifiedTable("", "public", "b")

	assert.True(t, sameTableSet([]scope.QualifiedTable{a, b}, []scope.QualifiedTable{b, a}))
	assert.False(t, sameTableSet([]scope.QualifiedTable{a}, []scope.QualifiedTable{a, b}))
}

func TestSourceConnInfoOmitsPasswordByDefault(t *testing.T) {
	conn := tooldriver.ConnParams{Host: "db.internal", Port: 5432, Database: "app", User: "replicator"}
	info := sourceConnInfo(conn)
	assert.NotContains(t, info, "password")
}

func TestSourceConnInfoIncludesPasswordWhenSupplied(t *testing.T) {
	conn := tooldriver.ConnParams{Host: "db.internal", Port: 5432, Database: "app", User: "replicator", Password: "secret"}
	info := sourceConnInfo(conn)
	assert.Contains(t, info, "password=secret")
}
