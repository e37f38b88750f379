// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/serenorg/seren-replicator/pkg/snapshot"
)

func TestNoopSatisfiesReporter(t *testing.T) {
	var r Reporter = Noop{}
	r.StartDatabase("app")
	r.StartTable("app", "users")
	r.CompleteTable("app", "users", 10)
	r.CompleteDatabase(snapshot.DatabaseResult{Database: "app", Outcome: snapshot.OutcomeCommitted})
	r.Warn("heads up: %s", "cascading skip")
	r.Finish(&snapshot.RunReport{})
}

func TestNewReturnsPtermReporter(t *testing.T) {
	r := New()
	assert.NotNil(t, r)
}
