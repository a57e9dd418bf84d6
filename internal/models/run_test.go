package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunRecordFinish(t *testing.T) {
	r := &RunRecord{ID: "run_1", StartedAt: time.Now().Add(-time.Second), Status: RunStatusRunning}
	assert.Zero(t, r.Duration())

	r.Finish(nil)
	assert.Equal(t, RunStatusPassed, r.Status)
	assert.Empty(t, r.Error)
	assert.GreaterOrEqual(t, r.Duration(), time.Second)

	failed := &RunRecord{ID: "run_2", StartedAt: time.Now()}
	failed.Finish(errors.New("boom"))
	assert.Equal(t, RunStatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}
