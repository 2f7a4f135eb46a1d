package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutomationCounters(t *testing.T) {
	reset()

	IncTrigger()
	IncTrigger()
	IncAutomationRun("SUCCESS")
	IncAutomationRun("FAILED")
	IncAutomationRun("SUCCESS")
	IncAutomationSkip("conditions")
	IncAutomationSkip("")

	snap := Snapshot()
	assert.Equal(t, uint64(2), snap.Triggers)
	assert.Equal(t, uint64(2), snap.Runs["SUCCESS"])
	assert.Equal(t, uint64(1), snap.Runs["FAILED"])
	assert.Equal(t, uint64(1), snap.Skips["conditions"])
	assert.Equal(t, uint64(1), snap.Skips["unknown"])
}

func TestSnapshotIsACopy(t *testing.T) {
	reset()
	IncAutomationRun("SUCCESS")

	snap := Snapshot()
	snap.Runs["SUCCESS"] = 100

	assert.Equal(t, uint64(1), Snapshot().Runs["SUCCESS"])
}

func TestCountersConcurrent(t *testing.T) {
	reset()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncTrigger()
			IncAutomationRun("SUCCESS")
		}()
	}
	wg.Wait()

	snap := Snapshot()
	assert.Equal(t, uint64(50), snap.Triggers)
	assert.Equal(t, uint64(50), snap.Runs["SUCCESS"])
}
