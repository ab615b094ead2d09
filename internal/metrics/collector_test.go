package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveMigration("up", "success", time.Second, 10)
		c.ObserveRun("success", time.Second)
		c.ObserveBackup("failure")
		c.ObserveSafetyBlock()
	})
}
