package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEarlyLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewEarlyLogTo(&buf)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	l.Error("failed to load config: %v", "no such file")
	l.Info("ready")

	assert.Equal(t,
		"2024-05-01T12:00:00Z\terror\tfailed to load config: no such file\n"+
			"2024-05-01T12:00:00Z\tinfo\tready\n",
		buf.String())
}
