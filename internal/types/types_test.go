package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesHumanized(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		assert.Equal(t, "512 B", Bytes(512).Humanized())
	})
	t.Run("kilobytes", func(t *testing.T) {
		assert.Equal(t, "2.00 KB", Bytes(2048).Humanized())
	})
	t.Run("megabytes", func(t *testing.T) {
		assert.Equal(t, "1.50 MB", Bytes(1536*1024).Humanized())
	})
	t.Run("gigabytes", func(t *testing.T) {
		assert.Equal(t, "1.00 GB", Bytes(1<<30).Humanized())
	})
	t.Run("terabytes", func(t *testing.T) {
		assert.Equal(t, "1.00 TB", Bytes(1<<40).Humanized())
	})
}

func TestBytesConversions(t *testing.T) {
	b := Bytes(1 << 30)
	assert.InDelta(t, 1024*1024, b.KB(), 1e-9)
	assert.InDelta(t, 1024, b.MB(), 1e-9)
	assert.InDelta(t, 1, b.GB(), 1e-9)
}

func TestProcessAndThreadIdHoldTheirValues(t *testing.T) {
	var pid ProcessId = 100
	var tid ThreadId = 200
	assert.EqualValues(t, 100, pid)
	assert.EqualValues(t, 200, tid)
}
