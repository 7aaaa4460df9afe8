//go:build linux

package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrabIoctlEncoding(t *testing.T) {
	// _IOW('E', 0x90, int): write direction, 4-byte argument.
	const iocWrite = 1
	want := uint32(iocWrite<<30 | 4<<16 | 'E'<<8 | 0x90)
	assert.Equal(t, want, uint32(eviocgrab))
}
