package main

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestRaiseThreadPriorityRenicesCallingThread(t *testing.T) {
	// Left locked so the reniced thread exits with the test goroutine.
	runtime.LockOSThread()

	err := raiseThreadPriority()
	if err != nil {
		// Lowering niceness needs CAP_SYS_NICE or a permissive RLIMIT_NICE.
		assert.ErrorIs(t, err, unix.EACCES)
		return
	}
	got, err := unix.Getpriority(unix.PRIO_PROCESS, unix.Gettid())
	assert.NoError(t, err)
	// Getpriority returns 20-nice on Linux.
	assert.Equal(t, 20-captureNice, got)
}
