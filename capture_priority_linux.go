package main

import "golang.org/x/sys/unix"

// captureNice is the nice value asked for the capture thread. Lowering it
// below 0 needs CAP_SYS_NICE or a matching RLIMIT_NICE.
const captureNice = -10

// raiseThreadPriority renices the calling OS thread. On Linux setpriority
// with a thread id applies to that thread only.
func raiseThreadPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), captureNice)
}
