// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package shell runs external system tools, capturing or logging their output.

package shell

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultWarnLogLines is the suggested number of trailing output lines to
// surface at warn level when a long-running command fails.
const DefaultWarnLogLines = 1500

var (
	processesMutex       sync.Mutex
	activeProcesses      = make(map[int]*exec.Cmd)
	allowProcessCreation = true
)

// Execute runs the command and returns its stdout and stderr.
func Execute(program string, args ...string) (stdout string, stderr string, err error) {
	return NewExecBuilder(program, args...).
		ExecuteCaptureOutput()
}

// ExecuteWithStdin runs the command with input as its stdin and returns its
// stdout and stderr.
func ExecuteWithStdin(input string, program string, args ...string) (stdout string, stderr string, err error) {
	return NewExecBuilder(program, args...).
		Stdin(input).
		ExecuteCaptureOutput()
}

// ExecuteLive runs the command, streaming its output to the log as it runs.
// When squashErrors is set, stderr is logged at debug level instead of warn.
func ExecuteLive(squashErrors bool, program string, args ...string) (err error) {
	stderrLevel := logrus.WarnLevel
	if squashErrors {
		stderrLevel = logrus.DebugLevel
	}

	return NewExecBuilder(program, args...).
		LogLevel(logrus.DebugLevel, stderrLevel).
		Execute()
}

// ExecuteLiveWithErr runs the command, streaming its output to the log at
// debug level, and includes the last stderrLines lines of stderr in the
// returned error on failure.
func ExecuteLiveWithErr(stderrLines int, program string, args ...string) (err error) {
	return NewExecBuilder(program, args...).
		LogLevel(logrus.DebugLevel, logrus.DebugLevel).
		ErrorStderrLines(stderrLines).
		Execute()
}

// ExecuteLiveWithCallback runs the command, passing each output line to the
// provided callbacks in addition to the default debug-level logging.
func ExecuteLiveWithCallback(onStdout, onStderr func(line string), squashErrors bool,
	program string, args ...string,
) (err error) {
	stderrLevel := logrus.WarnLevel
	if squashErrors {
		stderrLevel = logrus.DebugLevel
	}

	return NewExecBuilder(program, args...).
		LogLevel(logrus.DebugLevel, stderrLevel).
		StdoutCallback(onStdout).
		StderrCallback(onStderr).
		Execute()
}

// PermanentlyStopAllChildProcesses signals every tracked child process group
// and prevents any new process from being started. Invoked on shutdown paths
// only; the stop cannot be undone.
func PermanentlyStopAllChildProcesses(signal unix.Signal) {
	processesMutex.Lock()
	defer processesMutex.Unlock()

	allowProcessCreation = false

	for pid := range activeProcesses {
		// Negative pid addresses the whole process group.
		err := unix.Kill(-pid, signal)
		if err != nil {
			continue
		}
	}
}

func trackAndStartProcess(cmd *exec.Cmd, start func() error) error {
	processesMutex.Lock()
	defer processesMutex.Unlock()

	if !allowProcessCreation {
		return fmt.Errorf("process creation has been stopped")
	}

	err := start()
	if err != nil {
		return fmt.Errorf("failed to start process:\n%w", err)
	}

	activeProcesses[cmd.Process.Pid] = cmd
	return nil
}

func untrackProcess(cmd *exec.Cmd) {
	processesMutex.Lock()
	defer processesMutex.Unlock()

	if cmd.Process != nil {
		delete(activeProcesses, cmd.Process.Pid)
	}
}
