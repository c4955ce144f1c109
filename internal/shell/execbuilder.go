// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package shell

import (
	"bufio"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/oracle/oci-utils-sub001/internal/logger"
	"github.com/sirupsen/logrus"
)

// LogDisabledLevel disables the logging of a stream when passed to LogLevel.
const LogDisabledLevel logrus.Level = math.MaxUint32

// ExecBuilder provides options for running a process.
// All methods take the builder by value, so a partially filled builder can be
// reused as a template.
type ExecBuilder struct {
	program              string
	args                 []string
	stdinString          string
	workingDirectory     string
	environmentVariables []string
	stdoutLogLevel       logrus.Level
	stderrLogLevel       logrus.Level
	stdoutCallback       func(line string)
	stderrCallback       func(line string)
	errorStderrLines     int
	warnLogLines         int
	capabilities         []uintptr
}

// NewExecBuilder creates a new ExecBuilder that runs program with args.
// By default, both output streams are logged at debug level.
func NewExecBuilder(program string, args ...string) ExecBuilder {
	b := ExecBuilder{
		program:        program,
		args:           args,
		stdoutLogLevel: logrus.DebugLevel,
		stderrLogLevel: logrus.DebugLevel,
	}
	return b
}

// Stdin provides a string to pass to the process's stdin.
func (b ExecBuilder) Stdin(value string) ExecBuilder {
	b.stdinString = value
	return b
}

// WorkingDirectory sets the process's working directory.
func (b ExecBuilder) WorkingDirectory(path string) ExecBuilder {
	b.workingDirectory = path
	return b
}

// EnvironmentVariables replaces the process's environment.
func (b ExecBuilder) EnvironmentVariables(environmentVariables []string) ExecBuilder {
	b.environmentVariables = environmentVariables
	return b
}

// LogLevel sets the log levels the process's stdout and stderr lines are
// written at. Use LogDisabledLevel to not log a stream at all.
func (b ExecBuilder) LogLevel(stdoutLogLevel logrus.Level, stderrLogLevel logrus.Level) ExecBuilder {
	b.stdoutLogLevel = stdoutLogLevel
	b.stderrLogLevel = stderrLogLevel
	return b
}

// StdoutCallback sets a callback that receives each stdout line.
func (b ExecBuilder) StdoutCallback(callback func(line string)) ExecBuilder {
	b.stdoutCallback = callback
	return b
}

// StderrCallback sets a callback that receives each stderr line.
func (b ExecBuilder) StderrCallback(callback func(line string)) ExecBuilder {
	b.stderrCallback = callback
	return b
}

// ErrorStderrLines sets the number of trailing stderr lines to include in the
// returned error when the process fails.
func (b ExecBuilder) ErrorStderrLines(lines int) ExecBuilder {
	b.errorStderrLines = lines
	return b
}

// WarnLogLines sets the number of trailing output lines to log at warn level
// when the process fails. Useful when the normal output is logged at a level
// that is typically not shown to the user.
func (b ExecBuilder) WarnLogLines(lines int) ExecBuilder {
	b.warnLogLines = lines
	return b
}

// Capabilities restricts the Linux capability bounding set of the process to
// the provided list.
func (b ExecBuilder) Capabilities(capabilities []uintptr) ExecBuilder {
	b.capabilities = capabilities
	return b
}

// Execute runs the command.
func (b ExecBuilder) Execute() error {
	_, _, err := b.execute(false)
	return err
}

// ExecuteCaptureOutput runs the command and returns its full stdout and stderr.
func (b ExecBuilder) ExecuteCaptureOutput() (string, string, error) {
	return b.execute(true)
}

func (b ExecBuilder) execute(captureOutput bool) (string, string, error) {
	logger.Log.Debugf("Executing: %s %v", b.program, b.args)

	programPath, err := exec.LookPath(b.program)
	if err != nil {
		return "", "", fmt.Errorf("command not found (%s):\n%w", b.program, err)
	}

	cmd := exec.Command(programPath, b.args...)
	cmd.Dir = b.workingDirectory
	cmd.Env = b.environmentVariables
	if b.stdinString != "" {
		cmd.Stdin = strings.NewReader(b.stdinString)
	}

	// Place the child in its own process group so that
	// PermanentlyStopAllChildProcesses can signal the whole group.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stdout pipe:\n%w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stderr pipe:\n%w", err)
	}

	err = b.startProcess(cmd)
	if err != nil {
		return "", "", err
	}
	defer untrackProcess(cmd)

	stdoutCapture := &outputCapture{
		capture:     captureOutput,
		logLevel:    b.stdoutLogLevel,
		callback:    b.stdoutCallback,
		tailLines:   b.warnLogLines,
		programName: b.program,
	}
	stderrCapture := &outputCapture{
		capture:     captureOutput,
		logLevel:    b.stderrLogLevel,
		callback:    b.stderrCallback,
		programName: b.program,
	}
	if b.errorStderrLines > stderrCapture.tailLines {
		stderrCapture.tailLines = b.errorStderrLines
	}
	if b.warnLogLines > stderrCapture.tailLines {
		stderrCapture.tailLines = b.warnLogLines
	}

	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdoutCapture.consume(stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		stderrCapture.consume(stderrPipe)
	}()
	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		if b.warnLogLines > 0 {
			for _, line := range stdoutCapture.tail(b.warnLogLines) {
				logger.Log.Warn(line)
			}
			for _, line := range stderrCapture.tail(b.warnLogLines) {
				logger.Log.Warn(line)
			}
		}

		if b.errorStderrLines > 0 {
			errorLines := stderrCapture.tail(b.errorStderrLines)
			if len(errorLines) > 0 {
				err = fmt.Errorf("%s\n%w", strings.Join(errorLines, "\n"), err)
			}
		}

		return stdoutCapture.String(), stderrCapture.String(),
			fmt.Errorf("failed to execute %s:\n%w", b.program, err)
	}

	return stdoutCapture.String(), stderrCapture.String(), nil
}

// startProcess starts the command, from a capability-restricted thread if
// requested, and registers it for shutdown signalling.
func (b ExecBuilder) startProcess(cmd *exec.Cmd) error {
	start := cmd.Start

	if b.capabilities != nil {
		start = func() error {
			errChannel := make(chan error)
			go func() {
				// The bounding set is per-thread and inherited by children.
				// Dirty the thread and let it die with the goroutine.
				runtime.LockOSThread()

				err := setOSThreadCapabilities(b.capabilities)
				if err != nil {
					errChannel <- err
					return
				}

				errChannel <- cmd.Start()
			}()
			return <-errChannel
		}
	}

	return trackAndStartProcess(cmd, start)
}

// outputCapture consumes one output stream line by line, logging, forwarding,
// and retaining lines per the builder's options.
type outputCapture struct {
	capture     bool
	logLevel    logrus.Level
	callback    func(line string)
	tailLines   int
	programName string

	builder   strings.Builder
	lastLines []string
}

func (c *outputCapture) consume(pipe interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if c.logLevel != LogDisabledLevel {
			logger.Log.Logf(c.logLevel, "%s: %s", c.programName, line)
		}

		if c.callback != nil {
			c.callback(line)
		}

		if c.capture {
			c.builder.WriteString(line)
			c.builder.WriteString("\n")
		}

		if c.tailLines > 0 {
			c.lastLines = append(c.lastLines, line)
			if len(c.lastLines) > c.tailLines {
				c.lastLines = c.lastLines[1:]
			}
		}
	}
}

func (c *outputCapture) String() string {
	return c.builder.String()
}

func (c *outputCapture) tail(lines int) []string {
	if lines >= len(c.lastLines) {
		return c.lastLines
	}
	return c.lastLines[len(c.lastLines)-lines:]
}
