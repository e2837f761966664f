// Package activation implements the systemd socket activation protocol
// (LISTEN_PID / LISTEN_FDS) for the webhook listener.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes activated file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr).
const firstFD = 3

// activationFDs parses the activation environment and returns the number of
// passed descriptors, or 0 when activation is absent or aimed at another
// process.
func activationFDs(pidVar, fdsVar string) (int, error) {
	pidStr := os.Getenv(pidVar)
	if pidStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", pidVar, pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	fdsStr := os.Getenv(fdsVar)
	if fdsStr == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", fdsVar, fdsStr, err)
	}
	if n < 1 {
		return 0, nil
	}
	return n, nil
}

// Listeners returns the systemd-activated listeners, or nil when the process
// was not socket-activated. The activation environment variables are unset
// afterwards so child processes (git) do not inherit them.
func Listeners() ([]net.Listener, error) {
	n, err := activationFDs("LISTEN_PID", "LISTEN_FDS")
	if err != nil || n == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to open activated fd %d", fd)
		}

		listener, err := net.FileListener(file)
		// The listener duplicates the descriptor; the file is closed either way.
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		listeners = append(listeners, listener)
	}

	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// FirstListener returns the first activated listener, or nil when the process
// was started without socket activation.
func FirstListener() (net.Listener, error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) == 0 {
		return nil, nil
	}
	for _, extra := range listeners[1:] {
		_ = extra.Close()
	}
	return listeners[0], nil
}
