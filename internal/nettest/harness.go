// Package nettest provides small helpers for spinning up real
// loopback-socket overlaynet nodes in end-to-end tests: free port
// allocation and a poll-until-true helper, since node convergence
// (approval, ring stabilization) happens across several background
// ticker goroutines rather than synchronously.
package nettest

import (
	"fmt"
	"net"
	"time"
)

// FreePort asks the OS for a currently unused TCP port on 127.0.0.1.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// LoopbackAddr formats port as a loopback "host:port" string.
func LoopbackAddr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// Eventually polls cond every interval until it returns true or timeout
// elapses, returning whether it converged in time.
func Eventually(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}
