//go:build !unix

package serverrun

import "os"

// notifyDrain is a no-op where SIGUSR1 does not exist; use the admin API.
func notifyDrain(chan<- os.Signal) {}
