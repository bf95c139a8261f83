//go:build unix

package serverrun

import (
	"os"
	"os/signal"
	"syscall"
)

func notifyDrain(ch chan<- os.Signal) { signal.Notify(ch, syscall.SIGUSR1) }
