package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// Notify returns a channel that receives once when the process gets a
// termination or interrupt signal. The supervisor races this channel against
// service completions; signal delivery does not trigger the token by itself.
func Notify() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}
