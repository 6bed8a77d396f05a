package stdoutwriter

import "fmt"

// Logger writes logs to the standard output.
type Logger struct{}

func (l Logger) Write(p []byte) (n int, err error) {
	fmt.Print(string(p))
	return len(p), nil
}
