package output

import (
	"fmt"
	"io"
)

// Warnf writes a warning line to w, typically stderr.
func Warnf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, "Warning: "+format+"\n", args...)
}

// Infof writes an informational line to w.
func Infof(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
