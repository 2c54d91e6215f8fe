// Completion: 100% - address-to-source sidecar complete
package translate

import (
	"fmt"
	"os"
	"strings"
)

// A2SWriter accumulates one line per translated guest PC, mapping the
// address back to its function and offset. The sidecar is written only
// after a successful translation.
type A2SWriter struct {
	lines []string
}

func NewA2SWriter() *A2SWriter {
	return &A2SWriter{}
}

// Record adds one "<hex-addr> <function>+<offset>" line.
func (w *A2SWriter) Record(addr uint32, fn string, off uint32) {
	w.lines = append(w.lines, fmt.Sprintf("%08x %s+%d", addr, fn, off))
}

// String renders the whole sidecar.
func (w *A2SWriter) String() string {
	var sb strings.Builder
	for _, l := range w.lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// WriteFile writes the sidecar to path.
func (w *A2SWriter) WriteFile(path string) error {
	return os.WriteFile(path, []byte(w.String()), 0644)
}
