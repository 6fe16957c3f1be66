package launcher

import (
	"bytes"
	"io"
	"sync"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
)

const defaultConsoleBytes = 1024 * 1024 // 1MB of server output kept in memory

// Console collects the server's stdout and stderr. Output is forwarded to
// the logger incrementally: each Flush logs the complete lines written since
// the previous Flush.
type Console struct {
	maxBytes int
	log      log.Logger
	mirror   io.Writer

	mu       sync.Mutex
	contents []byte
	mark     int
	total    int64
}

// NewConsole creates a Console. mirror, if non-nil, receives every byte
// written, unmodified.
func NewConsole(lgr log.Logger, mirror io.Writer, maxBytes int) *Console {
	if maxBytes <= 0 {
		maxBytes = defaultConsoleBytes
	}
	return &Console{
		maxBytes: maxBytes,
		log:      lgr,
		mirror:   mirror,
	}
}

func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mirror != nil {
		_, _ = c.mirror.Write(p)
	}
	c.total += int64(len(p))
	c.contents = append(c.contents, p...)
	if over := len(c.contents) - c.maxBytes; over > 0 {
		c.contents = c.contents[over:]
		c.mark = max(0, c.mark-over)
	}
	return len(p), nil
}

// Flush logs complete lines not yet logged.
func (c *Console) Flush() {
	c.flush(false)
}

// FlushAll logs everything not yet logged, including a trailing partial line.
func (c *Console) FlushAll() {
	c.flush(true)
}

func (c *Console) flush(all bool) {
	c.mu.Lock()
	pending := c.contents[c.mark:]
	end := len(pending)
	if !all {
		end = bytes.LastIndexByte(pending, '\n') + 1
	}
	chunk := string(pending[:end])
	c.mark += end
	c.mu.Unlock()

	if c.log == nil || chunk == "" {
		return
	}
	for _, line := range bytes.Split([]byte(stripansi.Strip(chunk)), []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		c.log.Info("server", "out", string(bytes.TrimRight(line, "\r")))
	}
}

// Bytes returns the retained output.
func (c *Console) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := make([]byte, len(c.contents))
	copy(cp, c.contents)
	return cp
}

// TotalBytes is the number of bytes ever written.
func (c *Console) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Truncated reports whether older output was discarded.
func (c *Console) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.contents)) < c.total
}
