package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const defaultRenderTimeout = 30 * time.Second

// PDF renders the first page with poppler's pdftoppm.
type PDF struct {
	// Bin defaults to "pdftoppm" on PATH.
	Bin     string
	Width   int
	Timeout time.Duration
}

func (p *PDF) Render(ctx context.Context, data []byte) ([]byte, error) {
	bin := p.Bin
	if bin == "" {
		bin = "pdftoppm"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-f", "1", "-l", "1", "-singlefile", "-jpeg"}
	if p.Width > 0 {
		args = append(args, "-scale-to", strconv.Itoa(p.Width))
	}
	// with no output root pdftoppm writes the image to stdout
	args = append(args, "-")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pdftoppm: %w", ctx.Err())
		}
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := stdout.Bytes()
	if !isJPEG(out) {
		return nil, fmt.Errorf("pdftoppm: output is not a jpeg")
	}
	return out, nil
}
