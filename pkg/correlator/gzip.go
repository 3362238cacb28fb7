package correlator

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
)

const gzipExt = ".gz"

// extract decompresses src into dir under the source name minus .gz and
// returns the extracted path. An existing extraction is overwritten.
func extract(ctx context.Context, src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer zr.Close()

	dst := filepath.Join(dir, strings.TrimSuffix(filepath.Base(src), gzipExt))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}

	_, err = io.Copy(out, &ctxReader{ctx: ctx, r: zr})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		if ctx.Err() != nil {
			return "", bherrors.Wrap(bherrors.ErrCodeTimeout, "decompression of "+src+" timed out", ctx.Err())
		}
		return "", fmt.Errorf("failed to decompress %s: %w", src, err)
	}
	return dst, nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
