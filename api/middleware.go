package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Decompressed bodies are capped so a tiny gzip payload cannot expand into
// an unbounded read downstream.
const maxDecompressedBody = 8 << 20

var errInvalidGzip = errors.New("invalid gzip body")

// GzipRequestMiddleware transparently decompresses gzip-encoded request
// bodies so the mutation pipeline always decodes plain JSON. Invalid gzip
// is a rejected input, reported in the board's failure envelope.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !requestIsGzipped(req) {
				return next(c)
			}

			raw := req.Body
			gz, err := gzip.NewReader(raw)
			if err != nil {
				_ = raw.Close()
				return fail(c, http.StatusBadRequest, errInvalidGzip)
			}

			req.Body = http.MaxBytesReader(c.Response(), &decompressedBody{gz: gz, raw: raw}, maxDecompressedBody)
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func requestIsGzipped(req *http.Request) bool {
	header := req.Header.Get(echo.HeaderContentEncoding)
	if header == "" {
		return false
	}
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// decompressedBody closes both the gzip stream and the network body it
// wraps.
type decompressedBody struct {
	gz  *gzip.Reader
	raw io.Closer
}

func (d *decompressedBody) Read(p []byte) (int, error) {
	return d.gz.Read(p)
}

func (d *decompressedBody) Close() error {
	err := d.gz.Close()
	if cerr := d.raw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
