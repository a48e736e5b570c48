package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

// CompressionMiddleware gzips responses for clients that accept it.
type CompressionMiddleware struct{}

func NewCompressionMiddleware() *CompressionMiddleware {
	return &CompressionMiddleware{}
}

// Middleware wraps the ResponseWriter with a gzip.Writer when the client
// sends "Accept-Encoding: gzip". Content-Length is dropped because the
// compressed length is not known in advance.
func (c *CompressionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		gz := gzip.NewWriter(w)
		defer gz.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		next.ServeHTTP(compressionWriter{Writer: gz, ResponseWriter: w}, r)
	})
}

// compressionWriter routes body writes through the gzip.Writer.
type compressionWriter struct {
	io.Writer
	http.ResponseWriter
}

func (c compressionWriter) Write(b []byte) (int, error) {
	return c.Writer.Write(b)
}

func (c compressionWriter) WriteHeader(status int) {
	c.ResponseWriter.Header().Del("Content-Length")
	c.ResponseWriter.WriteHeader(status)
}
