// internal/capture/decode.go
package capture

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Reader pools to reduce allocation churn on busy capture sessions.
var gzipReaderPool = sync.Pool{
	New: func() interface{} {
		return new(gzip.Reader)
	},
}

var brotliReaderPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewReader(nil)
	},
}

// Used to release references held by pooled readers before returning them.
var emptyReader = bytes.NewReader(nil)

// DecodeBody undoes the Content-Encoding transformations applied to body.
// Header values are given in application order, so they are processed in
// reverse. On failure the bytes decoded so far are returned alongside the
// error so callers can fall back to storing them raw.
func DecodeBody(body []byte, encodings []string) ([]byte, error) {
	if len(body) == 0 || len(encodings) == 0 {
		return body, nil
	}

	// A single header line may carry a comma separated list.
	var tokens []string
	for _, value := range encodings {
		for _, tok := range strings.Split(value, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}

	for i := len(tokens) - 1; i >= 0; i-- {
		var (
			decoded []byte
			err     error
		)
		switch strings.ToLower(tokens[i]) {
		case "identity":
			continue
		case "gzip", "x-gzip":
			decoded, err = gunzip(body)
		case "br":
			decoded, err = unbrotli(body)
		case "deflate":
			decoded, err = inflate(body)
		default:
			return body, fmt.Errorf("unsupported content encoding %q", tokens[i])
		}
		if err != nil {
			return body, fmt.Errorf("decoding %q: %w", tokens[i], err)
		}
		body = decoded
	}
	return body, nil
}

func gunzip(data []byte) ([]byte, error) {
	gz := gzipReaderPool.Get().(*gzip.Reader)
	defer func() {
		_ = gz.Reset(emptyReader)
		gzipReaderPool.Put(gz)
	}()

	if err := gz.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return io.ReadAll(gz)
}

func unbrotli(data []byte) ([]byte, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	defer func() {
		_ = br.Reset(emptyReader)
		brotliReaderPool.Put(br)
	}()

	if err := br.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return io.ReadAll(br)
}

// inflate handles the deflate encoding's two dialects: zlib wrapped (correct
// per RFC 9110) and raw flate (what some servers actually send).
func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err == nil {
		defer zr.Close()
		if out, zerr := io.ReadAll(zr); zerr == nil {
			return out, nil
		}
	}

	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}
