package compute

import (
	"bytes"
	"errors"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"

	"halia/pkg/message"
)

// maxDecompressed bounds the output of a single decompress transform.
const maxDecompressed = 64 << 20

var errTooLarge = errors.New("decompressed payload too large")

type codec struct {
	writer func(w io.Writer) (io.WriteCloser, error)
	reader func(r io.Reader) (io.Reader, error)
}

var codecs = map[string]codec{
	"gzip": {
		writer: func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil },
		reader: func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	},
	"deflate": {
		writer: func(w io.Writer) (io.WriteCloser, error) { return flate.NewWriter(w, flate.DefaultCompression) },
		reader: func(r io.Reader) (io.Reader, error) { return flate.NewReader(r), nil },
	},
	"zlib": {
		writer: func(w io.Writer) (io.WriteCloser, error) { return zlib.NewWriter(w), nil },
		reader: func(r io.Reader) (io.Reader, error) { return zlib.NewReader(r) },
	},
	"lz4": {
		writer: func(w io.Writer) (io.WriteCloser, error) { return lz4.NewWriter(w), nil },
		reader: func(r io.Reader) (io.Reader, error) { return lz4.NewReader(r), nil },
	},
	"brotli": {
		writer: func(w io.Writer) (io.WriteCloser, error) { return brotli.NewWriter(w), nil },
		reader: func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
	},
	"snappy": {
		writer: func(w io.Writer) (io.WriteCloser, error) { return snappy.NewBufferedWriter(w), nil },
		reader: func(r io.Reader) (io.Reader, error) { return snappy.NewReader(r), nil },
	},
}

func init() {
	for name, c := range codecs {
		register("compress_"+name, 0, 0, compressFn(c))
		register("decompress_"+name, 0, 0, decompressFn(c))
	}
}

func compressFn(c codec) fn {
	return func(v message.Value, _ []message.Value) (message.Value, bool) {
		raw, ok := text(v)
		if !ok {
			return message.Value{}, false
		}
		out, err := encode(c, raw)
		if err != nil {
			return message.Value{}, false
		}
		return message.Bytes(out), true
	}
}

func decompressFn(c codec) fn {
	return func(v message.Value, _ []message.Value) (message.Value, bool) {
		raw, ok := text(v)
		if !ok {
			return message.Value{}, false
		}
		out, err := decode(c, raw)
		if err != nil {
			return message.Value{}, false
		}
		return message.Bytes(out), true
	}
}

func encode(c codec, raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.writer(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(c codec, raw []byte) ([]byte, error) {
	r, err := c.reader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}
	out, err := io.ReadAll(io.LimitReader(r, maxDecompressed+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressed {
		return nil, errTooLarge
	}
	return out, nil
}
