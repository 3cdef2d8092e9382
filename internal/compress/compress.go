package compress

import (
	"fmt"
)

type Compress interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// Codec identifies the algorithm a stored value was encoded with.
type Codec byte

const (
	CodecNone Codec = iota
	CodecGZip
	CodecBrotli
	CodecLZ4
)

var codecNames = map[string]Codec{
	"none":   CodecNone,
	"gzip":   CodecGZip,
	"brotli": CodecBrotli,
	"lz4":    CodecLZ4,
}

var _ Compress = (*Tagged)(nil)

// Tagged prefixes encoded values with their codec so values written under
// one codec stay readable after the configured codec changes.
type Tagged struct {
	codec  Codec
	codecs map[Codec]Compress
}

// New returns a Tagged compressor that encodes with the named codec.
func New(name string) (*Tagged, error) {
	if name == "" {
		name = "none"
	}
	codec, ok := codecNames[name]
	if !ok {
		return nil, fmt.Errorf("compress: unknown codec %q", name)
	}

	return &Tagged{
		codec: codec,
		codecs: map[Codec]Compress{
			CodecNone:   NewNop(),
			CodecGZip:   NewGZip(),
			CodecBrotli: NewBrotli(),
			CodecLZ4:    NewLZ4(),
		},
	}, nil
}

func (t *Tagged) Codec() Codec {
	return t.codec
}

func (t *Tagged) Encode(data []byte) ([]byte, error) {
	body, err := t.codecs[t.codec].Encode(data)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(t.codec))
	return append(out, body...), nil
}

func (t *Tagged) Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	c, ok := t.codecs[Codec(data[0])]
	if !ok {
		return nil, fmt.Errorf("compress: unknown codec tag %d", data[0])
	}
	return c.Decode(data[1:])
}
