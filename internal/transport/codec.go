package transport

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/net/http2/hpack"
)

// DefaultHeaderTableSize is the initial HPACK dynamic table size.
const DefaultHeaderTableSize = 4096

// HeaderCodec pairs an HPACK encoder and decoder for one direction of a
// connection's header stream. Each side of a connection keeps its own codec
// so the dynamic tables stay in step.
type HeaderCodec struct {
	encoder       *hpack.Encoder
	decoder       *hpack.Decoder
	encodeBuf     *bytes.Buffer
	decodedFields []hpack.HeaderField
}

// NewHeaderCodec creates a codec whose dynamic tables start at tableSize.
func NewHeaderCodec(tableSize uint32) *HeaderCodec {
	c := &HeaderCodec{encodeBuf: new(bytes.Buffer)}
	c.encoder = hpack.NewEncoder(c.encodeBuf)
	c.encoder.SetMaxDynamicTableSize(tableSize)
	c.decoder = hpack.NewDecoder(tableSize, func(hf hpack.HeaderField) {
		c.decodedFields = append(c.decodedFields, hf)
	})
	return c
}

// Encode compresses a header block. The returned slice is a copy.
func (c *HeaderCodec) Encode(h HeaderBlock) ([]byte, error) {
	c.encodeBuf.Reset()
	for _, hf := range h {
		if hf.Name == "" {
			return nil, fmt.Errorf("hpack: empty header field name (value: %q)", hf.Value)
		}
		if err := c.encoder.WriteField(hf); err != nil {
			return nil, fmt.Errorf("hpack: encoding header field %q: %w", hf.Name, err)
		}
	}
	out := make([]byte, c.encodeBuf.Len())
	copy(out, c.encodeBuf.Bytes())
	return out, nil
}

// Decode decompresses one complete header block fragment.
func (c *HeaderCodec) Decode(fragment []byte) (HeaderBlock, error) {
	if c.decoder == nil {
		return nil, errors.New("hpack: decoder not initialized")
	}
	c.decodedFields = nil
	if _, err := c.decoder.Write(fragment); err != nil {
		c.decodedFields = nil
		return nil, fmt.Errorf("hpack: decoding header block: %w", err)
	}
	if err := c.decoder.Close(); err != nil {
		c.decodedFields = nil
		return nil, fmt.Errorf("hpack: finishing header block: %w", err)
	}
	fields := c.decodedFields
	c.decodedFields = nil
	return HeaderBlock(fields), nil
}
