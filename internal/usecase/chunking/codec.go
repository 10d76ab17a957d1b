package chunking

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Codec turns text into token IDs and back. The chunker only ever decodes
// contiguous slices of what it encoded, so Decode(Encode(s)) == s must hold.
type Codec interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// tiktokenCodec adapts a BPE encoding to the Codec interface.
type tiktokenCodec struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCodec loads a named BPE encoding, e.g. "cl100k_base", the
// vocabulary used by the text-embedding-3 model family.
func NewTiktokenCodec(encoding string) (Codec, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &tiktokenCodec{enc: enc}, nil
}

func (c *tiktokenCodec) Encode(text string) []int {
	return c.enc.Encode(text, nil, nil)
}

func (c *tiktokenCodec) Decode(tokens []int) string {
	return c.enc.Decode(tokens)
}
