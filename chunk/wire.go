package chunk

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is canonical so equal chunks encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("chunk: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Chunk to CBOR bytes.
func Marshal(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// Unmarshal deserializes and verifies a Chunk.
func Unmarshal(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("chunk: unmarshal: %w", err)
	}
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return &c, nil
}
