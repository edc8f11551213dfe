// Package chunk stores compiled Luau bytecode as content-addressed chunks.
// A chunk is keyed by the hash of its source and the compiler options that
// produced it, so unchanged sources are never compiled twice.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/chazu/luau/compiler"
)

// Version is the wire format version written by Marshal.
const Version = 1

// ErrNotFound is returned by Store.Get for unknown hashes.
var ErrNotFound = errors.New("chunk: not found")

// Hash identifies a chunk.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParseHash decodes the hex form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("chunk: parse hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("chunk: parse hash: %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// HashSource computes the key of source compiled with opts.
func HashSource(source string, opts compiler.Options) Hash {
	d := sha256.New()
	d.Write([]byte(opts.Fingerprint()))
	d.Write([]byte{0})
	d.Write([]byte(source))
	var h Hash
	d.Sum(h[:0])
	return h
}

// Chunk is a unit of compiled code.
type Chunk struct {
	Version  int    `cbor:"1,keyasint"`
	Name     string `cbor:"2,keyasint"`
	Hash     Hash   `cbor:"3,keyasint"`
	Options  string `cbor:"4,keyasint"` // compiler.Options.Fingerprint
	Bytecode []byte `cbor:"5,keyasint"`
}

// Compile compiles source into a chunk. name becomes the chunk name passed
// to the VM when the chunk is loaded.
func Compile(name, source string, opts compiler.Options) (*Chunk, error) {
	bc, err := compiler.Compile(source, opts, compiler.ParseOptions{})
	if err != nil {
		return nil, fmt.Errorf("chunk: compile %s: %w", name, err)
	}
	return &Chunk{
		Version:  Version,
		Name:     name,
		Hash:     HashSource(source, opts),
		Options:  opts.Fingerprint(),
		Bytecode: bc,
	}, nil
}

// Verify rejects chunks that cannot be loaded: unknown versions, empty
// bytecode and bytecode that only carries a compile error.
func (c *Chunk) Verify() error {
	if c.Version != Version {
		return fmt.Errorf("chunk: %s: unsupported version %d", c.Name, c.Version)
	}
	if len(c.Bytecode) == 0 {
		return fmt.Errorf("chunk: %s: empty bytecode", c.Name)
	}
	if msg, ok := compiler.ErrorMessage(c.Bytecode); ok {
		return fmt.Errorf("chunk: %s: error bytecode: %s", c.Name, msg)
	}
	return nil
}
