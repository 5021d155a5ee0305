package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
)

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

type Hasher interface {
	Calculate(data []byte) (string, error)
	CalculateReader(reader io.Reader) (string, error)
	CalculateJSON(v interface{}) (string, error)
	Verify(data []byte, expectedHash string) (bool, error)
}

// ContentHasher produces "<algorithm>:<hex>" digests used as content addresses.
type ContentHasher struct {
	algorithm Algorithm
}

func NewContentHasher(algorithm Algorithm) *ContentHasher {
	return &ContentHasher{
		algorithm: algorithm,
	}
}

func (h *ContentHasher) Calculate(data []byte) (string, error) {
	hasher, err := h.getHasher()
	if err != nil {
		return "", err
	}

	hasher.Write(data)
	return h.format(hasher), nil
}

func (h *ContentHasher) CalculateReader(reader io.Reader) (string, error) {
	hasher, err := h.getHasher()
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}

	return h.format(hasher), nil
}

// CalculateJSON hashes the JSON encoding of v. Struct fields encode in
// declaration order and map keys sorted, so equal values hash equally.
func (h *ContentHasher) CalculateJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode content: %w", err)
	}
	return h.Calculate(data)
}

func (h *ContentHasher) Verify(data []byte, expectedHash string) (bool, error) {
	calculatedHash, err := h.Calculate(data)
	if err != nil {
		return false, err
	}

	return calculatedHash == expectedHash, nil
}

func (h *ContentHasher) format(hasher hash.Hash) string {
	return string(h.algorithm) + ":" + hex.EncodeToString(hasher.Sum(nil))
}

func (h *ContentHasher) getHasher() (hash.Hash, error) {
	switch h.algorithm {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", h.algorithm)
	}
}
