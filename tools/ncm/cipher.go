package ncm

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedCipher - the blocks do not decrypt with the known keys
	ErrUnsupportedCipher = errors.New("unsupported cipher")

	coreKey = []byte{0x68, 0x7A, 0x48, 0x52, 0x41, 0x6D, 0x73, 0x6F, 0x35, 0x6B, 0x49, 0x6E, 0x62, 0x61, 0x78, 0x57}
	metaKey = []byte{0x23, 0x31, 0x34, 0x6C, 0x6A, 0x6B, 0x5F, 0x21, 0x5C, 0x5D, 0x26, 0x30, 0x55, 0x3C, 0x27, 0x28}

	keyPrefix  = []byte("neteasecloudmusic")
	metaPrefix = []byte("163 key(Don't modify):")
	musicLabel = []byte("music:")
)

const (
	keyXor  = 0x64
	metaXor = 0x63
)

func aesECBDecrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	size := block.BlockSize()
	if len(data) == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("block length %d: %w", len(data), ErrUnsupportedCipher)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += size {
		block.Decrypt(out[i:i+size], data[i:i+size])
	}

	return pkcs7Unpad(out, size)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrUnsupportedCipher
	}

	pad := int(data[len(data)-1])
	if pad == 0 || pad > size || pad > len(data) {
		return nil, fmt.Errorf("bad padding: %w", ErrUnsupportedCipher)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("bad padding: %w", ErrUnsupportedCipher)
		}
	}

	return data[:len(data)-pad], nil
}

// unwrapKey turns the stored key block into the stream key
func unwrapKey(block []byte) ([]byte, error) {
	data := make([]byte, len(block))
	for i, b := range block {
		data[i] = b ^ keyXor
	}

	plain, err := aesECBDecrypt(coreKey, data)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(plain, keyPrefix) || len(plain) == len(keyPrefix) {
		return nil, fmt.Errorf("key block prefix: %w", ErrUnsupportedCipher)
	}

	return plain[len(keyPrefix):], nil
}

// unwrapMeta returns the json document stored in the metadata block
func unwrapMeta(block []byte) ([]byte, error) {
	data := make([]byte, len(block))
	for i, b := range block {
		data[i] = b ^ metaXor
	}

	if !bytes.HasPrefix(data, metaPrefix) {
		return nil, fmt.Errorf("metadata prefix: %w", ErrUnsupportedCipher)
	}

	raw, err := base64.StdEncoding.DecodeString(string(data[len(metaPrefix):]))
	if err != nil {
		return nil, fmt.Errorf("metadata encoding: %v: %w", err, ErrUnsupportedCipher)
	}

	plain, err := aesECBDecrypt(metaKey, raw)
	if err != nil {
		return nil, err
	}

	return bytes.TrimPrefix(plain, musicLabel), nil
}

// keyBox is the 256 byte permutation used to derive the payload keystream
type keyBox [256]byte

func newKeyBox(key []byte) *keyBox {
	var box keyBox
	for i := range box {
		box[i] = byte(i)
	}

	var last byte
	offset := 0
	for i := range box {
		swap := box[i]
		c := swap + last + key[offset]
		offset++
		if offset >= len(key) {
			offset = 0
		}
		box[i] = box[c]
		box[c] = swap
		last = c
	}

	return &box
}

// xorAt decrypts p in place, pos is the payload offset of p[0]
func (b *keyBox) xorAt(p []byte, pos int64) {
	for i := range p {
		j := byte(pos + int64(i) + 1)
		p[i] ^= b[b[j]+b[b[j]+j]]
	}
}

// fallbackKey is the fixed key of the legacy xor transform
func fallbackKey() []byte {
	sum := md5.Sum(coreKey)
	return sum[:]
}

func xorFallbackAt(p []byte, pos int64, key []byte) {
	for i := range p {
		p[i] ^= key[(pos+int64(i))%int64(len(key))]
	}
}
