// Package cryptoutil holds the AES primitives shared by every container
// parser: ECB for key-area/title-key unwrapping, XTS with the Nintendo
// big-endian tweak for NCA headers, and CTR for filesystem section data.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync"

	"github.com/ryouvc/nxfs/internal/nxerr"
)

var (
	cipherCache   = make(map[string]cipher.Block)
	cipherCacheMu sync.RWMutex
)

func cachedBlock(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, nxerr.New(nxerr.KindCrypto, "AES key must be 16 bytes, got %d", len(key))
	}

	k := string(key)

	cipherCacheMu.RLock()
	block, ok := cipherCache[k]
	cipherCacheMu.RUnlock()
	if ok {
		return block, nil
	}

	cipherCacheMu.Lock()
	defer cipherCacheMu.Unlock()
	if block, ok = cipherCache[k]; ok {
		return block, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindCrypto, err, "construct AES cipher")
	}
	cipherCache[k] = block
	return block, nil
}

// ECBDecrypt decrypts data block-by-block with AES-ECB. Switch key
// wrapping (key-area keys, title keys) always operates on exactly one or
// two 16-byte blocks, never a general-purpose bulk cipher mode.
func ECBDecrypt(data, key []byte) ([]byte, error) {
	block, err := cachedBlock(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, nxerr.New(nxerr.KindCrypto, "ECB input length %d not a multiple of block size", len(data))
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Decrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return out, nil
}

// ECBEncrypt is the inverse of ECBDecrypt.
func ECBEncrypt(data, key []byte) ([]byte, error) {
	block, err := cachedBlock(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, nxerr.New(nxerr.KindCrypto, "ECB input length %d not a multiple of block size", len(data))
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return out, nil
}

// NewCTRStream builds an AES-128-CTR keystream starting at absoluteOffset.
// iv holds the section's base counter (its high 8 bytes); the low 8 bytes
// are overwritten with the big-endian 16-byte-aligned block index, matching
// the Nintendo convention (nx-archive's get_nintendo_tweak applied to a CTR
// counter rather than an XTS tweak).
func NewCTRStream(key, iv []byte, absoluteOffset int64) (cipher.Stream, error) {
	block, err := cachedBlock(key)
	if err != nil {
		return nil, err
	}

	counter := make([]byte, 16)
	copy(counter, iv)
	binary.BigEndian.PutUint64(counter[8:], uint64(absoluteOffset>>4))

	return cipher.NewCTR(block, counter), nil
}

// XTSDecrypt decrypts one or more 16-byte-aligned 0x200 sectors using
// AES-128-XTS with the Nintendo tweak: a big-endian sector index, rather
// than the little-endian tweak of the IEEE P1619 standard XTS mode. sector
// is the index of the first sector in data; each further 0x200 bytes use
// the next index. key must be 32 bytes (data key || tweak key).
func XTSDecrypt(data, key []byte, sector uint64) ([]byte, error) {
	if len(key) != 32 {
		return nil, nxerr.New(nxerr.KindCrypto, "XTS key must be 32 bytes, got %d", len(key))
	}

	c1, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindCrypto, err, "construct XTS data cipher")
	}
	c2, err := aes.NewCipher(key[16:])
	if err != nil {
		return nil, nxerr.Wrap(nxerr.KindCrypto, err, "construct XTS tweak cipher")
	}
	if len(data)%16 != 0 {
		return nil, nxerr.New(nxerr.KindCrypto, "XTS input length %d not 16-byte aligned", len(data))
	}

	sectorIndex := make([]byte, 16)
	tweak := make([]byte, 16)

	out := make([]byte, len(data))
	buf := make([]byte, 16)
	dec := make([]byte, 16)

	for i := 0; i < len(data); i += 16 {
		if i%0x200 == 0 {
			// Each 0x200 sector restarts the tweak from its own index.
			binary.BigEndian.PutUint64(sectorIndex[8:], sector+uint64(i/0x200))
			c2.Encrypt(tweak, sectorIndex)
		}
		chunk := data[i : i+16]
		xor16(buf, chunk, tweak)
		c1.Decrypt(dec, buf)
		xor16(out[i:i+16], dec, tweak)
		mul2(tweak)
	}
	return out, nil
}

func xor16(dst, a, b []byte) {
	for i := 0; i < 16; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

// mul2 doubles the tweak in GF(2^128), the standard XTS tweak update.
func mul2(tweak []byte) {
	var carry byte
	for i := 0; i < 16; i++ {
		b := tweak[i]
		next := b >> 7
		tweak[i] = (b << 1) | carry
		carry = next
	}
	if carry != 0 {
		tweak[0] ^= 0x87
	}
}
