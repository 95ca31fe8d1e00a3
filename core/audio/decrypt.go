package audio

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// Protocol constants for the chunked audio cipher. The base IV is fixed,
// each chunk's starting counter is derived from its index, and the counter
// advances by a fixed stride after every 4096-byte sub-block.
const (
	ChunkSize    = 0x20000
	subBlockSize = 4096
	ivStride     = 0x100

	// HeaderSize is the container header at the start of the first
	// chunk; the caller never sees those bytes as audio.
	HeaderSize = 0xA7
)

// baseIV is the 128-bit protocol constant 0x72E067FBDDCBCF77EBE8BC643F630D93.
var baseIV = [16]byte{
	0x72, 0xE0, 0x67, 0xFB, 0xDD, 0xCB, 0xCF, 0x77,
	0xEB, 0xE8, 0xBC, 0x64, 0x3F, 0x63, 0x0D, 0x93,
}

// IntegrityError reports a sub-block whose decrypted length did not match
// its input, which poisons the whole stream.
type IntegrityError struct {
	ChunkIndex uint64
	Expected   int
	Actual     int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audio: chunk %d integrity failure: decrypted %d bytes, expected %d",
		e.ChunkIndex, e.Actual, e.Expected)
}

// DecryptChunk decrypts one ranged chunk with the given 16-byte audio key.
// The chunk index selects the starting counter:
//
//	iv = baseIV + ChunkSize*index/16
//
// and the counter is bumped by the stride after every sub-block. The first
// chunk's container header is NOT stripped here; see ChunkReader.
func DecryptChunk(audioKey []byte, chunk []byte, chunkIndex uint64) ([]byte, error) {
	block, err := aes.NewCipher(audioKey)
	if err != nil {
		return nil, fmt.Errorf("audio: bad audio key: %w", err)
	}

	iv := baseIV
	addToIV(&iv, ChunkSize*chunkIndex/16)

	out := make([]byte, 0, len(chunk))
	for offset := 0; offset < len(chunk); offset += subBlockSize {
		end := offset + subBlockSize
		if end > len(chunk) {
			end = len(chunk)
		}
		sub := chunk[offset:end]

		decrypted := make([]byte, len(sub))
		cipher.NewCTR(block, iv[:]).XORKeyStream(decrypted, sub)
		if len(decrypted) != len(sub) {
			return nil, &IntegrityError{
				ChunkIndex: chunkIndex,
				Expected:   len(sub),
				Actual:     len(decrypted),
			}
		}
		out = append(out, decrypted...)

		addToIV(&iv, ivStride)
	}

	return out, nil
}

// addToIV adds n to a big-endian 128-bit counter in place.
func addToIV(iv *[16]byte, n uint64) {
	lo := binary.BigEndian.Uint64(iv[8:])
	hi := binary.BigEndian.Uint64(iv[:8])
	sum := lo + n
	if sum < lo {
		hi++
	}
	binary.BigEndian.PutUint64(iv[8:], sum)
	binary.BigEndian.PutUint64(iv[:8], hi)
}
