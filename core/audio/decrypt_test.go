package audio

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

var testKey = []byte("0123456789abcdef")

// encryptChunk applies the chunk cipher in the encrypting direction:
// CTR is symmetric, so it mirrors DecryptChunk exactly.
func encryptChunk(t *testing.T, key, plain []byte, chunkIndex uint64) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}

	iv := baseIV
	addToIV(&iv, ChunkSize*chunkIndex/16)

	out := make([]byte, 0, len(plain))
	for offset := 0; offset < len(plain); offset += subBlockSize {
		end := offset + subBlockSize
		if end > len(plain) {
			end = len(plain)
		}
		sub := make([]byte, end-offset)
		cipher.NewCTR(block, iv[:]).XORKeyStream(sub, plain[offset:end])
		out = append(out, sub...)
		addToIV(&iv, ivStride)
	}
	return out
}

func patternBytes(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)*7 + seed
	}
	return out
}

func TestDecryptChunkRoundTrip(t *testing.T) {
	for _, index := range []uint64{0, 1, 3, 17} {
		plain := patternBytes(ChunkSize, byte(index))
		encrypted := encryptChunk(t, testKey, plain, index)

		decrypted, err := DecryptChunk(testKey, encrypted, index)
		if err != nil {
			t.Fatalf("chunk %d: %v", index, err)
		}
		if !bytes.Equal(decrypted, plain) {
			t.Errorf("chunk %d: round trip mismatch", index)
		}
	}
}

func TestDecryptChunkShortFinalChunk(t *testing.T) {
	// Last chunk of a file is rarely an exact multiple of anything.
	plain := patternBytes(subBlockSize*2+123, 9)
	encrypted := encryptChunk(t, testKey, plain, 5)

	decrypted, err := DecryptChunk(testKey, encrypted, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decrypted, plain) {
		t.Error("short chunk round trip mismatch")
	}
}

func TestDecryptChunkSubBlockStride(t *testing.T) {
	// Decrypting sub-blocks independently must agree with decrypting
	// the whole chunk, which pins the per-sub-block counter stride.
	plain := patternBytes(subBlockSize*3, 1)
	encrypted := encryptChunk(t, testKey, plain, 0)

	whole, err := DecryptChunk(testKey, encrypted, 0)
	if err != nil {
		t.Fatal(err)
	}

	block, _ := aes.NewCipher(testKey)
	iv := baseIV
	var pieces []byte
	for offset := 0; offset < len(encrypted); offset += subBlockSize {
		sub := make([]byte, subBlockSize)
		cipher.NewCTR(block, iv[:]).XORKeyStream(sub, encrypted[offset:offset+subBlockSize])
		pieces = append(pieces, sub...)
		addToIV(&iv, ivStride)
	}

	if !bytes.Equal(whole, pieces) {
		t.Error("whole-chunk and per-sub-block decryption disagree")
	}
}

func TestDecryptChunkBadKey(t *testing.T) {
	if _, err := DecryptChunk([]byte("short"), []byte("data"), 0); err == nil {
		t.Error("expected an error for a non-AES key length")
	}
}

func TestAddToIVCarry(t *testing.T) {
	iv := [16]byte{
		0, 0, 0, 0, 0, 0, 0, 0,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	}
	addToIV(&iv, 1)
	want := [16]byte{0, 0, 0, 0, 0, 0, 0, 1}
	if iv != want {
		t.Errorf("carry into the high word failed: %x", iv)
	}
}

func TestParseContentRangeSize(t *testing.T) {
	size, err := parseContentRangeSize("bytes 0-131071/4194304")
	if err != nil {
		t.Fatal(err)
	}
	if size != 4194304 {
		t.Errorf("expected 4194304, got %d", size)
	}

	if _, err := parseContentRangeSize(""); err == nil {
		t.Error("empty header must fail")
	}
	if _, err := parseContentRangeSize("bytes 0-1/notanumber"); err == nil {
		t.Error("malformed size must fail")
	}
}

// cdnServer serves one encrypted file backing ranged chunk requests.
func cdnServer(t *testing.T, plain []byte) *httptest.Server {
	t.Helper()
	total := int64(len(plain))

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		var from, to int64
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &from, &to); err != nil {
			t.Errorf("bad range header %q", rangeHeader)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if from >= total {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if to >= total {
			to = total - 1
		}

		// Encrypt exactly the requested chunk, per its chunk index.
		index := uint64(from / ChunkSize)
		encrypted := encryptChunk(t, testKey, plain[from:to+1], index)

		w.Header().Set("Content-Range",
			"bytes "+strconv.FormatInt(from, 10)+"-"+strconv.FormatInt(to, 10)+"/"+strconv.FormatInt(total, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(encrypted)
	}))
}

func TestChunkReaderStripsHeader(t *testing.T) {
	audio := patternBytes(ChunkSize+1000, 3)
	file := append(bytes.Repeat([]byte{0xAA}, HeaderSize), audio...)

	srv := cdnServer(t, file)
	defer srv.Close()

	reader := NewStreamerWithClient(srv.Client()).Stream(srv.URL, testKey, -1)

	var out bytes.Buffer
	n, err := reader.WriteTo(context.Background(), &out)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(audio)) {
		t.Errorf("expected %d audio bytes, got %d", len(audio), n)
	}
	if !bytes.Equal(out.Bytes(), audio) {
		t.Error("streamed audio does not match, header strip or decryption is off")
	}
}

func TestChunkReaderSizeDiscovery(t *testing.T) {
	file := patternBytes(ChunkSize*2+500, 4)
	srv := cdnServer(t, file)
	defer srv.Close()

	reader := NewStreamerWithClient(srv.Client()).Stream(srv.URL, testKey, -1)

	first, err := reader.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if reader.fileSize != int64(len(file)) {
		t.Errorf("expected discovered size %d, got %d", len(file), reader.fileSize)
	}
	if len(first) != ChunkSize-HeaderSize {
		t.Errorf("first chunk should lose the header: got %d bytes", len(first))
	}
}

func TestChunkReaderEOF(t *testing.T) {
	file := patternBytes(HeaderSize+100, 5)
	srv := cdnServer(t, file)
	defer srv.Close()

	reader := NewStreamerWithClient(srv.Client()).Stream(srv.URL, testKey, int64(len(file)))

	if _, err := reader.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := reader.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF after the final chunk, got %v", err)
	}
	// A finished reader stays finished.
	if _, err := reader.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF on a done reader, got %v", err)
	}
}

func TestChunkReaderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	reader := NewStreamerWithClient(srv.Client()).Stream(srv.URL, testKey, -1)
	_, err := reader.Next(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("expected a status error, got %v", err)
	}
	if _, err := reader.Next(context.Background()); err != io.EOF {
		t.Errorf("a failed reader must be done, got %v", err)
	}
}
