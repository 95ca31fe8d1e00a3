package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SpotWire/logger"
)

// Streamer fetches encrypted tracks from a CDN in ranged chunks and
// decrypts them. Streams are fully independent of the dealer connection;
// any number may run concurrently.
type Streamer struct {
	httpClient *http.Client
}

// NewStreamer builds a streamer with a default HTTP client.
func NewStreamer() *Streamer {
	return &Streamer{httpClient: &http.Client{Timeout: 60 * time.Second}}
}

// NewStreamerWithClient builds a streamer around the given HTTP client.
func NewStreamerWithClient(c *http.Client) *Streamer {
	return &Streamer{httpClient: c}
}

// ChunkReader yields decrypted chunks of one track, in order. It is a
// finite, single-pass sequence: once Next returns io.EOF the stream is
// done and the reader cannot be restarted.
type ChunkReader struct {
	streamer   *Streamer
	url        string
	audioKey   []byte
	fileSize   int64 // -1 until discovered from the first Content-Range
	chunkIndex uint64
	done       bool
}

// Stream opens a decrypted chunk sequence for a CDN url. fileSize may be
// -1 to discover the total size from the first response's Content-Range.
func (s *Streamer) Stream(url string, audioKey []byte, fileSize int64) *ChunkReader {
	return &ChunkReader{
		streamer: s,
		url:      url,
		audioKey: audioKey,
		fileSize: fileSize,
	}
}

// Next fetches, decrypts and returns the next chunk. The first chunk has
// the container header stripped. Returns io.EOF after the final chunk.
func (r *ChunkReader) Next(ctx context.Context) ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	if r.fileSize >= 0 && int64(r.chunkIndex)*ChunkSize >= r.fileSize {
		r.done = true
		return nil, io.EOF
	}

	from := int64(r.chunkIndex) * ChunkSize
	to := from + ChunkSize - 1

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		r.done = true
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", from, to))

	resp, err := r.streamer.httpClient.Do(req)
	if err != nil {
		r.done = true
		return nil, fmt.Errorf("audio: chunk %d fetch: %w", r.chunkIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		r.done = true
		return nil, fmt.Errorf("audio: chunk %d fetch returned %d", r.chunkIndex, resp.StatusCode)
	}

	if r.fileSize < 0 {
		size, err := parseContentRangeSize(resp.Header.Get("Content-Range"))
		if err != nil {
			r.done = true
			return nil, err
		}
		r.fileSize = size
		logger.Debug("audio stream size discovered", logger.Int64("bytes", size))
	}

	encrypted, err := io.ReadAll(resp.Body)
	if err != nil {
		r.done = true
		return nil, fmt.Errorf("audio: chunk %d body: %w", r.chunkIndex, err)
	}

	decrypted, err := DecryptChunk(r.audioKey, encrypted, r.chunkIndex)
	if err != nil {
		r.done = true
		return nil, err
	}

	if r.chunkIndex == 0 && len(decrypted) >= HeaderSize {
		decrypted = decrypted[HeaderSize:]
	}
	r.chunkIndex++
	return decrypted, nil
}

// WriteTo drains the remaining chunks into w and reports bytes written.
func (r *ChunkReader) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := r.Next(ctx)
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}

// parseContentRangeSize extracts the total size from a "bytes a-b/total"
// header value.
func parseContentRangeSize(header string) (int64, error) {
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return 0, fmt.Errorf("audio: missing or malformed Content-Range %q", header)
	}
	size, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("audio: malformed Content-Range %q", header)
	}
	return size, nil
}
