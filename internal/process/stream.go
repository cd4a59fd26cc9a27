package process

import (
	"bytes"
	"io"

	"golang.org/x/sync/errgroup"
)

// Chunk is one piece of output with its stream of origin ("stdout" or
// "stderr"; always "stdout" in PTY mode).
type Chunk struct {
	Stream string
	Data   []byte
}

// Stream produces a lazy, finite, non-restartable sequence of chunks. In
// pipe mode, stdout and stderr are interleaved by arrival order: two reader
// goroutines, one per stream, feed a shared channel, coordinated by
// errgroup so a read error on either stream surfaces once both readers have
// stopped. In PTY mode a single reader drains the master fd and every
// chunk is labeled "stdout". includeStream has no effect on the channel
// itself — it documents, per the caller's usage, whether the Chunk.Stream
// field is consulted or ignored.
func (h *Handle) Stream(includeStream bool, chunkSize int) (<-chan Chunk, <-chan error) {
	return h.stream(includeStream, chunkSize)
}

func (h *Handle) stream(includeStream bool, chunkSize int) (chan Chunk, chan error) {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	out := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	if h.IsPty() {
		go func() {
			defer close(out)
			defer close(errCh)
			errCh <- pump(h.ptyMaster, "stdout", chunkSize, out, true)
		}()
		return out, errCh
	}

	var g errgroup.Group
	g.Go(func() error { return pump(h.stdout, "stdout", chunkSize, out, false) })
	g.Go(func() error { return pump(h.stderr, "stderr", chunkSize, out, false) })
	go func() {
		err := g.Wait()
		close(out)
		errCh <- err
		close(errCh)
	}()
	return out, errCh
}

// pump reads r in chunkSize pieces, labels each with streamName, and sends
// it to out, returning nil at EOF or the underlying read error otherwise.
// ptyMaster distinguishes a PTY master fd from a plain pipe: once the
// child's slave side is gone, reading the master conventionally returns
// EIO rather than io.EOF, so any read error there means the session ended
// normally, not that something went wrong (same idiom as the teacher's
// internal/api/pty.go read loop).
func pump(r io.Reader, streamName string, chunkSize int, out chan<- Chunk, ptyMaster bool) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- Chunk{Stream: streamName, Data: data}
		}
		if err != nil {
			if err == io.EOF || ptyMaster {
				return nil
			}
			return err
		}
	}
}

// StreamLines follows the same ordering guarantees as Stream but splits on
// '\n', emitting each complete line (with its trailing newline) as soon as
// it is assembled, plus any trailing partial line once the underlying
// stream(s) reach EOF.
func (h *Handle) StreamLines(includeStream bool) (<-chan Chunk, <-chan error) {
	rawCh, errCh := h.stream(includeStream, 4096)
	lineCh := make(chan Chunk, 16)

	go func() {
		defer close(lineCh)
		partial := make(map[string][]byte)
		for c := range rawCh {
			buf := append(partial[c.Stream], c.Data...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := make([]byte, idx+1)
				copy(line, buf[:idx+1])
				lineCh <- Chunk{Stream: c.Stream, Data: line}
				buf = buf[idx+1:]
			}
			partial[c.Stream] = buf
		}
		for streamName, buf := range partial {
			if len(buf) > 0 {
				lineCh <- Chunk{Stream: streamName, Data: buf}
			}
		}
	}()

	return lineCh, errCh
}
