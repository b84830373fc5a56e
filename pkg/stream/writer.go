package stream

// BlockWriter is an io.Writer sending fixed-size blocks to a callback.  Flush sends the
// remainder.
type BlockWriter struct {
	send      func([]byte) error
	blockSize int
	buf       []byte
}

func NewBlockWriter(blockSize int, send func([]byte) error) *BlockWriter {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &BlockWriter{send: send, blockSize: blockSize, buf: make([]byte, 0, blockSize)}
}

func (w *BlockWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(w.blockSize-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(w.buf) == w.blockSize {
			if err := w.send(w.buf); err != nil {
				return written, err
			}
			w.buf = make([]byte, 0, w.blockSize)
		}
	}
	return written, nil
}

func (w *BlockWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.send(w.buf)
	w.buf = make([]byte, 0, w.blockSize)
	return err
}
