package transport

import (
	"errors"
	"io"
)

// ReaderUpload is an UploadBody that reads synchronously from an io.Reader.
// It never returns ErrPending.
type ReaderUpload struct {
	r   io.Reader
	eof bool
}

// NewReaderUpload wraps r as an upload body.
func NewReaderUpload(r io.Reader) *ReaderUpload {
	return &ReaderUpload{r: r}
}

// Read fills p from the reader unless the reader ends first.
func (u *ReaderUpload) Read(p []byte, _ CompletionFunc) (int, error) {
	if u.eof {
		return 0, nil
	}
	n, err := io.ReadFull(u.r, p)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		u.eof = true
		return n, nil
	case err != nil:
		return n, err
	}
	return n, nil
}

// IsEOF reports whether the reader is exhausted.
func (u *ReaderUpload) IsEOF() bool {
	return u.eof
}

// Reset is a no-op: reads complete synchronously, so none is ever in
// progress.
func (u *ReaderUpload) Reset() {}
