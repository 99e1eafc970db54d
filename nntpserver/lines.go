package nntpserver

import (
	"bufio"
	"errors"
	"io"
)

var errLineTooLong = errors.New("line too long")

// lineReader reads CRLF or LF terminated lines of at most max bytes. An
// oversized line is consumed in full and reported as errLineTooLong so the
// stream stays in sync.
type lineReader struct {
	br  *bufio.Reader
	max int
	buf []byte
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, 4096), max: max}
}

func (r *lineReader) ReadLine() (string, error) {
	r.buf = r.buf[:0]
	tooLong := false
	for {
		frag, err := r.br.ReadSlice('\n')
		if !tooLong {
			if len(r.buf)+len(frag) > r.max+2 {
				tooLong = true
				r.buf = r.buf[:0]
			} else {
				r.buf = append(r.buf, frag...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF && len(r.buf) > 0 && !tooLong {
				// peer hung up mid-line
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		break
	}

	line := r.buf
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
		if n > 0 && line[n-1] == '\r' {
			n--
		}
	}
	if tooLong || n > r.max {
		return "", errLineTooLong
	}
	return string(line[:n]), nil
}
