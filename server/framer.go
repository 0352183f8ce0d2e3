package server

import (
	"bytes"
	"errors"

	"github.com/pior/minicache/protocol"
)

var (
	// ErrLineTooLong is carried by a frame whose header exceeded the line limit.
	ErrLineTooLong = errors.New("minicache: request line too long")
	// ErrValueTooLarge is carried by a frame whose data block exceeded the value limit.
	ErrValueTooLarge = errors.New("minicache: value too large")
)

// Frame is one complete request extracted from the byte stream.
type Frame struct {
	Header string        // Header line without its terminator
	Verb   protocol.Verb // First token of the header
	Body   []byte        // Data block without its terminator, storage verbs only
	EOL    string        // Terminator used by the header, mirrored in the response

	// Err is set when the request could not be framed normally: malformed
	// declared size, oversized data block or header line. Such a frame is
	// answered with ERROR and the stream continues.
	Err error
}

type framerState uint8

const (
	readingHeader framerState = iota
	readingBody
	discardingBody
	skippingLine
)

// Framer splits a connection byte stream into request frames.
//
// Bytes are pushed with Feed as they arrive and complete frames are pulled
// with Next until it reports false. A header is terminated by CRLF or a bare
// LF; a storage verb is followed by a data block of the declared size plus
// the terminator length of its header.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	buf []byte
	off int

	state     framerState
	expected  int // Bytes to consume in readingBody/discardingBody
	termLen   int
	pending   Frame
	maxValue  int
	maxHeader int
}

// NewFramer returns a Framer accepting data blocks up to maxValue bytes.
// A non-positive maxValue selects protocol.MaxValueLength.
func NewFramer(maxValue int) *Framer {
	if maxValue <= 0 {
		maxValue = protocol.MaxValueLength
	}
	return &Framer{
		maxValue:  maxValue,
		maxHeader: protocol.MaxLineLength,
	}
}

// Feed appends p to the stream buffer.
// Bodies of frames returned by Next are invalidated.
func (f *Framer) Feed(p []byte) {
	if f.off > 0 {
		n := copy(f.buf, f.buf[f.off:])
		f.buf = f.buf[:n]
		f.off = 0
	}
	f.buf = append(f.buf, p...)
}

// Buffered returns the number of bytes received but not yet framed.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.off
}

// Reset drops all buffered state so the Framer can serve a new connection.
// The buffer capacity is kept unless it grew past a large value block.
func (f *Framer) Reset() {
	if cap(f.buf) > 2*f.maxValue {
		f.buf = nil
	}
	f.buf = f.buf[:0]
	f.off = 0
	f.state = readingHeader
	f.expected = 0
	f.termLen = 0
	f.pending = Frame{}
}

// Next extracts the next complete frame. It returns false when more bytes
// are needed. Frames come out strictly in stream order.
func (f *Framer) Next() (Frame, bool) {
	for {
		data := f.buf[f.off:]

		switch f.state {
		case readingHeader:
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				if len(data) > f.maxHeader {
					f.off = len(f.buf)
					f.state = skippingLine
					return Frame{EOL: protocol.CRLF, Err: ErrLineTooLong}, true
				}
				return Frame{}, false
			}

			end, eol := i, protocol.LF
			if i > 0 && data[i-1] == '\r' {
				end, eol = i-1, protocol.CRLF
			}
			header := data[:end]
			f.off += i + 1

			if len(header) > f.maxHeader {
				return Frame{EOL: eol, Err: ErrLineTooLong}, true
			}

			frame := Frame{Header: string(header), EOL: eol}

			verb, size, err := protocol.HeaderInfo(header)
			frame.Verb = verb
			if err != nil {
				frame.Err = err
				return frame, true
			}
			if !verb.IsStorage() {
				return frame, true
			}

			f.pending = frame
			f.termLen = len(eol)
			if size > f.maxValue {
				f.pending.Err = ErrValueTooLarge
				f.state = discardingBody
			} else {
				f.state = readingBody
			}
			// HeaderInfo bounds size, so this cannot overflow.
			f.expected = size + f.termLen

		case readingBody:
			if len(data) < f.expected {
				return Frame{}, false
			}

			size := f.expected - f.termLen
			frame := f.pending
			frame.Body = data[:size:size]
			f.off += f.expected
			f.finishBody()
			return frame, true

		case discardingBody:
			n := max(min(len(data), f.expected), 0)
			f.off += n
			f.expected -= n
			if f.expected > 0 {
				return Frame{}, false
			}

			frame := f.pending
			f.finishBody()
			return frame, true

		case skippingLine:
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				f.off = len(f.buf)
				return Frame{}, false
			}
			f.off += i + 1
			f.state = readingHeader
		}
	}
}

func (f *Framer) finishBody() {
	f.state = readingHeader
	f.expected = 0
	f.termLen = 0
	f.pending = Frame{}
}
