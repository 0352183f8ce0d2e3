package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// Response is a parsed server response.
type Response struct {
	Status Status
	Key    string // VALUE only
	Flags  uint32 // VALUE only
	CAS    uint64 // VALUE only, set when HasCAS
	HasCAS bool   // The VALUE line carried a cas token (gets)
	Value  []byte // VALUE only

	// Error holds ERROR, CLIENT_ERROR and SERVER_ERROR replies.
	// They are protocol answers, not I/O failures.
	Error error
}

// HasError reports whether the server answered with an error line.
func (r *Response) HasError() bool {
	return r.Error != nil
}

// Found reports whether the response carries a value.
func (r *Response) Found() bool {
	return r.Status == StatusValue
}

var (
	errorBytes        = []byte(StatusError)
	errorPrefix       = []byte(string(StatusError) + " ")
	clientErrorPrefix = []byte(string(StatusClientError) + " ")
	serverErrorPrefix = []byte(string(StatusServerError) + " ")
)

// ReadResponse reads a single response from r.
//
// Status lines map to Response.Status. A VALUE line is read together with its
// data block and the closing END line. Error lines are reported in
// Response.Error with a nil Go error; a non-nil Go error means the stream is
// broken or out of sync and the connection should be closed.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.Equal(line, errorBytes):
		return &Response{Status: StatusError, Error: &GenericError{}}, nil
	case bytes.HasPrefix(line, errorPrefix):
		return &Response{Status: StatusError, Error: &GenericError{Message: string(line[len(errorPrefix):])}}, nil
	case bytes.HasPrefix(line, clientErrorPrefix):
		return &Response{Status: StatusClientError, Error: &ClientError{Message: string(line[len(clientErrorPrefix):])}}, nil
	case bytes.HasPrefix(line, serverErrorPrefix):
		return &Response{Status: StatusServerError, Error: &ServerError{Message: string(line[len(serverErrorPrefix):])}}, nil
	}

	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return nil, &ParseError{Message: "empty response line"}
	}

	resp := &Response{Status: Status(fields[0])}

	switch resp.Status {
	case StatusStored, StatusNotStored, StatusExists, StatusNotFound, StatusDeleted:
		return resp, nil
	case StatusValue:
		if err := readValue(r, resp, fields); err != nil {
			return nil, err
		}
		return resp, nil
	default:
		return nil, &ParseError{Message: "unexpected response " + strconv.Quote(string(line))}
	}
}

// readValue parses "VALUE <key> <flags> <bytes> [<cas>]", then the data
// block and the END line.
func readValue(r *bufio.Reader, resp *Response, fields []string) error {
	if len(fields) != 4 && len(fields) != 5 {
		return &ParseError{Message: "malformed VALUE line"}
	}

	resp.Key = fields[1]

	flags, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return &ParseError{Message: "invalid flags in VALUE line", Err: err}
	}
	resp.Flags = uint32(flags)

	size, err := strconv.Atoi(fields[3])
	if err != nil {
		return &ParseError{Message: "invalid size in VALUE line", Err: err}
	}
	if size < 0 {
		return &ParseError{Message: "negative size in VALUE line"}
	}

	if len(fields) == 5 {
		cas, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return &ParseError{Message: "invalid cas in VALUE line", Err: err}
		}
		resp.CAS = cas
		resp.HasCAS = true
	}

	resp.Value = make([]byte, size)
	if _, err := io.ReadFull(r, resp.Value); err != nil {
		return &ParseError{Message: "failed to read data block", Err: err}
	}

	tail, err := readLine(r)
	if err != nil {
		return &ParseError{Message: "failed to read data block terminator", Err: err}
	}
	if len(tail) != 0 {
		return &ParseError{Message: "invalid data block terminator"}
	}

	end, err := readLine(r)
	if err != nil {
		return &ParseError{Message: "failed to read END", Err: err}
	}
	if !bytes.Equal(end, []byte(StatusEnd)) {
		return &ParseError{Message: "missing END after value"}
	}

	return nil
}

// readLine reads one line and strips its LF or CRLF terminator.
// The returned slice is only valid until the next read.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		line, err = r.ReadBytes('\n')
	}
	if err != nil {
		return nil, err
	}
	line = line[:len(line)-1]
	return bytes.TrimSuffix(line, []byte{'\r'}), nil
}

// AppendStatus appends a bare status line.
func AppendStatus(dst []byte, status Status, eol string) []byte {
	dst = append(dst, status...)
	return append(dst, eol...)
}

// AppendError appends an ERROR line, with msg when not empty.
func AppendError(dst []byte, msg string, eol string) []byte {
	dst = append(dst, StatusError...)
	if msg != "" {
		dst = append(dst, ' ')
		dst = append(dst, msg...)
	}
	return append(dst, eol...)
}

// AppendValue appends a get hit: "VALUE <key> <flags> <bytes> ", the data
// block and END. The VALUE line keeps a trailing space where gets would put
// the cas token.
func AppendValue(dst []byte, key string, flags uint32, value []byte, eol string) []byte {
	dst = appendValueLine(dst, key, flags, len(value))
	dst = append(dst, ' ')
	return appendValueBlock(dst, value, eol)
}

// AppendValueCAS appends a gets hit: "VALUE <key> <flags> <bytes> <cas>",
// the data block and END.
func AppendValueCAS(dst []byte, key string, flags uint32, value []byte, cas uint64, eol string) []byte {
	dst = appendValueLine(dst, key, flags, len(value))
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, cas, 10)
	return appendValueBlock(dst, value, eol)
}

func appendValueLine(dst []byte, key string, flags uint32, size int) []byte {
	dst = append(dst, StatusValue...)
	dst = append(dst, ' ')
	dst = append(dst, key...)
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, uint64(flags), 10)
	dst = append(dst, ' ')
	return strconv.AppendInt(dst, int64(size), 10)
}

func appendValueBlock(dst []byte, value []byte, eol string) []byte {
	dst = append(dst, eol...)
	dst = append(dst, value...)
	dst = append(dst, eol...)
	dst = append(dst, StatusEnd...)
	return append(dst, eol...)
}
