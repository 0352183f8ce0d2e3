package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Request is a parsed text protocol request.
//
// The TTL travels on the wire as an integer number of milliseconds. A zero or
// negative TTL, or a TTL token that is not a number, means no expiration.
type Request struct {
	Verb  Verb
	Key   string
	Flags uint32        // Opaque client flags, stored and echoed verbatim
	TTL   time.Duration // Zero means no expiration
	CAS   uint64        // Comparison token, cas only
	Value []byte        // Data block, storage verbs only
}

// HeaderInfo extracts the verb of a header line and, for storage verbs, the
// declared data block length. Non-storage verbs, known or not, declare no
// data block.
//
// The header line must not include its terminator.
func HeaderInfo(header []byte) (Verb, int, error) {
	fields := bytes.Fields(header)
	if len(fields) == 0 {
		return "", 0, &ParseError{Message: "empty request line"}
	}

	verb := Verb(fields[0])
	if !verb.IsStorage() {
		return verb, 0, nil
	}

	if len(fields) <= argBytes {
		return verb, 0, &ParseError{Message: "missing data length"}
	}

	size, err := strconv.Atoi(string(fields[argBytes]))
	if err != nil {
		return verb, 0, &ParseError{Message: "invalid data length", Err: err}
	}
	if size < 0 {
		return verb, 0, &ParseError{Message: "negative data length"}
	}
	if size > MaxDataLength {
		return verb, 0, &ParseError{Message: "data length out of range"}
	}

	return verb, size, nil
}

// ParseRequest parses a header line and its data block into a Request.
// The data block is only used for storage verbs and is referenced, not copied.
func ParseRequest(header string, data []byte) (*Request, error) {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return nil, &ParseError{Message: "empty request line"}
	}

	req := &Request{Verb: Verb(fields[0])}

	switch req.Verb {
	case VerbGet, VerbGets, VerbDelete:
		if len(fields) != retrievalArgs {
			return nil, &ParseError{Message: "wrong number of arguments for " + string(req.Verb)}
		}

	case VerbSet, VerbAdd, VerbReplace, VerbAppend, VerbPrepend, VerbCAS:
		want := storageArgs
		if req.Verb == VerbCAS {
			want = casArgs
		}
		if len(fields) != want {
			return nil, &ParseError{Message: "wrong number of arguments for " + string(req.Verb)}
		}

		flags, err := strconv.ParseUint(fields[argFlags], 10, 32)
		if err != nil {
			return nil, &ParseError{Message: "invalid flags", Err: err}
		}
		req.Flags = uint32(flags)
		req.TTL = parseTTL(fields[argTTL])

		size, err := strconv.Atoi(fields[argBytes])
		if err != nil || size < 0 || size > MaxDataLength {
			return nil, &ParseError{Message: "invalid data length", Err: err}
		}
		if size != len(data) {
			return nil, &ParseError{Message: "data length mismatch"}
		}
		req.Value = data

		if req.Verb == VerbCAS {
			token, err := strconv.ParseUint(fields[argToken], 10, 64)
			if err != nil {
				return nil, &ParseError{Message: "invalid cas token", Err: err}
			}
			req.CAS = token
		}

	default:
		return nil, &ParseError{Message: "unknown command " + strconv.Quote(fields[0])}
	}

	if err := ValidateKey(fields[argKey]); err != nil {
		return nil, err
	}
	req.Key = fields[argKey]

	return req, nil
}

// maxTTLMillis is the longest TTL a time.Duration can hold.
const maxTTLMillis = math.MaxInt64 / int64(time.Millisecond)

// parseTTL converts a millisecond TTL token. Values past what a
// time.Duration can hold are clamped so they never wrap around.
func parseTTL(token string) time.Duration {
	ms, err := strconv.ParseInt(token, 10, 64)
	if errors.Is(err, strconv.ErrRange) && ms > 0 {
		return time.Duration(math.MaxInt64)
	}
	if err != nil || ms <= 0 {
		return 0
	}
	if ms > maxTTLMillis {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

func formatTTL(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

// Buffer pool for building requests
var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 256))
	},
}

// AppendRequest appends the wire form of req to dst, CRLF terminated.
func AppendRequest(dst []byte, req *Request) []byte {
	dst = append(dst, req.Verb...)
	dst = append(dst, ' ')
	dst = append(dst, req.Key...)

	if req.Verb.IsStorage() {
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(req.Flags), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, formatTTL(req.TTL), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(req.Value)), 10)
		if req.Verb == VerbCAS {
			dst = append(dst, ' ')
			dst = strconv.AppendUint(dst, req.CAS, 10)
		}
		dst = append(dst, CRLF...)
		dst = append(dst, req.Value...)
	}

	return append(dst, CRLF...)
}

// WriteRequest validates req and writes its wire form to w.
// A *bufio.Writer is written to directly and not flushed.
func WriteRequest(w io.Writer, req *Request) error {
	if err := ValidateKey(req.Key); err != nil {
		return err
	}
	if !req.Verb.IsKnown() {
		return &GenericError{Message: "unknown command " + string(req.Verb)}
	}

	if bw, ok := w.(*bufio.Writer); ok {
		_, err := bw.Write(AppendRequest(bw.AvailableBuffer(), req))
		return err
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	buf.Write(AppendRequest(buf.AvailableBuffer(), req))
	_, err := w.Write(buf.Bytes())
	return err
}
