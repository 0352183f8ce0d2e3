package protocol

import (
	"bufio"
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderInfo(t *testing.T) {
	tests := []struct {
		header string
		verb   Verb
		size   int
		err    bool
	}{
		{header: "get mykey", verb: VerbGet},
		{header: "gets mykey", verb: VerbGets},
		{header: "delete mykey", verb: VerbDelete},
		{header: "set mykey 0 0 5", verb: VerbSet, size: 5},
		{header: "add mykey 1 100 0", verb: VerbAdd, size: 0},
		{header: "cas mykey 0 0 12 42", verb: VerbCAS, size: 12},
		{header: "set  mykey  0  0  3", verb: VerbSet, size: 3},
		{header: "flush_all", verb: "flush_all"},
		{header: "set mykey 0 0", verb: VerbSet, err: true},
		{header: "set mykey 0 0 abc", verb: VerbSet, err: true},
		{header: "set mykey 0 0 -1", verb: VerbSet, err: true},
		{header: "set mykey 0 0 9223372036854775807", verb: VerbSet, err: true},
		{header: "set mykey 0 0 1073741825", verb: VerbSet, err: true},
		{header: "set mykey 0 0 1073741824", verb: VerbSet, size: MaxDataLength},
		{header: "", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			verb, size, err := HeaderInfo([]byte(tt.header))
			if tt.err {
				require.Error(t, err)
				assert.IsType(t, &ParseError{}, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.verb, verb)
			assert.Equal(t, tt.size, size)
		})
	}
}

func TestParseRequest(t *testing.T) {
	t.Run("retrieval", func(t *testing.T) {
		req, err := ParseRequest("gets mykey", nil)
		require.NoError(t, err)
		assert.Equal(t, VerbGets, req.Verb)
		assert.Equal(t, "mykey", req.Key)
		assert.Nil(t, req.Value)
	})

	t.Run("storage", func(t *testing.T) {
		req, err := ParseRequest("set mykey 7 1500 5", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, VerbSet, req.Verb)
		assert.Equal(t, "mykey", req.Key)
		assert.Equal(t, uint32(7), req.Flags)
		assert.Equal(t, 1500*time.Millisecond, req.TTL)
		assert.Equal(t, []byte("hello"), req.Value)
	})

	t.Run("cas", func(t *testing.T) {
		req, err := ParseRequest("cas mykey 0 0 2 99", []byte("hi"))
		require.NoError(t, err)
		assert.Equal(t, VerbCAS, req.Verb)
		assert.Equal(t, uint64(99), req.CAS)
	})

	t.Run("ttl without expiration", func(t *testing.T) {
		for _, ttl := range []string{"0", "-5", "never"} {
			req, err := ParseRequest("set mykey 0 "+ttl+" 1", []byte("x"))
			require.NoError(t, err, ttl)
			assert.Zero(t, req.TTL, ttl)
		}
	})

	t.Run("ttl beyond duration range", func(t *testing.T) {
		for _, ttl := range []string{"288230376151711754", "9223372036854775807", "99999999999999999999"} {
			req, err := ParseRequest("set mykey 0 "+ttl+" 1", []byte("x"))
			require.NoError(t, err, ttl)
			assert.Equal(t, time.Duration(math.MaxInt64), req.TTL, ttl)
		}
	})

	t.Run("largest ttl", func(t *testing.T) {
		req, err := ParseRequest("set mykey 0 9223372036854 1", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, 9223372036854*time.Millisecond, req.TTL)
		assert.Positive(t, req.TTL)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name   string
			header string
			data   []byte
		}{
			{"unknown verb", "incr mykey 1", nil},
			{"get without key", "get", nil},
			{"get with extra argument", "get a b", nil},
			{"set missing size", "set mykey 0 0", nil},
			{"cas missing token", "cas mykey 0 0 1", []byte("x")},
			{"bad flags", "set mykey x 0 1", []byte("x")},
			{"flags overflow", "set mykey 4294967296 0 1", []byte("x")},
			{"bad size", "set mykey 0 0 x", []byte("x")},
			{"size mismatch", "set mykey 0 0 3", []byte("x")},
			{"size overflow", "set mykey 0 0 9223372036854775807", []byte("x")},
			{"bad token", "cas mykey 0 0 1 abc", []byte("x")},
			{"empty", "", nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ParseRequest(tt.header, tt.data)
				require.Error(t, err)
				assert.IsType(t, &ParseError{}, err)
			})
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		long := string(bytes.Repeat([]byte("k"), MaxKeyLength+1))
		_, err := ParseRequest("get "+long, nil)
		require.Error(t, err)
		assert.IsType(t, &InvalidKeyError{}, err)
	})
}

func TestWriteRequest(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		expected string
	}{
		{
			name:     "get",
			req:      &Request{Verb: VerbGet, Key: "mykey"},
			expected: "get mykey\r\n",
		},
		{
			name:     "delete",
			req:      &Request{Verb: VerbDelete, Key: "mykey"},
			expected: "delete mykey\r\n",
		},
		{
			name:     "set",
			req:      &Request{Verb: VerbSet, Key: "mykey", Flags: 7, TTL: 1500 * time.Millisecond, Value: []byte("hello")},
			expected: "set mykey 7 1500 5\r\nhello\r\n",
		},
		{
			name:     "set empty value",
			req:      &Request{Verb: VerbSet, Key: "mykey"},
			expected: "set mykey 0 0 0\r\n\r\n",
		},
		{
			name:     "sub-millisecond ttl rounds up",
			req:      &Request{Verb: VerbAdd, Key: "mykey", TTL: 500 * time.Microsecond, Value: []byte("x")},
			expected: "add mykey 0 1 1\r\nx\r\n",
		},
		{
			name:     "cas",
			req:      &Request{Verb: VerbCAS, Key: "mykey", CAS: 42, Value: []byte("v")},
			expected: "cas mykey 0 0 1 42\r\nv\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteRequest(&buf, tt.req))
			assert.Equal(t, tt.expected, buf.String())

			buf.Reset()
			bw := bufio.NewWriter(&buf)
			require.NoError(t, WriteRequest(bw, tt.req))
			require.NoError(t, bw.Flush())
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestWriteRequestRoundTrip(t *testing.T) {
	req := &Request{Verb: VerbCAS, Key: "k", Flags: 3, TTL: time.Second, CAS: 9, Value: []byte("data")}

	wire := AppendRequest(nil, req)
	header, rest, ok := bytes.Cut(wire, []byte(CRLF))
	require.True(t, ok)

	verb, size, err := HeaderInfo(header)
	require.NoError(t, err)
	assert.Equal(t, VerbCAS, verb)
	require.Len(t, rest, size+len(CRLF))

	parsed, err := ParseRequest(string(header), rest[:size])
	require.NoError(t, err)
	assert.Equal(t, req, parsed)
}

func TestWriteRequestRejects(t *testing.T) {
	var buf bytes.Buffer

	err := WriteRequest(&buf, &Request{Verb: VerbGet, Key: "bad key"})
	assert.IsType(t, &InvalidKeyError{}, err)

	err = WriteRequest(&buf, &Request{Verb: "incr", Key: "k"})
	assert.IsType(t, &GenericError{}, err)

	assert.Zero(t, buf.Len())
}
