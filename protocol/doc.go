// Package protocol implements the wire format of the minicache text protocol,
// a line-oriented subset of the classic memcached text protocol.
//
// A request is a header line, optionally followed by a data block for the
// storage verbs:
//
//	get <key>
//	gets <key>
//	delete <key>
//	set|add|replace|append|prepend <key> <flags> <ttl-ms> <bytes>
//	cas <key> <flags> <ttl-ms> <bytes> <token>
//
// Lines end with CRLF or a bare LF. The server mirrors the terminator used by
// the request header in its response.
//
// The package holds no connection state: the server side uses HeaderInfo,
// ParseRequest and the Append* encoders, the client side uses WriteRequest
// and ReadResponse.
//
// # Error Handling
//
// Every error type implements ShouldCloseConnection, telling a caller
// whether the connection can be reused:
//
//	resp, err := protocol.ReadResponse(r)
//	if err != nil {
//	    if protocol.ShouldCloseConnection(err) {
//	        conn.Close()
//	    }
//	    return err
//	}
//	if resp.HasError() {
//	    // ERROR, CLIENT_ERROR or SERVER_ERROR: the request was rejected
//	}
package protocol
