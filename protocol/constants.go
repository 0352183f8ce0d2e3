package protocol

// Verb is the first token of a request header.
type Verb string

// Request verbs.
const (
	VerbGet     Verb = "get"     // get <key>
	VerbGets    Verb = "gets"    // gets <key>
	VerbDelete  Verb = "delete"  // delete <key>
	VerbSet     Verb = "set"     // set <key> <flags> <ttl> <bytes>
	VerbAdd     Verb = "add"     // add <key> <flags> <ttl> <bytes>
	VerbReplace Verb = "replace" // replace <key> <flags> <ttl> <bytes>
	VerbAppend  Verb = "append"  // append <key> <flags> <ttl> <bytes>
	VerbPrepend Verb = "prepend" // prepend <key> <flags> <ttl> <bytes>
	VerbCAS     Verb = "cas"     // cas <key> <flags> <ttl> <bytes> <token>
)

// IsStorage reports whether requests with this verb carry a data block.
func (v Verb) IsStorage() bool {
	switch v {
	case VerbSet, VerbAdd, VerbReplace, VerbAppend, VerbPrepend, VerbCAS:
		return true
	default:
		return false
	}
}

// IsKnown reports whether the verb is part of the protocol.
func (v Verb) IsKnown() bool {
	switch v {
	case VerbGet, VerbGets, VerbDelete:
		return true
	default:
		return v.IsStorage()
	}
}

// Status is the first token of a response line.
type Status string

// Response statuses.
const (
	StatusStored    Status = "STORED"     // Write applied
	StatusNotStored Status = "NOT_STORED" // add/replace/append/prepend precondition failed
	StatusExists    Status = "EXISTS"     // cas token is stale
	StatusNotFound  Status = "NOT_FOUND"  // Key absent
	StatusDeleted   Status = "DELETED"    // Key removed
	StatusValue     Status = "VALUE"      // Value line, data block follows
	StatusEnd       Status = "END"        // Terminates a VALUE block
	StatusError     Status = "ERROR"      // Unknown verb or malformed request

	StatusClientError Status = "CLIENT_ERROR"
	StatusServerError Status = "SERVER_ERROR"
)

// Line terminators
const (
	CRLF = "\r\n"
	LF   = "\n"
)

// Positional argument layout of a request header, verb at index 0.
const (
	argKey   = 1
	argFlags = 2
	argTTL   = 3
	argBytes = 4
	argToken = 5

	retrievalArgs = 2 // verb key
	storageArgs   = 5 // verb key flags ttl bytes
	casArgs       = 6 // verb key flags ttl bytes token
)

// Protocol limits
const (
	MinKeyLength   = 1
	MaxKeyLength   = 250     // Maximum key length in bytes
	MaxValueLength = 1048576 // 1MB - default data block limit
	MaxLineLength  = 2048    // Longest accepted header line

	// MaxDataLength bounds the declared data block size of any request,
	// whatever limit a server is configured with.
	MaxDataLength = 1 << 30
)
