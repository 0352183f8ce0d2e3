package server

import (
	"github.com/pior/minicache/protocol"
	"github.com/pior/minicache/store"
)

// Dispatch executes frame against st on behalf of clientID and appends the
// rendered response to dst. It returns the extended buffer and the status
// the response starts with.
//
// Dispatch holds no state: each call performs at most one store operation.
func Dispatch(st *store.Store, frame Frame, clientID string, dst []byte) ([]byte, protocol.Status) {
	eol := frame.EOL
	if eol == "" {
		eol = protocol.CRLF
	}

	if frame.Err != nil {
		return protocol.AppendError(dst, "", eol), protocol.StatusError
	}

	req, err := protocol.ParseRequest(frame.Header, frame.Body)
	if err != nil {
		return protocol.AppendError(dst, "", eol), protocol.StatusError
	}

	var res store.Result

	switch req.Verb {
	case protocol.VerbGet:
		item, ok := st.Get(req.Key)
		if !ok {
			return protocol.AppendStatus(dst, protocol.StatusNotFound, eol), protocol.StatusNotFound
		}
		return protocol.AppendValue(dst, item.Key, item.Flags, item.Value, eol), protocol.StatusValue

	case protocol.VerbGets:
		item, ok := st.Gets(req.Key)
		if !ok {
			return protocol.AppendStatus(dst, protocol.StatusNotFound, eol), protocol.StatusNotFound
		}
		return protocol.AppendValueCAS(dst, item.Key, item.Flags, item.Value, item.CAS, eol), protocol.StatusValue

	case protocol.VerbDelete:
		res = store.NotFound
		if st.Delete(req.Key) {
			res = store.Deleted
		}

	case protocol.VerbSet:
		res = st.Set(req.Key, req.Value, req.TTL, req.Flags)
	case protocol.VerbAdd:
		res = st.Add(req.Key, req.Value, req.TTL, req.Flags)
	case protocol.VerbReplace:
		res = st.Replace(req.Key, req.Value, req.TTL, req.Flags)
	case protocol.VerbAppend:
		res = st.Append(req.Key, req.Value, req.TTL, req.Flags)
	case protocol.VerbPrepend:
		res = st.Prepend(req.Key, req.Value, req.TTL, req.Flags)
	case protocol.VerbCAS:
		res = st.CompareAndSwap(req.Key, req.Value, req.TTL, req.Flags, req.CAS, clientID)

	default:
		return protocol.AppendError(dst, "", eol), protocol.StatusError
	}

	status := statusOf(res)
	return protocol.AppendStatus(dst, status, eol), status
}

func statusOf(res store.Result) protocol.Status {
	switch res {
	case store.Stored:
		return protocol.StatusStored
	case store.NotStored:
		return protocol.StatusNotStored
	case store.Exists:
		return protocol.StatusExists
	case store.NotFound:
		return protocol.StatusNotFound
	case store.Deleted:
		return protocol.StatusDeleted
	default:
		return protocol.StatusServerError
	}
}
