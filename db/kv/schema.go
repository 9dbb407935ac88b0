package kv

import "bytes"

// The schema keeps every document type in its own bucket. Child documents use
// composite keys joined with a unit separator so that all children of one
// parent share a common, scannable prefix. Document ids never contain the
// separator byte.
var (
	ceremoniesBucket    = []byte("ceremonies")
	circuitsBucket      = []byte("circuits")
	participantsBucket  = []byte("participants")
	contributionsBucket = []byte("contributions")
	timeoutsBucket      = []byte("timeouts")
)

const keySeparator = byte(0x1f)

func compositeKey(parts ...string) []byte {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(keySeparator)
		}
		buf.WriteString(p)
	}
	return buf.Bytes()
}

func prefixKey(parts ...string) []byte {
	return append(compositeKey(parts...), keySeparator)
}
