package kv

import "encoding/json"

// encode/decode serialize the inner etcd-style request/response payloads
// exchanged with a peer in proxy mode. JSON is used rather than a
// generated protobuf codec because the peer envelope payload has no
// .proto source in this module's scope; encoding/json is the standard
// library's own generic struct<->bytes transcoder and no pack example
// ships a lighter-weight alternative for an internal-only envelope like
// this one.
func encode(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decode(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}
