package crpc

// Each RPC exchange is a pair of CBOR documents per direction: a small
// header followed by the argument or reply body. Error replies carry no
// body, the Err string in the header is the whole answer.

type RequestHeader struct {
	Seq    uint64 `cbor:"1,keyasint,omitempty"`
	Method string `cbor:"2,keyasint,omitempty"`
}

type ResponseHeader struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
	Err string `cbor:"2,keyasint,omitempty"`
}
