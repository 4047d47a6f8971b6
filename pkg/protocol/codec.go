package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec converts messages to and from wire frames.
type Codec interface {
	// Name is the websocket subprotocol that selects this codec.
	Name() string
	// Binary reports whether frames are sent as binary rather than text.
	Binary() bool
	Encode(msg Message) ([]byte, error)
	Decode(data []byte) (Message, error)
}

var (
	// JSON is the default codec: ["name", ...] as UTF-8 text frames.
	JSON Codec = jsonCodec{}
	// CBOR carries the same tuple as a CBOR array in binary frames.
	CBOR Codec = newCBORCodec()
)

// Codecs lists supported codecs in server preference order.
var Codecs = []Codec{JSON, CBOR}

// Subprotocols returns the websocket subprotocol names of all codecs.
func Subprotocols() []string {
	names := make([]string, len(Codecs))
	for i, c := range Codecs {
		names[i] = c.Name()
	}
	return names
}

// ForSubprotocol picks the codec for a negotiated subprotocol.
// An empty or unknown name selects JSON.
func ForSubprotocol(name string) Codec {
	for _, c := range Codecs {
		if c.Name() == name {
			return c
		}
	}
	return JSON
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "viewshare.json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg.tuple())
}

func (jsonCodec) Decode(data []byte) (Message, error) {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromTuple(items)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	// Untyped maps must come back as map[string]any so vectors parse the
	// same way they do from JSON.
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "viewshare.cbor" }
func (cborCodec) Binary() bool { return true }

func (c cborCodec) Encode(msg Message) ([]byte, error) {
	return c.enc.Marshal(msg.tuple())
}

func (c cborCodec) Decode(data []byte) (Message, error) {
	var items []any
	if err := c.dec.Unmarshal(data, &items); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromTuple(items)
}
