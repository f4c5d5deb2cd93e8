package v1alpha1

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Codec marshals messages as JSON; the message types are plain structs rather
// than generated protobufs.
type Codec struct{}

var _ encoding.Codec = Codec{}

func init() {
	encoding.RegisterCodec(Codec{})
}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return "json"
}
