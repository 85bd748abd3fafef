package eventlog

import "encoding/json"

// Codec converts log values to and from their stored payload.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec stores values as JSON documents.
type JSONCodec[T any] struct{}

// Encode implements Codec.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

// Decode implements Codec.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// Positioned is implemented by values that carry their own log position.
// The log stamps the position on append and again on every read.
type Positioned interface {
	SetPosition(offset int64, partition int)
}

func stamp[T any](v *T, offset int64, partition int) {
	if p, ok := any(v).(Positioned); ok {
		p.SetPosition(offset, partition)
	}
}
