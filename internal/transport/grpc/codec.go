package grpcx

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName: content-subtype InquiryService ("application/grpc+json").
// Клиент выбирает его через grpc.CallContentSubtype(CodecName).
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
