package serializers

import (
	"github.com/square-key-labs/strawgo-transfer/src/frames"
)

// SerializerType defines the serialization format type
type SerializerType string

const (
	SerializerTypeBinary SerializerType = "binary"
	SerializerTypeText   SerializerType = "text"
)

// FrameSerializer converts between pipeline frames and the messages of a
// media-stream protocol. One serializer serves one stream.
type FrameSerializer interface {
	// Type returns the websocket message type the protocol uses
	Type() SerializerType

	// Serialize converts a frame to a protocol message. A nil message
	// means the frame has no wire representation.
	Serialize(frame frames.Frame) ([]byte, error)

	// Deserialize converts a protocol message to a frame. A nil frame
	// means the message carries nothing for the pipeline.
	Deserialize(data []byte) (frames.Frame, error)
}
