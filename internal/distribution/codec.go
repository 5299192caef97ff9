package distribution

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"ex-vellum/pkg/vellum"
)

const (
	// EncodingIdentity marks markup sent uncompressed.
	EncodingIdentity = "identity"
	// EncodingZstd marks zstd-compressed markup.
	EncodingZstd = "zstd"

	maxDecodedMarkupBytes = 8 << 20
)

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("distribution: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("distribution: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("distribution: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedMarkupBytes))
	if err != nil {
		panic("distribution: zstd decoder initialization failed: " + err.Error())
	}
}

// Envelope is the wire form of every distribution message.
type Envelope struct {
	Channel    string          `cbor:"1,keyasint"`
	RequestID  string          `cbor:"2,keyasint,omitempty"`
	Sender     string          `cbor:"3,keyasint,omitempty"`
	SenderRole vellum.Role     `cbor:"4,keyasint,omitempty"`
	SentAt     int64           `cbor:"5,keyasint"`
	Body       cbor.RawMessage `cbor:"6,keyasint,omitempty"`
}

// NewEnvelope builds an envelope from sender identity and a body value.
func NewEnvelope(channel string, sender vellum.MemberIdentity, requestID string, body any) (Envelope, error) {
	encodedBody, err := encMode.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s body: %w", channel, err)
	}

	return Envelope{
		Channel:    channel,
		RequestID:  requestID,
		Sender:     sender.MemberID,
		SenderRole: sender.Role,
		SentAt:     time.Now().UnixMilli(),
		Body:       encodedBody,
	}, nil
}

// Encode serializes envelope for the room channel.
func Encode(envelope Envelope) ([]byte, error) {
	payload, err := encMode.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", envelope.Channel, err)
	}

	return payload, nil
}

// Decode parses one room channel payload.
func Decode(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := decMode.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w: %w", vellum.ErrInvalidMessage, err)
	}
	if envelope.Channel == "" {
		return Envelope{}, fmt.Errorf("decode envelope: %w: missing channel", vellum.ErrInvalidMessage)
	}

	return envelope, nil
}

// DecodeBody decodes the envelope body into target.
func (e Envelope) DecodeBody(target any) error {
	if len(e.Body) == 0 {
		return fmt.Errorf("decode %s body: %w: empty body", e.Channel, vellum.ErrInvalidMessage)
	}
	if err := decMode.Unmarshal(e.Body, target); err != nil {
		return fmt.Errorf("decode %s body: %w: %w", e.Channel, vellum.ErrInvalidMessage, err)
	}

	return nil
}

// ContentRequest asks the Host for rendered markup of one page.
type ContentRequest struct {
	PageID string `cbor:"1,keyasint"`
}

// ContentResponse carries rendered markup for one page.
type ContentResponse struct {
	PageID   string `cbor:"1,keyasint"`
	Encoding string `cbor:"2,keyasint"`
	Markup   []byte `cbor:"3,keyasint"`
	// Size is the uncompressed markup length.
	Size int `cbor:"4,keyasint"`
}

// NewContentResponse compresses markup when that makes it smaller.
func NewContentResponse(pageID string, markup string) ContentResponse {
	raw := []byte(markup)
	compressed := zstdEncoder.EncodeAll(raw, nil)
	if len(compressed) < len(raw) {
		return ContentResponse{PageID: pageID, Encoding: EncodingZstd, Markup: compressed, Size: len(raw)}
	}

	return ContentResponse{PageID: pageID, Encoding: EncodingIdentity, Markup: raw, Size: len(raw)}
}

// Text returns the decoded markup.
func (r ContentResponse) Text() (string, error) {
	switch r.Encoding {
	case EncodingIdentity, "":
		return string(r.Markup), nil
	case EncodingZstd:
		if r.Size < 0 || r.Size > maxDecodedMarkupBytes {
			return "", fmt.Errorf("decode markup %s: %w: size %d", r.PageID, vellum.ErrInvalidMessage, r.Size)
		}
		decoded, err := zstdDecoder.DecodeAll(r.Markup, make([]byte, 0, r.Size))
		if err != nil {
			return "", fmt.Errorf("decode markup %s: %w: %w", r.PageID, vellum.ErrInvalidMessage, err)
		}
		if len(decoded) != r.Size {
			return "", fmt.Errorf("decode markup %s: %w: got %d bytes, expected %d",
				r.PageID, vellum.ErrInvalidMessage, len(decoded), r.Size)
		}
		return string(decoded), nil
	default:
		return "", fmt.Errorf("decode markup %s: %w: unknown encoding %q", r.PageID, vellum.ErrInvalidMessage, r.Encoding)
	}
}

// SubsetPublish carries the Host's visible subset.
type SubsetPublish struct {
	Digest string                  `cbor:"1,keyasint"`
	Config vellum.NavigationConfig `cbor:"2,keyasint"`
}

// SubsetRequest asks the Host to resend its visible subset.
type SubsetRequest struct{}

// SnapshotRequest asks the Host for its full, unfiltered configuration.
type SnapshotRequest struct{}

// SnapshotResponse carries the Host's full configuration.
type SnapshotResponse struct {
	Digest string                  `cbor:"1,keyasint"`
	Config vellum.NavigationConfig `cbor:"2,keyasint"`
}
