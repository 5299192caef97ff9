package distribution

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ex-vellum/pkg/vellum"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	config := vellum.NavigationConfig{Categories: []vellum.Category{{
		ID:              "guides",
		Name:            "Guides",
		VisibleToGuests: true,
		Pages:           []vellum.PageRef{{ID: "p1", Title: "Welcome", VisibleToGuests: true}},
	}}}
	sender := vellum.MemberIdentity{MemberID: "host-1", Role: vellum.RoleHost}

	envelope, err := NewEnvelope(vellum.ChannelSubsetPublish, sender, "req-1", SubsetPublish{Digest: "d1", Config: config})
	if err != nil {
		t.Fatalf("new envelope failed: %v", err)
	}
	payload, err := Encode(envelope)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Channel != vellum.ChannelSubsetPublish || decoded.RequestID != "req-1" {
		t.Fatalf("decoded header = %+v", decoded)
	}
	if decoded.Sender != "host-1" || decoded.SenderRole != vellum.RoleHost {
		t.Fatalf("decoded sender = %s/%s", decoded.Sender, decoded.SenderRole)
	}

	var body SubsetPublish
	if err := decoded.DecodeBody(&body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if diff := cmp.Diff(config, body.Config); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	t.Parallel()

	missingChannel, err := Encode(Envelope{RequestID: "r"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "garbage", payload: []byte{0xff, 0x00, 0x13}},
		{name: "missing channel", payload: missingChannel},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := Decode(testCase.payload); !errors.Is(err, vellum.ErrInvalidMessage) {
				t.Fatalf("error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestContentResponseEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		markup   string
		encoding string
	}{
		{name: "short markup stays identity", markup: "<p>x</p>", encoding: EncodingIdentity},
		{name: "repetitive markup compresses", markup: strings.Repeat("<p>hello world</p>", 400), encoding: EncodingZstd},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			response := NewContentResponse("p1", testCase.markup)
			if response.Encoding != testCase.encoding {
				t.Fatalf("encoding = %q, want %q", response.Encoding, testCase.encoding)
			}
			text, err := response.Text()
			if err != nil {
				t.Fatalf("text failed: %v", err)
			}
			if text != testCase.markup {
				t.Fatalf("text mismatch: got %d bytes, want %d", len(text), len(testCase.markup))
			}
		})
	}
}

func TestContentResponseRejectsSizeMismatch(t *testing.T) {
	t.Parallel()

	response := NewContentResponse("p1", strings.Repeat("abc", 1000))
	response.Size++

	if _, err := response.Text(); !errors.Is(err, vellum.ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}

	response.Encoding = "brotli"
	if _, err := response.Text(); !errors.Is(err, vellum.ErrInvalidMessage) {
		t.Fatalf("unknown encoding error = %v, want ErrInvalidMessage", err)
	}
}
