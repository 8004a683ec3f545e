package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/floroz/auction-client/internal/domain/auctions"
	"github.com/floroz/auction-client/internal/domain/ingest"
)

const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

var ErrDecode = errors.New("failed to decode event")

// Handler receives decoded events. Marketplace.Ingest satisfies it.
type Handler func(ev ingest.Event) ingest.Result

// Envelope is the framing used on transports that carry no routing key
type Envelope struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode builds an event from a routing key, an optional message id and the
// payload. Protobuf payloads are google.protobuf.Struct messages holding the
// same fields as the JSON form.
func Decode(routingKey, messageID, contentType string, body []byte) (ingest.Event, error) {
	kind, err := ingest.ParseKind(routingKey)
	if err != nil {
		return ingest.Event{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if strings.EqualFold(strings.TrimSpace(contentType), ContentTypeProtobuf) {
		if body, err = structToJSON(body); err != nil {
			return ingest.Event{}, fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	ev := ingest.Event{Kind: kind}
	if messageID != "" {
		// ids that are not UUIDs are ignored; the merge is idempotent anyway
		if id, parseErr := uuid.Parse(messageID); parseErr == nil {
			ev.ID = id
		}
	}

	if kind.CarriesFullRecord() {
		var a auctions.Auction
		if err := json.Unmarshal(body, &a); err != nil {
			return ingest.Event{}, fmt.Errorf("%w: %s payload: %w", ErrDecode, kind, err)
		}
		ev.Auction = &a
		return ev, nil
	}

	var p auctions.PartialAuction
	if err := json.Unmarshal(body, &p); err != nil {
		return ingest.Event{}, fmt.Errorf("%w: %s payload: %w", ErrDecode, kind, err)
	}
	ev.Patch = &p
	return ev, nil
}

// DecodeEnvelope decodes a self-describing {"type", "id", "data"} message
func DecodeEnvelope(raw []byte) (ingest.Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ingest.Event{}, fmt.Errorf("%w: envelope: %w", ErrDecode, err)
	}
	if len(env.Data) == 0 {
		return ingest.Event{}, fmt.Errorf("%w: envelope has no data", ErrDecode)
	}
	return Decode(env.Type, env.ID, ContentTypeJSON, env.Data)
}

func structToJSON(body []byte) ([]byte, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf: %w", err)
	}
	return protojson.Marshal(&s)
}
