package wire

import (
	"encoding/json"
	"errors"
	"sort"
)

// Envelope is one raw event from the provider gateway. The schema follows
// the upstream messaging protocol and is treated as an evolving external
// contract: fields we do not model are ignored, content shapes we do not
// recognize degrade to an unknown kind instead of failing.
type Envelope struct {
	ID        string   `json:"id"`
	ChatKey   string   `json:"chatKey"`
	FromMe    bool     `json:"fromMe"`
	PushName  string   `json:"pushName,omitempty"`
	ClientID  string   `json:"clientId,omitempty"`
	Timestamp int64    `json:"messageTimestamp"`
	Content   *Content `json:"message,omitempty"`

	// Raw keeps the original payload bytes for the audit digest. Set by
	// ParseEnvelope; optional when an Envelope is built in code.
	Raw json.RawMessage `json:"-"`
}

// Content is the polymorphic message body. Exactly one of the shape fields
// is expected to be set; container fields wrap another Content one level
// down and are peeled off before shape matching.
type Content struct {
	Conversation    string           `json:"conversation,omitempty"`
	ExtendedText    *ExtendedText    `json:"extendedTextMessage,omitempty"`
	Image           *MediaContent    `json:"imageMessage,omitempty"`
	Video           *MediaContent    `json:"videoMessage,omitempty"`
	Audio           *AudioContent    `json:"audioMessage,omitempty"`
	Sticker         *MediaContent    `json:"stickerMessage,omitempty"`
	Document        *DocumentContent `json:"documentMessage,omitempty"`
	Location        *LocationContent `json:"locationMessage,omitempty"`
	ButtonsResponse *ButtonsResponse `json:"buttonsResponseMessage,omitempty"`
	ListResponse    *ListResponse    `json:"listResponseMessage,omitempty"`
	TemplateReply   *TemplateReply   `json:"templateButtonReplyMessage,omitempty"`

	Ephemeral           *Wrapped `json:"ephemeralMessage,omitempty"`
	ViewOnce            *Wrapped `json:"viewOnceMessage,omitempty"`
	ViewOnceV2          *Wrapped `json:"viewOnceMessageV2,omitempty"`
	DocumentWithCaption *Wrapped `json:"documentWithCaptionMessage,omitempty"`

	// present lists the JSON keys seen on this content object, sorted, so
	// an unmatched shape can be reported by name.
	present []string
}

type contentAlias Content

func (c *Content) UnmarshalJSON(data []byte) error {
	var a contentAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Content(a)

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err == nil {
		for k := range keys {
			c.present = append(c.present, k)
		}
		sort.Strings(c.present)
	}
	return nil
}

// PresentTypes returns the content-type keys present on the wire, sorted.
func (c *Content) PresentTypes() []string {
	return c.present
}

// Wrapped is a container layer (ephemeral, view-once, caption-with-document)
// holding the real content one level down.
type Wrapped struct {
	Message *Content `json:"message,omitempty"`
}

type ExtendedText struct {
	Text string `json:"text"`
}

type MediaContent struct {
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

type AudioContent struct {
	Seconds  float64 `json:"seconds"`
	Mimetype string  `json:"mimetype,omitempty"`
	PTT      bool    `json:"ptt,omitempty"`
}

type DocumentContent struct {
	FileName string `json:"fileName,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type LocationContent struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"degreesLatitude"`
	Longitude float64 `json:"degreesLongitude"`
}

type ButtonsResponse struct {
	SelectedButtonID    string `json:"selectedButtonId,omitempty"`
	SelectedDisplayText string `json:"selectedDisplayText,omitempty"`
}

type ListResponse struct {
	Title             string             `json:"title,omitempty"`
	SingleSelectReply *SingleSelectReply `json:"singleSelectReply,omitempty"`
}

type SingleSelectReply struct {
	SelectedRowID string `json:"selectedRowId,omitempty"`
}

type TemplateReply struct {
	SelectedID          string `json:"selectedId,omitempty"`
	SelectedDisplayText string `json:"selectedDisplayText,omitempty"`
}

// ParseEnvelope decodes raw gateway bytes into an Envelope, keeping the
// original payload for the audit digest.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Err: err}
	}
	env.Raw = append(json.RawMessage(nil), data...)
	return &env, nil
}

// ParseError marks a payload that can never become a valid envelope, as
// opposed to a transient processing failure.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "invalid envelope: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}
