package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"whatsapp-inbox-backend/internal/model"

	"github.com/google/uuid"
)

// UnknownBody is the sentinel body for content we could not classify.
const UnknownBody = "EMPTY"

var ErrNilEnvelope = errors.New("wire: nil envelope")

// unwrapRule peels one container layer off a content object. Rules are
// applied in priority order, repeatedly, until none matches.
type unwrapRule func(*Content) *Content

var unwrapRules = []unwrapRule{
	func(c *Content) *Content {
		if c.Ephemeral != nil {
			return c.Ephemeral.Message
		}
		return nil
	},
	func(c *Content) *Content {
		if c.ViewOnceV2 != nil {
			return c.ViewOnceV2.Message
		}
		return nil
	},
	func(c *Content) *Content {
		if c.ViewOnce != nil {
			return c.ViewOnce.Message
		}
		return nil
	},
	func(c *Content) *Content {
		if c.DocumentWithCaption != nil {
			return c.DocumentWithCaption.Message
		}
		return nil
	},
}

// shape classifies one content field into a canonical kind. Shapes are
// mutually exclusive on the wire; order only matters for the text-before-
// media convention.
type shape struct {
	match func(*Content) bool
	apply func(*Content, *model.MessageItem)
}

var shapes = []shape{
	{
		match: func(c *Content) bool { return c.Conversation != "" },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindText
			m.Body = c.Conversation
		},
	},
	{
		match: func(c *Content) bool { return c.ExtendedText != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindText
			m.Body = c.ExtendedText.Text
		},
	},
	{
		match: func(c *Content) bool { return c.Image != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindImage
			m.Body = c.Image.Caption
			m.MediaMimeType = c.Image.Mimetype
		},
	},
	{
		match: func(c *Content) bool { return c.Video != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindVideo
			m.Body = c.Video.Caption
			m.MediaMimeType = c.Video.Mimetype
		},
	},
	{
		match: func(c *Content) bool { return c.Audio != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindAudio
			m.MediaMimeType = c.Audio.Mimetype
			m.MediaDurationMs = int64(math.Round(c.Audio.Seconds * 1000))
			m.VoiceNote = c.Audio.PTT
		},
	},
	{
		match: func(c *Content) bool { return c.Sticker != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindSticker
			m.MediaMimeType = c.Sticker.Mimetype
		},
	},
	{
		match: func(c *Content) bool { return c.Document != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindFile
			m.Body = c.Document.FileName
			m.MediaMimeType = c.Document.Mimetype
		},
	},
	{
		match: func(c *Content) bool { return c.Location != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindLocation
			m.Body = formatLocation(c.Location)
		},
	},
	{
		match: func(c *Content) bool { return c.ButtonsResponse != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindButtonReply
			m.Body = firstNonEmpty(c.ButtonsResponse.SelectedDisplayText, c.ButtonsResponse.SelectedButtonID)
		},
	},
	{
		match: func(c *Content) bool { return c.ListResponse != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindListReply
			rowID := ""
			if c.ListResponse.SingleSelectReply != nil {
				rowID = c.ListResponse.SingleSelectReply.SelectedRowID
			}
			m.Body = firstNonEmpty(c.ListResponse.Title, rowID)
		},
	},
	{
		match: func(c *Content) bool { return c.TemplateReply != nil },
		apply: func(c *Content, m *model.MessageItem) {
			m.Kind = model.KindTemplateReply
			m.Body = firstNonEmpty(c.TemplateReply.SelectedDisplayText, c.TemplateReply.SelectedID)
		},
	},
}

// handled is the set of content keys the shapes above consume. Anything else
// on the wire counts as an unhandled type for diagnostics.
var handled = map[string]bool{
	"conversation":               true,
	"extendedTextMessage":        true,
	"imageMessage":               true,
	"videoMessage":               true,
	"audioMessage":               true,
	"stickerMessage":             true,
	"documentMessage":            true,
	"locationMessage":            true,
	"buttonsResponseMessage":     true,
	"listResponseMessage":        true,
	"templateButtonReplyMessage": true,
	"ephemeralMessage":           true,
	"viewOnceMessage":            true,
	"viewOnceMessageV2":          true,
	"documentWithCaptionMessage": true,
}

// Normalize converts one provider envelope into exactly one canonical
// message row. It is a pure function of the envelope: the same input always
// yields the same row, so re-delivered events are safe. It never fails on
// unrecognized structure, only on a nil envelope.
func Normalize(channelID string, env *Envelope) (model.MessageItem, error) {
	if env == nil {
		return model.MessageItem{}, ErrNilEnvelope
	}

	direction := model.DirectionContact
	var read bool
	if env.FromMe {
		direction = model.DirectionOperator
		read = true
	}

	ts := time.Unix(0, 0).UTC()
	if env.Timestamp > 0 {
		ts = time.Unix(env.Timestamp, 0).UTC()
	}

	messageID := env.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	msg := model.MessageItem{
		PK:        model.MessagePK(env.ChatKey, messageID),
		ChannelID: channelID,
		ChatKey:   env.ChatKey,
		MessageID: messageID,
		Direction: direction,
		Read:      read,
		Timestamp: ts.UnixMilli(),
		RawDigest: digest(env),
		CreatedAt: ts.Format(time.RFC3339),
	}

	content := unwrap(env.Content)
	if content == nil {
		msg.Kind = model.KindUnknown
		msg.Body = UnknownBody
		return msg, nil
	}

	for _, s := range shapes {
		if s.match(content) {
			s.apply(content, &msg)
			return msg, nil
		}
	}

	msg.Kind = model.KindUnknown
	msg.Body = UnknownBody
	for _, key := range content.PresentTypes() {
		if !handled[key] {
			msg.UnhandledType = key
			break
		}
	}
	return msg, nil
}

func unwrap(content *Content) *Content {
	for content != nil {
		var next *Content
		for _, rule := range unwrapRules {
			if inner := rule(content); inner != nil {
				next = inner
				break
			}
		}
		if next == nil {
			return content
		}
		content = next
	}
	return nil
}

func formatLocation(loc *LocationContent) string {
	lat := strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
	lng := strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	if loc.Name != "" {
		return fmt.Sprintf("%s (%s, %s)", loc.Name, lat, lng)
	}
	return fmt.Sprintf("%s, %s", lat, lng)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func digest(env *Envelope) string {
	raw := env.Raw
	if len(raw) == 0 {
		encoded, err := json.Marshal(env)
		if err != nil {
			return ""
		}
		raw = encoded
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
