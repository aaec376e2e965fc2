package models

import "strings"

// Kind classifies message bodies.
type Kind string

const (
	KindText   Kind = "text"
	KindVoice  Kind = "voice"
	KindImage  Kind = "image"
	KindFile   Kind = "file"
	KindCall   Kind = "call"
	KindSystem Kind = "system"
)

// Body prefixes used by clients to encode non-text messages inside the encrypted body.
const (
	voicePrefix = "[Voice Message] "
	imagePrefix = "[Image] "
	filePrefix  = "[File] "
	callPrefix  = "[Call] "
)

var kindPrefixes = []struct {
	kind   Kind
	prefix string
}{
	{KindVoice, voicePrefix},
	{KindImage, imagePrefix},
	{KindFile, filePrefix},
	{KindCall, callPrefix},
}

// Attachment describes media referenced by a message body.
type Attachment struct {
	Kind     Kind   `json:"kind"`
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ParseBody resolves the body convention once. Call logs carry a summary, not a URI,
// so they get a kind but no attachment.
func ParseBody(body string) (Kind, *Attachment) {
	for _, entry := range kindPrefixes {
		rest, ok := strings.CutPrefix(body, entry.prefix)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if entry.kind == KindCall || rest == "" {
			return entry.kind, nil
		}
		return entry.kind, &Attachment{Kind: entry.kind, URI: rest}
	}
	return KindText, nil
}

// FormatBody encodes an attachment as a message body.
func FormatBody(attachment Attachment) string {
	for _, entry := range kindPrefixes {
		if entry.kind == attachment.Kind {
			return entry.prefix + attachment.URI
		}
	}
	return attachment.URI
}

// Preview returns a short human readable rendering of the message.
func (m Message) Preview() string {
	switch m.Kind {
	case KindVoice:
		return "Voice message"
	case KindImage:
		return "Photo"
	case KindFile:
		if m.Attachment != nil && m.Attachment.Name != "" {
			return "File: " + m.Attachment.Name
		}
		return "File"
	case KindCall:
		if summary := strings.TrimSpace(strings.TrimPrefix(m.Body, callPrefix)); summary != "" {
			return "Call: " + summary
		}
		return "Call"
	default:
		return m.Body
	}
}

// KindForMimeType picks the attachment kind for a detected MIME type.
func KindForMimeType(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "audio/"):
		return KindVoice
	default:
		return KindFile
	}
}
