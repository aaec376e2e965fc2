package crypto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// DecryptionFailedText replaces the body of any message that is an envelope but
// cannot be authenticated under the conversation key.
const DecryptionFailedText = "🚫 [Decryption Failed]"

var (
	// ErrEncryptionUnavailable indicates encryption was requested without a key or plaintext.
	ErrEncryptionUnavailable = errors.New("crypto: encryption unavailable")
	// ErrNotEnvelope indicates data does not have the {iv, content} envelope shape.
	ErrNotEnvelope = errors.New("crypto: not an encrypted envelope")
)

// Envelope is one AES-GCM ciphertext as stored in the message column.
//
// The JSON form carries both fields as arrays of byte values, not base64:
//
//	{"iv":[12,34,...],"content":[56,78,...]}
type Envelope struct {
	IV      []byte
	Content []byte
}

type envelopeJSON struct {
	IV      []int `json:"iv"`
	Content []int `json:"content"`
}

// MarshalJSON encodes the envelope with byte arrays as JSON numbers.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{IV: bytesToInts(e.IV), Content: bytesToInts(e.Content)})
}

// UnmarshalJSON decodes the number-array envelope form.
func (e *Envelope) UnmarshalJSON(raw []byte) error {
	parsed, ok := ParseEnvelope(string(raw))
	if !ok {
		return ErrNotEnvelope
	}
	*e = parsed
	return nil
}

// String returns the serialized envelope, ready for the message column.
func (e Envelope) String() string {
	raw, err := e.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(raw)
}

// ParseEnvelope reports whether data is a serialized envelope and returns it.
func ParseEnvelope(data string) (Envelope, bool) {
	if data == "" || !gjson.Valid(data) {
		return Envelope{}, false
	}
	root := gjson.Parse(data)
	if !root.IsObject() {
		return Envelope{}, false
	}

	iv, ok := byteArray(root.Get("iv"))
	if !ok {
		return Envelope{}, false
	}
	content, ok := byteArray(root.Get("content"))
	if !ok || len(content) == 0 {
		return Envelope{}, false
	}

	return Envelope{IV: iv, Content: content}, true
}

// Seal encrypts plaintext under key with a fresh nonce.
func Seal(plaintext string, key Key) (Envelope, error) {
	if plaintext == "" || key.IsZero() {
		return Envelope{}, ErrEncryptionUnavailable
	}

	ciphertext, iv, err := sealGCM(key, []byte(plaintext))
	if err != nil {
		return Envelope{}, fmt.Errorf("seal envelope: %w", err)
	}
	return Envelope{IV: iv, Content: ciphertext}, nil
}

// Encrypt is Seal followed by serialization.
func Encrypt(plaintext string, key Key) (string, error) {
	envelope, err := Seal(plaintext, key)
	if err != nil {
		return "", err
	}
	return envelope.String(), nil
}

// ResultKind classifies the outcome of opening message data.
type ResultKind int

const (
	// ResultDecrypted means the data was an envelope and authenticated under the key.
	ResultDecrypted ResultKind = iota
	// ResultPassthrough means the data was not an envelope and is returned unchanged.
	ResultPassthrough
	// ResultFailed means the data was an envelope but could not be opened.
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultDecrypted:
		return "decrypted"
	case ResultPassthrough:
		return "passthrough"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// Result is the outcome of Open. It never carries a plausible-but-wrong plaintext.
type Result struct {
	Kind ResultKind
	// Err is set for ResultFailed only.
	Err error

	text string
}

// Text returns the plaintext, the passthrough input, or DecryptionFailedText.
func (r Result) Text() string {
	if r.Kind == ResultFailed {
		return DecryptionFailedText
	}
	return r.text
}

// Failed reports whether decryption failed.
func (r Result) Failed() bool {
	return r.Kind == ResultFailed
}

// Open decrypts serialized message data. Data that is not an envelope (system
// messages, legacy plaintext rows) passes through unchanged.
func Open(data string, key Key) Result {
	envelope, ok := ParseEnvelope(data)
	if !ok {
		return Result{Kind: ResultPassthrough, text: data}
	}
	return OpenEnvelope(envelope, key)
}

// OpenEnvelope decrypts an already parsed envelope.
func OpenEnvelope(envelope Envelope, key Key) Result {
	if key.IsZero() {
		return Result{Kind: ResultFailed, Err: ErrEncryptionUnavailable}
	}
	plaintext, err := openGCM(key, envelope.IV, envelope.Content)
	if err != nil {
		return Result{Kind: ResultFailed, Err: err}
	}
	return Result{Kind: ResultDecrypted, text: string(plaintext)}
}

// Decrypt is Open reduced to the display string.
func Decrypt(data string, key Key) string {
	return Open(data, key).Text()
}

func byteArray(value gjson.Result) ([]byte, bool) {
	if !value.IsArray() {
		return nil, false
	}

	elements := value.Array()
	out := make([]byte, 0, len(elements))
	for _, element := range elements {
		if element.Type != gjson.Number {
			return nil, false
		}
		n := element.Num
		if n < 0 || n > 255 || n != float64(int(n)) {
			return nil, false
		}
		out = append(out, byte(n))
	}
	return out, true
}

func bytesToInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
