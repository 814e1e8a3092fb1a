package encode

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	perr "gantry/internal/platform/errors"
	"gantry/internal/services/queue/domain"
)

// MaxPayloadBytes caps the encoded body Encode will accept, regardless of
// caller (the admin surface's JSON decoder enforces its own read limit, but
// an in-process SubmitPort caller bypasses that entirely)
const MaxPayloadBytes = 1 << 20

// SubmitJob is the validated DTO the admin REST surface and any in-process
// caller binds a submission request into before Encode is called
type SubmitJob struct {
	Method      string            `json:"method" validate:"required"`
	URL         string            `json:"url" validate:"required"`
	Payload     any               `json:"payload"`
	ContentType string            `json:"content_type" validate:"required"`
	Headers     map[string]string `json:"headers,omitempty"`
	ETA         *time.Time        `json:"eta,omitempty"`
}

// Encode normalizes the content type, validates the URL shape, encodes the
// payload into its canonical text form, and clamps a missing or past ETA to
// now per §4.4; NextTry is derived from the ETA later, by Svc.Submit
func Encode(in SubmitJob, now time.Time) (domain.SubmitArgs, error) {
	if strings.TrimSpace(in.Method) == "" {
		return domain.SubmitArgs{}, perr.ValidationErrf("method is required")
	}
	if strings.TrimSpace(in.URL) == "" {
		return domain.SubmitArgs{}, perr.ValidationErrf("url is required")
	}
	if !strings.HasPrefix(in.URL, "/") {
		if _, err := url.Parse(in.URL); err != nil {
			return domain.SubmitArgs{}, perr.ValidationErrf("url is not absolute or self-referencing: %v", err)
		}
	}

	canon, ok := NormalizeContentType(in.ContentType)
	if !ok {
		return domain.SubmitArgs{}, perr.ValidationErrf("unknown content type %q", in.ContentType)
	}

	body, err := encodeBody(canon, in.Payload)
	if err != nil {
		return domain.SubmitArgs{}, err
	}
	if len(body) > MaxPayloadBytes {
		return domain.SubmitArgs{}, perr.ValidationErrf("payload exceeds %d byte limit", MaxPayloadBytes)
	}

	eta := now
	if in.ETA != nil && in.ETA.After(now) {
		eta = *in.ETA
	}

	return domain.SubmitArgs{
		Method:      strings.ToUpper(in.Method),
		URL:         in.URL,
		Payload:     body,
		Headers:     in.Headers,
		ContentType: canon,
		ETA:         eta,
	}, nil
}

// encodeBody renders payload into the text form stored on the QueueEntry,
// per the canonical-type encoding rules in §4.4. The multipart case stores
// a flat field-name -> stringified-value mapping as JSON; the actual
// multipart body is built at dispatch time by the dispatcher
func encodeBody(canon string, payload any) (string, error) {
	switch canon {
	case ContentTypeJSON:
		if payload == nil {
			return "", nil
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return "", perr.ValidationErrf("payload is not valid JSON: %v", err)
		}
		return string(b), nil

	case ContentTypeForm, ContentTypeMultipart:
		fields, err := stringFields(payload)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(fields)
		if err != nil {
			return "", perr.ValidationErrf("payload fields are not encodable: %v", err)
		}
		return string(b), nil

	case ContentTypeText, ContentTypeHTML:
		s, ok := payload.(string)
		if !ok {
			if payload == nil {
				return "", nil
			}
			return "", perr.ValidationErrf("payload for %s must be a string", canon)
		}
		return s, nil

	case ContentTypeBytes:
		switch v := payload.(type) {
		case string:
			// already base64, as produced by a prior Encode round-trip
			if _, err := base64.StdEncoding.DecodeString(v); err != nil {
				return "", perr.ValidationErrf("payload for %s must be base64 bytes: %v", canon, err)
			}
			return v, nil
		case []byte:
			return base64.StdEncoding.EncodeToString(v), nil
		default:
			return "", perr.ValidationErrf("payload for %s must be bytes", canon)
		}

	default:
		return "", perr.ValidationErrf("unknown content type %q", canon)
	}
}

// stringFields flattens a map/struct-shaped payload into field -> string,
// the input the form/multipart encoders need
func stringFields(payload any) (map[string]string, error) {
	if payload == nil {
		return map[string]string{}, nil
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, perr.ValidationErrf("payload must be an object of named fields")
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = stringify(v)
	}
	return out, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// FieldsFromPayload decodes the stored JSON field mapping back out, used by
// the dispatcher to rebuild a form/multipart body at send time
func FieldsFromPayload(payload string) (map[string]string, error) {
	if payload == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SortedKeys returns a payload field map's keys sorted for deterministic
// multipart part ordering (round-trip byte-stability per §8 invariant 5)
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
