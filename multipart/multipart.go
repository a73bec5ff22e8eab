// Package multipart encodes FormData as multipart/form-data and decodes
// inbound multipart bodies back into FormData.
package multipart

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"mime"
	stdmultipart "mime/multipart"
	"strconv"
	"strings"

	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/message"
)

// BoundaryPrefix namespaces generated boundaries.
const BoundaryPrefix = "--------------FetchBridgeFormBoundary"

// Encoded is the result of encoding a form.
type Encoded struct {
	Body        string
	Boundary    string
	ContentType string
}

// Encode renders fd as a multipart/form-data body with a fresh boundary.
func Encode(fd *message.FormData) (Encoded, error) {
	return EncodeWithBoundary(fd, NewBoundary())
}

// NewBoundary returns BoundaryPrefix followed by a random nine-digit number.
func NewBoundary() string {
	return BoundaryPrefix + strconv.Itoa(100000000+rand.IntN(900000000))
}

// EncodeWithBoundary renders fd using the given boundary.
//
// Names have '"', CR and LF percent-escaped; values have bare CR or LF
// normalized to CRLF. File entries cannot be encoded.
func EncodeWithBoundary(fd *message.FormData, boundary string) (Encoded, error) {
	var sb strings.Builder
	if fd != nil {
		for _, e := range fd.Entries() {
			if e.IsFile() {
				return Encoded{}, errors.New(errors.PhaseEncode, errors.KindUnsupported).
					Path(e.Name).
					Value(e.Filename).
					Detail("file fields cannot be encoded").
					Build()
			}
			sb.WriteString("--")
			sb.WriteString(boundary)
			sb.WriteString("\r\nContent-Disposition: form-data; name=\"")
			sb.WriteString(escapeName(e.Name))
			sb.WriteString("\"\r\n\r\n")
			sb.WriteString(normalizeNewlines(e.Value))
			sb.WriteString("\r\n")
		}
	}
	sb.WriteString("--")
	sb.WriteString(boundary)
	sb.WriteString("--\r\n")

	return Encoded{
		Body:        sb.String(),
		Boundary:    boundary,
		ContentType: "multipart/form-data; boundary=" + boundary,
	}, nil
}

var nameEscaper = strings.NewReplacer(`"`, "%22", "\r", "%0D", "\n", "%0A")

func escapeName(name string) string {
	return nameEscaper.Replace(name)
}

func normalizeNewlines(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	var sb strings.Builder
	sb.Grow(len(v) + 8)
	for i := 0; i < len(v); i++ {
		switch c := v[i]; c {
		case '\r':
			sb.WriteString("\r\n")
			if i+1 < len(v) && v[i+1] == '\n' {
				i++
			}
		case '\n':
			sb.WriteString("\r\n")
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Decode parses a multipart/form-data body. File parts are kept with
// their filename and content as value.
func Decode(body io.Reader, contentType string) (*message.FormData, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errors.ParseFailed("content type", err)
	}
	if mediaType != "multipart/form-data" {
		return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Value(mediaType).
			Detail("expected multipart/form-data").
			Build()
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.InvalidInput(errors.PhaseDecode, "multipart boundary missing")
	}

	r := stdmultipart.NewReader(body, boundary)
	var entries []message.FormEntry
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.ParseFailed("multipart body", err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, part); err != nil {
			_ = part.Close()
			return nil, errors.ParseFailed("multipart part", err)
		}
		entries = append(entries, message.FormEntry{
			Name:     part.FormName(),
			Value:    buf.String(),
			Filename: part.FileName(),
		})
		_ = part.Close()
	}
	return message.FormDataFrom(entries), nil
}

// ReadForm drains req's body and decodes it using the request's
// content-type header.
func ReadForm(ctx context.Context, req *message.Request) (*message.FormData, error) {
	if fd := req.Form(); fd != nil {
		return fd, nil
	}
	contentType, ok := req.Headers().Get("content-type")
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseDecode, "request has no content-type")
	}
	data, err := req.Bytes(ctx)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data), contentType)
}
