package generation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"dashboard/internal/domain"
)

// DefaultMaxBodyBytes bounds inbound generation bodies, uploads included.
const DefaultMaxBodyBytes = 32 << 20

// DecodedRequest is the wire-shape tagged union produced by Decode. Callers
// switch on the concrete type once; Normalize hides the difference afterwards.
type DecodedRequest interface {
	decoded()
}

// JSONBody carries the top-level fields of an application/json request.
type JSONBody struct {
	Fields map[string]any
}

// MultipartBody carries the parts of a multipart/form-data request in wire order.
type MultipartBody struct {
	Parts []FormPart
}

// FormPart is a single multipart field. File parts carry Data, others Value.
type FormPart struct {
	Name     string
	Value    string
	Filename string
	MIME     string
	Data     []byte
	IsFile   bool
}

func (JSONBody) decoded()      {}
func (MultipartBody) decoded() {}

// Decode dispatches on the request content type. Anything that is neither
// JSON nor multipart decodes to an empty MultipartBody.
func Decode(r *http.Request, maxBytes int64) (DecodedRequest, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return MultipartBody{}, nil
	}
	body := io.LimitReader(r.Body, maxBytes+1)
	switch mediaType {
	case "application/json":
		return decodeJSON(body, maxBytes)
	case "multipart/form-data":
		return decodeMultipart(body, params["boundary"], maxBytes)
	default:
		return MultipartBody{}, nil
	}
}

func decodeJSON(body io.Reader, maxBytes int64) (DecodedRequest, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, domain.Validation(domain.CodeInvalidBody, "unable to read request body", err)
	}
	if int64(len(raw)) > maxBytes {
		return nil, domain.Validation(domain.CodeInvalidBody, "request body too large", nil)
	}
	fields := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return JSONBody{Fields: fields}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, domain.Validation(domain.CodeInvalidBody, "invalid JSON payload", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return JSONBody{Fields: fields}, nil
}

func decodeMultipart(body io.Reader, boundary string, maxBytes int64) (DecodedRequest, error) {
	if strings.TrimSpace(boundary) == "" {
		return nil, domain.Validation(domain.CodeInvalidBody, "multipart boundary missing", nil)
	}
	reader := multipart.NewReader(body, boundary)
	var (
		out   MultipartBody
		total int64
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.Validation(domain.CodeInvalidBody, "invalid multipart payload", err)
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, domain.Validation(domain.CodeInvalidBody, "invalid multipart payload", err)
		}
		total += int64(len(data))
		if total > maxBytes {
			return nil, domain.Validation(domain.CodeInvalidBody, fmt.Sprintf("request body exceeds %d bytes", maxBytes), nil)
		}
		fp := FormPart{Name: name}
		if part.FileName() != "" {
			fp.IsFile = true
			fp.Filename = part.FileName()
			fp.MIME = part.Header.Get("Content-Type")
			fp.Data = data
		} else {
			fp.Value = string(data)
		}
		out.Parts = append(out.Parts, fp)
	}
	return out, nil
}
