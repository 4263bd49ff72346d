package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

const filePartPrefix = "file_"

// Encode serialises req for the wire. Requests carrying files become
// multipart/form-data with every structured field as a JSON string.
func Encode(req *CompletionRequest) (body []byte, contentType string, err error) {
	if len(req.Files) == 0 {
		body, err = json.Marshal(req)
		return body, "application/json", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct {
		name  string
		value any
	}{
		{"variables", req.Variables},
		{"outputVariables", req.OutputVariables},
		{"fileVariableNames", req.FileVariableNames},
		{"knowledgeBaseFiles", req.KnowledgeBaseFiles},
	}

	if err := mw.WriteField("prompt", req.Prompt); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("hasFileVariables", strconv.FormatBool(req.HasFileVariables)); err != nil {
		return nil, "", err
	}
	if req.KnowledgeBaseContext != "" {
		if err := mw.WriteField("knowledgeBaseContext", req.KnowledgeBaseContext); err != nil {
			return nil, "", err
		}
	}
	for _, f := range fields {
		data, err := json.Marshal(f.value)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode %s: %w", f.name, err)
		}
		if err := mw.WriteField(f.name, string(data)); err != nil {
			return nil, "", err
		}
	}

	for _, file := range req.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			filePartPrefix+file.Variable, escapeQuotes(file.Filename)))
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// ParseRequest reads a completion request from an HTTP request in either
// wire form.
func ParseRequest(r *http.Request, maxBytes int64) (*CompletionRequest, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}

	if mediaType != "multipart/form-data" {
		var req CompletionRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBytes))
		if err := dec.Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid request body: %w", err)
		}
		return &req, nil
	}

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	form := r.MultipartForm
	fields := url.Values(form.Value)

	req := &CompletionRequest{
		Prompt:               fields.Get("prompt"),
		KnowledgeBaseContext: fields.Get("knowledgeBaseContext"),
	}
	req.HasFileVariables, _ = strconv.ParseBool(fields.Get("hasFileVariables"))

	targets := map[string]any{
		"variables":          &req.Variables,
		"outputVariables":    &req.OutputVariables,
		"fileVariableNames":  &req.FileVariableNames,
		"knowledgeBaseFiles": &req.KnowledgeBaseFiles,
	}
	for name, dst := range targets {
		raw := fields.Get(name)
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", name, err)
		}
	}

	for name, headers := range form.File {
		if !strings.HasPrefix(name, filePartPrefix) {
			continue
		}
		variable := strings.TrimPrefix(name, filePartPrefix)
		for _, fh := range headers {
			part, err := readFile(fh)
			if err != nil {
				return nil, err
			}
			part.Variable = variable
			req.Files = append(req.Files, part)
		}
	}

	return req, nil
}

func readFile(fh *multipart.FileHeader) (FilePart, error) {
	f, err := fh.Open()
	if err != nil {
		return FilePart{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return FilePart{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return FilePart{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}

// decodeResponse reads a completion response body. A body that is not a
// completion response yields an error mentioning the raw text.
func decodeResponse(body []byte) (*CompletionResponse, error) {
	var resp CompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.New("malformed completion response")
	}
	return &resp, nil
}
