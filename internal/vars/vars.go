// Package vars holds the variable map shared by campaign sections and the
// text forms values take when substituted into templates.
package vars

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Vars maps a variable name to a response value or an AI output.
type Vars map[string]any

// FileDescriptor describes an uploaded file.
type FileDescriptor struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Merge returns the union of base and overlay. Overlay wins on collision.
func Merge(base Vars, overlay map[string]string) Vars {
	out := make(Vars, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Strings returns the text form of every variable.
func (v Vars) Strings() map[string]string {
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = FormatValue(val)
	}
	return out
}

// FormatValue converts a value to the text substituted for its token.
// Numbers use the shortest decimal form, file lists render as their names
// and other lists are comma joined. Maps and structs render as JSON.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	case []string:
		return strings.Join(val, ",")
	case []FileDescriptor:
		return FileNames(val)
	case []any:
		if files, ok := Files(val); ok {
			return FileNames(files)
		}
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = FormatValue(item)
		}
		return strings.Join(parts, ",")
	case fmt.Stringer:
		return val.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// FileNames joins the names of files for display.
func FileNames(files []FileDescriptor) string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}

// Files reports whether v holds a list of file descriptors and returns it.
// Values decoded from JSON arrive as []any of objects with a url field.
func Files(v any) ([]FileDescriptor, bool) {
	switch val := v.(type) {
	case []FileDescriptor:
		return val, true
	case []any:
		if len(val) == 0 {
			return nil, false
		}
		files := make([]FileDescriptor, 0, len(val))
		for _, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			url, ok := m["url"].(string)
			if !ok {
				return nil, false
			}
			fd := FileDescriptor{URL: url}
			fd.Name, _ = m["name"].(string)
			fd.Type, _ = m["type"].(string)
			switch size := m["size"].(type) {
			case float64:
				fd.Size = int64(size)
			case int64:
				fd.Size = size
			case int:
				fd.Size = int64(size)
			}
			files = append(files, fd)
		}
		return files, true
	}
	return nil, false
}
