package flow

import (
	"encoding/json"
	"net/mail"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

type captureRenderer struct{}

func (captureRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg CaptureConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}

	fields := []map[string]any{{"name": "email", "type": "email", "required": true}}
	if cfg.CollectName {
		fields = append(fields, map[string]any{"name": "name", "type": "text", "required": false})
	}
	if cfg.CollectPhone {
		fields = append(fields, map[string]any{"name": "phone", "type": "tel", "required": false})
	}
	return baseView(sec, rc, map[string]any{"fields": fields, "value": rc.Answer}), nil
}

func (captureRenderer) Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error) {
	var in struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, invalid("", "expected an object with email, name and phone")
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, invalid("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, invalid("email", "invalid email address")
	}

	value := map[string]any{"email": strings.ToLower(email)}
	if name := strings.TrimSpace(in.Name); name != "" {
		value["name"] = name
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		value["phone"] = phone
	}
	return value, nil
}

type textRenderer struct{}

func (textRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg TextQuestionConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	return baseView(sec, rc, map[string]any{
		"placeholder": vars.Interpolate(cfg.Placeholder, rc.Vars),
		"multiline":   cfg.Multiline,
		"max_length":  cfg.MaxLength,
		"value":       rc.Answer,
	}), nil
}

func (textRenderer) Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error) {
	var cfg TextQuestionConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, invalid("", "expected text")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if cfg.MaxLength > 0 && utf8.RuneCountInString(s) > cfg.MaxLength {
		return nil, invalid("", "answer is longer than %d characters", cfg.MaxLength)
	}
	return s, nil
}

type choiceRenderer struct{}

func optionValue(o models.SectionOption) string {
	if o.Value != "" {
		return o.Value
	}
	return o.Label
}

func (choiceRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg MultipleChoiceConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}

	options := make([]map[string]any, len(rc.Options))
	for i, o := range rc.Options {
		options[i] = map[string]any{
			"id":    o.ID,
			"label": vars.Interpolate(o.Label, rc.Vars),
			"value": optionValue(o),
		}
	}
	return baseView(sec, rc, map[string]any{
		"options":        options,
		"allow_multiple": cfg.AllowMultiple,
		"value":          rc.Answer,
	}), nil
}

func (choiceRenderer) Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error) {
	var cfg MultipleChoiceConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return nil, err
	}

	var picked []string
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		picked = []string{single}
	} else if err := json.Unmarshal(raw, &picked); err != nil {
		return nil, invalid("", "expected an option value or a list of values")
	}
	if len(picked) == 0 {
		return nil, nil
	}

	allowed := make(map[string]bool, len(rc.Options))
	for _, o := range rc.Options {
		allowed[optionValue(o)] = true
	}
	for _, p := range picked {
		if !allowed[p] {
			return nil, invalid("", "%q is not one of the options", p)
		}
	}

	if !cfg.AllowMultiple {
		if len(picked) > 1 {
			return nil, invalid("", "only one option may be selected")
		}
		return picked[0], nil
	}
	return dedupe(picked), nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

type sliderRenderer struct{}

func sliderDefault(lo float64, def *float64) float64 {
	if def != nil {
		return *def
	}
	return lo
}

func inRange(v, lo, hi float64) bool {
	if hi <= lo {
		return true
	}
	return v >= lo && v <= hi
}

func (sliderRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg SliderConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	return baseView(sec, rc, map[string]any{
		"min":         cfg.Min,
		"max":         cfg.Max,
		"step":        cfg.Step,
		"default":     sliderDefault(cfg.Min, cfg.Default),
		"unit":        cfg.Unit,
		"left_label":  vars.Interpolate(cfg.LeftLabel, rc.Vars),
		"right_label": vars.Interpolate(cfg.RightLabel, rc.Vars),
		"value":       rc.Answer,
	}), nil
}

func (sliderRenderer) Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error) {
	var cfg SliderConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return nil, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, invalid("", "expected a number")
	}
	if !inRange(v, cfg.Min, cfg.Max) {
		return nil, invalid("", "value must be between %v and %v", cfg.Min, cfg.Max)
	}
	return v, nil
}

type slidersRenderer struct{}

func (slidersRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg MultipleSlidersConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}

	answers, _ := rc.Answer.(map[string]any)
	sliders := make([]map[string]any, len(cfg.Sliders))
	for i, s := range cfg.Sliders {
		sliders[i] = map[string]any{
			"id":            s.ID,
			"label":         vars.Interpolate(s.Label, rc.Vars),
			"variable_name": sliderVarName(s, i),
			"min":           s.Min,
			"max":           s.Max,
			"step":          s.Step,
			"default":       sliderDefault(s.Min, s.Default),
			"value":         answers[s.ID],
		}
	}
	return baseView(sec, rc, map[string]any{"sliders": sliders}), nil
}

// Accept takes a map of slider id to value. Sliders left out take their
// default.
func (slidersRenderer) Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error) {
	var cfg MultipleSlidersConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return nil, err
	}
	var in map[string]float64
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, invalid("", "expected an object of slider values")
	}

	known := make(map[string]bool, len(cfg.Sliders))
	value := make(map[string]any, len(cfg.Sliders))
	for _, s := range cfg.Sliders {
		known[s.ID] = true
		v, ok := in[s.ID]
		if !ok {
			v = sliderDefault(s.Min, s.Default)
		}
		if !inRange(v, s.Min, s.Max) {
			return nil, invalid(s.ID, "value must be between %v and %v", s.Min, s.Max)
		}
		value[s.ID] = v
	}
	for id := range in {
		if !known[id] {
			return nil, invalid(id, "unknown slider")
		}
	}
	return value, nil
}

type uploadRenderer struct{}

func (uploadRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg UploadConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	return baseView(sec, rc, map[string]any{
		"max_files":      cfg.MaxFiles,
		"max_size_mb":    cfg.MaxSizeMB,
		"accepted_types": cfg.AcceptedTypes,
		"value":          rc.Answer,
	}), nil
}

func (uploadRenderer) Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error) {
	var cfg UploadConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return nil, err
	}
	var files []vars.FileDescriptor
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, invalid("", "expected a list of uploaded files")
	}
	if len(files) == 0 {
		return nil, nil
	}
	files, err := issuedFiles(rc.Uploaded, files)
	if err != nil {
		return nil, err
	}
	if err := CheckUpload(cfg, files); err != nil {
		return nil, err
	}
	return files, nil
}

// issuedFiles swaps each submitted descriptor for the stored one with the
// same URL. Descriptors the store never issued are rejected.
func issuedFiles(issued, submitted []vars.FileDescriptor) ([]vars.FileDescriptor, error) {
	byURL := make(map[string]vars.FileDescriptor, len(issued))
	for _, fd := range issued {
		byURL[fd.URL] = fd
	}
	out := make([]vars.FileDescriptor, 0, len(submitted))
	seen := make(map[string]bool, len(submitted))
	for _, f := range submitted {
		fd, ok := byURL[f.URL]
		if !ok {
			return nil, invalid(f.Name, "file was not uploaded for this question")
		}
		if seen[fd.URL] {
			continue
		}
		seen[fd.URL] = true
		out = append(out, fd)
	}
	return out, nil
}

// CheckUpload validates files against an upload section's limits.
func CheckUpload(cfg UploadConfig, files []vars.FileDescriptor) error {
	if cfg.MaxFiles > 0 && len(files) > cfg.MaxFiles {
		return invalid("", "at most %d files may be uploaded", cfg.MaxFiles)
	}
	maxBytes := int64(cfg.MaxSizeMB * 1024 * 1024)
	for _, f := range files {
		if f.URL == "" {
			return invalid(f.Name, "file has not been uploaded")
		}
		if maxBytes > 0 && f.Size > maxBytes {
			return invalid(f.Name, "file is larger than %v MB", cfg.MaxSizeMB)
		}
		if !acceptedType(cfg.AcceptedTypes, f) {
			return invalid(f.Name, "file type %s is not accepted", f.Type)
		}
	}
	return nil
}

// acceptedType matches exact MIME types, wildcards like image/* and
// extensions like .pdf. An empty list accepts everything.
func acceptedType(accepted []string, f vars.FileDescriptor) bool {
	if len(accepted) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(f.Name))
	mime := strings.ToLower(f.Type)
	for _, a := range accepted {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case strings.HasPrefix(a, "."):
			if a == ext {
				return true
			}
		case strings.HasSuffix(a, "/*"):
			if strings.HasPrefix(mime, strings.TrimSuffix(a, "*")) {
				return true
			}
		case a == mime:
			return true
		}
	}
	return false
}

type dateTimeRenderer struct{}

var dateTimeLayouts = map[string]string{
	"date":     "2006-01-02",
	"time":     "15:04",
	"datetime": "2006-01-02T15:04",
}

func dateTimeLayout(mode string) string {
	if layout, ok := dateTimeLayouts[mode]; ok {
		return layout
	}
	return dateTimeLayouts["date"]
}

func (dateTimeRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg DateTimeConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	mode := cfg.Mode
	if _, ok := dateTimeLayouts[mode]; !ok {
		mode = "date"
	}
	return baseView(sec, rc, map[string]any{
		"mode":  mode,
		"min":   cfg.Min,
		"max":   cfg.Max,
		"value": rc.Answer,
	}), nil
}

func (dateTimeRenderer) Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error) {
	var cfg DateTimeConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, invalid("", "expected a date string")
	}

	layout := dateTimeLayout(cfg.Mode)
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return nil, invalid("", "expected format %s", layout)
	}
	if cfg.Min != "" {
		if lo, err := time.Parse(layout, cfg.Min); err == nil && t.Before(lo) {
			return nil, invalid("", "must not be before %s", cfg.Min)
		}
	}
	if cfg.Max != "" {
		if hi, err := time.Parse(layout, cfg.Max); err == nil && t.After(hi) {
			return nil, invalid("", "must not be after %s", cfg.Max)
		}
	}
	return t.Format(layout), nil
}
