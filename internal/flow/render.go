package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

var ErrInvalidInput = errors.New("invalid input")

// InputError describes a rejected submission.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &InputError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// View is the rendered form of a section sent to the visitor.
type View struct {
	SectionID   string             `json:"section_id"`
	Type        models.SectionType `json:"type"`
	Index       int                `json:"index"`
	Total       int                `json:"total"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Required    bool               `json:"required"`
	ButtonText  string             `json:"button_text,omitempty"`
	Body        map[string]any     `json:"body"`
}

// RenderContext carries everything a renderer may need besides the section.
type RenderContext struct {
	Ctx       context.Context
	Vars      vars.Vars
	Options   []models.SectionOption
	Index     int
	Total     int
	Answer    any
	Transfers TransferIssuer
	// Uploaded lists the files stored for this section in this session.
	// Upload answers may only refer to these.
	Uploaded []vars.FileDescriptor
}

func (rc RenderContext) context() context.Context {
	if rc.Ctx == nil {
		return context.Background()
	}
	return rc.Ctx
}

// Renderer renders one section type and validates what visitors submit for it.
type Renderer interface {
	Render(sec models.Section, rc RenderContext) (View, error)
	Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error)
}

// Registry maps section types to renderers.
type Registry struct {
	renderers map[models.SectionType]Renderer
}

// NewRegistry returns a registry holding a renderer for every section type.
func NewRegistry() *Registry {
	return &Registry{renderers: map[models.SectionType]Renderer{
		models.SectionCapture:         captureRenderer{},
		models.SectionTextQuestion:    textRenderer{},
		models.SectionMultipleChoice:  choiceRenderer{},
		models.SectionSlider:          sliderRenderer{},
		models.SectionMultipleSliders: slidersRenderer{},
		models.SectionUpload:          uploadRenderer{},
		models.SectionDateTime:        dateTimeRenderer{},
		models.SectionInfo:            contentRenderer{},
		models.SectionBasicContent:    contentRenderer{},
		models.SectionHeroContent:     heroRenderer{},
		models.SectionLogic:           logicRenderer{},
		models.SectionOutput:          outputRenderer{},
		models.SectionOutputAdvanced:  advancedOutputRenderer{},
		models.SectionHTMLEmbed:       embedRenderer{},
		models.SectionDynamicRedirect: redirectRenderer{},
	}}
}

// Register replaces the renderer for t.
func (r *Registry) Register(t models.SectionType, renderer Renderer) {
	r.renderers[t] = renderer
}

func (r *Registry) Render(sec models.Section, rc RenderContext) (View, error) {
	renderer, ok := r.renderers[sec.Type]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownType, sec.Type)
	}
	return renderer.Render(sec, rc)
}

// Accept validates raw for sec. A null or missing body yields a nil value.
func (r *Registry) Accept(sec models.Section, rc RenderContext, raw json.RawMessage) (any, error) {
	renderer, ok := r.renderers[sec.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, sec.Type)
	}
	if isNull(raw) {
		return nil, nil
	}
	return renderer.Accept(sec, rc, raw)
}

func isNull(raw json.RawMessage) bool {
	s := string(raw)
	return len(raw) == 0 || s == "null" || s == `""`
}

// baseView fills the fields every section shares.
func baseView(sec models.Section, rc RenderContext, body map[string]any) View {
	if body == nil {
		body = map[string]any{}
	}
	return View{
		SectionID:   sec.ID,
		Type:        sec.Type,
		Index:       rc.Index,
		Total:       rc.Total,
		Title:       vars.Interpolate(sec.Title, rc.Vars),
		Description: vars.Interpolate(sec.Description, rc.Vars),
		Required:    sec.Required,
		ButtonText:  vars.Interpolate(common(sec).ButtonText, rc.Vars),
		Body:        body,
	}
}

// noInput is embedded by renderers of sections that collect nothing.
type noInput struct{}

func (noInput) Accept(models.Section, RenderContext, json.RawMessage) (any, error) {
	return nil, nil
}
