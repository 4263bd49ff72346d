package flow

import (
	"errors"
	"strings"

	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

var (
	ErrRequired    = errors.New("this section requires an answer")
	ErrNotReached  = errors.New("section has not been reached yet")
	ErrCompleted   = errors.New("campaign already completed")
	ErrBadConfig   = errors.New("invalid section configuration")
	ErrUnknownType = errors.New("unknown section type")
)

// Responses holds the latest value per section id and alias.
type Responses map[string]any

// Set stores value under the section id and every alias.
func (r Responses) Set(sectionID string, aliases []string, value any) {
	r[sectionID] = value
	for _, a := range aliases {
		if a != "" {
			r[a] = value
		}
	}
}

// State is the persisted position of one visitor run.
type State struct {
	Index      int       `json:"index"`
	MaxReached int       `json:"max_reached"`
	Completed  bool      `json:"completed"`
	Responses  Responses `json:"responses"`
}

// Controller moves a State through an ordered list of sections.
type Controller struct {
	sections []models.Section
	state    *State
}

func NewController(sections []models.Section, state *State) *Controller {
	if state.Responses == nil {
		state.Responses = make(Responses)
	}
	return &Controller{sections: sections, state: state}
}

func (c *Controller) State() *State {
	return c.state
}

func (c *Controller) Sections() []models.Section {
	return c.sections
}

// Current returns the section at the current index.
func (c *Controller) Current() (models.Section, bool) {
	if c.state.Completed || c.state.Index < 0 || c.state.Index >= len(c.sections) {
		return models.Section{}, false
	}
	return c.sections[c.state.Index], true
}

// Next records value for the current section and advances. Moving past the
// last section completes the run.
func (c *Controller) Next(value any) error {
	sec, ok := c.Current()
	if !ok {
		return ErrCompleted
	}
	if sec.Required && IsQuestion(sec.Type) && IsEmpty(value) {
		return ErrRequired
	}

	if value != nil {
		c.state.Responses.Set(sec.ID, common(sec).Aliases, value)
	}

	if c.state.Index+1 >= len(c.sections) {
		c.state.Completed = true
		return nil
	}
	c.state.Index++
	if c.state.Index > c.state.MaxReached {
		c.state.MaxReached = c.state.Index
	}
	return nil
}

// Previous steps back one section.
func (c *Controller) Previous() {
	if c.state.Completed {
		return
	}
	if c.state.Index > 0 {
		c.state.Index--
	}
}

// PreviousSkippingLogic steps back to the nearest non-logic section and
// stays put when only logic sections precede.
func (c *Controller) PreviousSkippingLogic() {
	if c.state.Completed {
		return
	}
	for i := c.state.Index - 1; i >= 0; i-- {
		if c.sections[i].Type != models.SectionLogic {
			c.state.Index = i
			return
		}
	}
}

// NavigateTo jumps to index i, which must be the first section or one the
// visitor has already reached.
func (c *Controller) NavigateTo(i int) error {
	if c.state.Completed {
		return ErrCompleted
	}
	if i < 0 || i >= len(c.sections) || (i != 0 && i > c.state.MaxReached) {
		return ErrNotReached
	}
	c.state.Index = i
	return nil
}

// Reset starts the run over with no responses.
func (c *Controller) Reset() {
	c.state.Index = 0
	c.state.MaxReached = 0
	c.state.Completed = false
	c.state.Responses = make(Responses)
}

// IsEmpty reports whether a submitted value counts as no answer.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case []vars.FileDescriptor:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
