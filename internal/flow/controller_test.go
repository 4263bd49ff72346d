package flow

import (
	"errors"
	"testing"

	"github.com/foxzi/flint/internal/web/models"
)

func newTestController() *Controller {
	q1 := section("q1", models.SectionTextQuestion, "Name", `{"aliases":["first_name"]}`)
	q1.Required = true
	return NewController([]models.Section{
		q1,
		section("l1", models.SectionLogic, "Think", `{}`),
		section("l2", models.SectionLogic, "Think more", `{}`),
		section("o1", models.SectionOutput, "Result", `{}`),
	}, &State{})
}

func TestControllerNext(t *testing.T) {
	c := newTestController()

	if err := c.Next(nil); !errors.Is(err, ErrRequired) {
		t.Fatalf("Next(nil) on required section error = %v, want ErrRequired", err)
	}
	if err := c.Next("   "); !errors.Is(err, ErrRequired) {
		t.Fatalf("Next(blank) error = %v, want ErrRequired", err)
	}
	if c.State().Index != 0 {
		t.Fatalf("Index = %d after rejected Next, want 0", c.State().Index)
	}

	if err := c.Next("Ada"); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	st := c.State()
	if st.Index != 1 || st.MaxReached != 1 {
		t.Errorf("Index/MaxReached = %d/%d, want 1/1", st.Index, st.MaxReached)
	}
	if st.Responses["q1"] != "Ada" || st.Responses["first_name"] != "Ada" {
		t.Errorf("Responses = %v, want value under id and alias", st.Responses)
	}

	for i := 0; i < 3; i++ {
		if err := c.Next(nil); err != nil {
			t.Fatalf("Next() step %d error = %v", i, err)
		}
	}
	if !st.Completed {
		t.Fatal("Completed = false after last section")
	}
	if _, ok := c.Current(); ok {
		t.Error("Current() ok after completion")
	}
	if err := c.Next(nil); !errors.Is(err, ErrCompleted) {
		t.Errorf("Next() after completion error = %v, want ErrCompleted", err)
	}
}

func TestControllerPreviousSkippingLogic(t *testing.T) {
	c := newTestController()
	c.Next("Ada")
	c.Next(nil)
	c.Next(nil)

	if c.State().Index != 3 {
		t.Fatalf("Index = %d, want 3", c.State().Index)
	}
	c.PreviousSkippingLogic()
	if c.State().Index != 0 {
		t.Errorf("PreviousSkippingLogic() Index = %d, want 0", c.State().Index)
	}

	c.NavigateTo(2)
	c.Previous()
	if c.State().Index != 1 {
		t.Errorf("Previous() Index = %d, want 1", c.State().Index)
	}
}

func TestControllerPreviousStaysWhenOnlyLogicPrecedes(t *testing.T) {
	c := NewController([]models.Section{
		section("l1", models.SectionLogic, "", `{}`),
		section("o1", models.SectionOutput, "", `{}`),
	}, &State{})
	c.Next(nil)
	c.PreviousSkippingLogic()
	if c.State().Index != 1 {
		t.Errorf("Index = %d, want to stay at 1", c.State().Index)
	}
}

func TestControllerNavigateTo(t *testing.T) {
	c := newTestController()

	if err := c.NavigateTo(2); !errors.Is(err, ErrNotReached) {
		t.Errorf("NavigateTo(2) error = %v, want ErrNotReached", err)
	}
	if err := c.NavigateTo(-1); !errors.Is(err, ErrNotReached) {
		t.Errorf("NavigateTo(-1) error = %v, want ErrNotReached", err)
	}

	c.Next("Ada")
	c.Next(nil)
	c.Next(nil)
	if err := c.NavigateTo(2); err != nil {
		t.Errorf("NavigateTo(reached) error = %v", err)
	}
	if err := c.NavigateTo(0); err != nil {
		t.Errorf("NavigateTo(0) error = %v", err)
	}
	if c.State().MaxReached != 3 {
		t.Errorf("MaxReached = %d, want 3", c.State().MaxReached)
	}
}

func TestControllerReset(t *testing.T) {
	c := newTestController()
	c.Next("Ada")
	c.Reset()

	st := c.State()
	if st.Index != 0 || st.MaxReached != 0 || st.Completed || len(st.Responses) != 0 {
		t.Errorf("Reset() state = %+v", st)
	}
}

func TestIsEmpty(t *testing.T) {
	empties := []any{nil, "", "  ", []string{}, []any{}, map[string]any{}}
	for _, v := range empties {
		if !IsEmpty(v) {
			t.Errorf("IsEmpty(%#v) = false", v)
		}
	}
	values := []any{"x", float64(0), false, []string{"a"}}
	for _, v := range values {
		if IsEmpty(v) {
			t.Errorf("IsEmpty(%#v) = true", v)
		}
	}
}
