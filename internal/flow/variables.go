package flow

import (
	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

// IsQuestion reports whether a section type collects a visitor value.
func IsQuestion(t models.SectionType) bool {
	switch t {
	case models.SectionCapture,
		models.SectionTextQuestion,
		models.SectionMultipleChoice,
		models.SectionSlider,
		models.SectionMultipleSliders,
		models.SectionUpload,
		models.SectionDateTime:
		return true
	}
	return false
}

// BuildVars turns stored responses into named variables. Sections without
// a value contribute nothing, and later sections win on name collisions.
func BuildVars(sections []models.Section, responses Responses) vars.Vars {
	v := make(vars.Vars)
	for i, sec := range sections {
		if !IsQuestion(sec.Type) {
			continue
		}
		value, ok := responses[sec.ID]
		if !ok || value == nil {
			continue
		}

		switch sec.Type {
		case models.SectionMultipleSliders:
			var cfg MultipleSlidersConfig
			if decodeConfig(sec, &cfg) != nil {
				continue
			}
			values, _ := value.(map[string]any)
			for j, s := range cfg.Sliders {
				name := sliderVarName(s, j)
				if val, ok := values[s.ID]; ok && val != nil {
					v[name] = val
				} else if val, ok := values[name]; ok && val != nil {
					v[name] = val
				}
			}
		case models.SectionUpload:
			if files, ok := vars.Files(value); ok {
				v[vars.DeriveName(sec.Title, i)] = files
			}
		default:
			v[vars.DeriveName(sec.Title, i)] = value
		}
	}
	return v
}

// MergeVars overlays AI outputs on the input variables.
func MergeVars(input vars.Vars, ai map[string]string) vars.Vars {
	return vars.Merge(input, ai)
}

func sliderVarName(s SliderItem, index int) string {
	if s.VariableName != "" {
		return s.VariableName
	}
	if s.Label != "" {
		return vars.DeriveName(s.Label, index)
	}
	return s.ID
}
