package flow

import (
	"encoding/json"
	"fmt"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/web/models"
)

// Section configurations as stored in sections.configuration.

type CaptureConfig struct {
	CollectName  bool   `json:"collect_name"`
	CollectPhone bool   `json:"collect_phone"`
	ButtonText   string `json:"button_text"`
}

type TextQuestionConfig struct {
	Placeholder string `json:"placeholder"`
	Multiline   bool   `json:"multiline"`
	MaxLength   int    `json:"max_length"`
}

type MultipleChoiceConfig struct {
	AllowMultiple bool   `json:"allow_multiple"`
	ButtonText    string `json:"button_text"`
}

type SliderConfig struct {
	Min        float64  `json:"min"`
	Max        float64  `json:"max"`
	Step       float64  `json:"step"`
	Default    *float64 `json:"default"`
	Unit       string   `json:"unit"`
	LeftLabel  string   `json:"left_label"`
	RightLabel string   `json:"right_label"`
}

type SliderItem struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	VariableName string   `json:"variable_name"`
	Min          float64  `json:"min"`
	Max          float64  `json:"max"`
	Step         float64  `json:"step"`
	Default      *float64 `json:"default"`
}

type MultipleSlidersConfig struct {
	Sliders []SliderItem `json:"sliders"`
}

type UploadConfig struct {
	MaxFiles      int      `json:"max_files"`
	MaxSizeMB     float64  `json:"max_size_mb"`
	AcceptedTypes []string `json:"accepted_types"`
}

type DateTimeConfig struct {
	Mode string `json:"mode"`
	Min  string `json:"min"`
	Max  string `json:"max"`
}

type ContentConfig struct {
	Content    string `json:"content"`
	ImageURL   string `json:"image_url"`
	ButtonText string `json:"button_text"`
}

type HeroConfig struct {
	Headline    string `json:"headline"`
	Subheadline string `json:"subheadline"`
	ImageURL    string `json:"image_url"`
	ButtonText  string `json:"button_text"`
}

type LogicConfig struct {
	Prompt               string                 `json:"prompt"`
	OutputVariables      []ai.OutputVariable    `json:"output_variables"`
	HasFileVariables     bool                   `json:"has_file_variables"`
	FileVariableNames    []string               `json:"file_variable_names"`
	KnowledgeBaseContext string                 `json:"knowledge_base_context"`
	KnowledgeBaseFiles   []ai.KnowledgeBaseFile `json:"knowledge_base_files"`
}

type OutputConfig struct {
	Content      string `json:"content"`
	ShowTryAgain bool   `json:"show_try_again"`
	ShareEnabled bool   `json:"share_enabled"`
}

// Block is one element of an advanced output section.
type Block struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
	URL     string `json:"url"`
	Label   string `json:"label"`
}

type OutputAdvancedConfig struct {
	Blocks       []Block `json:"blocks"`
	ShowTryAgain bool    `json:"show_try_again"`
	ShareEnabled bool    `json:"share_enabled"`
}

type HTMLEmbedConfig struct {
	HTML   string `json:"html"`
	Height int    `json:"height"`
}

type RedirectConfig struct {
	URL          string         `json:"url"`
	Method       TransferMethod `json:"method"`
	StorageKey   string         `json:"storage_key"`
	MaxURLLength int            `json:"max_url_length"`
	Variables    []string       `json:"variables"`
	DelaySeconds int            `json:"delay_seconds"`
	OpenInNewTab bool           `json:"open_in_new_tab"`
}

type commonConfig struct {
	Aliases    []string `json:"aliases"`
	ButtonText string   `json:"button_text"`
}

func decodeConfig(sec models.Section, dst any) error {
	if len(sec.Configuration) == 0 {
		return nil
	}
	if err := json.Unmarshal(sec.Configuration, dst); err != nil {
		return fmt.Errorf("%w: section %s: %v", ErrBadConfig, sec.ID, err)
	}
	return nil
}

func common(sec models.Section) commonConfig {
	var c commonConfig
	_ = decodeConfig(sec, &c)
	return c
}
