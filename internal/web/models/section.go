package models

import (
	"encoding/json"
	"time"
)

type SectionType string

const (
	SectionCapture         SectionType = "capture"
	SectionTextQuestion    SectionType = "text_question"
	SectionMultipleChoice  SectionType = "multiple_choice"
	SectionSlider          SectionType = "slider"
	SectionMultipleSliders SectionType = "multiple_sliders"
	SectionUpload          SectionType = "upload"
	SectionInfo            SectionType = "info"
	SectionBasicContent    SectionType = "basic_content"
	SectionHeroContent     SectionType = "hero_content"
	SectionLogic           SectionType = "logic"
	SectionOutput          SectionType = "output"
	SectionOutputAdvanced  SectionType = "output_advanced"
	SectionHTMLEmbed       SectionType = "html_embed"
	SectionDynamicRedirect SectionType = "dynamic_redirect"
	SectionDateTime        SectionType = "date_time"
)

// Section is one ordered step of a campaign
type Section struct {
	ID            string          `json:"id"`
	CampaignID    string          `json:"campaign_id"`
	Type          SectionType     `json:"type"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Configuration json.RawMessage `json:"configuration"`
	OrderIndex    int             `json:"order_index"`
	IsVisible     bool            `json:"is_visible"`
	Required      bool            `json:"required"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SectionOption is a choice of a multiple-choice section
type SectionOption struct {
	ID         string    `json:"id"`
	SectionID  string    `json:"section_id"`
	Label      string    `json:"label"`
	Value      string    `json:"value"`
	OrderIndex int       `json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SectionDefinition is a palette entry used when a section is dropped on the canvas
type SectionDefinition struct {
	Type          SectionType
	Title         string
	Configuration string
}

var sectionDefinitions = map[SectionType]SectionDefinition{
	SectionCapture:         {SectionCapture, "Get your results", `{"collect_name":true,"collect_phone":false,"button_text":"Continue"}`},
	SectionTextQuestion:    {SectionTextQuestion, "New question", `{"placeholder":"Type your answer","multiline":false,"max_length":500}`},
	SectionMultipleChoice:  {SectionMultipleChoice, "Choose an option", `{"allow_multiple":false,"button_text":"Next"}`},
	SectionSlider:          {SectionSlider, "How much?", `{"min":0,"max":100,"step":1,"default":50}`},
	SectionMultipleSliders: {SectionMultipleSliders, "Rate each", `{"sliders":[]}`},
	SectionUpload:          {SectionUpload, "Upload a file", `{"max_files":1,"max_size_mb":10,"accepted_types":[]}`},
	SectionInfo:            {SectionInfo, "Good to know", `{"content":"","button_text":"Continue"}`},
	SectionBasicContent:    {SectionBasicContent, "Content", `{"content":""}`},
	SectionHeroContent:     {SectionHeroContent, "Welcome", `{"headline":"","subheadline":""}`},
	SectionLogic:           {SectionLogic, "AI logic", `{"prompt":"","output_variables":[]}`},
	SectionOutput:          {SectionOutput, "Your result", `{"content":"","show_try_again":true}`},
	SectionOutputAdvanced:  {SectionOutputAdvanced, "Your result", `{"blocks":[]}`},
	SectionHTMLEmbed:       {SectionHTMLEmbed, "Embed", `{"html":""}`},
	SectionDynamicRedirect: {SectionDynamicRedirect, "Redirect", `{"url":"","method":"query","max_url_length":2000}`},
	SectionDateTime:        {SectionDateTime, "Pick a date", `{"mode":"date"}`},
}

// Definition returns the palette entry for a section type
func Definition(t SectionType) (SectionDefinition, bool) {
	d, ok := sectionDefinitions[t]
	return d, ok
}

// SectionTypes lists every known section type
func SectionTypes() []SectionType {
	return []SectionType{
		SectionCapture, SectionTextQuestion, SectionMultipleChoice, SectionSlider,
		SectionMultipleSliders, SectionUpload, SectionInfo, SectionBasicContent,
		SectionHeroContent, SectionLogic, SectionOutput, SectionOutputAdvanced,
		SectionHTMLEmbed, SectionDynamicRedirect, SectionDateTime,
	}
}
