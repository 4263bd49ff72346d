package flow

import (
	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

type contentRenderer struct{ noInput }

func (contentRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg ContentConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	return baseView(sec, rc, map[string]any{
		"content":   vars.Interpolate(cfg.Content, rc.Vars),
		"image_url": vars.InterpolateURL(cfg.ImageURL, rc.Vars),
	}), nil
}

type heroRenderer struct{ noInput }

func (heroRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg HeroConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	return baseView(sec, rc, map[string]any{
		"headline":    vars.Interpolate(cfg.Headline, rc.Vars),
		"subheadline": vars.Interpolate(cfg.Subheadline, rc.Vars),
		"image_url":   cfg.ImageURL,
	}), nil
}

// logicRenderer shows a placeholder while the section runs. The prompt
// never leaves the server.
type logicRenderer struct{ noInput }

func (logicRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	return baseView(sec, rc, map[string]any{"status": "processing"}), nil
}

type outputRenderer struct{ noInput }

func (outputRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg OutputConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	return baseView(sec, rc, map[string]any{
		"content":        vars.Interpolate(cfg.Content, rc.Vars),
		"show_try_again": cfg.ShowTryAgain,
		"share_enabled":  cfg.ShareEnabled,
	}), nil
}

type advancedOutputRenderer struct{ noInput }

func (advancedOutputRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg OutputAdvancedConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}

	blocks := make([]Block, len(cfg.Blocks))
	for i, b := range cfg.Blocks {
		content := vars.Interpolate(b.Content, rc.Vars)
		if b.Kind == "html" {
			content = vars.InterpolateHTML(b.Content, rc.Vars)
		}
		blocks[i] = Block{
			Kind:    b.Kind,
			Content: content,
			URL:     vars.InterpolateURL(b.URL, rc.Vars),
			Label:   vars.Interpolate(b.Label, rc.Vars),
		}
	}
	return baseView(sec, rc, map[string]any{
		"blocks":         blocks,
		"show_try_again": cfg.ShowTryAgain,
		"share_enabled":  cfg.ShareEnabled,
	}), nil
}

type embedRenderer struct{ noInput }

func (embedRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg HTMLEmbedConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	return baseView(sec, rc, map[string]any{
		"html":   vars.InterpolateHTML(cfg.HTML, rc.Vars),
		"height": cfg.Height,
	}), nil
}

type redirectRenderer struct{ noInput }

func (redirectRenderer) Render(sec models.Section, rc RenderContext) (View, error) {
	var cfg RedirectConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return View{}, err
	}
	transfer, err := BuildTransfer(rc.context(), cfg, rc.Vars, rc.Transfers)
	if err != nil {
		return View{}, err
	}
	return baseView(sec, rc, map[string]any{
		"transfer":        transfer,
		"delay_seconds":   cfg.DelaySeconds,
		"open_in_new_tab": cfg.OpenInNewTab,
	}), nil
}
