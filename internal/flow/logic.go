package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

const DefaultFailOpenDelay = 2 * time.Second

var (
	ErrLogicFailed = errors.New("logic section failed")
	ErrNoResolver  = errors.New("no file resolver configured")
)

// FileResolver loads the bytes of an uploaded file.
type FileResolver interface {
	Resolve(ctx context.Context, fd vars.FileDescriptor) ([]byte, error)
}

// LogicOutcome reports how a logic section finished. Err is set when the
// call failed and the flow continued without outputs.
type LogicOutcome struct {
	Outputs map[string]string
	Err     error
	Skipped bool
}

type LogicOptions struct {
	Completer     ai.Completer
	Files         FileResolver
	Cache         ResultsCache
	Scope         Scope
	FailOpenDelay time.Duration
	Logger        *slog.Logger
	OnComplete    func(LogicOutcome)
}

// LogicRunner executes one visit of a logic section. The call is made at
// most once and OnComplete fires exactly once, even when the call fails.
type LogicRunner struct {
	section models.Section
	cfg     LogicConfig
	opts    LogicOptions

	started   atomic.Bool
	completed atomic.Bool
}

func NewLogicRunner(sec models.Section, opts LogicOptions) (*LogicRunner, error) {
	var cfg LogicConfig
	if err := decodeConfig(sec, &cfg); err != nil {
		return nil, err
	}
	if opts.FailOpenDelay <= 0 {
		opts.FailOpenDelay = DefaultFailOpenDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "logic", "section_id", sec.ID)
	return &LogicRunner{section: sec, cfg: cfg, opts: opts}, nil
}

// Run calls the completer with v and stores the declared outputs. On
// failure it waits for the fail-open delay and completes anyway.
func (r *LogicRunner) Run(ctx context.Context, v vars.Vars) LogicOutcome {
	if !r.started.CompareAndSwap(false, true) {
		return LogicOutcome{Skipped: true}
	}

	outputs, err := r.call(ctx, v)
	if err != nil {
		r.opts.Logger.Warn("logic call failed, continuing without outputs", "error", err)
		timer := time.NewTimer(r.opts.FailOpenDelay)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}

	outcome := LogicOutcome{Outputs: outputs, Err: err}
	r.complete(outcome)
	return outcome
}

func (r *LogicRunner) complete(outcome LogicOutcome) {
	if !r.completed.CompareAndSwap(false, true) {
		return
	}
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(outcome)
	}
}

func (r *LogicRunner) call(ctx context.Context, v vars.Vars) (map[string]string, error) {
	if r.opts.Completer == nil {
		return nil, fmt.Errorf("%w: no completer", ErrLogicFailed)
	}

	req := &ai.CompletionRequest{
		Prompt:               r.cfg.Prompt,
		Variables:            v.Strings(),
		OutputVariables:      r.cfg.OutputVariables,
		KnowledgeBaseContext: r.cfg.KnowledgeBaseContext,
		KnowledgeBaseFiles:   r.cfg.KnowledgeBaseFiles,
	}

	names, files := r.fileVariables(v)
	req.HasFileVariables = r.cfg.HasFileVariables || len(names) > 0
	req.FileVariableNames = names
	if len(files) > 0 {
		parts, err := r.resolveFiles(ctx, files)
		if err != nil {
			return nil, err
		}
		req.Files = parts
	}

	resp, err := r.opts.Completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || !resp.Success {
		msg := ""
		if resp != nil {
			msg = resp.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrLogicFailed, msg)
	}

	outputs := make(map[string]string, len(r.cfg.OutputVariables))
	for _, o := range r.cfg.OutputVariables {
		if val, ok := resp.Outputs[o.Name]; ok {
			outputs[o.Name] = val
		}
	}

	if r.opts.Cache != nil {
		if err := r.opts.Cache.Store(ctx, r.opts.Scope, outputs); err != nil {
			return nil, fmt.Errorf("failed to cache logic outputs: %w", err)
		}
	}
	return outputs, nil
}

type fileRef struct {
	variable string
	fd       vars.FileDescriptor
}

// fileVariables collects the file-valued variables named by the
// configuration or referenced from the prompt.
func (r *LogicRunner) fileVariables(v vars.Vars) ([]string, []fileRef) {
	candidates := append(append([]string{}, r.cfg.FileVariableNames...), vars.Tokens(r.cfg.Prompt)...)

	seen := make(map[string]bool)
	var names []string
	var refs []fileRef
	for _, name := range candidates {
		if seen[name] {
			continue
		}
		seen[name] = true

		files, ok := vars.Files(v[name])
		if !ok {
			continue
		}
		names = append(names, name)
		for _, fd := range files {
			refs = append(refs, fileRef{variable: name, fd: fd})
		}
	}
	return names, refs
}

func (r *LogicRunner) resolveFiles(ctx context.Context, refs []fileRef) ([]ai.FilePart, error) {
	if r.opts.Files == nil {
		return nil, ErrNoResolver
	}

	parts := make([]ai.FilePart, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			data, err := r.opts.Files.Resolve(gctx, ref.fd)
			if err != nil {
				return fmt.Errorf("failed to load file %s: %w", ref.fd.Name, err)
			}
			parts[i] = ai.FilePart{
				Variable:    ref.variable,
				Filename:    ref.fd.Name,
				ContentType: ref.fd.Type,
				Data:        data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}
