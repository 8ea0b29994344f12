package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NotConfiguredNotice is returned as the reply while no model is configured.
const NotConfiguredNotice = "⚠️ AI not configured. Please set GEMINI_API_KEY environment variable."

const apologyFormat = "Desculpe, ocorreu um erro ao processar sua solicitação. (ref: %s)"

// Model is a text-in, text-out generative model.
type Model interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Generator turns a prompt into a reply. Implementations never return errors;
// failures are reported through Result.
type Generator interface {
	Configured() bool
	Generate(ctx context.Context, prompt string) Result
}

// FailureKind classifies why a generation failed.
type FailureKind string

const (
	FailureTimeout  FailureKind = "timeout"
	FailureCanceled FailureKind = "canceled"
	FailureModel    FailureKind = "model"
	FailureEmpty    FailureKind = "empty"
)

// Failure describes a failed generation. Ref is safe to show to users; Err is
// only logged.
type Failure struct {
	Kind FailureKind
	Ref  string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation %s (ref %s): %v", f.Kind, f.Ref, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is the outcome of one generation.
type Result struct {
	Text    string
	Failure *Failure
}

// Failed reports whether the model could not produce text.
func (r Result) Failed() bool { return r.Failure != nil }

// Reply collapses the result into the text shown to the user.
func (r Result) Reply() string {
	if r.Failure != nil {
		return fmt.Sprintf(apologyFormat, r.Failure.Ref)
	}
	return r.Text
}

// Unconfigured is the generator used when no model credential is available.
type Unconfigured struct{}

func (Unconfigured) Configured() bool { return false }

func (Unconfigured) Generate(context.Context, string) Result {
	return Result{Text: NotConfiguredNotice}
}

// ModelGenerator invokes a Model under a timeout and absorbs its failures.
type ModelGenerator struct {
	model   Model
	timeout time.Duration
}

// NewModelGenerator wraps m. A zero timeout leaves the call bounded only by ctx.
func NewModelGenerator(m Model, timeout time.Duration) *ModelGenerator {
	return &ModelGenerator{model: m, timeout: timeout}
}

func (g *ModelGenerator) Configured() bool { return true }

type modelOutcome struct {
	text string
	err  error
}

func (g *ModelGenerator) Generate(ctx context.Context, prompt string) Result {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan modelOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- modelOutcome{err: fmt.Errorf("model panicked: %v", r)}
			}
		}()
		text, err := g.model.Generate(ctx, prompt)
		done <- modelOutcome{text: text, err: err}
	}()

	var out modelOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = modelOutcome{err: ctx.Err()}
	}

	switch {
	case out.err != nil && errors.Is(out.err, context.DeadlineExceeded):
		return g.fail(FailureTimeout, out.err, start)
	case out.err != nil && errors.Is(out.err, context.Canceled):
		return g.fail(FailureCanceled, out.err, start)
	case out.err != nil:
		return g.fail(FailureModel, out.err, start)
	case strings.TrimSpace(out.text) == "":
		return g.fail(FailureEmpty, errors.New("model returned no text"), start)
	}

	log.Debug().
		Str("model", g.model.Name()).
		Int("length", len(out.text)).
		Dur("duration", time.Since(start)).
		Msg("generated reply")
	return Result{Text: out.text}
}

func (g *ModelGenerator) fail(kind FailureKind, err error, start time.Time) Result {
	ref := strings.SplitN(uuid.NewString(), "-", 2)[0]
	log.Error().
		Err(err).
		Str("model", g.model.Name()).
		Str("kind", string(kind)).
		Str("ref", ref).
		Dur("duration", time.Since(start)).
		Msg("generation failed")
	return Result{Failure: &Failure{Kind: kind, Ref: ref, Err: err}}
}
