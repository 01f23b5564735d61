package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
	"github.com/HenriqueDutra22/Mycash/pkg/observability"
)

// ErrAIUnavailable is returned when a document needs AI extraction but no
// extractor is configured.
var ErrAIUnavailable = errors.New("AI extraction is not available")

// ExtractOptions tune one extraction.
type ExtractOptions struct {
	// UseAI forces the AI path.
	UseAI bool
	// Locale overrides the default amount locale: "auto", "br" or "us".
	Locale string
}

// AIExtractor reads documents the local parsers cannot.
type AIExtractor interface {
	Extract(ctx context.Context, src parser.Source) (*parser.Report, error)
}

// Orchestrator picks a parser by extension and falls back to AI extraction
// for images, on request, or (when enabled) after a local failure that
// suggests it.
type Orchestrator struct {
	router       *parser.Router
	byLocale     map[string]*parser.Router
	ai           AIExtractor
	autoFallback bool
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewOrchestrator creates an Orchestrator. ai may be nil.
func NewOrchestrator(opts parser.Options, ai AIExtractor, autoFallback bool, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Locale == nil {
		opts.Locale = normalizer.Auto
	}
	byLocale := make(map[string]*parser.Router, 3)
	for _, loc := range []normalizer.Locale{normalizer.Auto, normalizer.BR, normalizer.US} {
		o := opts
		o.Locale = loc
		byLocale[loc.Name()] = parser.NewRouter(o)
	}
	if _, ok := byLocale[opts.Locale.Name()]; !ok {
		byLocale[opts.Locale.Name()] = parser.NewRouter(opts)
	}
	return &Orchestrator{
		router:       byLocale[opts.Locale.Name()],
		byLocale:     byLocale,
		ai:           ai,
		autoFallback: autoFallback,
		logger:       logger,
		tracer:       otel.Tracer("mycash/import"),
	}
}

// AIEnabled reports whether an AI extractor is wired.
func (o *Orchestrator) AIEnabled() bool { return o.ai != nil }

// Extract parses src.
func (o *Orchestrator) Extract(ctx context.Context, src parser.Source, opts ExtractOptions) (*parser.Report, error) {
	l := o.logger.With(slog.String("method", "Extract"), slog.String("file", src.FileName))

	ctx, span := o.tracer.Start(ctx, "import.Extract", trace.WithAttributes(
		attribute.String("import.extension", src.Extension()),
		attribute.Int("import.bytes", len(src.Data)),
		attribute.Bool("import.use_ai", opts.UseAI),
	))
	defer span.End()

	router, err := o.routerFor(opts.Locale)
	if err != nil {
		return nil, err
	}
	report, err := o.extract(ctx, l, router, src, opts.UseAI)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("import.format", string(report.Format)),
		attribute.Int("import.candidates", len(report.Candidates)),
		attribute.Int("import.diagnostics", len(report.Diagnostics)),
	)
	l.Info("Statement parsed",
		slog.String("format", string(report.Format)),
		slog.Int("candidates", len(report.Candidates)),
		slog.Int("diagnostics", len(report.Diagnostics)))
	return report, nil
}

func (o *Orchestrator) routerFor(locale string) (*parser.Router, error) {
	if locale == "" {
		return o.router, nil
	}
	loc, err := normalizer.LocaleByName(locale)
	if err != nil {
		return nil, err
	}
	return o.byLocale[loc.Name()], nil
}

func (o *Orchestrator) extract(ctx context.Context, l *slog.Logger, router *parser.Router, src parser.Source, useAI bool) (*parser.Report, error) {
	if useAI || parser.NeedsAI(src) {
		if o.ai == nil {
			if useAI {
				return nil, ErrAIUnavailable
			}
			_, err := router.Route(src)
			return nil, err
		}
		return o.runAI(ctx, src)
	}

	p, err := router.Route(src)
	if err != nil {
		observability.ObserveParse("", "unsupported", 0, 0, 0)
		return nil, err
	}

	start := time.Now()
	report, parseErr := p.Parse(src.Data)
	format := string(p.Format())
	if parseErr == nil {
		observability.ObserveParse(format, "ok", len(report.Candidates), len(report.Diagnostics), time.Since(start))
		return report, nil
	}

	failure, isFailure := parser.AsFailure(parseErr)
	diagnostics := 0
	if isFailure {
		diagnostics = len(failure.Diagnostics)
	}
	observability.ObserveParse(format, "failed", 0, diagnostics, time.Since(start))

	if !isFailure || !failure.SuggestAI || !o.autoFallback || o.ai == nil {
		return nil, parseErr
	}

	l.Info("Local parse failed, trying AI extraction", slog.Any("error", parseErr))
	report, aiErr := o.runAI(ctx, src)
	if aiErr != nil {
		l.Warn("AI fallback failed", slog.Any("error", aiErr))
		return nil, parseErr
	}
	return report, nil
}

func (o *Orchestrator) runAI(ctx context.Context, src parser.Source) (*parser.Report, error) {
	ctx, span := o.tracer.Start(ctx, "import.ExtractAI")
	defer span.End()

	start := time.Now()
	report, err := o.ai.Extract(ctx, src)
	if err != nil {
		span.RecordError(err)
		observability.ObserveParse(string(parser.FormatAI), "failed", 0, 0, time.Since(start))
		return nil, fmt.Errorf("ai extraction: %w", err)
	}
	observability.ObserveParse(string(parser.FormatAI), "ok", len(report.Candidates), len(report.Diagnostics), time.Since(start))
	return report, nil
}
