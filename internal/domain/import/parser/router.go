package parser

import (
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
)

// Options tune the parsers built by NewRouter.
type Options struct {
	Locale        normalizer.Locale
	Classifier    normalizer.DirectionClassifier
	ReferenceYear int
	PDFWorkers    int
}

// imageExtensions only an AI extractor can read.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".heic": true, ".gif": true,
}

// NeedsAI reports whether the file can only be read by the AI extractor.
func NeedsAI(src Source) bool {
	return imageExtensions[src.Extension()]
}

// Router dispatches a source to a parser by file extension.
type Router struct {
	parsers map[string]Parser
}

// NewRouter wires the local parsers.
func NewRouter(opts Options) *Router {
	text := &FreeTextParser{Locale: opts.Locale, Classifier: opts.Classifier}
	return &Router{parsers: map[string]Parser{
		".csv": &DelimitedParser{Locale: opts.Locale},
		".txt": text,
		".ofx": &OFXParser{},
		".pdf": &DocumentParser{
			Extractor:     &PDFExtractor{Workers: opts.PDFWorkers},
			Locale:        opts.Locale,
			Classifier:    opts.Classifier,
			ReferenceYear: opts.ReferenceYear,
		},
		".xlsx": &SpreadsheetParser{Text: text},
		".xls":  &SpreadsheetParser{Text: text, Legacy: true},
	}}
}

// Route returns the parser for src or a FormatUnsupported failure. Images
// are unsupported locally but flagged for AI extraction.
func (r *Router) Route(src Source) (Parser, error) {
	ext := src.Extension()
	if p, ok := r.parsers[ext]; ok {
		return p, nil
	}
	return nil, &ParseFailure{Kind: ErrFormatUnsupported, Extension: ext, SuggestAI: imageExtensions[ext]}
}

// Parse routes and parses in one step.
func (r *Router) Parse(src Source) (*Report, error) {
	p, err := r.Route(src)
	if err != nil {
		return nil, err
	}
	return p.Parse(src.Data)
}
