package normalizer

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Direction tells whether money came in or went out.
type Direction string

const (
	Income  Direction = "income"
	Expense Direction = "expense"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool { return d == Income || d == Expense }

// Opposite flips income and expense.
func (d Direction) Opposite() Direction {
	if d == Income {
		return Expense
	}
	return Income
}

// DirectionFromSign maps positive amounts to income and everything else to
// expense.
func DirectionFromSign(signed decimal.Decimal) Direction {
	if signed.IsPositive() {
		return Income
	}
	return Expense
}

// Classification is a direction plus whether a keyword decided it.
type Classification struct {
	Direction Direction
	ByKeyword bool
}

// DirectionClassifier decides a row's direction from its description and
// signed amount.
type DirectionClassifier interface {
	Classify(description string, signed decimal.Decimal) Classification
}

// SignClassifier uses the amount sign only.
type SignClassifier struct{}

func (SignClassifier) Classify(_ string, signed decimal.Decimal) Classification {
	return Classification{Direction: DirectionFromSign(signed)}
}

// Default keyword sets, compared against accent-folded uppercase tokens.
var (
	DefaultIncomeKeywords = []string{
		"RECEBIDO", "RECEBIDA", "RECEIVED", "CREDITO", "CREDIT",
		"RENDIMENTO", "RENDIMENTOS", "DEPOSITO", "DEPOSIT", "ESTORNO", "SALARIO",
	}
	DefaultExpenseKeywords = []string{
		"ENVIADO", "ENVIADA", "SENT", "DEBITO", "DEBIT", "PAGAMENTO", "PAYMENT",
		"BOLETO", "FATURA", "BILL", "TARIFA", "COMPRA", "SAQUE",
	}
)

// KeywordClassifier lets description keywords override the amount sign. When
// both an income and an expense keyword appear, or none does, the sign
// decides.
type KeywordClassifier struct {
	Income  []string
	Expense []string
}

// NewKeywordClassifier returns a classifier with the default keyword sets.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{Income: DefaultIncomeKeywords, Expense: DefaultExpenseKeywords}
}

func (k *KeywordClassifier) Classify(description string, signed decimal.Decimal) Classification {
	tokens := keywordTokens(description)
	income := containsAny(tokens, k.Income)
	expense := containsAny(tokens, k.Expense)
	switch {
	case income && !expense:
		return Classification{Direction: Income, ByKeyword: true}
	case expense && !income:
		return Classification{Direction: Expense, ByKeyword: true}
	}
	return Classification{Direction: DirectionFromSign(signed)}
}

func keywordTokens(s string) map[string]struct{} {
	folded := strings.ToUpper(FoldAccents(s))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func containsAny(tokens map[string]struct{}, words []string) bool {
	for _, w := range words {
		if _, ok := tokens[w]; ok {
			return true
		}
	}
	return false
}
