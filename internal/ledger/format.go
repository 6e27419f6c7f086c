package ledger

import (
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/conneroisu/tally/internal/errors"
)

// Formatter renders money, categories and months for one locale.
type Formatter struct {
	tag     language.Tag
	unit    currency.Unit
	printer *message.Printer

	mu    sync.Mutex
	title cases.Caser
}

// NewFormatter creates a Formatter for a BCP 47 locale and an ISO 4217
// currency code.
func NewFormatter(locale, code string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "unknown locale "+locale)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "unknown currency "+code)
	}
	return &Formatter{
		tag:     tag,
		unit:    unit,
		printer: message.NewPrinter(tag),
		title:   cases.Title(tag),
	}, nil
}

// Money formats an amount in minor units with the currency symbol.
func (f *Formatter) Money(minor int64) string {
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(float64(minor) / 100)))
}

// Count formats an integer with locale grouping.
func (f *Formatter) Count(n int) string {
	return f.printer.Sprintf("%d", n)
}

// Category title-cases a category name.
func (f *Formatter) Category(c string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title.String(c)
}

// Month formats the first day of a month as its heading.
func (f *Formatter) Month(t time.Time) string {
	return f.Category(t.Format("January 2006"))
}

// Currency returns the ISO code.
func (f *Formatter) Currency() string {
	return f.unit.String()
}
