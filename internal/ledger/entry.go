package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/tally/internal/decode"
	"github.com/conneroisu/tally/internal/store"
	"github.com/conneroisu/tally/internal/validation"
)

// DateLayout is the format of entry dates.
const DateLayout = "2006-01-02"

// Bucket is the store bucket entries are persisted in.
const Bucket = "entries"

// Entry is one income (positive) or expense (negative) on a day. Amounts
// are in minor currency units.
type Entry struct {
	Seq      uint64 `json:"-"`
	Date     string `json:"date"`
	Amount   int64  `json:"amount"`
	Category string `json:"category"`
	Note     string `json:"note,omitempty"`
	Imported bool   `json:"-"`
}

// Key identifies the entry in keyed lists.
func (e Entry) Key() string {
	if e.Imported {
		return fmt.Sprintf("i-%s-%s-%d", e.Date, e.Category, e.Amount)
	}
	return fmt.Sprintf("s-%d", e.Seq)
}

var dateDecoder = decode.OneOf(
	decode.AndThen(decode.String(), func(s string) decode.Decoder[string] {
		if _, err := time.Parse(DateLayout, s); err != nil {
			return decode.Fail[string]("Expecting a date like 2006-01-02")
		}
		return decode.Succeed(s)
	}),
	// YAML timestamps may already be parsed.
	func(v any) (string, error) {
		if t, ok := v.(time.Time); ok {
			return t.Format(DateLayout), nil
		}
		return decode.Fail[string]("Expecting a date")(v)
	},
)

// amountDecoder reads a decimal amount in major units.
var amountDecoder = decode.AndThen(decode.Float(), func(f float64) decode.Decoder[int64] {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > 1e12 {
		return decode.Fail[int64]("Expecting a reasonable amount")
	}
	return decode.Succeed(int64(math.Round(f * 100)))
})

// EntryDecoder decodes {"date":"2026-10-03","amount":-12.5,"category":"food","note":"..."}.
// category defaults to "general".
var EntryDecoder = entryDecoder(amountDecoder)

// storedDecoder reads entries as encode writes them, with minor-unit
// amounts.
var storedDecoder = entryDecoder(decode.Map(decode.Int(), func(i int) int64 { return int64(i) }))

func entryDecoder(amountOf decode.Decoder[int64]) decode.Decoder[Entry] {
	return func(v any) (Entry, error) {
		return decodeEntry(v, amountOf)
	}
}

func decodeEntry(v any, amountOf decode.Decoder[int64]) (Entry, error) {
	date, err := decode.Field("date", dateDecoder)(v)
	if err != nil {
		return Entry{}, err
	}
	amount, err := decode.Field("amount", amountOf)(v)
	if err != nil {
		return Entry{}, err
	}
	category, err := decode.Optional("category", decode.String(), "general")(v)
	if err != nil {
		return Entry{}, err
	}
	note, err := decode.Optional("note", decode.String(), "")(v)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Date:     date,
		Amount:   amount,
		Category: normalizeCategory(category),
		Note:     strings.TrimSpace(validation.SanitizeInput(note)),
	}, nil
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(validation.SanitizeInput(c)))
	if c == "" {
		return "general"
	}
	return c
}

// encode is the stored form of an entry.
func encode(e Entry) []byte {
	data, _ := json.Marshal(e)
	return data
}

// decodeStored reads entries back from the store, skipping records that
// no longer decode.
func decodeStored(kvs []store.KV) (entries []Entry, skipped int) {
	for _, kv := range kvs {
		e, err := decode.DecodeJSON(storedDecoder, kv.Value)
		if err != nil {
			skipped++
			continue
		}
		e.Seq = store.UnmarshalSeq(kv.Key)
		entries = append(entries, e)
	}
	return entries, skipped
}

// LoadImport reads entries from a YAML file of the form
//
//	entries:
//	  - date: 2026-10-03
//	    amount: -12.50
//	    category: food
func LoadImport(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if raw == nil {
		return nil, nil
	}
	entries, err := decode.Optional("entries", decode.List(EntryDecoder), nil)(raw)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	for i := range entries {
		entries[i].Imported = true
	}
	return entries, nil
}

// sortEntries orders entries by date, stored before imported, then by
// sequence.
func sortEntries(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		if a.Imported != b.Imported {
			if a.Imported {
				return 1
			}
			return -1
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}
