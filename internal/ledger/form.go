package ledger

import (
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/conneroisu/tally/internal/decode"
	"github.com/conneroisu/tally/internal/vdom"
)

// Form is the new-entry form.
type Form struct {
	Amount   string
	Category string
	Note     string
	Error    string
}

// FormMsg is a message produced inside the form.
type FormMsg interface{ formMsg() }

type (
	SetAmount   string
	SetCategory string
	SetNote     string
	Submit      struct{}
)

func (SetAmount) formMsg()   {}
func (SetCategory) formMsg() {}
func (SetNote) formMsg()     {}
func (Submit) formMsg()      {}

// Update applies msg. On a valid submit it returns the entry for date and
// a cleared form; category is kept for the next entry.
func (f Form) Update(msg FormMsg, date string) (Form, *Entry) {
	switch msg := msg.(type) {
	case SetAmount:
		f.Amount = string(msg)
	case SetCategory:
		f.Category = string(msg)
	case SetNote:
		f.Note = string(msg)
	case Submit:
		entry, err := EntryDecoder(map[string]any{
			"date":     date,
			"amount":   json.Number(strings.TrimSpace(f.Amount)),
			"category": f.Category,
			"note":     f.Note,
		})
		if err != nil {
			f.Error = describe(err)
			return f, nil
		}
		return Form{Category: f.Category}, &entry
	}
	f.Error = ""
	return f, nil
}

func describe(err error) string {
	var de *decode.Error
	if stderrors.As(err, &de) {
		return "check the " + strings.TrimPrefix(de.Path(), "json.")
	}
	return err.Error()
}

var valueDecoder = decode.Field("value", decode.String())

var (
	onAmount   = vdom.On("input", decode.Map(valueDecoder, func(s string) FormMsg { return SetAmount(s) }))
	onCategory = vdom.On("input", decode.Map(valueDecoder, func(s string) FormMsg { return SetCategory(s) }))
	onNote     = vdom.On("input", decode.Map(valueDecoder, func(s string) FormMsg { return SetNote(s) }))
	onSubmit   = vdom.OnWith("submit", vdom.MayPreventDefault,
		decode.Succeed[any](vdom.Flagged{Message: Submit{}, Flag: true}))
)

func input(name, label, value string, handler vdom.Attribute) vdom.Node {
	return vdom.NewElement("label", nil,
		vdom.NewText(label),
		vdom.NewElement("input", []vdom.Attribute{
			vdom.Attr("name", name),
			vdom.Attr("value", value),
			handler,
		}),
	)
}

// View renders the form for entries on date.
func (f Form) View(date string) vdom.Node {
	kids := []vdom.Node{
		vdom.NewElement("h2", nil, vdom.NewText("New entry for "+date)),
		input("amount", "Amount", f.Amount, onAmount),
		input("category", "Category", f.Category, onCategory),
		input("note", "Note", f.Note, onNote),
		vdom.NewElement("button", []vdom.Attribute{vdom.Attr("type", "submit")}, vdom.NewText("Add")),
	}
	if f.Error != "" {
		kids = append(kids, vdom.NewElement("p", []vdom.Attribute{vdom.Class("error")}, vdom.NewText(f.Error)))
	}
	return vdom.NewElement("form", []vdom.Attribute{vdom.Class("entry-form"), onSubmit}, kids...)
}
