// Package ledger is the calendar finance application: a month calendar of
// daily totals, per-category totals, the entries of the selected day and a
// form to add more. Entries persist in the store; a YAML file can be
// watched and its entries shown alongside.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"time"

	"github.com/conneroisu/tally/internal/decode"
	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/program"
	"github.com/conneroisu/tally/internal/registry"
	"github.com/conneroisu/tally/internal/scheduler"
	"github.com/conneroisu/tally/internal/store"
	"github.com/conneroisu/tally/internal/vdom"
	"github.com/conneroisu/tally/internal/watcher"
)

// Port names.
const (
	EntriesPort = "entries"
	TotalsPort  = "totals"
)

const monthLayout = "2006-01"

// Flags are the startup flags, {"month":"2026-10","selected":"2026-10-03"}.
// Both are optional.
type Flags struct {
	Month    string
	Selected string
}

var monthDecoder = decode.AndThen(decode.String(), func(s string) decode.Decoder[string] {
	if _, err := time.Parse(monthLayout, s); err != nil {
		return decode.Fail[string]("Expecting a month like 2006-01")
	}
	return decode.Succeed(s)
})

// FlagsDecoder accepts null or an object.
var FlagsDecoder = decode.OneOf(
	decode.Null(Flags{}),
	decode.Map2(
		decode.Optional("month", monthDecoder, ""),
		decode.Optional("selected", dateDecoder, ""),
		func(month, selected string) Flags { return Flags{Month: month, Selected: selected} },
	),
)

// Model is the application state.
type Model struct {
	Month    time.Time
	Selected string
	Stored   []Entry
	Imported []Entry
	Form     Form
	Status   string
	// Version changes whenever the entries do.
	Version int
}

// Entries returns stored and imported entries in date order.
func (m Model) Entries() []Entry {
	all := make([]Entry, 0, len(m.Stored)+len(m.Imported))
	all = append(all, m.Stored...)
	all = append(all, m.Imported...)
	sortEntries(all)
	return all
}

// Messages.
type (
	PrevMonth     struct{}
	NextMonth     struct{}
	SelectDay     struct{ Date string }
	FormChanged   struct{ Msg FormMsg }
	Received      struct{ Entry Entry }
	ImportChanged struct{ Events []watcher.ChangeEvent }
	Remove        struct{ Seq uint64 }

	Saved struct {
		Entry Entry
		Seq   uint64
		Err   error
	}
	Loaded struct {
		Records []store.KV
		Err     error
	}
	Imported struct {
		Entries []Entry
		Err     error
	}
	Removed struct {
		Seq uint64
		Err error
	}
)

// Options configures an App.
type Options struct {
	Formatter *Formatter
	// ImportPath is a YAML file of entries to watch. Empty disables
	// importing.
	ImportPath string
	Debounce   time.Duration
	Now        func() time.Time
	Logger     logging.Logger
	Metrics    *monitoring.RuntimeMetrics
}

// App holds what the application functions close over.
type App struct {
	opts    Options
	logger  logging.Logger
	entries *registry.IncomingPort
	totals  *registry.OutgoingPort
}

// New creates an App.
func New(opts Options) *App {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &App{
		opts:   opts,
		logger: opts.Logger.WithComponent("ledger"),
	}
}

// Program returns the application functions.
func (a *App) Program() program.Program[Flags, Model] {
	return program.Program[Flags, Model]{
		Flags:         FlagsDecoder,
		Init:          a.Init,
		Update:        a.Update,
		View:          a.View,
		Subscriptions: a.Subscriptions,
	}
}

// Register adds the managers and ports the application needs. It must run
// before the program starts.
func (a *App) Register(reg *registry.Registry, st *store.Store) error {
	if err := reg.Register(store.Name, store.Manager(st, a.opts.Logger, a.opts.Metrics)); err != nil {
		return err
	}
	if a.opts.ImportPath != "" {
		if err := reg.Register(watcher.Name, watcher.Manager(a.opts.Debounce, a.opts.Logger, a.opts.Metrics)); err != nil {
			return err
		}
	}
	entries, err := reg.IncomingPort(EntriesPort, decode.Erase(EntryDecoder))
	if err != nil {
		return err
	}
	totals, err := reg.OutgoingPort(TotalsPort, nil)
	if err != nil {
		return err
	}
	a.entries, a.totals = entries, totals
	return nil
}

// EntriesPort accepts entries from outside the view.
func (a *App) EntriesPort() *registry.IncomingPort { return a.entries }

// TotalsPort publishes the Totals of the shown month after every change.
func (a *App) TotalsPort() *registry.OutgoingPort { return a.totals }

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Init loads the stored entries and the import file.
func (a *App) Init(flags Flags) (Model, registry.Bag) {
	month := monthOf(a.opts.Now())
	if flags.Month != "" {
		month, _ = time.Parse(monthLayout, flags.Month)
	} else if flags.Selected != "" {
		d, _ := time.Parse(DateLayout, flags.Selected)
		month = monthOf(d)
	}
	m := Model{Month: month, Selected: flags.Selected}

	cmds := []registry.Bag{
		store.LoadCmd(Bucket, func(kvs []store.KV, err error) any { return Loaded{Records: kvs, Err: err} }),
	}
	if a.opts.ImportPath != "" {
		cmds = append(cmds, a.loadImport())
	}
	return m, registry.Batch(cmds...)
}

// Update applies one message.
func (a *App) Update(msg any, m Model) (Model, registry.Bag) {
	switch msg := msg.(type) {
	case PrevMonth:
		m.Month = m.Month.AddDate(0, -1, 0)
		m.Selected = ""
		return m, a.publish(m)

	case NextMonth:
		m.Month = m.Month.AddDate(0, 1, 0)
		m.Selected = ""
		return m, a.publish(m)

	case SelectDay:
		m.Selected = msg.Date
		m.Form.Error = ""

	case FormChanged:
		form, entry := m.Form.Update(msg.Msg, a.selectedDate(m))
		m.Form = form
		if entry != nil {
			return m, a.save(*entry)
		}

	case Received:
		m.Status = "received an entry for " + msg.Entry.Date
		return m, a.save(msg.Entry)

	case Saved:
		if msg.Err != nil {
			m.Status = "could not save entry: " + msg.Err.Error()
			return m, registry.None()
		}
		e := msg.Entry
		e.Seq = msg.Seq
		m.Stored = append(slices.Clone(m.Stored), e)
		sortEntries(m.Stored)
		m.Version++
		m.Status = "saved"
		return m, a.publish(m)

	case Loaded:
		if msg.Err != nil {
			m.Status = "could not load entries: " + msg.Err.Error()
			return m, registry.None()
		}
		stored, skipped := decodeStored(msg.Records)
		sortEntries(stored)
		m.Stored = stored
		m.Version++
		if skipped > 0 {
			m.Status = fmt.Sprintf("skipped %d unreadable entries", skipped)
		}
		return m, a.publish(m)

	case ImportChanged:
		return m, a.loadImport()

	case Imported:
		switch {
		case stderrors.Is(msg.Err, fs.ErrNotExist):
			m.Imported = nil
		case msg.Err != nil:
			m.Status = "import failed: " + msg.Err.Error()
			return m, registry.None()
		default:
			m.Imported = msg.Entries
			m.Status = fmt.Sprintf("imported %d entries", len(msg.Entries))
		}
		m.Version++
		return m, a.publish(m)

	case Remove:
		seq := msg.Seq
		return m, store.DeleteCmd(Bucket, store.MarshalSeq(seq), func(err error) any {
			return Removed{Seq: seq, Err: err}
		})

	case Removed:
		if msg.Err != nil {
			m.Status = "could not remove entry: " + msg.Err.Error()
			return m, registry.None()
		}
		m.Stored = slices.DeleteFunc(slices.Clone(m.Stored), func(e Entry) bool { return e.Seq == msg.Seq })
		m.Version++
		m.Status = "removed"
		return m, a.publish(m)

	default:
		a.logger.Debug(context.Background(), "unhandled message", "type", fmt.Sprintf("%T", msg))
	}
	return m, registry.None()
}

// Subscriptions listens to the entries port and the import file.
func (a *App) Subscriptions(m Model) registry.Bag {
	subs := []registry.Bag{
		a.entries.Sub(func(v any) any { return Received{Entry: v.(Entry)} }),
	}
	if a.opts.ImportPath != "" {
		subs = append(subs, watcher.Watch(a.opts.ImportPath, func(evs []watcher.ChangeEvent) any {
			return ImportChanged{Events: evs}
		}))
	}
	return registry.Batch(subs...)
}

func (a *App) selectedDate(m Model) string {
	if m.Selected != "" {
		return m.Selected
	}
	today := a.opts.Now()
	if monthOf(today).Equal(m.Month) {
		return today.Format(DateLayout)
	}
	return m.Month.Format(DateLayout)
}

func (a *App) save(e Entry) registry.Bag {
	return store.AppendCmd(Bucket, encode(e), func(seq uint64, err error) any {
		return Saved{Entry: e, Seq: seq, Err: err}
	})
}

func (a *App) loadImport() registry.Bag {
	path := a.opts.ImportPath
	load := scheduler.Go(func(context.Context) (any, error) { return LoadImport(path) })
	return program.Perform(load, func(v any, err error) any {
		if err != nil {
			return Imported{Err: err}
		}
		return Imported{Entries: v.([]Entry)}
	})
}

func (a *App) publish(m Model) registry.Bag {
	return a.totals.Cmd(Summarize(m.Month.Format(monthLayout), m.Entries()))
}

// Totals summarizes one month.
type Totals struct {
	Month      string           `json:"month"`
	Income     int64            `json:"income"`
	Expenses   int64            `json:"expenses"`
	Net        int64            `json:"net"`
	ByCategory map[string]int64 `json:"by_category"`
	Entries    int              `json:"entries"`
}

// Summarize totals the entries of month ("2006-01").
func Summarize(month string, entries []Entry) Totals {
	t := Totals{Month: month, ByCategory: make(map[string]int64)}
	for _, e := range entries {
		if len(e.Date) < len(monthLayout) || e.Date[:len(monthLayout)] != month {
			continue
		}
		t.Entries++
		t.Net += e.Amount
		if e.Amount >= 0 {
			t.Income += e.Amount
		} else {
			t.Expenses -= e.Amount
		}
		t.ByCategory[e.Category] += e.Amount
	}
	return t
}

var (
	onPrev     = vdom.OnMessage("click", PrevMonth{})
	onNext     = vdom.OnMessage("click", NextMonth{})
	formTagger = vdom.NewTagger(func(msg any) any { return FormChanged{Msg: msg.(FormMsg)} })
	weekdays   = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
)

func text(tag, class, s string) vdom.Node {
	var attrs []vdom.Attribute
	if class != "" {
		attrs = append(attrs, vdom.Class(class))
	}
	return vdom.NewElement(tag, attrs, vdom.NewText(s))
}

func signClass(amount int64) string {
	if amount < 0 {
		return "expense"
	}
	return "income"
}

// View renders the model.
func (a *App) View(m Model) vdom.Node {
	date := a.selectedDate(m)
	entries := m.Entries()
	month := m.Month.Format(monthLayout)

	kids := []vdom.Node{
		vdom.NewElement("header", nil,
			vdom.NewElement("button", []vdom.Attribute{vdom.Class("prev"), onPrev}, vdom.NewText("‹")),
			vdom.NewElement("h1", nil, vdom.NewText(a.opts.Formatter.Month(m.Month))),
			vdom.NewElement("button", []vdom.Attribute{vdom.Class("next"), onNext}, vdom.NewText("›")),
		),
		vdom.NewLazy(func() vdom.Node { return a.calendar(m.Month, m.Selected, entries) }, month, m.Selected, m.Version),
		a.totalsView(Summarize(month, entries)),
		a.dayView(date, entries),
		vdom.Map(formTagger, m.Form.View(date)),
	}
	if m.Status != "" {
		kids = append(kids, text("p", "status", m.Status))
	}
	return vdom.NewElement("div", []vdom.Attribute{vdom.Attr("id", "tally")}, kids...)
}

func (a *App) calendar(month time.Time, selected string, entries []Entry) vdom.Node {
	daily := make(map[string]int64)
	for _, e := range entries {
		daily[e.Date] += e.Amount
	}

	names := make([]vdom.Node, 0, len(weekdays))
	for _, d := range weekdays {
		names = append(names, text("li", "", d))
	}

	// Weeks start on Monday.
	lead := (int(month.Weekday()) + 6) % 7
	days := make([]vdom.Keyed, 0, lead+31)
	for i := 0; i < lead; i++ {
		days = append(days, vdom.Keyed{
			Key:  "pad-" + strconv.Itoa(i),
			Node: vdom.NewElement("li", []vdom.Attribute{vdom.Class("pad")}),
		})
	}
	for d := month; d.Month() == month.Month(); d = d.AddDate(0, 0, 1) {
		date := d.Format(DateLayout)
		attrs := []vdom.Attribute{vdom.Class("day"), vdom.Attr("data-date", date), vdom.OnMessage("click", SelectDay{Date: date})}
		if date == selected {
			attrs = append(attrs, vdom.Class("selected"))
		}
		cell := []vdom.Node{text("span", "num", strconv.Itoa(d.Day()))}
		if total, ok := daily[date]; ok {
			cell = append(cell, text("span", "total "+signClass(total), a.opts.Formatter.Money(total)))
		}
		days = append(days, vdom.Keyed{Key: date, Node: vdom.NewElement("li", attrs, cell...)})
	}

	return vdom.NewElement("section", []vdom.Attribute{vdom.Class("calendar")},
		vdom.NewElement("ol", []vdom.Attribute{vdom.Class("weekdays")}, names...),
		vdom.NewKeyedElement("ol", []vdom.Attribute{vdom.Class("days")}, days...),
	)
}

func (a *App) totalsView(t Totals) vdom.Node {
	categories := make([]string, 0, len(t.ByCategory))
	for c := range t.ByCategory {
		categories = append(categories, c)
	}
	slices.Sort(categories)

	rows := make([]vdom.Keyed, 0, len(categories))
	for _, c := range categories {
		amount := t.ByCategory[c]
		rows = append(rows, vdom.Keyed{Key: c, Node: vdom.NewElement("li", nil,
			text("span", "name", a.opts.Formatter.Category(c)),
			text("span", "amount "+signClass(amount), a.opts.Formatter.Money(amount)),
		)})
	}

	f := a.opts.Formatter
	return vdom.NewElement("section", []vdom.Attribute{vdom.Class("totals")},
		text("h2", "", "Totals"),
		vdom.NewKeyedElement("ul", nil, rows...),
		vdom.NewElement("dl", nil,
			text("dt", "", "Income"), text("dd", "income", f.Money(t.Income)),
			text("dt", "", "Expenses"), text("dd", "expense", f.Money(-t.Expenses)),
			text("dt", "", "Net"), text("dd", signClass(t.Net), f.Money(t.Net)),
		),
	)
}

func (a *App) dayView(date string, entries []Entry) vdom.Node {
	rows := make([]vdom.Keyed, 0)
	for _, e := range entries {
		if e.Date != date {
			continue
		}
		kids := []vdom.Node{
			text("span", "category", a.opts.Formatter.Category(e.Category)),
			text("span", "amount "+signClass(e.Amount), a.opts.Formatter.Money(e.Amount)),
			text("span", "note", e.Note),
		}
		if e.Imported {
			kids = append(kids, text("span", "tag", "imported"))
		} else {
			kids = append(kids, vdom.NewElement("button",
				[]vdom.Attribute{vdom.Class("remove"), vdom.OnMessage("click", Remove{Seq: e.Seq})}, vdom.NewText("×")))
		}
		rows = append(rows, vdom.Keyed{Key: e.Key(), Node: vdom.NewElement("li", nil, kids...)})
	}
	if len(rows) == 0 {
		rows = append(rows, vdom.Keyed{Key: "empty", Node: text("li", "empty", "No entries")})
	}
	return vdom.NewElement("section", []vdom.Attribute{vdom.Class("day")},
		text("h2", "", "Entries on "+date),
		vdom.NewKeyedElement("ul", nil, rows...),
	)
}
