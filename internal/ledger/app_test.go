package ledger

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/tally/internal/decode"
	"github.com/conneroisu/tally/internal/errors"
	"github.com/conneroisu/tally/internal/program"
	"github.com/conneroisu/tally/internal/renderer"
	"github.com/conneroisu/tally/internal/store"
	"github.com/conneroisu/tally/internal/vdom"
)

var today = time.Date(2026, time.October, 17, 9, 30, 0, 0, time.UTC)

type fixture struct {
	app   *App
	rt    *program.Runtime[Flags, Model]
	store *store.Store
	mount *html.Node

	mu     sync.Mutex
	totals []Totals
}

func (f *fixture) published() []Totals {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Totals(nil), f.totals...)
}

// waitFor ticks the runtime until cond holds.
func (f *fixture) waitFor(t *testing.T, cond func(Model) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.rt.Tick()
		return cond(f.rt.Model())
	}, 3*time.Second, 5*time.Millisecond)
}

func formatter(t *testing.T) *Formatter {
	t.Helper()
	f, err := NewFormatter("en-US", "EUR")
	require.NoError(t, err)
	return f
}

func newFixture(t *testing.T, st *store.Store, importPath string) *fixture {
	t.Helper()
	if st == nil {
		var err error
		st, err = store.Open(filepath.Join(t.TempDir(), "tally.db"), Bucket)
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
	}

	f := &fixture{store: st}
	f.app = New(Options{
		Formatter:  formatter(t),
		ImportPath: importPath,
		Debounce:   10 * time.Millisecond,
		Now:        func() time.Time { return today },
	})
	f.rt = program.New(f.app.Program(), program.Options{})
	require.NoError(t, f.app.Register(f.rt.Registry(), st))
	f.app.TotalsPort().Subscribe(func(v any) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.totals = append(f.totals, v.(Totals))
	})
	f.mount = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	t.Cleanup(f.rt.Stop)
	return f
}

func (f *fixture) start(t *testing.T, flags string) {
	t.Helper()
	require.NoError(t, f.rt.Start(context.Background(), []byte(flags), f.mount))
	f.waitFor(t, func(m Model) bool { return m.Version >= 1 })
}

func render(t *testing.T, a *App, m Model) string {
	t.Helper()
	s, err := renderer.RenderString(renderer.New(nil, nil).Render(a.View(m), nil))
	require.NoError(t, err)
	return s
}

func TestEntryDecoder(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Entry
		path string
	}{
		{
			name: "full entry",
			json: `{"date":"2026-10-03","amount":-12.5,"category":" Food ","note":" lunch "}`,
			want: Entry{Date: "2026-10-03", Amount: -1250, Category: "food", Note: "lunch"},
		},
		{
			name: "defaults",
			json: `{"date":"2026-10-03","amount":40}`,
			want: Entry{Date: "2026-10-03", Amount: 4000, Category: "general"},
		},
		{
			name: "rounds to minor units",
			json: `{"date":"2026-10-03","amount":0.125,"category":null}`,
			want: Entry{Date: "2026-10-03", Amount: 13, Category: "general"},
		},
		{name: "bad date", json: `{"date":"03/10/2026","amount":1}`, path: "json.date"},
		{name: "missing amount", json: `{"date":"2026-10-03"}`, path: "json.amount"},
		{name: "amount as string", json: `{"date":"2026-10-03","amount":"12"}`, path: "json.amount"},
		{name: "note as number", json: `{"date":"2026-10-03","amount":1,"note":5}`, path: "json.note"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decode.DecodeJSON(EntryDecoder, []byte(tt.json))
			if tt.path != "" {
				var de *decode.Error
				require.True(t, stderrors.As(err, &de), "got %v", err)
				assert.Equal(t, tt.path, de.Path())
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.want, got))
		})
	}
}

func TestLoadImport(t *testing.T) {
	dir := t.TempDir()

	t.Run("entries", func(t *testing.T) {
		path := filepath.Join(dir, "ok.yml")
		require.NoError(t, os.WriteFile(path, []byte(`entries:
  - date: 2026-10-01
    amount: 2500
    category: Salary
  - date: "2026-10-02"
    amount: -3.99
`), 0o600))

		got, err := LoadImport(path)
		require.NoError(t, err)
		assert.Equal(t, []Entry{
			{Date: "2026-10-01", Amount: 250000, Category: "salary", Imported: true},
			{Date: "2026-10-02", Amount: -399, Category: "general", Imported: true},
		}, got)
	})

	t.Run("bad entry", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yml")
		require.NoError(t, os.WriteFile(path, []byte(`entries:
  - date: "2026-10-01"
    amount: 1
  - date: "2026-10-02"
    amount: lots
`), 0o600))

		_, err := LoadImport(path)
		var de *decode.Error
		require.True(t, stderrors.As(err, &de))
		assert.Equal(t, "json.entries[1].amount", de.Path())
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yml")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		got, err := LoadImport(path)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadImport(filepath.Join(dir, "nope.yml"))
		assert.True(t, stderrors.Is(err, os.ErrNotExist))
	})
}

func TestFlagsDecoder(t *testing.T) {
	got, err := decode.DecodeJSON(FlagsDecoder, []byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, Flags{}, got)

	got, err = decode.DecodeJSON(FlagsDecoder, []byte(`{"month":"2026-03","selected":"2026-03-04"}`))
	require.NoError(t, err)
	assert.Equal(t, Flags{Month: "2026-03", Selected: "2026-03-04"}, got)

	_, err = decode.DecodeJSON(FlagsDecoder, []byte(`{"month":"March"}`))
	assert.Error(t, err)
}

func TestFormatter(t *testing.T) {
	f := formatter(t)
	assert.Contains(t, f.Money(1250), "12.50")
	assert.Contains(t, f.Money(1250), "€")
	assert.Equal(t, "Groceries", f.Category("groceries"))
	assert.Equal(t, "October 2026", f.Month(monthOf(today)))
	assert.Equal(t, "EUR", f.Currency())

	_, err := NewFormatter("en-US", "NOPE")
	var te *errors.TallyError
	require.True(t, stderrors.As(err, &te))
	assert.Equal(t, errors.ErrCodeConfigInvalid, te.Code)
}

func TestFormUpdate(t *testing.T) {
	var f Form
	f, _ = f.Update(SetAmount("abc"), "2026-10-17")
	f, entry := f.Update(Submit{}, "2026-10-17")
	assert.Nil(t, entry)
	assert.Equal(t, "check the amount", f.Error)

	f, _ = f.Update(SetAmount(" -7.25 "), "2026-10-17")
	assert.Empty(t, f.Error)
	f, _ = f.Update(SetCategory("Coffee"), "2026-10-17")
	f, entry = f.Update(Submit{}, "2026-10-17")
	require.NotNil(t, entry)
	assert.Equal(t, Entry{Date: "2026-10-17", Amount: -725, Category: "coffee"}, *entry)
	assert.Equal(t, Form{Category: "Coffee"}, f)
}

func TestSummarize(t *testing.T) {
	entries := []Entry{
		{Date: "2026-09-30", Amount: -100, Category: "food"},
		{Date: "2026-10-01", Amount: 5000, Category: "salary"},
		{Date: "2026-10-02", Amount: -1200, Category: "food"},
		{Date: "2026-10-03", Amount: -300, Category: "food"},
	}
	assert.Equal(t, Totals{
		Month:      "2026-10",
		Income:     5000,
		Expenses:   1500,
		Net:        3500,
		ByCategory: map[string]int64{"salary": 5000, "food": -1500},
		Entries:    3,
	}, Summarize("2026-10", entries))
}

func TestView(t *testing.T) {
	f := newFixture(t, nil, "")
	m := Model{
		Month:    monthOf(today),
		Selected: "2026-10-05",
		Stored: []Entry{
			{Seq: 1, Date: "2026-10-05", Amount: -1250, Category: "food", Note: "lunch"},
		},
		Imported: []Entry{
			{Date: "2026-10-05", Amount: 300, Category: "refund", Imported: true},
		},
		Status: "saved",
	}
	s := render(t, f.app, m)

	// October 2026 starts on a Thursday.
	assert.Equal(t, 3, strings.Count(s, `class="pad"`))
	assert.Equal(t, 31, strings.Count(s, `data-date="2026-10-`))
	assert.Contains(t, s, `class="day selected"`)
	assert.Contains(t, s, "October 2026")
	assert.Contains(t, s, "Entries on 2026-10-05")
	assert.Contains(t, s, "Refund")
	assert.Contains(t, s, "imported")
	assert.Contains(t, s, "12.50")
	assert.Contains(t, s, `<p class="status">saved</p>`)
	assert.Equal(t, 1, strings.Count(s, `class="remove"`))
}

func TestRerenderIsStable(t *testing.T) {
	f := newFixture(t, nil, "")
	m := Model{
		Month:    monthOf(today),
		Selected: "2026-10-05",
		Stored: []Entry{
			{Seq: 1, Date: "2026-10-05", Amount: -1250, Category: "food"},
			{Seq: 2, Date: "2026-10-05", Amount: 400, Category: "gift"},
		},
	}
	before := f.app.View(m)
	assert.Empty(t, vdom.Diff(before, f.app.View(m)))

	m.Stored = m.Stored[:1]
	assert.NotEmpty(t, vdom.Diff(before, f.app.View(m)))
}

func TestSubmitPersistsAndPublishes(t *testing.T) {
	f := newFixture(t, nil, "")
	f.start(t, `{"month":"2026-10"}`)

	f.rt.Send(FormChanged{Msg: SetAmount("-12.50")})
	f.rt.Send(FormChanged{Msg: SetCategory("Food")})
	f.rt.Send(FormChanged{Msg: Submit{}})
	f.waitFor(t, func(m Model) bool { return len(m.Stored) == 1 })

	m := f.rt.Model()
	assert.Equal(t, Entry{Seq: 1, Date: "2026-10-17", Amount: -1250, Category: "food"}, m.Stored[0])
	assert.Equal(t, Form{Category: "Food"}, m.Form)

	kvs, err := f.store.All(Bucket)
	require.NoError(t, err)
	require.Len(t, kvs, 1)
	assert.Equal(t, uint64(1), store.UnmarshalSeq(kvs[0].Key))

	require.Eventually(t, func() bool {
		totals := f.published()
		return len(totals) > 0 && totals[len(totals)-1].Net == -1250
	}, time.Second, 5*time.Millisecond)

	f.rt.Tick()
	snap, err := f.rt.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snap, "Food")

	// A second runtime over the same store sees the entry.
	g := newFixture(t, f.store, "")
	g.start(t, `{"month":"2026-10"}`)
	assert.Equal(t, m.Stored, g.rt.Model().Stored)

	f.rt.Send(Remove{Seq: 1})
	f.waitFor(t, func(m Model) bool { return len(m.Stored) == 0 })
	kvs, err = f.store.All(Bucket)
	require.NoError(t, err)
	assert.Empty(t, kvs)
}

func TestNavigationThroughEvents(t *testing.T) {
	f := newFixture(t, nil, "")
	f.start(t, `{"month":"2026-10"}`)

	// body > div#tally > header > button.next
	_, err := f.rt.HandleEvent(context.Background(), []int{0, 0, 2}, "click", nil)
	require.NoError(t, err)
	f.waitFor(t, func(m Model) bool { return m.Month.Month() == time.November })

	f.rt.Tick()
	snap, err := f.rt.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snap, "November 2026")
	assert.Contains(t, snap, `data-date="2026-11-30"`)
}

func TestEntriesPort(t *testing.T) {
	f := newFixture(t, nil, "")
	f.start(t, `null`)
	require.Eventually(t, func() bool { return f.app.EntriesPort().Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	err := f.app.EntriesPort().Send([]byte(`{"date":"2026-10-02","amount":"lots"}`))
	var te *errors.TallyError
	require.True(t, stderrors.As(err, &te))
	assert.Equal(t, errors.ErrCodePortInput, te.Code)

	require.NoError(t, f.app.EntriesPort().Send([]byte(`{"date":"2026-10-02","amount":40,"category":"salary"}`)))
	f.waitFor(t, func(m Model) bool { return len(m.Stored) == 1 })
	assert.Equal(t, int64(4000), f.rt.Model().Stored[0].Amount)
}

func TestImportFileIsWatched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.yml")
	require.NoError(t, os.WriteFile(path, []byte(`entries:
  - {date: "2026-10-01", amount: 10}
  - {date: "2026-10-02", amount: 20}
`), 0o600))

	f := newFixture(t, nil, path)
	f.start(t, `{"month":"2026-10"}`)
	f.waitFor(t, func(m Model) bool { return len(m.Imported) == 2 })

	next := []byte(`entries:
  - {date: "2026-10-03", amount: -5, category: fees}
`)
	f.waitFor(t, func(m Model) bool {
		_ = os.WriteFile(path, next, 0o600)
		return len(m.Imported) == 1
	})
	assert.Equal(t, Entry{Date: "2026-10-03", Amount: -500, Category: "fees", Imported: true}, f.rt.Model().Imported[0])
}

func TestMissingImportFileIsEmpty(t *testing.T) {
	f := newFixture(t, nil, "")
	m, _ := f.app.Update(Imported{Err: os.ErrNotExist}, Model{Month: monthOf(today), Imported: []Entry{{Date: "2026-10-01"}}})
	assert.Empty(t, m.Imported)
	assert.Empty(t, m.Status)

	m, _ = f.app.Update(Imported{Err: stderrors.New("bad yaml")}, m)
	assert.Equal(t, "import failed: bad yaml", m.Status)
}
