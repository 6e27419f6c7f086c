package server

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// MountID is the id of the element the program is mounted under.
const MountID = "tally-mount"

// PageData is what the index page shows.
type PageData struct {
	Title string
	// Body is the serialized tree under the mount point.
	Body string
	// Seq is the last frame Body includes.
	Seq uint64
	// Live adds the bridge script that keeps the page in sync.
	Live bool
}

// Page renders the full HTML document around a snapshot.
func Page(data PageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		parts := []string{
			"<!DOCTYPE html>\n<html lang=\"en\"><head><meta charset=\"utf-8\">",
			"<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">",
			"<title>", templ.EscapeString(data.Title), "</title>",
			"<style>", stylesheet, "</style>",
			"</head><body>",
			"<main id=\"", MountID, "\" data-seq=\"", strconv.FormatUint(data.Seq, 10), "\">",
			data.Body,
			"</main>",
		}
		if data.Live {
			parts = append(parts, "<script src=\"/static/bridge.js\" defer></script>")
		}
		parts = append(parts, "</body></html>\n")

		for _, p := range parts {
			if _, err := io.WriteString(w, p); err != nil {
				return err
			}
		}
		return nil
	})
}

const stylesheet = `
body { font-family: system-ui, -apple-system, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; color: #222; }
#tally { max-width: 960px; margin: 0 auto; background: white; padding: 20px; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
#tally header { display: flex; align-items: center; justify-content: space-between; border-bottom: 2px solid #007acc; }
#tally h1 { font-size: 1.5rem; }
.calendar ol { display: grid; grid-template-columns: repeat(7, 1fr); gap: 4px; list-style: none; padding: 0; margin: 4px 0; }
.weekdays li { font-weight: 600; text-align: center; }
.days li { min-height: 56px; border: 1px solid #ddd; border-radius: 4px; padding: 4px; }
.days li.day { cursor: pointer; display: flex; flex-direction: column; }
.days li.pad { border: none; }
.days li.selected { border-color: #007acc; background: #eaf4fb; }
.total { font-size: 0.8rem; margin-top: auto; }
.income { color: #2e7d32; }
.expense { color: #c62828; }
section.day ul, section.totals ul { list-style: none; padding: 0; }
section.day li, section.totals li { display: flex; gap: 12px; padding: 4px 0; border-bottom: 1px solid #eee; }
.tag { font-size: 0.8rem; color: #6c757d; }
.entry-form label { display: block; margin: 6px 0; }
.error { color: #c62828; }
.status { color: #6c757d; font-size: 0.9rem; }
`
