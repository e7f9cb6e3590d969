// Package figure defines the opaque renderable figure artifact produced by
// analysis nodes. The pipeline treats figures as payloads to persist and
// catalog; how they look is not its concern.
package figure

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
)

// Trace is one named series of points.
type Trace struct {
	Name string    `json:"name"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
}

// Figure is a renderable analysis output: a titled set of traces with a
// kind hint ("trajectory", "profile", "violin", ...).
type Figure struct {
	Title  string  `json:"title"`
	Kind   string  `json:"kind"`
	Traces []Trace `json:"traces"`
}

// Formats lists the supported rendering formats. The json form is the
// canonical payload; the catalog stores it.
func Formats() []string {
	return []string{"json", "html", "csv"}
}

var htmlTmpl = template.Must(template.New("figure").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<script type="application/json" id="figure-data">
{{.Payload}}
</script>
</body>
</html>
`))

// Render serializes the figure in the requested format.
func (f *Figure) Render(format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(f, "", "  ")
	case "html":
		payload, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		err = htmlTmpl.Execute(&buf, struct {
			Title   string
			Payload template.JS
		}{Title: f.Title, Payload: template.JS(payload)})
		if err != nil {
			return nil, fmt.Errorf("render figure %q as html: %w", f.Title, err)
		}
		return buf.Bytes(), nil
	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write([]string{"trace", "x", "y"}); err != nil {
			return nil, err
		}
		for _, tr := range f.Traces {
			for i := range tr.X {
				y := ""
				if i < len(tr.Y) {
					y = strconv.FormatFloat(tr.Y[i], 'g', -1, 64)
				}
				row := []string{tr.Name, strconv.FormatFloat(tr.X[i], 'g', -1, 64), y}
				if err := w.Write(row); err != nil {
					return nil, err
				}
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown figure format %q (supported: %v)", format, Formats())
	}
}

// IsFigure reports whether a tree node is a figure leaf.
func IsFigure(node any) bool {
	_, ok := node.(*Figure)
	return ok
}
