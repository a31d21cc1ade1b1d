package ingestion

import (
	"bytes"
	"html/template"
	"time"
)

var summaryTemplate = template.Must(template.New("call-summary").Parse(`<!doctype html>
<html>
<body style="font-family: sans-serif">
<h2>New call for {{.TenantName}}</h2>
<table>
<tr><td><b>Intent</b></td><td>{{.Intent}}</td></tr>
<tr><td><b>From</b></td><td>{{if .FromNumber}}{{.FromNumber}}{{else}}unknown{{end}}</td></tr>
{{- if .Duration}}
<tr><td><b>Duration</b></td><td>{{.Duration}}</td></tr>
{{- end}}
<tr><td><b>Received</b></td><td>{{.ReceivedAt}}</td></tr>
</table>
<h3>Summary</h3>
<p>{{if .Summary}}{{.Summary}}{{else}}No summary available.{{end}}</p>
{{- if .RecordingURL}}
<p><a href="{{.RecordingURL}}">Listen to the recording</a></p>
{{- end}}
{{- if .Transcript}}
<h3>Transcript</h3>
<pre style="white-space: pre-wrap">{{.Transcript}}</pre>
{{- end}}
</body>
</html>
`))

type summaryData struct {
	TenantName   string
	Intent       Intent
	FromNumber   string
	Duration     string
	ReceivedAt   string
	Summary      string
	RecordingURL string
	Transcript   string
}

func renderSummary(d summaryData) (string, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Round(time.Second).String()
}
