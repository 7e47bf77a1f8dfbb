package main

import (
	"html/template"
	"io"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/doormonitor/pkg/liveness"
)

var historyPageTpl = template.Must(template.New("history").Parse(`<!doctype html>
<html>
<head>
	<meta charset="utf-8">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>Door monitor</title>
</head>
<body>
	<h1>Door monitor</h1>
	{{if .Status.Known}}
	<p>Sensor is <strong>{{.Status}}</strong> (last alive {{.Status.SecondsSince}} s ago)</p>
	{{end}}

	<h2>Alives</h2>
	<ul>
	{{range .History.Alives}}<li>{{.}}</li>
	{{else}}<li>none</li>
	{{end}}
	</ul>

	<h2>Alerts</h2>
	<ul>
	{{range .History.Alerts}}<li>{{.}}</li>
	{{else}}<li>none</li>
	{{end}}
	</ul>
</body>
</html>
`))

func renderHistoryPage(w io.Writer, history dmdomain.History, status liveness.Status) error {
	return historyPageTpl.Execute(w, struct {
		History dmdomain.History
		Status  liveness.Status
	}{history, status})
}
