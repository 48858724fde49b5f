package api

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gatewarden/gatewarden/pkg/site"
)

// deniedPage renders the branded 401/403 page shown to browsers.
var deniedPage = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Header}}</h1>
<p>{{.Message}}</p>
{{if .Email}}<p>You are signed in as <b>{{.Email}}</b>, but this address is not allowed here.</p>{{end}}
</body>
</html>
`))

type deniedPageData struct {
	Title   string
	Header  string
	Message string
	Email   string
}

const (
	defaultSkinTitle   = "gatewarden: Web Access Control"
	defaultSkinHeader  = "Protected site"
	defaultSkinMessage = "Access to this site is restricted."
)

// writeDenied renders a 401/403 verdict: a branded HTML page when the
// caller prefers HTML, a JSON error otherwise.
func (s *server) writeDenied(
	w http.ResponseWriter,
	r *http.Request,
	snapshot *site.Snapshot,
	status int,
	email string,
) {
	if !acceptsHTML(r) {
		if status == http.StatusUnauthorized {
			writeJSON(w, status, errorResponse{"authentication required"})

			return
		}

		writeJSON(w, status, errorResponse{"access denied"})

		return
	}

	data := deniedPageData{
		Title:   snapshot.Skin.Title,
		Header:  snapshot.Skin.Header,
		Message: snapshot.Skin.Message,
		Email:   email,
	}

	if data.Title == "" {
		data.Title = defaultSkinTitle
	}

	if data.Header == "" {
		data.Header = defaultSkinHeader
	}

	if data.Message == "" {
		data.Message = defaultSkinMessage
	}

	var buf bytes.Buffer
	if err := deniedPage.Execute(&buf, data); err != nil {
		s.log.WithError(err).Error("Failed to render denied page")
		writeJSON(w, status, errorResponse{"access denied"})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
