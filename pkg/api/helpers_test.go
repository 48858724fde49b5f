package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/mailer"
	"github.com/gatewarden/gatewarden/pkg/site"
	"github.com/gatewarden/gatewarden/pkg/store"
	"github.com/gatewarden/gatewarden/pkg/token"
)

const (
	testSiteID  = "site-1"
	testSiteURL = "https://example.org"
)

func newTestServer(t *testing.T) (*server, http.Handler) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Listen: "127.0.0.1:0"},
		Auth: config.AuthConfig{
			TokenSecret:   "0123456789abcdef0123456789abcdef",
			SessionSecret: "fedcba9876543210fedcba9876543210",
			TokenTTL:      "30m",
			SessionTTL:    "24h",
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: filepath.Join(t.TempDir(), "test.db"),
			},
		},
		Mailer: config.MailerConfig{Mode: "log"},
		Limits: config.LimitsConfig{
			UsersPerSite:     10,
			LocationsPerSite: 10,
			AliasesPerSite:   5,
		},
	}

	log := logrus.New()

	st := store.NewStore(log, &cfg.Database, cfg.Limits)
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	sender, err := mailer.New(log, &cfg.Mailer)
	require.NoError(t, err)

	s := &server{
		log:      log,
		cfg:      cfg,
		store:    st,
		cache:    site.NewCache(log, st, time.Hour),
		logins:   token.NewLoginCodec([]byte(cfg.Auth.TokenSecret), cfg.TokenTTL()),
		sessions: token.NewSessionCodec([]byte(cfg.Auth.SessionSecret), cfg.SessionTTL()),
		sender:   sender,
		metrics:  newMetrics(),
	}

	require.NoError(t, st.CreateSite(context.Background(),
		&store.Site{SiteID: testSiteID}))

	_, err = st.CreateAlias(context.Background(), testSiteID, testSiteURL)
	require.NoError(t, err)

	return s, s.buildRouter()
}

// siteRequest builds a request carrying the test site's Site-Url.
func siteRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set(siteURLHeader, testSiteURL)

	return r
}

// siteJSONRequest builds a request with a JSON body.
func siteJSONRequest(method, target string, body []byte) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	r.Header.Set(siteURLHeader, testSiteURL)
	r.Header.Set("Content-Type", "application/json")

	return r
}

// withSession attaches a valid session cookie for a site member.
func withSession(t *testing.T, s *server, r *http.Request, userUUID string) {
	t.Helper()

	value, err := s.sessions.Issue(testSiteID, userUUID)
	require.NoError(t, err)

	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: value})
}

// withCSRF attaches a matching double-submit cookie and header pair.
func withCSRF(r *http.Request) {
	r.AddCookie(&http.Cookie{Name: csrfCookie, Value: "csrf-test-value"})
	r.Header.Set(csrfHeader, "csrf-test-value")
}

func serveRequest(router http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	return w
}
