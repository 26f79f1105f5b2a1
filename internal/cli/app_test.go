package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aixiaozi/go-kids-chat/internal/docs"
	"github.com/aixiaozi/go-kids-chat/internal/mail"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("DB_PATH", filepath.Join(dir, "db", "app.db"))
	t.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("GIN_MODE", "test")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SEARCH_ENABLED", "false")
	t.Setenv("OTEL_ENABLED", "false")
}

func TestNewApp_ServesHealthAndWeather(t *testing.T) {
	setTestEnv(t)
	envFile = filepath.Join(t.TempDir(), "missing.env")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close(context.Background())
	r := a.router()

	for _, path := range []string{"/health", "/api/weather/北京", "/api/voice/status", "/api/search/status"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d body=%s", path, w.Code, w.Body.String())
		}
	}

	// the janitor sweep is safe on empty stores
	a.sweep(context.Background())
}

func TestCleanupCommand(t *testing.T) {
	setTestEnv(t)
	envFile = filepath.Join(t.TempDir(), "missing.env")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"cleanup-codes", "--env-file", envFile})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("cleanup-codes: %v", err)
	}
	if !strings.Contains(out.String(), "removed 0 verification codes, 0 idempotency records") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestAppVersion(t *testing.T) {
	t.Setenv("APP_VERSION", "")
	if appVersion() != version {
		t.Fatalf("version = %q", appVersion())
	}
	t.Setenv("APP_VERSION", "1.2.3")
	if appVersion() != "1.2.3" {
		t.Fatalf("version = %q", appVersion())
	}
}

func TestProductName_MatchesAcrossSurfaces(t *testing.T) {
	const name = "AI小子"
	for what, got := range map[string]string{
		"cli":     rootCmd.Short,
		"swagger": docs.SwaggerInfo.Title,
		"mail":    mail.SubjectVerification,
	} {
		if !strings.HasPrefix(got, name) {
			t.Errorf("%s name %q does not start with %q", what, got, name)
		}
	}
}
