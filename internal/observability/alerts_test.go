package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	jobmetrics "github.com/armslicense/armslicense/internal/jobs"
)

type alertFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

var metricName = regexp.MustCompile(`armslicense_[a-z_]+`)

// exportedNames exercises every collector once so each family shows up in a scrape.
func exportedNames(t *testing.T) map[string]bool {
	t.Helper()
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobs.Track("routing:notify").End(errors.New("smtp down"))
	jobs.AddNotifications("mail", "ZS", 1)
	metrics.ObserveRoute("FORWARD", "conflict", time.Millisecond)
	metrics.IncRetry()
	metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	names := make(map[string]bool)
	for _, line := range strings.Split(scrape(t, metrics), "\n") {
		if strings.HasPrefix(line, "# TYPE ") {
			names[strings.Fields(line)[2]] = true
		}
	}
	return names
}

func TestRoutingAlertRules(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "routing.yml"))
	if err != nil {
		t.Fatalf("read alerts: %v", err)
	}
	var file alertFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		t.Fatalf("parse alerts: %v", err)
	}
	if len(file.Groups) != 1 || file.Groups[0].Name != "routing" {
		t.Fatalf("expected a single routing group, got %+v", file.Groups)
	}

	severities := map[string]string{
		"HighErrorRate":           "critical",
		"RoutingConflictSpike":    "warning",
		"NotificationJobFailures": "warning",
	}
	exported := exportedNames(t)
	rules := file.Groups[0].Rules
	if len(rules) != len(severities) {
		t.Fatalf("expected %d rules, got %d", len(severities), len(rules))
	}
	for _, rule := range rules {
		want, ok := severities[rule.Alert]
		if !ok {
			t.Fatalf("unexpected alert %s", rule.Alert)
		}
		if rule.Labels["severity"] != want {
			t.Errorf("%s: severity %q, want %q", rule.Alert, rule.Labels["severity"], want)
		}
		if !strings.HasPrefix(rule.Annotations["runbook"], "docs/runbook-routing.md#") {
			t.Errorf("%s: runbook %q", rule.Alert, rule.Annotations["runbook"])
		}
		if _, err := time.ParseDuration(rule.For); err != nil {
			t.Errorf("%s: bad for %q: %v", rule.Alert, rule.For, err)
		}
		for _, name := range metricName.FindAllString(rule.Expr, -1) {
			if !exported[name] {
				t.Errorf("%s references %s which is not exported", rule.Alert, name)
			}
		}
	}
}
