package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sermonflow/pkg/activation"
	"sermonflow/pkg/domain"
	"sermonflow/pkg/intake"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func runCLI(t *testing.T, apiURL, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(append([]string{"--api-url", apiURL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestMissingTokenIsReported(t *testing.T) {
	t.Setenv("SERMONFLOW_TOKEN", "")
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(""), &out, &errOut)
	cmd.SetArgs([]string{"--api-url", "http://127.0.0.1:1", "sermons", "list"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "SERMONFLOW_TOKEN") {
		t.Fatalf("err = %v, want missing token error", err)
	}
}

func TestIntakeSubmitsParsedRecord(t *testing.T) {
	var got intake.Record
	mux := http.NewServeMux()
	mux.HandleFunc("POST /onboarding", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json", "code": "INVALID_JSON"})
			return
		}
		writeJSON(w, http.StatusCreated, domain.OnboardingRequest{ID: "req-1", ChurchName: got.ChurchName, Status: domain.OnboardingPending})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stdin := "Grace Chapel\n\nhttps://grace.example.org\nBaptist\nig: @gracechapel\ny\n"
	out, _, err := runCLI(t, srv.URL, stdin, "intake")
	if err != nil {
		t.Fatalf("intake: %v\n%s", err, out)
	}
	if got.ChurchName != "Grace Chapel" || got.Denomination != "Baptist" {
		t.Fatalf("submitted record = %+v", got)
	}
	if got.Socials["instagram"] != "gracechapel" {
		t.Fatalf("socials = %v", got.Socials)
	}
	if !strings.Contains(out, "Please enter an answer.") {
		t.Fatalf("empty answer was not re-prompted:\n%s", out)
	}
	if !strings.Contains(out, "Request id: req-1") {
		t.Fatalf("output missing request id:\n%s", out)
	}
}

func TestIntakeDeclineSubmitsNothing(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /onboarding", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusCreated, domain.OnboardingRequest{ID: "req-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, _, err := runCLI(t, srv.URL, "Grace\nnone\nBaptist\nnone\nn\n", "intake")
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("declined intake still submitted")
	}
	if !strings.Contains(out, "Nothing submitted.") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestIntakeRetriesAfterSubmitFailure(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /onboarding", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "try later", "code": "INTERNAL"})
			return
		}
		writeJSON(w, http.StatusCreated, domain.OnboardingRequest{ID: "req-2"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, errOut, err := runCLI(t, srv.URL, "Grace\nnone\nBaptist\nnone\ny\ny\n", "intake")
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("submit calls = %d, want 2", calls.Load())
	}
	if !strings.Contains(errOut, "submit failed") || !strings.Contains(out, "Request id: req-2") {
		t.Fatalf("stdout:\n%s\nstderr:\n%s", out, errOut)
	}
}

func TestAdminActivateFallsBackToDefaults(t *testing.T) {
	var got activation.Input
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/onboarding/{id}", func(w http.ResponseWriter, r *http.Request) {
		req := domain.OnboardingRequest{ID: r.PathValue("id"), ChurchName: "Grace Chapel", Denomination: "Baptist"}
		writeJSON(w, http.StatusOK, map[string]any{"request": req, "defaults": activation.DefaultsFor(req)})
	})
	mux.HandleFunc("POST /admin/onboarding/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, domain.Profile{ID: "church-1", Name: got.ChurchName})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, _, err := runCLI(t, srv.URL, "", "admin", "activate", "req-7", "--slogan", "Rooted in grace")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got.RequestID != "req-7" || got.Theology != "Baptist" || got.Slogan != "Rooted in grace" {
		t.Fatalf("activation input = %+v", got)
	}
	if got.BrandingJSON == "" || got.VoiceToneCSV == "" {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if !strings.Contains(out, "Activated Grace Chapel as church church-1") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestGenerateWaitPollsUntilFinished(t *testing.T) {
	var (
		mu    sync.Mutex
		rows  []domain.GenerationRequest
		polls int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sermons/{id}/assets", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AssetType string `json:"assetType"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		defer mu.Unlock()
		for _, row := range rows {
			if string(row.AssetType) == body.AssetType && row.Status == domain.GenerationProcessing {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "generation already processing", "code": "ASSET_ALREADY_PROCESSING"})
				return
			}
		}
		row := domain.GenerationRequest{
			ID:               "gen-" + body.AssetType,
			SourceDocumentID: r.PathValue("id"),
			AssetType:        domain.AssetType(body.AssetType),
			Status:           domain.GenerationProcessing,
			CreatedAt:        time.Now().UTC(),
		}
		rows = append([]domain.GenerationRequest{row}, rows...)
		writeJSON(w, http.StatusAccepted, row)
	})
	mux.HandleFunc("GET /sermons/{id}/assets", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		polls++
		if polls >= 2 {
			for i := range rows {
				if rows[i].AssetType == domain.AssetSmallGroup {
					rows[i].Status = domain.GenerationFailed
					rows[i].ErrorMessage = "model overloaded"
					continue
				}
				rows[i].Status = domain.GenerationCompleted
				rows[i].ResultURI = "https://assets.example.org/" + rows[i].ID
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, _, err := runCLI(t, srv.URL, "", "assets", "generate", "sermon-1", "devotional", "small-group", "devotional", "--wait", "--interval", "10ms", "--timeout", "5s")
	if err != nil {
		t.Fatalf("generate: %v\n%s", err, out)
	}
	for _, want := range []string{
		"5-Day Devo: requested (gen-devotional)",
		"already being generated",
		"completed",
		"https://assets.example.org/gen-devotional",
		"model overloaded",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateRejectsUnknownType(t *testing.T) {
	_, _, err := runCLI(t, "http://127.0.0.1:1", "", "assets", "generate", "sermon-1", "podcast")
	if err == nil || !strings.Contains(err.Error(), "unknown asset type") {
		t.Fatalf("err = %v, want unknown asset type", err)
	}
}
