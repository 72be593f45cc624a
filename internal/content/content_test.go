package content_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lifeline-edge/triage/internal/content"
	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/offline"
)

func setup(t *testing.T) (*hazard.Catalog, *content.Handler) {
	t.Helper()
	cat, err := hazard.Default()
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	return cat, content.NewHandler(slog.Default(), cat)
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHazards(t *testing.T) {
	cat, h := setup(t)
	routes := h.Routes()

	rec := get(t, routes, "/hazards", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var slugs []string
	if err := json.NewDecoder(rec.Body).Decode(&slugs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(slugs) != len(cat.Slugs()) || slugs[0] != cat.Slugs()[0] {
		t.Errorf("slugs = %v, want %v", slugs, cat.Slugs())
	}

	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	rec = get(t, routes, "/hazards", http.Header{"If-None-Match": {etag}})
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", rec.Code)
	}
}

func TestHazardsMeta(t *testing.T) {
	_, h := setup(t)

	rec := get(t, h.Routes(), "/hazards-meta", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var meta map[string]hazard.Meta
	if err := json.NewDecoder(rec.Body).Decode(&meta); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	fire, ok := meta["fire"]
	if !ok {
		t.Fatal("fire missing from meta")
	}
	if fire.Name["de"] == "" || len(fire.Synonyms["de"]) == 0 {
		t.Errorf("fire meta incomplete: %+v", fire)
	}
}

func TestTreeLocaleFallback(t *testing.T) {
	_, h := setup(t)
	routes := h.Routes()

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantLang   string
		wantRoot   string
	}{
		{"english", "/hazard-content/fire?lang=en", http.StatusOK, "en", "Can you leave the building safely?"},
		{"german", "/hazard-content/fire?lang=de", http.StatusOK, "de", "Kannst du das Gebäude sicher verlassen?"},
		{"unsupported falls back", "/hazard-content/fire?lang=fr", http.StatusOK, "de", "Kannst du das Gebäude sicher verlassen?"},
		{"no lang falls back", "/hazard-content/fire", http.StatusOK, "de", "Kannst du das Gebäude sicher verlassen?"},
		{"known hazard without tree", "/hazard-content/heat?lang=de", http.StatusNotFound, "", ""},
		{"unknown hazard", "/hazard-content/volcano?lang=de", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, routes, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				var body map[string]string
				json.NewDecoder(rec.Body).Decode(&body)
				if body["error"] != "no content" {
					t.Errorf("error = %q, want %q", body["error"], "no content")
				}
				return
			}
			if got := rec.Header().Get("Content-Language"); got != tt.wantLang {
				t.Errorf("Content-Language = %q, want %q", got, tt.wantLang)
			}
			tree, err := hazard.ParseTree(rec.Body.Bytes())
			if err != nil {
				t.Fatalf("parsing tree: %v", err)
			}
			if tree[hazard.RootID].Text != tt.wantRoot {
				t.Errorf("root text = %q, want %q", tree[hazard.RootID].Text, tt.wantRoot)
			}
		})
	}
}

func TestEmbeddedTreesAreWellFormed(t *testing.T) {
	cat, h := setup(t)

	found := 0
	for _, slug := range cat.Slugs() {
		for _, loc := range cat.Locales {
			data, served, err := h.Tree(slug, loc)
			if err != nil || served != loc {
				continue
			}
			found++
			tree, err := hazard.ParseTree(data)
			if err != nil {
				t.Errorf("%s.%s: %v", slug, loc, err)
				continue
			}
			if _, ok := tree[hazard.RootID]; !ok {
				t.Errorf("%s.%s: no root node", slug, loc)
			}
			if d := tree.Dangling(); len(d) > 0 {
				t.Errorf("%s.%s: dangling targets %v", slug, loc, d)
			}
		}
	}
	if found < 10 {
		t.Errorf("found %d trees, want at least 10", found)
	}
}

func TestManifestPrecachesOrigin(t *testing.T) {
	cat, h := setup(t)
	ctx := context.Background()
	const base = "http://origin.test"

	manifest := content.Manifest(base, cat)
	if want := 2 + len(cat.Slugs())*len(cat.Locales); len(manifest) != want {
		t.Fatalf("manifest has %d items, want %d", len(manifest), want)
	}

	store := offline.NewMemoryStore()
	layer := offline.New(offline.Options{
		Store:    store,
		Client:   &http.Client{Transport: &offline.HandlerTransport{Host: "origin.test", Handler: h.Routes()}},
		Manifest: manifest,
		Versions: offline.Versions{Static: "1", Dynamic: "1"},
		Rules:    offline.DefaultRules(),
	})
	if err := layer.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}

	status, err := layer.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.StaticEntries < 12 {
		t.Errorf("static entries = %d, want at least 12", status.StaticEntries)
	}

	resp, err := layer.Fetch(ctx, offline.Request{URL: content.TreeURL(base, "severe-bleeding", "en")})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Origin != offline.FromStatic {
		t.Errorf("origin = %s, want static", resp.Origin)
	}
}
