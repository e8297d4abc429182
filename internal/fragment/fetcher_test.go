package fragment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConstructURL(t *testing.T) {
	got := ConstructURL("mr_mcxn_t1", "optical-flow")
	want := "https://hcdf.cognipilot.org/mr_mcxn_t1/optical-flow/optical-flow.hcdf"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFetchFragment_LiveFetchCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<hcdf version=\"1.0\"></hcdf>"))
	}))
	defer srv.Close()

	cache, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f := NewFetcher(cache, nil)

	content, err := f.FetchFragment(context.Background(), "navq95", "optical-flow", srv.URL, "")
	if err != nil {
		t.Fatalf("FetchFragment: %v", err)
	}
	sha := SHA256Hex(content)
	if !cache.HasHCDF(sha) {
		t.Error("expected fetched HCDF to be cached")
	}
}

func TestFetchFragment_CacheHitSkipsNetwork(t *testing.T) {
	cache, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	content := []byte("<hcdf version=\"1.0\"></hcdf>")
	sha := SHA256Hex(content)
	if _, err := cache.StoreHCDF("https://example.com/x.hcdf", sha, "navq95", "optical-flow", content); err != nil {
		t.Fatalf("StoreHCDF: %v", err)
	}

	f := NewFetcher(cache, nil)
	got, err := f.FetchFragment(context.Background(), "navq95", "optical-flow", "http://127.0.0.1:1", sha)
	if err != nil {
		t.Fatalf("FetchFragment: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestFetchFragment_FallsBackToCacheOnNetworkFailure(t *testing.T) {
	cache, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	content := []byte("<hcdf version=\"1.0\"></hcdf>")
	sha := SHA256Hex(content)
	if _, err := cache.StoreHCDF("https://example.com/x.hcdf", sha, "navq95", "optical-flow", content); err != nil {
		t.Fatalf("StoreHCDF: %v", err)
	}

	f := NewFetcher(cache, nil)
	got, err := f.FetchFragment(context.Background(), "navq95", "optical-flow", "http://127.0.0.1:1", "")
	if err != nil {
		t.Fatalf("expected cache fallback success, got error: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestFetchModel_DeduplicatesBySha(t *testing.T) {
	modelContent := []byte("glb-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(modelContent)
	}))
	defer srv.Close()

	cache, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hcdfSha := SHA256Hex([]byte("<hcdf version=\"1.0\"></hcdf>"))
	if _, err := cache.StoreHCDF("https://example.com/x.hcdf", hcdfSha, "navq95", "optical-flow", []byte("<hcdf version=\"1.0\"></hcdf>")); err != nil {
		t.Fatalf("StoreHCDF: %v", err)
	}

	f := NewFetcher(cache, nil)
	path1, err := f.FetchModel(context.Background(), srv.URL+"/chassis.glb", "", hcdfSha)
	if err != nil {
		t.Fatalf("FetchModel: %v", err)
	}
	path2, err := f.FetchModel(context.Background(), srv.URL+"/chassis.glb", "", hcdfSha)
	if err != nil {
		t.Fatalf("FetchModel second call: %v", err)
	}
	if path1 != path2 {
		t.Errorf("expected stable dedup path, got %q then %q", path1, path2)
	}
}

func TestModelNameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/models/chassis.glb": "chassis.glb",
		"https://example.com/":                   "model.glb",
		"not-a-url":                               "not-a-url",
	}
	for in, want := range cases {
		if got := modelNameFromURL(in); got != want {
			t.Errorf("modelNameFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}
