package server

import (
	"testing"
)

func TestURIToPath(t *testing.T) {
	got, err := uriToPath("file:///home/user/proj/main.cpp")
	if err != nil {
		t.Fatalf("uriToPath failed: %v", err)
	}
	if got != "/home/user/proj/main.cpp" {
		t.Errorf("got %q", got)
	}

	if _, err := uriToPath("untitled:Untitled-1"); err == nil {
		t.Errorf("expected error for non-file scheme")
	}
}

func TestPathToURIRoundTrip(t *testing.T) {
	path := "/home/user/has space/a.cpp"
	got, err := uriToPath(pathToURI(path))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestArgPath(t *testing.T) {
	got, err := argPath([]any{"file:///a/b.cpp"})
	if err != nil || got != "/a/b.cpp" {
		t.Errorf("uri argument: got %q, %v", got, err)
	}

	got, err = argPath([]any{"/a/./b.cpp"})
	if err != nil || got != "/a/b.cpp" {
		t.Errorf("plain argument: got %q, %v", got, err)
	}

	if _, err := argPath(nil); err == nil {
		t.Errorf("expected error for missing argument")
	}
	if _, err := argPath([]any{42}); err == nil {
		t.Errorf("expected error for non-string argument")
	}
}
