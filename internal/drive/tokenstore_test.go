package drive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func testToken(access string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func checkStore(t *testing.T, store TokenStore) {
	t.Helper()

	tok, err := store.Load()
	if err != nil {
		t.Fatalf("Load on empty store: %v", err)
	}
	if tok != nil {
		t.Fatalf("Load on empty store = %+v, want nil", tok)
	}

	if err := store.Save(testToken("first")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(testToken("second")); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}

	tok, err = store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tok.AccessToken != "second" || tok.RefreshToken != "refresh" {
		t.Errorf("Load = %+v, want second/refresh", tok)
	}
	if !tok.Expiry.Equal(testToken("").Expiry) {
		t.Errorf("Expiry = %v, want %v", tok.Expiry, testToken("").Expiry)
	}
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	checkStore(t, NewFileTokenStore(path))

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
}

func TestFileTokenStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	if _, err := NewFileTokenStore(path).Load(); err == nil {
		t.Error("expected error for corrupt token file")
	}
}

func TestSQLiteTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	store, err := NewSQLiteTokenStore(path, "default")
	if err != nil {
		t.Fatalf("NewSQLiteTokenStore: %v", err)
	}
	defer store.Close()
	checkStore(t, store)

	other, err := NewSQLiteTokenStore(path, "other-account")
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if tok, _ := other.Load(); tok != nil {
		t.Error("keys should not share tokens")
	}
}

func TestMemoryTokenStore(t *testing.T) {
	store := &MemoryTokenStore{}
	checkStore(t, store)
	if store.Saves() != 2 {
		t.Errorf("Saves = %d, want 2", store.Saves())
	}
}
