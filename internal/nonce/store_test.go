package nonce

import (
	"os"
	"path/filepath"
	"testing"
)

// TestFileStoreRoundTrip tests save and load of nonce state
func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce_state.json")
	store := NewFileStore(path)

	saved := State{LastNonce: 1756600000000123, Timestamp: 1756600000.123}
	if err := store.Save(saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, found, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !found {
		t.Fatal("Load should find saved state")
	}
	if loaded.LastNonce != saved.LastNonce {
		t.Errorf("Expected last_nonce %d, got %d", saved.LastNonce, loaded.LastNonce)
	}
	if loaded.Timestamp != saved.Timestamp {
		t.Errorf("Expected timestamp %f, got %f", saved.Timestamp, loaded.Timestamp)
	}
}

// TestFileStoreMissingFile tests that a missing file is not an error
func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "does_not_exist.json"))

	_, found, err := store.Load()
	if err != nil {
		t.Fatalf("Missing file should not error: %v", err)
	}
	if found {
		t.Error("Missing file should report not found")
	}
}

// TestFileStoreCorruptFile tests that corrupt state does not block startup
func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	store := NewFileStore(path)
	_, found, err := store.Load()
	if err != nil {
		t.Fatalf("Corrupt file should not error: %v", err)
	}
	if found {
		t.Error("Corrupt file should report not found")
	}
}

// TestFileStoreOverwrite tests that saves replace earlier state atomically
func TestFileStoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce_state.json")
	store := NewFileStore(path)

	if err := store.Save(State{LastNonce: 100}); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := store.Save(State{LastNonce: 200}); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, _, _ := store.Load()
	if loaded.LastNonce != 200 {
		t.Errorf("Expected latest value 200, got %d", loaded.LastNonce)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not remain after save")
	}
}

// TestFileStoreCreatesDirectory tests that nested state paths are created
func TestFileStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "deep", "nonce_state.json")
	store := NewFileStore(path)

	if err := store.Save(State{LastNonce: 42}); err != nil {
		t.Fatalf("Save should create parent directories: %v", err)
	}

	loaded, found, _ := store.Load()
	if !found || loaded.LastNonce != 42 {
		t.Error("State should round-trip through nested path")
	}
}

// TestTieredStoreLoadsHighest tests that the tiered store returns the
// highest value any member has seen
func TestTieredStoreLoadsHighest(t *testing.T) {
	low := &memStore{state: State{LastNonce: 100}, found: true}
	high := &memStore{state: State{LastNonce: 500}, found: true}

	tiered := NewTieredStore(low, high)
	state, found, err := tiered.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !found {
		t.Fatal("Load should find state")
	}
	if state.LastNonce != 500 {
		t.Errorf("Expected highest value 500, got %d", state.LastNonce)
	}
}

// TestTieredStoreEmptyMembers tests load with no populated members
func TestTieredStoreEmptyMembers(t *testing.T) {
	tiered := NewTieredStore(&memStore{}, &memStore{})

	_, found, err := tiered.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found {
		t.Error("Empty members should report not found")
	}
}

// TestTieredStoreWritesAll tests that saves reach every member
func TestTieredStoreWritesAll(t *testing.T) {
	first := &memStore{}
	second := &memStore{}

	tiered := NewTieredStore(first, second)
	if err := tiered.Save(State{LastNonce: 777}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for i, m := range []*memStore{first, second} {
		state, found, _ := m.Load()
		if !found || state.LastNonce != 777 {
			t.Errorf("Member %d should hold saved state", i)
		}
	}
}
