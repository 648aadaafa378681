package kvstore

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": OpenSQLiteMemory(t),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get("missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v err %v; want false nil", ok, err)
			}
			if err := s.Set("a", "1"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := s.Set("a", "2"); err != nil {
				t.Fatalf("Set() overwrite error = %v", err)
			}
			got, ok, err := s.Get("a")
			if err != nil || !ok || got != "2" {
				t.Fatalf("Get(a) = %q %v %v; want \"2\" true nil", got, ok, err)
			}
			if err := s.Remove("a"); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if _, ok, _ := s.Get("a"); ok {
				t.Fatalf("Get(a) after Remove reported present")
			}
			if err := s.Remove("a"); err != nil {
				t.Fatalf("Remove() of missing key = %v; want nil", err)
			}
		})
	}
}

func TestStoreKeysPrefix(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"last_activity_b", "active_tabs", "last_activity_a", "browser_tab_count"} {
				if err := s.Set(k, "x"); err != nil {
					t.Fatalf("Set(%s) error = %v", k, err)
				}
			}
			got, err := s.Keys("last_activity_")
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			want := []string{"last_activity_a", "last_activity_b"}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("Keys() = %v; want %v", got, want)
			}
			all, err := s.Keys("")
			if err != nil {
				t.Fatalf("Keys(\"\") error = %v", err)
			}
			if len(all) != 4 {
				t.Fatalf("Keys(\"\") = %v; want 4 keys", all)
			}
		})
	}
}

func TestGetJSONMalformed(t *testing.T) {
	s := NewMemory()
	if err := s.Set("active_tabs", "{not json"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	var v map[string]any
	ok, err := GetJSON(s, "active_tabs", &v)
	if ok {
		t.Fatalf("GetJSON() ok = true; want false")
	}
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("GetJSON() error = %v; want ErrMalformed", err)
	}
}

func TestSetJSONGetJSON(t *testing.T) {
	s := NewMemory()
	in := map[string]int{"count": 3}
	if err := SetJSON(s, "k", in); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	var out map[string]int
	ok, err := GetJSON(s, "k", &out)
	if err != nil || !ok {
		t.Fatalf("GetJSON() = %v %v; want true nil", ok, err)
	}
	if out["count"] != 3 {
		t.Fatalf("GetJSON() count = %d; want 3", out["count"])
	}
}

func TestMemoryFailWith(t *testing.T) {
	s := NewMemory()
	s.FailWith(errors.New("quota exceeded"))

	if err := s.Set("k", "v"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set() error = %v; want ErrUnavailable", err)
	}
	if _, _, err := s.Get("k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get() error = %v; want ErrUnavailable", err)
	}
	if _, err := s.Keys(""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Keys() error = %v; want ErrUnavailable", err)
	}

	s.FailWith(nil)
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set() after recovery = %v; want nil", err)
	}
}

func TestSQLiteSharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "origin.db")
	a, err := OpenSQLite(path, WithMkdirAll())
	if err != nil {
		t.Fatalf("OpenSQLite(a) error = %v", err)
	}
	defer a.Close()
	b, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite(b) error = %v", err)
	}
	defer b.Close()

	if err := a.Set("browser_session_id", "session_1"); err != nil {
		t.Fatalf("a.Set() error = %v", err)
	}
	got, ok, err := b.Get("browser_session_id")
	if err != nil || !ok || got != "session_1" {
		t.Fatalf("b.Get() = %q %v %v; want session_1 true nil", got, ok, err)
	}
}

func TestSQLiteClosedIsUnavailable(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	_ = s.Close()
	if err := s.Set("k", "v"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set() on closed store = %v; want ErrUnavailable", err)
	}
}
