package jsonscan

import "testing"

func TestEnterLeaveObject(t *testing.T) {
	s := New([]byte(`{"a":1,"b":2},"rest"`))
	if !s.EnterObject() {
		t.Fatal("expected to enter object")
	}
	if name := s.GetName(); name != "a" {
		t.Fatalf("got name %q", name)
	}
	if n, ok := s.GetInt(); !ok || n != 1 {
		t.Fatalf("got int %d ok=%v", n, ok)
	}
	if name := s.GetName(); name != "b" {
		t.Fatalf("got name %q", name)
	}
	if n, ok := s.GetInt(); !ok || n != 2 {
		t.Fatalf("got int %d ok=%v", n, ok)
	}
	if !s.LeaveObject() {
		t.Fatal("expected to leave object")
	}
}

func TestStoreObjectBalancesNested(t *testing.T) {
	s := New([]byte(`{"a":"u","n":{"x":[1,2,"}]"]}},"next"`))
	got := s.StoreObject()
	want := `{"a":"u","n":{"x":[1,2,"}]"]}}`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestUnescapeBasic(t *testing.T) {
	got := Unescape(`hello\nworldA`)
	want := "hello\nworldA"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNameID(t *testing.T) {
	if NameID("psts") == NameID("ipc") {
		t.Fatal("expected distinct ids")
	}
	if NameID("") != 0 {
		t.Fatal("expected zero id for empty name")
	}
}

func TestGetHandle(t *testing.T) {
	// 6 zero bytes -> base64 "AAAAAAAA" (8 chars, no padding).
	s := New([]byte(`"AAAAAAAA"`))
	h, ok := s.GetHandle(6)
	if !ok || h != 0 {
		t.Fatalf("got handle %d ok=%v", h, ok)
	}
}

func TestNullSkipped(t *testing.T) {
	s := New([]byte(`null,"x"`))
	if !s.IsNull() {
		t.Fatal("expected null")
	}
	if got := s.StoreObject(); got != `"x"` {
		t.Fatalf("got %q", got)
	}
}
