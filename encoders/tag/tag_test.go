package tag

import "testing"

func TestNewAndAccessors(t *testing.T) {
	tg := New("e", "abcd1234", "wss://relay.example", "root")
	if tg.Len() != 4 {
		t.Fatalf("Len = %d, want 4", tg.Len())
	}
	if string(tg.Key()) != "e" {
		t.Fatalf("Key = %q, want e", tg.Key())
	}
	if string(tg.Value()) != "abcd1234" {
		t.Fatalf("Value = %q, want abcd1234", tg.Value())
	}
	if tg.S(2) != "wss://relay.example" {
		t.Fatalf("S(2) = %q, want wss://relay.example", tg.S(2))
	}
}

func TestOutOfRangeAccessReturnsNil(t *testing.T) {
	tg := New("e", "abcd")
	if tg.B(5) != nil {
		t.Fatalf("expected nil for an out-of-range field")
	}
	if tg.B(-1) != nil {
		t.Fatalf("expected nil for a negative index")
	}
}

func TestNilTagAccessorsAreSafe(t *testing.T) {
	var tg *T
	if tg.Len() != 0 {
		t.Fatalf("Len on a nil tag must be 0")
	}
	if tg.B(0) != nil {
		t.Fatalf("B on a nil tag must be nil")
	}
	if tg.Clone() != nil {
		t.Fatalf("Clone on a nil tag must be nil")
	}
}

func TestCloneDeepCopies(t *testing.T) {
	tg := New("e", "abcd")
	clone := tg.Clone()
	clone.Field[1][0] = 'X'
	if tg.S(1) == clone.S(1) {
		t.Fatalf("Clone must not share backing arrays with the original")
	}
}

func TestNewFromBytes(t *testing.T) {
	tg := NewFromBytes([]byte("p"), []byte("ef01"))
	if tg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tg.Len())
	}
	if string(tg.Key()) != "p" {
		t.Fatalf("Key = %q, want p", tg.Key())
	}
}
