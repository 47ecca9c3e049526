package relayinfo

import "testing"

func TestSortedOrdersAscending(t *testing.T) {
	doc := &T{Nips: GetList(CountingResults, BasicProtocol, EventDeletion)}
	doc.Sorted()
	want := []NIP{BasicProtocol, EventDeletion, CountingResults}
	if len(doc.Nips) != len(want) {
		t.Fatalf("len = %d, want %d", len(doc.Nips), len(want))
	}
	for i, n := range want {
		if doc.Nips[i] != n {
			t.Fatalf("Nips[%d] = %d, want %d", i, doc.Nips[i], n)
		}
	}
}

func TestGetListPreservesCount(t *testing.T) {
	l := GetList(BasicProtocol, Authentication, EventDeletion)
	if len(l) != 3 {
		t.Fatalf("len = %d, want 3", len(l))
	}
}

func TestGetListEmpty(t *testing.T) {
	l := GetList()
	if len(l) != 0 {
		t.Fatalf("expected an empty list, got %d elements", len(l))
	}
}
