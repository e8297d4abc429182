package match

import "testing"

const sampleIndex = `
version = "1.0"

[[fragment]]
board = "mr_mcxn_t1"
app = "optical-flow"
model = "optical_flow.glb"
priority = 10

[[fragment]]
board = "mr_mcxn_t1"
app = "*"
model = "mcnt1hub.glb"
priority = 0

[[fragment]]
board = "navq95"
app = "*"
model = "navq95.glb"
`

func TestFindMatch_ExactBeatsWildcard(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}

	f, ok := idx.FindMatch("mr_mcxn_t1", "optical-flow")
	if !ok || f.Model != "optical_flow.glb" {
		t.Fatalf("got %+v, ok=%v", f, ok)
	}
}

func TestFindMatch_WildcardFallback(t *testing.T) {
	idx, _ := ParseIndex([]byte(sampleIndex))
	f, ok := idx.FindMatch("mr_mcxn_t1", "unknown-app")
	if !ok || f.Model != "mcnt1hub.glb" {
		t.Fatalf("got %+v, ok=%v", f, ok)
	}
}

func TestFindMatch_NoMatchForUnknownBoard(t *testing.T) {
	idx, _ := ParseIndex([]byte(sampleIndex))
	if _, ok := idx.FindMatch("unknown_board", "app"); ok {
		t.Fatal("expected no match")
	}
}

func TestFindMatch_CaseInsensitive(t *testing.T) {
	idx, _ := ParseIndex([]byte(`
[[fragment]]
board = "MR_MCXN_T1"
app = "Optical-Flow"
model = "optical_flow.glb"
`))
	if _, ok := idx.FindMatch("mr_mcxn_t1", "optical-flow"); !ok {
		t.Fatal("expected case-insensitive match")
	}
}

func TestDatabase_CachesLookups(t *testing.T) {
	idx, _ := ParseIndex([]byte(sampleIndex))
	db := NewDatabase(idx)

	m1, ok1 := db.GetModel("navq95", "anything")
	m2, ok2 := db.GetModel("navq95", "anything")
	if !ok1 || !ok2 || m1 != m2 || m1 != "navq95.glb" {
		t.Fatalf("got %q,%v and %q,%v", m1, ok1, m2, ok2)
	}
}
