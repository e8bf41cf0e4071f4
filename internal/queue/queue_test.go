package queue

import (
	"math/rand"
	"testing"

	"github.com/austinkregel/local-media/tandem/internal/types"
)

func tracks(ids ...string) []types.Track {
	out := make([]types.Track, len(ids))
	for i, id := range ids {
		out[i] = types.Track{ID: id, URL: "https://media.example/" + id + ".mp3"}
	}
	return out
}

func TestNewManager(t *testing.T) {
	m := NewManager()

	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	idx, size := m.Position()
	if idx != -1 {
		t.Errorf("Expected index -1, got %d", idx)
	}
	if size != 0 {
		t.Errorf("Expected size 0, got %d", size)
	}
	if m.Policy() != types.PolicySequence {
		t.Errorf("Expected SEQUENCE policy, got %s", m.Policy())
	}
}

func TestSet(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b", "c"))

	idx, size := m.Position()
	if idx != -1 {
		t.Errorf("Expected index -1 after Set, got %d", idx)
	}
	if size != 3 {
		t.Errorf("Expected size 3, got %d", size)
	}

	items := m.Items()
	if len(items) != 3 {
		t.Errorf("Expected 3 items, got %d", len(items))
	}
}

func TestAppend(t *testing.T) {
	m := NewManager()

	m.Set(tracks("a"))
	m.Append(tracks("b", "c"))

	_, size := m.Position()
	if size != 3 {
		t.Errorf("Expected size 3, got %d", size)
	}
}

func TestNextIndexPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy types.Policy
		index  int
		want   int
		wantOK bool
	}{
		{"sequence middle", types.PolicySequence, 0, 1, true},
		{"sequence end", types.PolicySequence, 2, -1, false},
		{"loop list middle", types.PolicyLoopList, 1, 2, true},
		{"loop list wraps", types.PolicyLoopList, 2, 0, true},
		{"loop single", types.PolicyLoopSingle, 1, 1, true},
		{"single once", types.PolicySingleOnce, 0, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			m.Set(tracks("a", "b", "c"))
			m.SetIndex(tt.index)
			m.SetPolicy(tt.policy)

			got, ok := m.NextIndex()
			if ok != tt.wantOK {
				t.Errorf("Expected ok %v, got %v", tt.wantOK, ok)
			}
			if got != tt.want {
				t.Errorf("Expected next %d, got %d", tt.want, got)
			}
		})
	}
}

func TestNextIndexWithoutSelection(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b"))

	next, ok := m.NextIndex()
	if !ok || next != 0 {
		t.Errorf("Expected next 0, got %d (ok=%v)", next, ok)
	}
}

func TestNextIndexEmpty(t *testing.T) {
	m := NewManager()
	m.SetPolicy(types.PolicyLoopList)

	if _, ok := m.NextIndex(); ok {
		t.Error("Expected no next index on empty queue")
	}
}

func TestShuffleStaysInRange(t *testing.T) {
	m := NewManager(WithRand(rand.New(rand.NewSource(42))))
	m.Set(tracks("a", "b", "c", "d"))
	m.SetIndex(0)
	m.SetPolicy(types.PolicyShuffle)

	for i := 0; i < 100; i++ {
		next, ok := m.NextIndex()
		if !ok {
			t.Fatal("Expected shuffle to always produce a next index")
		}
		if next < 0 || next >= 4 {
			t.Fatalf("Shuffle index %d out of range", next)
		}
		m.SetIndex(next)
	}
}

func TestPrevIndex(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b", "c"))
	m.SetIndex(2)
	m.SetPolicy(types.PolicySingleOnce)

	prev, ok := m.PrevIndex()
	if !ok || prev != 1 {
		t.Errorf("Expected prev 1, got %d", prev)
	}

	m.SetIndex(0)
	prev, _ = m.PrevIndex()
	if prev != 2 {
		t.Errorf("Expected prev to wrap to 2, got %d", prev)
	}
}

func TestCurrent(t *testing.T) {
	m := NewManager()

	track, idx := m.Current()
	if track != nil || idx != -1 {
		t.Error("Expected no current track on empty queue")
	}

	m.Set(tracks("a", "b"))
	m.SetIndex(1)

	track, idx = m.Current()
	if track == nil || track.ID != "b" {
		t.Errorf("Expected current b, got %v", track)
	}
	if idx != 1 {
		t.Errorf("Expected index 1, got %d", idx)
	}
}

func TestSetIndex(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b", "c"))

	if !m.SetIndex(1) {
		t.Error("SetIndex(1) should succeed")
	}
	if m.SetIndex(-1) {
		t.Error("SetIndex(-1) should fail")
	}
	if m.SetIndex(10) {
		t.Error("SetIndex(10) should fail")
	}

	idx, _ := m.Position()
	if idx != 1 {
		t.Errorf("Expected index 1, got %d", idx)
	}
}

func TestReplaceKeepsCurrent(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b", "c"))
	m.SetIndex(1)

	m.Replace(tracks("x", "b"))

	idx, size := m.Position()
	if size != 2 {
		t.Errorf("Expected size 2, got %d", size)
	}
	if idx != 1 {
		t.Errorf("Expected current b to stay selected at 1, got %d", idx)
	}

	m.Replace(tracks("y"))
	idx, _ = m.Position()
	if idx != -1 {
		t.Errorf("Expected index -1 once current is gone, got %d", idx)
	}
}

func TestIndexOf(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b"))

	if m.IndexOf("b") != 1 {
		t.Errorf("Expected IndexOf(b) = 1, got %d", m.IndexOf("b"))
	}
	if m.IndexOf("z") != -1 {
		t.Errorf("Expected IndexOf(z) = -1, got %d", m.IndexOf("z"))
	}
}

func TestClear(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b"))
	m.SetIndex(0)

	m.Clear()

	idx, size := m.Position()
	if idx != -1 || size != 0 {
		t.Errorf("Expected empty queue, got index %d size %d", idx, size)
	}
}

func TestRemove(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b", "c"))
	m.SetIndex(1)

	if !m.Remove(0) {
		t.Error("Remove(0) should succeed")
	}

	idx, size := m.Position()
	if size != 2 {
		t.Errorf("Expected size 2, got %d", size)
	}
	if idx != 0 {
		t.Errorf("Expected index 0 after removing earlier item, got %d", idx)
	}

	track, _ := m.Current()
	if track.ID != "b" {
		t.Errorf("Expected current b, got %s", track.ID)
	}
}

func TestRemoveCurrentKeepsFollowing(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b", "c"))
	m.SetIndex(1)

	m.Remove(1)

	track, _ := m.Current()
	if track == nil || track.ID != "c" {
		t.Errorf("Expected current c after removing b, got %v", track)
	}
}

func TestInsert(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "c"))
	m.SetIndex(1)

	if !m.Insert(1, types.Track{ID: "b"}) {
		t.Error("Insert should succeed")
	}

	items := m.Items()
	if items[1].ID != "b" {
		t.Errorf("Expected b at index 1, got %s", items[1].ID)
	}

	track, _ := m.Current()
	if track.ID != "c" {
		t.Errorf("Expected current c to follow insert, got %s", track.ID)
	}
}

func TestMove(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b", "c", "d"))
	m.SetIndex(0)

	if !m.Move(0, 2) {
		t.Error("Move should succeed")
	}

	items := m.Items()
	if items[2].ID != "a" {
		t.Errorf("Expected a at index 2, got %s", items[2].ID)
	}

	idx, _ := m.Position()
	if idx != 2 {
		t.Errorf("Expected current index to follow moved track, got %d", idx)
	}
}

func TestMoveInvalidIndex(t *testing.T) {
	m := NewManager()
	m.Set(tracks("a", "b"))

	if m.Move(-1, 0) {
		t.Error("Move(-1, 0) should fail")
	}
	if m.Move(0, 5) {
		t.Error("Move(0, 5) should fail")
	}
}

func TestOnChange(t *testing.T) {
	m := NewManager()

	var calls int
	var last []types.Track
	m.SetOnChange(func(items []types.Track) {
		calls++
		last = items
	})

	m.Set(tracks("a"))
	m.Append(tracks("b"))

	if calls != 2 {
		t.Errorf("Expected 2 change callbacks, got %d", calls)
	}
	if len(last) != 2 {
		t.Errorf("Expected 2 items in last callback, got %d", len(last))
	}
}
