package gateways

import (
	"context"
	"crypto/sha1" //nolint:gosec // G505: object ids are SHA-1
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/ochairo/capn/internal/domain/entities"
	"github.com/ochairo/capn/internal/domain/interfaces"
)

// graph is a commit DAG keyed by name, timestamps increase in insertion order
type graph struct {
	headers map[entities.ObjectID]CommitHeader
	names   map[entities.ObjectID]string
	clock   time.Time
	loads   int
}

func newGraph() *graph {
	return &graph{
		headers: make(map[entities.ObjectID]CommitHeader),
		names:   make(map[entities.ObjectID]string),
		clock:   time.Unix(1_600_000_000, 0),
	}
}

func oid(name string) entities.ObjectID {
	return entities.ObjectID(sha1.Sum([]byte(name))) //nolint:gosec // G401
}

func (g *graph) commit(name string, parents ...string) *graph {
	g.clock = g.clock.Add(time.Minute)
	return g.commitAt(name, g.clock, parents...)
}

func (g *graph) commitAt(name string, when time.Time, parents ...string) *graph {
	ids := make([]entities.ObjectID, 0, len(parents))
	for _, p := range parents {
		ids = append(ids, oid(p))
	}
	g.headers[oid(name)] = CommitHeader{Parents: ids, CommitterTime: when}
	g.names[oid(name)] = name
	return g
}

func (g *graph) load(_ context.Context, id entities.ObjectID) (CommitHeader, bool, error) {
	g.loads++
	h, ok := g.headers[id]
	return h, ok, nil
}

func (g *graph) walk(t *testing.T, hide, include []string) []string {
	t.Helper()
	ids, err := NewRevisionWalk(g.load, &interfaces.NoOpLogger{}).Walk(context.Background(), g.ids(hide), g.ids(include))
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, g.names[id])
	}
	return names
}

func (g *graph) ids(names []string) []entities.ObjectID {
	ids := make([]entities.ObjectID, 0, len(names))
	for _, n := range names {
		if n == "" {
			ids = append(ids, entities.ZeroID)
			continue
		}
		ids = append(ids, oid(n))
	}
	return ids
}

func TestRevisionWalk(t *testing.T) {
	// a - b - c (main)
	//      \
	//       d - e (feature)
	//            \
	//             m (merge of c and e)
	g := newGraph().
		commit("a").
		commit("b", "a").
		commit("c", "b").
		commit("d", "b").
		commit("e", "d").
		commit("m", "c", "e")

	tests := []struct {
		name    string
		hide    []string
		include []string
		want    []string
	}{
		{"linear branch", []string{"c"}, []string{"e"}, []string{"e", "d"}},
		{"merge", []string{"c"}, []string{"m"}, []string{"m", "e", "d"}},
		{"nothing hidden", nil, []string{"e"}, []string{"e", "d", "b", "a"}},
		{"include hidden", []string{"m"}, []string{"e"}, []string{}},
		{"hide descendant of tip", []string{"e"}, []string{"d"}, []string{}},
		{"zero ids ignored", []string{"", "c"}, []string{"", "e"}, []string{"e", "d"}},
		{"no tips", []string{"c"}, nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.walk(t, tt.hide, tt.include)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Walk() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRevisionWalk_HidesThroughLoadedCommits(t *testing.T) {
	// the hidden tip is older than the included commits, so b is reached
	// as interesting before it is known to be hidden
	g := newGraph().
		commit("a").
		commit("b", "a").
		commit("old", "b").
		commit("x", "b").
		commit("y", "x")

	got := g.walk(t, []string{"old"}, []string{"y"})
	if want := []string{"y", "x"}; !slices.Equal(got, want) {
		t.Errorf("Walk() = %v, want %v", got, want)
	}
}

func TestRevisionWalk_TipOlderThanHidden(t *testing.T) {
	// c is older than the hidden tip b but still reachable only from c
	base := time.Unix(1_600_000_000, 0)
	g := newGraph().
		commitAt("a", base).
		commitAt("b", base.Add(10*time.Minute), "a").
		commitAt("c", base.Add(time.Minute), "a")

	got := g.walk(t, []string{"b"}, []string{"c"})
	if want := []string{"c"}; !slices.Equal(got, want) {
		t.Errorf("Walk() = %v, want %v", got, want)
	}
}

func TestRevisionWalk_MissingObjects(t *testing.T) {
	g := newGraph().
		commit("a").
		commit("b", "a", "gone")

	t.Run("missing hidden commit is skipped", func(t *testing.T) {
		got := g.walk(t, []string{"unknown"}, []string{"a"})
		if want := []string{"a"}; !slices.Equal(got, want) {
			t.Errorf("Walk() = %v, want %v", got, want)
		}
	})

	t.Run("missing parent is a boundary", func(t *testing.T) {
		got := g.walk(t, nil, []string{"b"})
		if want := []string{"b", "a"}; !slices.Equal(got, want) {
			t.Errorf("Walk() = %v, want %v", got, want)
		}
	})

	t.Run("missing include is an error", func(t *testing.T) {
		w := NewRevisionWalk(g.load, &interfaces.NoOpLogger{})
		if _, err := w.Walk(context.Background(), nil, []entities.ObjectID{oid("unknown")}); err == nil {
			t.Error("Walk() expected error for missing include")
		}
	})
}

func TestRevisionWalk_LoaderError(t *testing.T) {
	boom := errors.New("object database unavailable")
	w := NewRevisionWalk(func(context.Context, entities.ObjectID) (CommitHeader, bool, error) {
		return CommitHeader{}, false, boom
	}, &interfaces.NoOpLogger{})

	if _, err := w.Walk(context.Background(), nil, []entities.ObjectID{oid("a")}); !errors.Is(err, boom) {
		t.Errorf("Walk() error = %v, want %v", err, boom)
	}
}

func TestRevisionWalk_StopsEarly(t *testing.T) {
	g := newGraph().commit("root")
	prev := "root"
	for i := range 200 {
		name := fmt.Sprintf("main-%d", i)
		g.commit(name, prev)
		prev = name
	}
	g.commit("topic", prev)

	got := g.walk(t, []string{prev}, []string{"topic"})
	if want := []string{"topic"}; !slices.Equal(got, want) {
		t.Errorf("Walk() = %v, want %v", got, want)
	}
	if g.loads > 2+walkSlop {
		t.Errorf("Walk() loaded %d commits, want at most %d", g.loads, 2+walkSlop)
	}
}

func TestRevisionWalk_ContextCanceled(t *testing.T) {
	g := newGraph().commit("a").commit("b", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRevisionWalk(g.load, &interfaces.NoOpLogger{}).Walk(ctx, nil, []entities.ObjectID{oid("b")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Walk() error = %v, want context.Canceled", err)
	}
}
