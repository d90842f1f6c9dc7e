package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/reindex/pkg/core"
)

func TestRootPlan_EndToEnd(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.Add("book", "1", nil, book{ID: "1", Title: "A"}))
	require.NoError(t, r.AddOrUpdate("book", "2", nil, book{ID: "2", Title: "B"}, "title"))
	require.NoError(t, r.Delete("book", "3", nil, book{ID: "3", Title: "C"}))

	report := execute(t, r)
	assert.False(t, report.Failed())

	cmds := f.index.commands()
	assert.Equal(t, []string{"ADD:1", "ADD_OR_UPDATE:2", "DELETE:3"}, kinds(cmds))
	for _, c := range cmds {
		assert.Equal(t, core.Route{RoutingKey: "r1"}, c.Route)
	}
	assert.Equal(t, core.Document{"title": "A"}, cmds[0].Doc)
	assert.Equal(t, []core.CommitPolicy{core.CommitForce}, f.index.flushes)
}

func TestRootPlan_OrderFollowsFirstTouch(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.AddOrUpdate("book", "2", nil, book{ID: "2"}))
	require.NoError(t, r.Add("book", "1", nil, book{ID: "1"}))
	require.NoError(t, r.AddOrUpdate("book", "2", nil, book{ID: "2"}, "title"))

	execute(t, r)
	assert.Equal(t, []string{"ADD_OR_UPDATE:2", "ADD:1"}, kinds(f.index.commands()))
}

func TestRootPlan_AddThenDeleteCancels(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.Add("book", "1", nil, book{ID: "1"}))
	require.NoError(t, r.Delete("book", "1", nil, book{ID: "1"}))

	execute(t, r)
	assert.Empty(t, f.index.commands())
	assert.Zero(t, f.router.calls, "no route lookup expected")
	assert.Zero(t, f.loader.loads, "no load expected")
}

func TestRootPlan_DeleteThenAddBecomesUpdate(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.Delete("book", "1", nil, book{ID: "1"}))
	require.NoError(t, r.Add("book", "1", nil, book{ID: "1", Title: "again"}))

	execute(t, r)
	assert.Equal(t, []string{"ADD_OR_UPDATE:1"}, kinds(f.index.commands()))
}

func TestRootPlan_AddDeleteAddStaysAdd(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.Add("book", "1", nil, book{ID: "1"}))
	require.NoError(t, r.Delete("book", "1", nil, book{ID: "1"}))
	require.NoError(t, r.Add("book", "1", nil, book{ID: "1", Title: "third"}))

	execute(t, r)
	cmds := f.index.commands()
	assert.Equal(t, []string{"ADD:1"}, kinds(cmds))
	assert.Equal(t, "third", cmds[0].Doc["title"])
}

func TestRootPlan_CollapsingMatchesDecisionTable(t *testing.T) {
	type op func(r *RootPlan) error
	add := func(r *RootPlan) error { return r.Add("book", "1", nil, book{ID: "1"}) }
	upd := func(r *RootPlan) error { return r.AddOrUpdate("book", "1", nil, book{ID: "1"}) }
	del := func(r *RootPlan) error { return r.Delete("book", "1", nil, book{ID: "1"}) }
	cont := func(r *RootPlan) error {
		return r.updateBecauseOfContained(core.ReindexTarget{Type: "book", ID: "1", Entity: book{ID: "1"}})
	}

	cases := []struct {
		name string
		ops  []op
		want []string
	}{
		{"add", []op{add}, []string{"ADD:1"}},
		{"add update update", []op{add, upd, upd}, []string{"ADD:1"}},
		{"update", []op{upd}, []string{"ADD_OR_UPDATE:1"}},
		{"update update update", []op{upd, upd, upd}, []string{"ADD_OR_UPDATE:1"}},
		{"delete", []op{del}, []string{"DELETE:1"}},
		{"update delete", []op{upd, del}, []string{"DELETE:1"}},
		{"add update delete", []op{add, upd, del}, []string{}},
		{"delete add update", []op{del, add, upd}, []string{"ADD_OR_UPDATE:1"}},
		{"delete add delete", []op{del, add, del}, []string{"DELETE:1"}},
		{"add delete add delete", []op{add, del, add, del}, []string{}},
		{"update add", []op{upd, add}, []string{"ADD:1"}},
		{"update add update", []op{upd, add, upd}, []string{"ADD:1"}},
		{"contained add", []op{cont, add}, []string{"ADD:1"}},
		{"update delete add", []op{upd, del, add}, []string{"ADD_OR_UPDATE:1"}},
		{"update add delete", []op{upd, add, del}, []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.plan()
			for _, o := range tc.ops {
				require.NoError(t, o(r))
			}
			execute(t, r)
			assert.Equal(t, tc.want, kinds(f.index.commands()))
		})
	}
}

func TestRootPlan_DirtyPathsUnion(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.AddOrUpdate("book", "1", nil, book{ID: "1"}, "internal"))
	require.NoError(t, r.AddOrUpdate("book", "1", nil, book{ID: "1"}, "title"))

	p := r.plans["book"]
	s := p.states["1"]
	assert.Equal(t, []string{"title", "internal"}, p.ctx.Paths.NamesOf(s.dirtyPaths))
	assert.True(t, p.delegate.IsDirtyForAddOrUpdate(s.forceSelfDirty, s.forceContainingDirty, s.dirtyPaths))

	execute(t, r)
	assert.Equal(t, []string{"ADD_OR_UPDATE:1"}, kinds(f.index.commands()))
}

func TestRootPlan_UpdateOfIrrelevantPathIsSkipped(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.AddOrUpdate("book", "1", nil, book{ID: "1"}, "internal"))
	execute(t, r)

	assert.Empty(t, f.index.commands())
}

func TestRootPlan_UnknownPathIsRejected(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	err := r.AddOrUpdate("book", "1", nil, book{ID: "1"}, "nope")
	assert.ErrorIs(t, err, core.ErrUnknownPath)
}

func TestRootPlan_Preconditions(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	assert.ErrorIs(t, r.Add("book", "1", nil, nil), core.ErrNilEntity)
	assert.ErrorIs(t, r.AddOrUpdate("book", "1", nil, nil), core.ErrNilEntity)
	assert.ErrorIs(t, r.Delete("book", "1", nil, nil), core.ErrNilEntity)
	assert.ErrorIs(t, r.Add("magazine", "1", nil, book{}), core.ErrUnknownType)
	assert.ErrorIs(t, r.Add("book", []string{"x"}, nil, book{}), core.ErrInvalidIdentifier)
}

func TestRootPlan_ContainedChangeReindexesContaining(t *testing.T) {
	f := newFixture(t)
	f.loader.put("book", "10", book{ID: "10", Title: "loaded"})
	r := f.plan()

	require.NoError(t, r.AddOrUpdate("author", "a", nil, author{ID: "a", Books: []string{"10"}}, "name"))

	execute(t, r)
	cmds := f.index.commands()
	require.Equal(t, []string{"ADD_OR_UPDATE:10"}, kinds(cmds))
	assert.Equal(t, "loaded", cmds[0].Doc["title"])
	assert.Equal(t, 1, f.authorResolver.calls)
	assert.Zero(t, f.bookResolver.calls, "contained-only update must not cascade")
}

func TestRootPlan_ContainedIrrelevantPathDoesNotResolve(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.AddOrUpdate("author", "a", nil, author{ID: "a", Books: []string{"10"}}, "books"))

	execute(t, r)
	assert.Empty(t, f.index.commands())
	assert.Zero(t, f.authorResolver.calls)
}

func TestRootPlan_ContainedTargetDeletedInSameUnitIsIgnored(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.Delete("book", "10", nil, book{ID: "10"}))
	require.NoError(t, r.AddOrUpdate("author", "a", nil, author{ID: "a", Books: []string{"10"}}, "name"))

	execute(t, r)
	assert.Equal(t, []string{"DELETE:10"}, kinds(f.index.commands()))
}

func TestRootPlan_ContainedTargetAlsoDirty(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.AddOrUpdate("book", "10", nil, book{ID: "10", Title: "own"}, "title"))
	require.NoError(t, r.AddOrUpdate("author", "a", nil, author{ID: "a", Books: []string{"10"}}, "name"))

	execute(t, r)
	cmds := f.index.commands()
	require.Equal(t, []string{"ADD_OR_UPDATE:10"}, kinds(cmds))
	assert.Equal(t, "own", cmds[0].Doc["title"])
	assert.Zero(t, f.loader.loads)
}

func TestRootPlan_AggregateFailure(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.Add("book", "1", nil, book{ID: "1"}))
	require.NoError(t, r.AddOrUpdate("book", "2", nil, book{ID: "2", Fail: true}, "title"))
	require.NoError(t, r.Delete("book", "3", nil, book{ID: "3"}))

	report := execute(t, r)
	assert.True(t, report.Failed())
	assert.Equal(t, []core.EntityReference{{Type: "book", ID: "2"}}, report.FailingEntities)
	assert.ErrorIs(t, report.Err, errBoom)
	assert.Equal(t, []string{"ADD:1", "ADD_OR_UPDATE:2", "DELETE:3"}, kinds(f.index.commands()))
}

func TestRootPlan_AddOrUpdateOrDelete(t *testing.T) {
	f := newFixture(t)
	f.loader.put("book", "1", book{ID: "1", Title: "still here"})
	r := f.plan()

	self := core.Dirtiness{ForceSelf: true}
	require.NoError(t, r.AddOrUpdateOrDelete("book", "1", nil, self))
	require.NoError(t, r.AddOrUpdateOrDelete("book", "2", nil, self))

	execute(t, r)
	assert.Equal(t, []string{"ADD_OR_UPDATE:1", "DELETE:2"}, kinds(f.index.commands()))
	assert.Len(t, f.loader.planned, 2)
	assert.Equal(t, 2, f.loader.loads)
}

func TestRootPlan_PurgeTrustsProvidedRoutes(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	routes := &core.DocumentRoutes{
		Current:  &core.Route{RoutingKey: "now"},
		Previous: []core.Route{{RoutingKey: "before"}, {RoutingKey: "now"}},
	}
	require.NoError(t, r.Purge("book", "7", routes))

	execute(t, r)
	cmds := f.index.commands()
	require.Equal(t, []string{"DELETE:7", "DELETE:7"}, kinds(cmds))
	assert.Equal(t, "before", cmds[0].Route.RoutingKey)
	assert.Equal(t, "now", cmds[1].Route.RoutingKey)
	assert.Zero(t, f.router.calls)
}

func TestRootPlan_RouteChangeDeletesPreviousFirst(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	routes := &core.DocumentRoutes{Previous: []core.Route{{RoutingKey: "old"}}}
	require.NoError(t, r.AddOrUpdate("book", "1", routes, book{ID: "1"}, "shelf"))

	execute(t, r)
	cmds := f.index.commands()
	require.Equal(t, []string{"DELETE:1", "ADD_OR_UPDATE:1"}, kinds(cmds))
	assert.Equal(t, "old", cmds[0].Route.RoutingKey)
	assert.Equal(t, "r1", cmds[1].Route.RoutingKey)
}

func TestRootPlan_ReentrantProcess(t *testing.T) {
	f := newFixture(t)
	r := f.plan()
	f.loader.onLoad = func() error { return r.Process(context.Background()) }

	require.NoError(t, r.AddOrUpdateOrDelete("book", "1", nil, core.Dirtiness{ForceSelf: true}))
	err := r.Process(context.Background())
	assert.ErrorIs(t, err, core.ErrReentrantProcess)
}

func TestRootPlan_IgnorableFailureOnContainingEntity(t *testing.T) {
	stale := errors.New("stale proxy")

	t.Run("swallowed when classified ignorable", func(t *testing.T) {
		f := newFixture(t)
		f.loader.errs["10"] = stale
		r := f.plan(WithIgnorable(func(err error) bool { return errors.Is(err, stale) }))

		require.NoError(t, r.AddOrUpdate("author", "a", nil, author{ID: "a", Books: []string{"10"}}, "name"))
		report := execute(t, r)
		assert.False(t, report.Failed())
		assert.Empty(t, f.index.commands())
	})

	t.Run("propagated otherwise", func(t *testing.T) {
		f := newFixture(t)
		f.loader.errs["10"] = stale
		r := f.plan()

		require.NoError(t, r.AddOrUpdate("author", "a", nil, author{ID: "a", Books: []string{"10"}}, "name"))
		err := r.Process(context.Background())
		assert.ErrorIs(t, err, stale)
	})

	t.Run("never swallowed for the changed entity", func(t *testing.T) {
		f := newFixture(t)
		f.loader.errs["1"] = stale
		r := f.plan(WithIgnorable(func(err error) bool { return true }))

		require.NoError(t, r.AddOrUpdateOrDelete("book", "1", nil, core.Dirtiness{ForceSelf: true}))
		err := r.Process(context.Background())
		assert.ErrorIs(t, err, stale)
	})
}

func TestRootPlan_ResolverFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.authorResolver.fn = func(any, core.Dirtiness) ([]core.ReindexTarget, error) {
		return nil, errBoom
	}
	r := f.plan()

	require.NoError(t, r.AddOrUpdate("author", "a", nil, author{ID: "a"}, "name"))
	err := r.Process(context.Background())
	require.ErrorIs(t, err, errBoom)

	var entityErr *core.EntityError
	require.ErrorAs(t, err, &entityErr)
	assert.Equal(t, core.EntityReference{Type: "author", ID: "a"}, entityErr.Entity)
}

func TestRootPlan_DiscardIsIdempotent(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.Add("book", "1", nil, book{ID: "1"}))
	r.Discard()
	r.Discard()

	_, err := r.ExecuteAndReport(context.Background()).Wait(context.Background())
	assert.ErrorIs(t, err, core.ErrDiscarded)
	assert.ErrorIs(t, r.Add("book", "2", nil, book{ID: "2"}), core.ErrDiscarded)
	assert.Empty(t, f.index.commands())
	assert.Empty(t, f.index.flushes)
}

type failingRouter struct{}

func (failingRouter) CurrentRoute(any, core.EntityAccessor, *core.DocumentRoutes) (*core.Route, error) {
	return nil, errBoom
}

func (failingRouter) Routes(any, core.EntityAccessor, *core.DocumentRoutes) (core.DocumentRoutes, error) {
	return core.DocumentRoutes{}, errBoom
}

func TestRootPlan_FailedExecutionDropsEmittedCommands(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(TypeContext{
		Name:        "magazine",
		Indexed:     true,
		Identifiers: ProvidedIdentifiers{},
		Router:      failingRouter{},
		Bridge:      func(any, core.Document) error { return nil },
	}))
	r := f.plan()
	ctx := context.Background()

	// book is emitted before magazine fails.
	require.NoError(t, r.Add("book", "1", nil, book{ID: "1"}))
	require.NoError(t, r.Add("magazine", "m", nil, "m"))

	_, err := r.ExecuteAndReport(ctx).Wait(ctx)
	assert.ErrorIs(t, err, errBoom)

	_, err = r.ExecuteAndReport(ctx).Wait(ctx)
	assert.ErrorIs(t, err, core.ErrDiscarded)
	assert.Empty(t, f.index.flushes, "commands of a failed plan are never flushed")
}

func TestRootPlan_SkipTypes(t *testing.T) {
	f := newFixture(t)
	r := f.plan(WithSkipTypes("auth*"))

	require.NoError(t, r.AddOrUpdate("author", "a", nil, author{ID: "a", Books: []string{"10"}}, "name"))
	execute(t, r)

	assert.Zero(t, f.authorResolver.calls)
	assert.Empty(t, f.index.commands())
}

func TestRootPlan_StatesClearedAfterProcess(t *testing.T) {
	f := newFixture(t)
	r := f.plan()

	require.NoError(t, r.Add("book", "1", nil, book{ID: "1"}))
	execute(t, r)
	require.Len(t, f.index.commands(), 1)

	execute(t, r)
	assert.Len(t, f.index.commands(), 1)
	assert.Zero(t, r.plans["book"].Len())
}
