package plan

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/reindex/pkg/core"
)

type book struct {
	ID    string
	Title string
	Shelf string
	Fail  bool
}

type author struct {
	ID    string
	Name  string
	Books []string
}

type recorded struct {
	Kind       core.CommandKind
	DocumentID string
	Route      core.Route
	Doc        core.Document
}

type fakeIndex struct {
	mu      sync.Mutex
	log     []recorded
	flushes []core.CommitPolicy
}

func (f *fakeIndex) Commands(string) core.IndexCommands { return &fakeStream{idx: f} }

func (f *fakeIndex) commands() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.log...)
}

type fakeStream struct {
	idx *fakeIndex
}

func (s *fakeStream) write(kind core.CommandKind, ref core.DocumentRef, c core.DocumentContributor) *core.Future[core.Ack] {
	var doc core.Document
	var err error
	if c != nil {
		doc = core.Document{}
		err = c.Contribute(doc)
	}
	s.idx.mu.Lock()
	s.idx.log = append(s.idx.log, recorded{Kind: kind, DocumentID: ref.DocumentID, Route: ref.Route, Doc: doc})
	s.idx.mu.Unlock()
	return core.Completed(core.Ack{}, err)
}

func (s *fakeStream) Add(ref core.DocumentRef, c core.DocumentContributor) *core.Future[core.Ack] {
	return s.write(core.CommandAdd, ref, c)
}

func (s *fakeStream) AddOrUpdate(ref core.DocumentRef, c core.DocumentContributor) *core.Future[core.Ack] {
	return s.write(core.CommandAddOrUpdate, ref, c)
}

func (s *fakeStream) Delete(ref core.DocumentRef) *core.Future[core.Ack] {
	return s.write(core.CommandDelete, ref, nil)
}

func (s *fakeStream) Flush(_ context.Context, commit core.CommitPolicy, _ core.RefreshPolicy) error {
	s.idx.mu.Lock()
	defer s.idx.mu.Unlock()
	s.idx.flushes = append(s.idx.flushes, commit)
	return nil
}

func (s *fakeStream) Discard() {}

type fakeLoader struct {
	records map[string]map[any]any
	errs    map[any]error
	planned []core.ReindexTarget
	loads   int
	onLoad  func() error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{records: map[string]map[any]any{}, errs: map[any]error{}}
}

func (l *fakeLoader) put(typeName string, id any, e any) {
	if l.records[typeName] == nil {
		l.records[typeName] = map[any]any{}
	}
	l.records[typeName][id] = e
}

func (l *fakeLoader) PlanLoading(typeName string, id any) int {
	l.planned = append(l.planned, core.ReindexTarget{Type: typeName, ID: id})
	return len(l.planned) - 1
}

func (l *fakeLoader) Retrieve(_ context.Context, typeName string, ordinal int) (any, error) {
	l.loads++
	if l.onLoad != nil {
		if err := l.onLoad(); err != nil {
			return nil, err
		}
	}
	id := l.planned[ordinal].ID
	if err := l.errs[id]; err != nil {
		return nil, err
	}
	return l.records[typeName][id], nil
}

type fakeSender struct {
	mu     sync.Mutex
	events []core.IndexingEvent
	err    error
}

func (s *fakeSender) Send(_ context.Context, events []core.IndexingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

// countingRouter routes everything to one fixed partition.
type countingRouter struct {
	route core.Route
	calls int
}

func (r *countingRouter) CurrentRoute(any, core.EntityAccessor, *core.DocumentRoutes) (*core.Route, error) {
	r.calls++
	route := r.route
	return &route, nil
}

func (r *countingRouter) Routes(_ any, _ core.EntityAccessor, provided *core.DocumentRoutes) (core.DocumentRoutes, error) {
	r.calls++
	route := r.route
	out := core.DocumentRoutes{Current: &route}
	if provided != nil {
		out.Previous = provided.Previous
	}
	return out.Normalized(), nil
}

type countingResolver struct {
	calls int
	fn    func(entity any, dirty core.Dirtiness) ([]core.ReindexTarget, error)
}

func (r *countingResolver) Resolve(_ context.Context, entity any, dirty core.Dirtiness) ([]core.ReindexTarget, error) {
	r.calls++
	if r.fn == nil {
		return nil, nil
	}
	return r.fn(entity, dirty)
}

var errBoom = errors.New("boom")

type fixture struct {
	registry       *Registry
	index          *fakeIndex
	loader         *fakeLoader
	router         *countingRouter
	bookResolver   *countingResolver
	authorResolver *countingResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry:     NewRegistry(),
		index:        &fakeIndex{},
		loader:       newFakeLoader(),
		router:       &countingRouter{route: core.Route{RoutingKey: "r1"}},
		bookResolver: &countingResolver{},
	}
	f.authorResolver = &countingResolver{fn: func(entity any, _ core.Dirtiness) ([]core.ReindexTarget, error) {
		a := entity.(author)
		var out []core.ReindexTarget
		for _, id := range a.Books {
			out = append(out, core.ReindexTarget{Type: "book", ID: id})
		}
		return out, nil
	}}

	bookPaths := NewPathIndex("title", "shelf", "internal", "author")
	bookSelf, err := bookPaths.Set("title", "shelf", "author")
	require.NoError(t, err)
	bookContaining, err := bookPaths.Set("title")
	require.NoError(t, err)
	require.NoError(t, f.registry.Register(TypeContext{
		Name:            "book",
		Indexed:         true,
		Paths:           bookPaths,
		SelfDirty:       bookSelf,
		ContainingDirty: bookContaining,
		Identifiers:     ProvidedIdentifiers{},
		Router:          f.router,
		Resolver:        f.bookResolver,
		Bridge: func(entity any, doc core.Document) error {
			b := entity.(book)
			if b.Fail {
				return errBoom
			}
			doc["title"] = b.Title
			return nil
		},
	}))

	authorPaths := NewPathIndex("name", "books")
	authorContaining, err := authorPaths.Set("name")
	require.NoError(t, err)
	require.NoError(t, f.registry.Register(TypeContext{
		Name:            "author",
		Paths:           authorPaths,
		ContainingDirty: authorContaining,
		Identifiers:     ProvidedIdentifiers{},
		Resolver:        f.authorResolver,
	}))
	return f
}

func (f *fixture) plan(opts ...Option) *RootPlan {
	opts = append([]Option{WithLoadingPlan(f.loader)}, opts...)
	return NewRootPlan(f.registry, f.index, Strategy{Kind: LocalSync, Sync: SyncFull}, opts...)
}

func kinds(cmds []recorded) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, string(c.Kind)+":"+c.DocumentID)
	}
	return out
}

func execute(t *testing.T, r *RootPlan) core.Report {
	t.Helper()
	report, err := r.ExecuteAndReport(context.Background()).Wait(context.Background())
	require.NoError(t, err)
	return report
}
