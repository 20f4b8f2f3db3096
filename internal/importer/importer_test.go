package importer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shelfman/internal/item"
	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/repository/repotest"
	"github.com/hitoshi/shelfman/internal/security"
)

// --- モック ---

// mockGuard はhttptestサーバー（ループバック）への接続を許可するURLGuard。
type mockGuard struct {
	validateFn func(rawURL string) error
}

func (m *mockGuard) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

func (m *mockGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

type mockMetrics struct {
	mu       sync.Mutex
	results  []string
	imported int
	skipped  int
}

func (m *mockMetrics) RecordStoreOp(entity, op, result string) {}
func (m *mockMetrics) RecordAttributesIgnored() {}
func (m *mockMetrics) RecordImport(result string, imported, skipped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	m.imported += imported
	m.skipped += skipped
}
func (m *mockMetrics) RecordImportLatency(duration time.Duration) {}
func (m *mockMetrics) RecordHTTPStatus(statusCode int) {}

var (
	alice = model.Caller{UserID: "11111111-1111-1111-1111-111111111111", Name: "Alice"}
	bob   = model.Caller{UserID: "22222222-2222-2222-2222-222222222222", Name: "Bob"}
)

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Alice's bookshelf: read</title>
  <link>https://books.example.com/alice</link>
  <item>
    <title>Dune</title>
    <link>https://books.example.com/book/dune</link>
    <description><![CDATA[<p>A <b>desert</b> planet &amp; spice.</p><script>alert(1)</script>]]></description>
    <author>Frank Herbert</author>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    <category>sci-fi</category>
    <enclosure url="https://images.example.com/dune.jpg" type="image/jpeg" length="1000"/>
  </item>
  <item>
    <title>   </title>
    <link>https://books.example.com/book/untitled</link>
  </item>
  <item>
    <title>Hyperion</title>
    <link>https://books.example.com/book/hyperion</link>
  </item>
</channel>
</rss>`

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Diary</title>
  <entry>
    <title>Paprika</title>
    <link href="https://films.example.com/paprika"/>
    <updated>2024-05-01T10:00:00Z</updated>
    <author><name>Satoshi Kon</name></author>
  </entry>
</feed>`

type fixture struct {
	importer *Importer
	store    *repotest.Store
	metrics  *mockMetrics
	coll     *model.Collection
}

func newFixture(t *testing.T, guard security.URLGuard, cfg Config) *fixture {
	t.Helper()
	store := repotest.NewStore()
	now := time.Now()
	coll := &model.Collection{ID: uuid.New().String(), UserID: alice.UserID, Name: "Books", Category: model.CategoryBooks, CreatedAt: now, UpdatedAt: now}
	if err := store.Collections().Create(context.Background(), coll); err != nil {
		t.Fatalf("seed collection: %v", err)
	}
	if guard == nil {
		guard = &mockGuard{}
	}
	mc := &mockMetrics{}
	items := item.NewItemService(store.Items(), store.Collections(), nil)
	return &fixture{
		importer: NewImporter(guard, security.NewTextSanitizer(), store.Collections(), items, mc, cfg),
		store:    store,
		metrics:  mc,
		coll:     coll,
	}
}

func serve(t *testing.T, routes map[string]struct{ ct, body string }) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", route.ct)
		fmt.Fprint(w, route.body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// --- テスト ---

// TestImport_RSS はRSSの各エントリがアイテムとして作成されることを検証する。
func TestImport_RSS(t *testing.T) {
	ts := serve(t, map[string]struct{ ct, body string }{
		"/rss": {"application/rss+xml", rssFeed},
	})
	f := newFixture(t, nil, Config{})
	ctx := context.Background()

	res, err := f.importer.Import(ctx, alice, f.coll.ID, Request{URL: ts.URL + "/rss", Status: "owned"})
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Imported != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v, want imported=2 skipped=1", res)
	}
	if res.FeedTitle != "Alice's bookshelf: read" {
		t.Errorf("FeedTitle = %q", res.FeedTitle)
	}
	if f.store.ItemCount() != 2 {
		t.Fatalf("item count = %d, want 2", f.store.ItemCount())
	}

	items, _ := f.store.Items().ListByCollectionID(ctx, f.coll.ID)
	var dune *model.Item
	for _, it := range items {
		if it.Title == "Dune" {
			dune = it
		}
	}
	if dune == nil {
		t.Fatal("Dune not imported")
	}
	if dune.Description == nil || *dune.Description != "A desert planet & spice." {
		t.Errorf("Description = %v", dune.Description)
	}
	if dune.ImageURL == nil || *dune.ImageURL != "https://images.example.com/dune.jpg" {
		t.Errorf("ImageURL = %v", dune.ImageURL)
	}
	if dune.Attributes["link"] != "https://books.example.com/book/dune" {
		t.Errorf("link = %q", dune.Attributes["link"])
	}
	if dune.Attributes["published"] != "2006-01-02" {
		t.Errorf("published = %q", dune.Attributes["published"])
	}
	if dune.Attributes["tags"] != "sci-fi" {
		t.Errorf("tags = %q", dune.Attributes["tags"])
	}
	if dune.Status != model.ItemStatusOwned {
		t.Errorf("Status = %q", dune.Status)
	}
	if f.metrics.results[0] != "ok" || f.metrics.imported != 2 {
		t.Errorf("metrics = %+v", f.metrics)
	}
}

// TestImport_DiscoversFeedFromHTML はHTMLページのlink要素からフィードを見つけることを検証する。
func TestImport_DiscoversFeedFromHTML(t *testing.T) {
	page := `<html><head><title>Diary</title>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/atom+xml" href="/atom.xml">
</head><body></body></html>`
	ts := serve(t, map[string]struct{ ct, body string }{
		"/diary":    {"text/html; charset=utf-8", page},
		"/atom.xml": {"application/atom+xml", atomFeed},
	})
	f := newFixture(t, nil, Config{})

	res, err := f.importer.Import(context.Background(), alice, f.coll.ID, Request{URL: ts.URL + "/diary", Status: "wishlist"})
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.FeedURL != ts.URL+"/atom.xml" {
		t.Errorf("FeedURL = %q", res.FeedURL)
	}
	if res.Imported != 1 {
		t.Fatalf("Imported = %d, want 1", res.Imported)
	}

	items, _ := f.store.Items().ListByCollectionID(context.Background(), f.coll.ID)
	if items[0].Attributes["author"] != "Satoshi Kon" || items[0].Attributes["published"] != "2024-05-01" {
		t.Errorf("Attributes = %v", items[0].Attributes)
	}
	if items[0].Status != model.ItemStatusWishlist {
		t.Errorf("Status = %q", items[0].Status)
	}
}

func TestImport_MaxItems(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<rss version="2.0"><channel><title>Many</title>`)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "<item><title>Game %d</title></item>", i)
	}
	b.WriteString(`</channel></rss>`)
	ts := serve(t, map[string]struct{ ct, body string }{"/rss": {"application/rss+xml", b.String()}})
	f := newFixture(t, nil, Config{MaxItems: 3})

	res, err := f.importer.Import(context.Background(), alice, f.coll.ID, Request{URL: ts.URL + "/rss"})
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Imported != 3 || res.Skipped != 2 {
		t.Errorf("result = %+v, want imported=3 skipped=2", res)
	}
}

// TestImport_OtherUsersCollection は他人のコレクションへのインポートが拒否され、フィードも取得しないことを検証する。
func TestImport_OtherUsersCollection(t *testing.T) {
	fetched := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = true
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed)
	}))
	defer ts.Close()
	f := newFixture(t, nil, Config{})

	_, err := f.importer.Import(context.Background(), bob, f.coll.ID, Request{URL: ts.URL})
	if !model.IsForbidden(err) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	if fetched {
		t.Error("feed must not be fetched for an unauthorized import")
	}
	if f.store.ItemCount() != 0 {
		t.Errorf("item count = %d, want 0", f.store.ItemCount())
	}
	if f.metrics.results[0] != "forbidden" {
		t.Errorf("metric result = %q", f.metrics.results[0])
	}
}

func TestImport_Errors(t *testing.T) {
	ts := serve(t, map[string]struct{ ct, body string }{
		"/page":   {"text/html", "<html><head></head><body>no feeds</body></html>"},
		"/image":  {"image/png", "PNG"},
		"/broken": {"application/rss+xml", "this is not a feed"},
	})

	tests := []struct {
		name     string
		caller   model.Caller
		collID   string
		req      Request
		wantCode string
	}{
		{"anonymous", model.Caller{}, "", Request{URL: ts.URL + "/page"}, model.ErrCodeUnauthenticated},
		{"bad status", alice, "", Request{URL: ts.URL + "/page", Status: "lost"}, model.ErrCodeValidation},
		{"missing collection", alice, uuid.New().String(), Request{URL: ts.URL + "/page"}, model.ErrCodeNotFound},
		{"empty url", alice, "", Request{URL: "  "}, model.ErrCodeInvalidURL},
		{"no feed link", alice, "", Request{URL: ts.URL + "/page"}, model.ErrCodeFeedNotDetected},
		{"not html", alice, "", Request{URL: ts.URL + "/image"}, model.ErrCodeFeedNotDetected},
		{"http error", alice, "", Request{URL: ts.URL + "/missing"}, model.ErrCodeFetchFailed},
		{"unparsable", alice, "", Request{URL: ts.URL + "/broken"}, model.ErrCodeParseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, Config{})
			collID := tt.collID
			if collID == "" {
				collID = f.coll.ID
			}
			_, err := f.importer.Import(context.Background(), tt.caller, collID, tt.req)
			if !model.HasCode(err, tt.wantCode) {
				t.Errorf("err = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestImport_BlockedURL(t *testing.T) {
	f := newFixture(t, &mockGuard{
		validateFn: func(rawURL string) error { return fmt.Errorf("blocked") },
	}, Config{})

	_, err := f.importer.Import(context.Background(), alice, f.coll.ID, Request{URL: "http://169.254.169.254/"})
	if !model.HasCode(err, model.ErrCodeSSRFBlocked) {
		t.Fatalf("err = %v, want SSRF_BLOCKED", err)
	}
}

func TestImport_BodyTooLarge(t *testing.T) {
	ts := serve(t, map[string]struct{ ct, body string }{"/rss": {"application/rss+xml", rssFeed}})
	f := newFixture(t, nil, Config{MaxBodySize: 64})

	_, err := f.importer.Import(context.Background(), alice, f.coll.ID, Request{URL: ts.URL + "/rss"})
	if !model.HasCode(err, model.ErrCodeFetchFailed) {
		t.Fatalf("err = %v, want FETCH_FAILED", err)
	}
}
