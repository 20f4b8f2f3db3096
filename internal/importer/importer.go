// Package importer は外部のRSS/Atomフィードからコレクションへアイテムを一括登録する。
// 読書記録や視聴記録のサービスが公開しているフィードを取り込む用途を想定する。
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/shelfman/internal/access"
	"github.com/hitoshi/shelfman/internal/item"
	"github.com/hitoshi/shelfman/internal/metrics"
	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/security"
)

const userAgent = "Shelfman/1.0 (+collection feed import)"

// ItemCreator はアイテムを作成する。item.ItemServiceが実装する。
type ItemCreator interface {
	Create(ctx context.Context, caller model.Caller, collectionID string, in item.CreateInput) (*model.Item, error)
}

// CollectionFinder はインポート先のコレクションを取得する。
type CollectionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Collection, error)
}

// Config はインポートの制限値。
type Config struct {
	Timeout     time.Duration
	MaxBodySize int64
	MaxItems    int
}

// Request はインポートの入力値。
type Request struct {
	URL    string
	Status string
}

// Result はインポート結果。
type Result struct {
	FeedURL   string
	FeedTitle string
	Imported  int
	Skipped   int
}

// Importer はフィードの取得、解析、アイテム作成を行う。
type Importer struct {
	guard       security.URLGuard
	sanitizer   security.TextSanitizer
	collections CollectionFinder
	items       ItemCreator
	metrics     metrics.MetricsCollector
	config      Config
}

// NewImporter はImporterを生成する。
func NewImporter(
	guard security.URLGuard,
	sanitizer security.TextSanitizer,
	collections CollectionFinder,
	items ItemCreator,
	mc metrics.MetricsCollector,
	config Config,
) *Importer {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5 * 1024 * 1024
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 100
	}
	return &Importer{
		guard:       guard,
		sanitizer:   sanitizer,
		collections: collections,
		items:       items,
		metrics:     mc,
		config:      config,
	}
}

// Import はURLのフィード（またはページが参照するフィード）を取得し、各エントリをアイテムとして作成する。
// タイトルが空のエントリと検証に通らないエントリはスキップする。
// 件数上限を超えたエントリもスキップとして数える。
func (im *Importer) Import(ctx context.Context, caller model.Caller, collectionID string, req Request) (*Result, error) {
	start := time.Now()
	res, err := im.run(ctx, caller, collectionID, req)

	imported, skipped := 0, 0
	if res != nil {
		imported, skipped = res.Imported, res.Skipped
	}
	im.metrics.RecordImport(metrics.ResultOf(err), imported, skipped)
	im.metrics.RecordImportLatency(time.Since(start))

	if err != nil {
		return nil, err
	}

	slog.Info("feed imported",
		slog.String("collection_id", collectionID),
		slog.String("user_id", caller.UserID),
		slog.String("feed_url", res.FeedURL),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (im *Importer) run(ctx context.Context, caller model.Caller, collectionID string, req Request) (*Result, error) {
	if err := access.RequireCaller(caller); err != nil {
		return nil, err
	}
	if _, err := model.ParseItemStatus(req.Status); err != nil {
		return nil, err
	}
	if err := im.checkTarget(ctx, caller, collectionID); err != nil {
		return nil, err
	}

	feedURL, feed, err := im.resolveFeed(ctx, strings.TrimSpace(req.URL))
	if err != nil {
		return nil, err
	}

	res := &Result{FeedURL: feedURL, FeedTitle: strings.TrimSpace(feed.Title)}
	for i, entry := range feed.Items {
		if i >= im.config.MaxItems {
			res.Skipped += len(feed.Items) - i
			break
		}
		in, ok := im.toInput(entry, req.Status)
		if !ok {
			res.Skipped++
			continue
		}

		_, err := im.items.Create(ctx, caller, collectionID, in)
		switch {
		case err == nil:
			res.Imported++
		case model.IsValidation(err):
			slog.Debug("feed entry skipped",
				slog.String("feed_url", feedURL),
				slog.String("error", err.Error()),
			)
			res.Skipped++
		default:
			// 途中でコレクションが削除された場合などはそこで打ち切る
			return res, err
		}
	}
	return res, nil
}

// checkTarget はフィードを取得する前にインポート先への書き込み権限を確認する。
func (im *Importer) checkTarget(ctx context.Context, caller model.Caller, collectionID string) error {
	if _, err := uuid.Parse(collectionID); err != nil {
		return model.NewNotFoundError("コレクション", collectionID)
	}
	c, err := im.collections.FindByID(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("コレクションの取得に失敗しました: %w", err)
	}
	if c == nil {
		return model.NewNotFoundError("コレクション", collectionID)
	}
	return access.Check(caller, access.ForCollection(c), access.OpWrite)
}

// resolveFeed はURLを取得し、HTMLであれば参照先のフィードを取得して解析する。
func (im *Importer) resolveFeed(ctx context.Context, rawURL string) (string, *gofeed.Feed, error) {
	if rawURL == "" {
		return "", nil, model.NewInvalidURLError("URLが入力されていません")
	}

	client := im.guard.NewSafeClient(im.config.Timeout)
	body, contentType, err := im.fetch(ctx, client, rawURL)
	if err != nil {
		return "", nil, err
	}

	feedURL := rawURL
	if !looksLikeFeed(contentType, body) {
		if !isHTML(contentType) {
			return "", nil, model.NewFeedNotDetectedError(rawURL)
		}
		link, ok := pickFeedLink(discoverFeedLinks(body, rawURL), rawURL)
		if !ok {
			return "", nil, model.NewFeedNotDetectedError(rawURL)
		}
		feedURL = link.URL
		if body, _, err = im.fetch(ctx, client, feedURL); err != nil {
			return "", nil, err
		}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		slog.Warn("feed parse failed",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return "", nil, model.NewParseFailedError()
	}
	return feedURL, feed, nil
}

// fetch はSSRF検証を行ったうえでURLを取得し、ボディとContent-Typeを返す。
func (im *Importer) fetch(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, error) {
	if err := im.guard.ValidateURL(rawURL); err != nil {
		slog.Warn("import url rejected",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, "", model.NewSSRFBlockedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/html;q=0.8, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, im.config.MaxBodySize+1))
	if err != nil {
		return nil, "", model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}
	if int64(len(body)) > im.config.MaxBodySize {
		return nil, "", model.NewFetchFailedError(fmt.Sprintf("レスポンスが上限（%dバイト）を超えています", im.config.MaxBodySize))
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// toInput はフィードのエントリをアイテム作成の入力値に変換する。タイトルが空の場合はfalseを返す。
func (im *Importer) toInput(e *gofeed.Item, status string) (item.CreateInput, bool) {
	if e == nil {
		return item.CreateInput{}, false
	}
	title := im.sanitizer.PlainText(e.Title, model.MaxItemTitleLength)
	if title == "" {
		return item.CreateInput{}, false
	}

	in := item.CreateInput{Title: title, Status: status}

	desc := e.Description
	if desc == "" {
		desc = e.Content
	}
	if text := im.sanitizer.PlainText(desc, model.MaxItemDescriptionLength); text != "" {
		in.Description = &text
	}

	if img := imageOf(e); img != "" {
		if valid, err := model.OptionalImageURL("imageUrl", &img); err == nil && valid != nil {
			in.ImageURL = valid
		}
	}

	attrs := map[string]string{}
	if link := strings.TrimSpace(e.Link); link != "" {
		attrs["link"] = link
	}
	if author := authorOf(e); author != "" {
		attrs["author"] = author
	}
	if e.PublishedParsed != nil {
		attrs["published"] = e.PublishedParsed.UTC().Format(time.DateOnly)
	} else if e.UpdatedParsed != nil {
		attrs["published"] = e.UpdatedParsed.UTC().Format(time.DateOnly)
	}
	if len(e.Categories) > 0 {
		attrs["tags"] = strings.Join(e.Categories, ", ")
	}
	for k, v := range attrs {
		attrs[k] = truncateRunes(v, model.MaxAttributeValueLength)
	}
	if len(attrs) > 0 {
		// map[string]stringのMarshalは失敗しない
		raw, _ := json.Marshal(attrs)
		in.Attributes = raw
	}

	return in, true
}

// imageOf はエントリの画像URLを返す。画像がない場合は画像型のenclosureを使う。
func imageOf(e *gofeed.Item) string {
	if e.Image != nil && e.Image.URL != "" {
		return strings.TrimSpace(e.Image.URL)
	}
	for _, enc := range e.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return strings.TrimSpace(enc.URL)
		}
	}
	return ""
}

func authorOf(e *gofeed.Item) string {
	if e.Author != nil && strings.TrimSpace(e.Author.Name) != "" {
		return strings.TrimSpace(e.Author.Name)
	}
	for _, a := range e.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
