package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskforce-io/taskforce/internal/cache"
	"github.com/taskforce-io/taskforce/internal/config"
	"github.com/taskforce-io/taskforce/pkg/board"
)

const (
	githubAPIBase    = "https://api.github.com"
	githubTimeout    = 30 * time.Second
	githubFetchLimit = 8 // parallel per-file fetches during a listing
	logCacheTTL      = 5 * time.Second
)

// githubBackend stores tickets as JSON documents under status-named paths
// on a dedicated branch, via the GitHub contents API. Writes need the prior
// blob sha; listings enumerate a directory and fetch files in parallel.
// The TTL cache is mandatory here to keep interactive latency acceptable.
type githubBackend struct {
	cfg     config.GitHubConfig
	apiBase string
	httpc   *http.Client
	cache   *cache.Cache
	logger  *slog.Logger
	colTTL  time.Duration

	branchMu sync.Mutex
	branchOK bool
}

func newGitHubBackend(cfg config.GitHubConfig, logger *slog.Logger) *githubBackend {
	colTTL := cfg.CacheTTL
	if colTTL <= 0 {
		colTTL = cache.DefaultTTL
	}
	return &githubBackend{
		cfg:     cfg,
		apiBase: githubAPIBase,
		httpc:   &http.Client{Timeout: githubTimeout},
		cache:   cache.New(),
		logger:  logger,
		colTTL:  colTTL,
	}
}

func (b *githubBackend) name() string { return "github" }

func ticketDocPath(status board.Status, id string) string {
	return fmt.Sprintf("tickets/%s/%s.json", status, id)
}

func logDocPath(id string) string {
	return "logs/" + board.LogFileName(id)
}

// --- contents API plumbing ---

type ghFile struct {
	content string
	sha     string
}

type ghContentEntry struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	SHA         string `json:"sha"`
	Content     string `json:"content"`
	DownloadURL string `json:"download_url"`
}

// api performs one authenticated call. A 404 yields (nil, nil) so callers
// can treat "absent" as a value rather than a failure.
func (b *githubBackend) api(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("github: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.apiBase+path, body)
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("github: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("github: %s %s: HTTP %d: %s", method, path, resp.StatusCode, truncate(raw, 200))
	}
	return raw, nil
}

func (b *githubBackend) contentsPath(docPath string) string {
	return fmt.Sprintf("/repos/%s/%s/contents/%s", b.cfg.Owner, b.cfg.Repo, docPath)
}

func (b *githubBackend) getFile(ctx context.Context, docPath string) (*ghFile, error) {
	raw, err := b.api(ctx, http.MethodGet, b.contentsPath(docPath)+"?ref="+b.cfg.Branch, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	var entry ghContentEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Type != "file" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(entry.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("github: decode %s: %w", docPath, err)
	}
	return &ghFile{content: string(decoded), sha: entry.SHA}, nil
}

func (b *githubBackend) putFile(ctx context.Context, docPath, content, message, sha string) error {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  b.cfg.Branch,
	}
	if sha != "" {
		payload["sha"] = sha
	}
	_, err := b.api(ctx, http.MethodPut, b.contentsPath(docPath), payload)
	return err
}

func (b *githubBackend) deleteFile(ctx context.Context, docPath, message, sha string) error {
	payload := map[string]any{
		"message": message,
		"branch":  b.cfg.Branch,
		"sha":     sha,
	}
	_, err := b.api(ctx, http.MethodDelete, b.contentsPath(docPath), payload)
	return err
}

func (b *githubBackend) listDir(ctx context.Context, dir string) ([]ghContentEntry, error) {
	raw, err := b.api(ctx, http.MethodGet, b.contentsPath(dir)+"?ref="+b.cfg.Branch, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	var entries []ghContentEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil // path exists but is not a directory
	}
	files := entries[:0]
	for _, e := range entries {
		if e.Type == "file" {
			files = append(files, e)
		}
	}
	return files, nil
}

// ensureBranch lazily creates the data branch from main on first use.
func (b *githubBackend) ensureBranch(ctx context.Context) error {
	b.branchMu.Lock()
	defer b.branchMu.Unlock()
	if b.branchOK {
		return nil
	}

	branchPath := fmt.Sprintf("/repos/%s/%s/branches/", b.cfg.Owner, b.cfg.Repo)
	raw, err := b.api(ctx, http.MethodGet, branchPath+b.cfg.Branch, nil)
	if err != nil {
		return err
	}
	if raw == nil {
		mainRaw, err := b.api(ctx, http.MethodGet, branchPath+"main", nil)
		if err != nil {
			return err
		}
		if mainRaw == nil {
			return fmt.Errorf("github: branch main not found in %s/%s", b.cfg.Owner, b.cfg.Repo)
		}
		var main struct {
			Commit struct {
				SHA string `json:"sha"`
			} `json:"commit"`
		}
		if err := json.Unmarshal(mainRaw, &main); err != nil {
			return fmt.Errorf("github: parse branch: %w", err)
		}
		refsPath := fmt.Sprintf("/repos/%s/%s/git/refs", b.cfg.Owner, b.cfg.Repo)
		if _, err := b.api(ctx, http.MethodPost, refsPath, map[string]any{
			"ref": "refs/heads/" + b.cfg.Branch,
			"sha": main.Commit.SHA,
		}); err != nil {
			return err
		}
		b.logger.Info("data branch created", "branch", b.cfg.Branch)
	}
	b.branchOK = true
	return nil
}

// --- backend primitives ---

func colKey(status board.Status) string { return "gh:col:" + string(status) }
func fileKey(status board.Status, name string) string {
	return fmt.Sprintf("gh:file:%s/%s", status, name)
}
func logCacheKey(id string) string { return "gh:log:" + id }

func (b *githubBackend) listPartition(ctx context.Context, status board.Status) ([]*board.Ticket, error) {
	if cached, ok := b.cache.Get(colKey(status)); ok {
		return cloneTickets(cached.([]*board.Ticket)), nil
	}
	if err := b.ensureBranch(ctx); err != nil {
		return nil, err
	}

	files, err := b.listDir(ctx, "tickets/"+string(status))
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		tickets []*board.Ticket
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(githubFetchLimit)
	for _, f := range files {
		if !strings.HasSuffix(f.Name, ".json") {
			continue
		}
		g.Go(func() error {
			t, err := b.fetchTicket(gctx, status, f)
			if err != nil {
				// A single failed fetch drops out of the listing; it is
				// not fatal to the whole operation.
				b.logger.Warn("ticket fetch failed", "file", f.Name, "error", err)
				return nil
			}
			mu.Lock()
			tickets = append(tickets, t)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	b.cache.Set(colKey(status), tickets, b.colTTL)
	return cloneTickets(tickets), nil
}

// fetchTicket retrieves one ticket body via its raw download URL, which
// needs no auth and skips the base64 round trip.
func (b *githubBackend) fetchTicket(ctx context.Context, status board.Status, f ghContentEntry) (*board.Ticket, error) {
	if cached, ok := b.cache.Get(fileKey(status, f.Name)); ok {
		t := *(cached.(*board.Ticket))
		return &t, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.DownloadURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var t board.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, err
	}
	t.Status = status
	b.cache.Set(fileKey(status, f.Name), &t, b.colTTL)
	return &t, nil
}

func (b *githubBackend) find(ctx context.Context, id string) (*record, error) {
	for _, status := range board.Statuses {
		file, err := b.getFile(ctx, ticketDocPath(status, id))
		if err != nil {
			return nil, err
		}
		if file == nil {
			continue
		}
		var t board.Ticket
		if err := json.Unmarshal([]byte(file.content), &t); err != nil {
			return nil, fmt.Errorf("github: parse %s: %w", id, err)
		}
		t.Status = status
		return &record{ticket: &t, status: status, token: file.sha}, nil
	}
	return nil, nil
}

func (b *githubBackend) put(ctx context.Context, t *board.Ticket, prior *record) error {
	if err := b.ensureBranch(ctx); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("github: encode %s: %w", t.ID, err)
	}

	switch {
	case prior == nil:
		if err := b.putFile(ctx, ticketDocPath(t.Status, t.ID), string(data), "create "+t.ID, ""); err != nil {
			return err
		}
	case prior.status != t.Status:
		// Delete-then-write across partitions. The new document has no
		// prior version on its path, so no sha is sent.
		msg := fmt.Sprintf("move %s→%s", t.ID, t.Status)
		if err := b.deleteFile(ctx, ticketDocPath(prior.status, t.ID), msg, prior.token); err != nil {
			return err
		}
		if err := b.putFile(ctx, ticketDocPath(t.Status, t.ID), string(data), "update "+t.ID, ""); err != nil {
			return err
		}
		b.cache.InvalidatePrefix(colKey(prior.status))
	default:
		if err := b.putFile(ctx, ticketDocPath(t.Status, t.ID), string(data), "update "+t.ID, prior.token); err != nil {
			return err
		}
	}

	b.cache.InvalidatePrefix(colKey(t.Status))
	if prior != nil {
		b.cache.Delete(fileKey(prior.status, t.ID+".json"))
	}
	return nil
}

func (b *githubBackend) remove(ctx context.Context, rec *record) error {
	id := rec.ticket.ID
	if err := b.deleteFile(ctx, ticketDocPath(rec.status, id), "delete "+id, rec.token); err != nil {
		return err
	}
	b.cache.InvalidatePrefix(colKey(rec.status))
	b.cache.Delete(fileKey(rec.status, id+".json"))
	return nil
}

func (b *githubBackend) readLog(ctx context.Context, id string) (string, error) {
	if cached, ok := b.cache.Get(logCacheKey(id)); ok {
		return cached.(string), nil
	}
	file, err := b.getFile(ctx, logDocPath(id))
	if err != nil {
		return "", err
	}
	text := ""
	if file != nil {
		text = file.content
	}
	b.cache.Set(logCacheKey(id), text, logCacheTTL)
	return text, nil
}

func (b *githubBackend) appendLog(ctx context.Context, id, block string) error {
	existing, err := b.getFile(ctx, logDocPath(id))
	if err != nil {
		return err
	}
	content, sha := block, ""
	if existing != nil {
		content = existing.content + block
		sha = existing.sha
	}
	if err := b.putFile(ctx, logDocPath(id), content, "log "+id, sha); err != nil {
		return err
	}
	b.cache.Delete(logCacheKey(id))
	return nil
}

func (b *githubBackend) deleteLog(ctx context.Context, id string) error {
	file, err := b.getFile(ctx, logDocPath(id))
	if err != nil {
		return err
	}
	if file != nil {
		if err := b.deleteFile(ctx, logDocPath(id), "delete log "+id, file.sha); err != nil {
			return err
		}
	}
	b.cache.Delete(logCacheKey(id))
	return nil
}

// cloneTickets copies the cached slice so callers can mutate freely.
func cloneTickets(tickets []*board.Ticket) []*board.Ticket {
	out := make([]*board.Ticket, len(tickets))
	for i, t := range tickets {
		c := *t
		out[i] = &c
	}
	return out
}

func truncate(raw []byte, n int) string {
	if len(raw) > n {
		raw = raw[:n]
	}
	return string(raw)
}
