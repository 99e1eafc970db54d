package frontend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark"

	"github.com/javi11/nntpchand/article"
	"github.com/javi11/nntpchand/store"
)

// Source is the read side of the store used to rebuild pages.
type Source interface {
	Get(id string) (*article.Article, bool, error)
	Group(name string) (store.GroupInfo, bool, error)
	ListGroup(name string, r store.Range) iter.Seq2[store.Entry, error]
}

// DefaultPostsPerPage is how many posts one board page shows.
const DefaultPostsPerPage = 10

const boardTemplate = "board.html"

const defaultBoard = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Group}} page {{.Page}}</title></head>
<body>
<h1>{{.Group}}</h1>
{{range .Posts}}<div class="post" id="{{.Number}}">
<div class="meta"><b>{{.Subject}}</b> {{.From}} {{.Date}} <span class="id">{{.MessageID}}</span></div>
<div class="body">{{.Body}}</div>
</div>
{{end}}<div class="pages">{{range .PageLinks}}<a href="{{.File}}">[{{.Number}}]</a> {{end}}</div>
</body>
</html>
`

// StaticFileConfig configures StaticNotifier.
type StaticFileConfig struct {
	TemplateDir  string
	OutDir       string
	Dialect      string
	MaxPages     int
	PostsPerPage int
}

// StaticNotifier regenerates the HTML pages of every accepted group an
// article was posted to. At most MaxPages pages are written per group,
// newest posts first.
type StaticNotifier struct {
	prefixFilter
	src      Source
	tmpl     *template.Template
	md       goldmark.Markdown
	outDir   string
	maxPages int
	perPage  int

	mu     sync.Mutex
	groups map[string]*sync.Mutex
}

type boardPage struct {
	Group     string
	Page      int
	Pages     int
	Posts     []boardPost
	PageLinks []pageLink
}

type boardPost struct {
	Number    int64
	MessageID string
	Subject   string
	From      string
	Date      string
	Body      template.HTML
}

type pageLink struct {
	Number int
	File   string
}

func NewStaticFile(cfg StaticFileConfig, prefix string, src Source) (*StaticNotifier, error) {
	if src == nil {
		return nil, errors.New("staticfile frontend needs an article source")
	}
	if cfg.MaxPages <= 0 {
		return nil, fmt.Errorf("staticfile frontend: max_pages must be positive, got %d", cfg.MaxPages)
	}
	if cfg.OutDir == "" {
		return nil, errors.New("staticfile frontend needs out_dir")
	}
	switch strings.ToLower(cfg.Dialect) {
	case "", "html":
	default:
		return nil, fmt.Errorf("staticfile frontend: unsupported template dialect %q", cfg.Dialect)
	}
	if cfg.PostsPerPage <= 0 {
		cfg.PostsPerPage = DefaultPostsPerPage
	}

	tmpl, err := loadBoardTemplate(cfg.TemplateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create out_dir: %w", err)
	}

	return &StaticNotifier{
		prefixFilter: prefixFilter(prefix),
		src:          src,
		tmpl:         tmpl,
		md:           goldmark.New(),
		outDir:       cfg.OutDir,
		maxPages:     cfg.MaxPages,
		perPage:      cfg.PostsPerPage,
		groups:       make(map[string]*sync.Mutex),
	}, nil
}

func loadBoardTemplate(dir string) (*template.Template, error) {
	if dir != "" {
		p := filepath.Join(dir, boardTemplate)
		if _, err := os.Stat(p); err == nil {
			t, err := template.ParseFiles(p)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", p, err)
			}
			return t, nil
		}
	}
	return template.New(boardTemplate).Parse(defaultBoard)
}

func (s *StaticNotifier) Name() string { return TypeStaticFile }

func (s *StaticNotifier) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, g := range ev.Newsgroups {
		if !s.Accepts(g) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return &NotifierError{Frontend: TypeStaticFile, MessageID: ev.MessageID, Err: err}
		}
		if err := s.regenerate(ctx, g); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g, err))
		}
	}
	if len(errs) > 0 {
		return &NotifierError{Frontend: TypeStaticFile, MessageID: ev.MessageID, Err: errors.Join(errs...)}
	}
	return nil
}

func (s *StaticNotifier) groupLock(group string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.groups[group]
	if !ok {
		m = &sync.Mutex{}
		s.groups[group] = m
	}
	return m
}

// regenerate rewrites every page of group. Concurrent calls for the same
// group are serialised so pages never interleave.
func (s *StaticNotifier) regenerate(ctx context.Context, group string) error {
	lock := s.groupLock(group)
	lock.Lock()
	defer lock.Unlock()

	info, ok, err := s.src.Group(group)
	if err != nil {
		return err
	}
	if !ok || info.Count == 0 {
		return nil
	}

	posts, err := s.newest(ctx, group, info)
	if err != nil {
		return err
	}

	pages := (len(posts) + s.perPage - 1) / s.perPage
	if pages > s.maxPages {
		pages = s.maxPages
	}
	links := make([]pageLink, pages)
	for i := range links {
		links[i] = pageLink{Number: i, File: pageName(i)}
	}

	dir := filepath.Join(s.outDir, group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i := 0; i < pages; i++ {
		end := min((i+1)*s.perPage, len(posts))
		page := boardPage{
			Group:     group,
			Page:      i,
			Pages:     pages,
			Posts:     posts[i*s.perPage : end],
			PageLinks: links,
		}
		if err := s.writePage(filepath.Join(dir, pageName(i)), page); err != nil {
			return err
		}
	}
	return nil
}

// newest loads at most maxPages*perPage posts, newest first.
func (s *StaticNotifier) newest(ctx context.Context, group string, info store.GroupInfo) ([]boardPost, error) {
	limit := int64(s.maxPages * s.perPage)
	low := max(info.Low, info.High-limit+1)

	var posts []boardPost
	for e, err := range s.src.ListGroup(group, store.Range{Low: low, High: info.High}) {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, ok, err := s.src.Get(e.MessageID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		p, err := s.render(e.Number, a)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
	return posts, nil
}

func (s *StaticNotifier) render(n int64, a *article.Article) (boardPost, error) {
	var body bytes.Buffer
	if err := s.md.Convert(a.Body, &body); err != nil {
		return boardPost{}, fmt.Errorf("render %s: %w", a.MessageID, err)
	}
	return boardPost{
		Number:    n,
		MessageID: a.MessageID,
		Subject:   a.Get("Subject"),
		From:      a.Get("From"),
		Date:      a.Get("Date"),
		// goldmark escapes raw HTML unless WithUnsafe is set
		Body: template.HTML(body.String()),
	}, nil
}

func (s *StaticNotifier) writePage(path string, page boardPage) error {
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, page); err != nil {
		return fmt.Errorf("execute template: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".page-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// pageName is the file name of page i inside a group directory.
func pageName(i int) string {
	if i == 0 {
		return "index.html"
	}
	return fmt.Sprintf("%d.html", i)
}
