// Package table implements the table-exchange conveniences layered over
// the messaging core: broadcasting references to tabular data files and
// tracking row highlight and selection state received from other
// applications. Tables travel by reference only; nothing here opens or
// parses the referenced file.
package table

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/markoxley/altair/client"
	"github.com/markoxley/altair/samp"
)

// Message types of the table-exchange vocabulary.
const (
	MTypeLoadFITS     = "table.load.fits"
	MTypeHighlightRow = "table.highlight.row"
	MTypeSelectRows   = "table.select.rowList"
)

// Parameter keys used by the table-exchange mtypes.
const (
	ParamName    = "name"
	ParamTableID = "table-id"
	ParamURL     = "url"
	ParamRow     = "row"
	ParamRowList = "row-list"
)

// Info describes one table another application announced.
type Info struct {
	Name     string
	TableID  string
	URL      string
	SenderID string
}

// Tracker observes table-exchange notifications on a session and keeps
// the latest table catalog, highlighted row and selected row list. All
// methods are safe for concurrent use.
type Tracker struct {
	log zerolog.Logger

	mu      sync.Mutex
	tables  map[string]Info
	row     int
	hasRow  bool
	rowList []int
	last    *samp.Message
}

// Attach binds the table-exchange handlers on s and returns the tracker
// that accumulates their state. The bindings subscribe the session to the
// three table mtypes.
func Attach(ctx context.Context, s *client.Session) (*Tracker, error) {
	t := &Tracker{
		log:    zlog.With().Str("component", "table").Logger(),
		tables: make(map[string]Info),
	}
	if err := s.BindNotification(ctx, MTypeLoadFITS, t.onLoad); err != nil {
		return nil, err
	}
	if err := s.BindNotification(ctx, MTypeHighlightRow, t.onHighlight); err != nil {
		return nil, err
	}
	if err := s.BindNotification(ctx, MTypeSelectRows, t.onSelect); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) onLoad(senderID string, m *samp.Message) {
	name, _ := m.Params.String(ParamName)
	url, _ := m.Params.String(ParamURL)
	id, _ := m.Params.String(ParamTableID)
	if name == "" {
		// A nameless announcement is still addressable by its URL.
		name = url
	}
	if name == "" {
		t.log.Warn().Str("sender", senderID).Msg("table announcement without name or url dropped")
		return
	}
	t.mu.Lock()
	t.tables[name] = Info{Name: name, TableID: id, URL: url, SenderID: senderID}
	t.last = m
	t.mu.Unlock()
	t.log.Info().Str("sender", senderID).Str("name", name).Str("url", url).Msg("table announced")
}

func (t *Tracker) onHighlight(senderID string, m *samp.Message) {
	row, err := intParam(m.Params[ParamRow])
	if err != nil {
		t.log.Warn().Err(err).Str("sender", senderID).Msg("bad row highlight dropped")
		return
	}
	t.mu.Lock()
	t.row = row
	t.hasRow = true
	t.last = m
	t.mu.Unlock()
	t.log.Debug().Str("sender", senderID).Int("row", row).Msg("row highlighted")
}

// onSelect replaces the selection wholesale; selections never merge.
func (t *Tracker) onSelect(senderID string, m *samp.Message) {
	raw, ok := m.Params.List(ParamRowList)
	if !ok {
		t.log.Warn().Str("sender", senderID).Msg("row selection without row-list dropped")
		return
	}
	rows := make([]int, 0, len(raw))
	for _, v := range raw {
		n, err := intParam(v)
		if err != nil {
			t.log.Warn().Err(err).Str("sender", senderID).Msg("bad row selection dropped")
			return
		}
		rows = append(rows, n)
	}
	t.mu.Lock()
	t.rowList = rows
	t.last = m
	t.mu.Unlock()
	t.log.Debug().Str("sender", senderID).Int("rows", len(rows)).Msg("rows selected")
}

// intParam decodes a row index in any of the spellings peers send them.
func intParam(v any) (int, error) {
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%w: row index %q", samp.ErrMalformed, n)
		}
		return i, nil
	case int:
		return n, nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: row index %v", samp.ErrMalformed, v)
}

// CurrentRow returns the most recently highlighted row index and whether
// any highlight has been received.
func (t *Tracker) CurrentRow() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.row, t.hasRow
}

// CurrentRowList returns a copy of the most recent row selection.
func (t *Tracker) CurrentRowList() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.rowList))
	copy(out, t.rowList)
	return out
}

// Table returns the announcement stored under name.
func (t *Tracker) Table(name string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.tables[name]
	return info, ok
}

// Tables returns every stored announcement, sorted by name.
func (t *Tracker) Tables() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.tables))
	for _, info := range t.tables {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LastMessage returns the most recent table-exchange message received.
func (t *Tracker) LastMessage() *samp.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
