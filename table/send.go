package table

import (
	"context"
	"strconv"

	"github.com/markoxley/altair/client"
	"github.com/markoxley/altair/samp"
)

// SendTable announces a table by reference. An empty target broadcasts to
// every subscribed client.
func SendTable(ctx context.Context, s *client.Session, target, name, tableID, url string) error {
	m := samp.New(MTypeLoadFITS).
		Set(ParamName, name).
		Set(ParamTableID, tableID).
		Set(ParamURL, url)
	return send(ctx, s, target, m)
}

// SendRow highlights a single row of the table at url. An empty target
// broadcasts.
func SendRow(ctx context.Context, s *client.Session, target, url string, row int) error {
	m := samp.New(MTypeHighlightRow).
		Set(ParamURL, url).
		Set(ParamRow, strconv.Itoa(row))
	return send(ctx, s, target, m)
}

// SendRows selects a list of rows of the table at url, replacing any
// previous selection on the receiving side. Indices travel string-encoded
// per the wire convention. An empty target broadcasts.
func SendRows(ctx context.Context, s *client.Session, target, url string, rows []int) error {
	list := make([]any, len(rows))
	for i, r := range rows {
		list[i] = strconv.Itoa(r)
	}
	m := samp.New(MTypeSelectRows).
		Set(ParamURL, url).
		Set(ParamRowList, list)
	return send(ctx, s, target, m)
}

func send(ctx context.Context, s *client.Session, target string, m *samp.Message) error {
	if target == "" {
		_, err := s.NotifyAll(ctx, m)
		return err
	}
	return s.Notify(ctx, target, m)
}
