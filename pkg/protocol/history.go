package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
)

// History access types.
const (
	HistRange  = "range"
	HistTail   = "tail"
	HistSearch = "search"
)

// HistoryQuery is the variant part of a history_request selected by hist_access_type.
type HistoryQuery interface {
	AccessType() string
}

type RangeQuery struct {
	Session int `json:"session"`
	Start   int `json:"start"`
	Stop    int `json:"stop"`
}

func (RangeQuery) AccessType() string { return HistRange }

type TailQuery struct {
	N int `json:"n"`
}

func (TailQuery) AccessType() string { return HistTail }

type SearchQuery struct {
	N       int    `json:"n"`
	Pattern string `json:"pattern"`
	Unique  bool   `json:"unique"`
}

func (SearchQuery) AccessType() string { return HistSearch }

var (
	historyMu      sync.RWMutex
	historyQueries = map[string]func(raw []byte) (HistoryQuery, error){}
)

// RegisterHistoryQuery binds a hist_access_type value to its decoder.
func RegisterHistoryQuery(accessType string, decode func(raw []byte) (HistoryQuery, error)) {
	historyMu.Lock()
	defer historyMu.Unlock()
	historyQueries[accessType] = decode
}

func init() {
	RegisterHistoryQuery(HistRange, func(raw []byte) (HistoryQuery, error) {
		var q RangeQuery
		err := json.Unmarshal(raw, &q)
		return q, err
	})
	RegisterHistoryQuery(HistTail, func(raw []byte) (HistoryQuery, error) {
		var q TailQuery
		err := json.Unmarshal(raw, &q)
		return q, err
	})
	RegisterHistoryQuery(HistSearch, func(raw []byte) (HistoryQuery, error) {
		var q SearchQuery
		err := json.Unmarshal(raw, &q)
		return q, err
	})
}

// HistoryRequest asks for past inputs. Query holds the access-type specific fields.
type HistoryRequest struct {
	Output bool
	Raw    bool
	Query  HistoryQuery
}

type historyCommon struct {
	Output         bool   `json:"output"`
	Raw            bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"`
}

func (*HistoryRequest) MsgType() string   { return MsgHistoryRequest }
func (*HistoryRequest) ReplyType() string { return MsgHistoryReply }

func (r *HistoryRequest) UnmarshalJSON(data []byte) error {
	var common historyCommon
	if err := json.Unmarshal(data, &common); err != nil {
		return err
	}

	historyMu.RLock()
	decode, ok := historyQueries[common.HistAccessType]
	historyMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown hist_access_type %q", common.HistAccessType)
	}

	query, err := decode(data)
	if err != nil {
		return err
	}

	r.Output = common.Output
	r.Raw = common.Raw
	r.Query = query
	return nil
}

func (r *HistoryRequest) MarshalJSON() ([]byte, error) {
	if r.Query == nil {
		return nil, fmt.Errorf("history request without query")
	}

	fields := map[string]json.RawMessage{}
	queryJSON, err := json.Marshal(r.Query)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(queryJSON, &fields); err != nil {
		return nil, err
	}

	commonJSON, err := json.Marshal(historyCommon{Output: r.Output, Raw: r.Raw, HistAccessType: r.Query.AccessType()})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(commonJSON, &fields); err != nil {
		return nil, err
	}

	return json.Marshal(fields)
}

// HistoryEntry is one (session, line, input[, output]) tuple.
type HistoryEntry struct {
	Session int
	Line    int
	Input   string
	Output  *string
}

func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	if e.Output != nil {
		return json.Marshal([]any{e.Session, e.Line, []string{e.Input, *e.Output}})
	}
	return json.Marshal([]any{e.Session, e.Line, e.Input})
}

func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 3 {
		return fmt.Errorf("history entry has %d fields, want 3", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &e.Session); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[1], &e.Line); err != nil {
		return err
	}

	var pair []string
	if err := json.Unmarshal(tuple[2], &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("history input/output pair has %d fields, want 2", len(pair))
		}
		e.Input = pair[0]
		e.Output = &pair[1]
		return nil
	}
	e.Output = nil
	return json.Unmarshal(tuple[2], &e.Input)
}

type HistoryReply struct {
	Status  string         `json:"status"`
	History []HistoryEntry `json:"history"`
}

func (*HistoryReply) MsgType() string     { return MsgHistoryReply }
func (*HistoryReply) RequestType() string { return MsgHistoryRequest }
