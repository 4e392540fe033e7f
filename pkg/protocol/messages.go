package protocol

import "encoding/json"

// Message type tags.
const (
	MsgExecuteRequest    = "execute_request"
	MsgExecuteReply      = "execute_reply"
	MsgInspectRequest    = "inspect_request"
	MsgInspectReply      = "inspect_reply"
	MsgCompleteRequest   = "complete_request"
	MsgCompleteReply     = "complete_reply"
	MsgHistoryRequest    = "history_request"
	MsgHistoryReply      = "history_reply"
	MsgIsCompleteRequest = "is_complete_request"
	MsgIsCompleteReply   = "is_complete_reply"
	MsgKernelInfoRequest = "kernel_info_request"
	MsgKernelInfoReply   = "kernel_info_reply"
	MsgCommInfoRequest   = "comm_info_request"
	MsgCommInfoReply     = "comm_info_reply"
	MsgShutdownRequest   = "shutdown_request"
	MsgShutdownReply     = "shutdown_reply"
	MsgInterruptRequest  = "interrupt_request"
	MsgInterruptReply    = "interrupt_reply"

	MsgStatus            = "status"
	MsgStream            = "stream"
	MsgDisplayData       = "display_data"
	MsgUpdateDisplayData = "update_display_data"
	MsgExecuteInput      = "execute_input"
	MsgExecuteResult     = "execute_result"
	MsgError             = "error"
	MsgClearOutput       = "clear_output"
	MsgCommOpen          = "comm_open"
	MsgCommMsg           = "comm_msg"
	MsgCommClose         = "comm_close"

	MsgInputRequest = "input_request"
	MsgInputReply   = "input_reply"
)

// Reply status discriminator values.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusAborted = "aborted"
)

// Execution states carried by status messages.
const (
	StateBusy     = "busy"
	StateIdle     = "idle"
	StateStarting = "starting"
)

// MIMEBundle maps a MIME type to its representation.
type MIMEBundle map[string]any

// ErrorReply replaces the expected reply content whenever status is "error".
type ErrorReply struct {
	Reply          string   `json:"-"`
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count,omitempty"`
	EName          string   `json:"ename"`
	EValue         string   `json:"evalue"`
	Traceback      []string `json:"traceback"`
}

// NewErrorReply builds an error reply for the given reply tag.
func NewErrorReply(replyType string, ename string, evalue string, traceback []string) *ErrorReply {
	if traceback == nil {
		traceback = []string{}
	}
	return &ErrorReply{Reply: replyType, Status: StatusError, EName: ename, EValue: evalue, Traceback: traceback}
}

func (c *ErrorReply) MsgType() string     { return c.Reply }
func (c *ErrorReply) RequestType() string { return RequestTypeFor(c.Reply) }

type ExecuteRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

// UnmarshalJSON applies the protocol default store_history=true. Silent
// requests never store history.
func (r *ExecuteRequest) UnmarshalJSON(data []byte) error {
	type plain ExecuteRequest
	value := plain{StoreHistory: true}
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*r = ExecuteRequest(value)
	if r.Silent {
		r.StoreHistory = false
	}
	return nil
}

func (*ExecuteRequest) MsgType() string   { return MsgExecuteRequest }
func (*ExecuteRequest) ReplyType() string { return MsgExecuteReply }

type ExecuteReply struct {
	Status          string           `json:"status"`
	ExecutionCount  int              `json:"execution_count"`
	UserExpressions map[string]any   `json:"user_expressions,omitempty"`
	Payload         []map[string]any `json:"payload,omitempty"`
}

func (*ExecuteReply) MsgType() string     { return MsgExecuteReply }
func (*ExecuteReply) RequestType() string { return MsgExecuteRequest }

type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

func (*InspectRequest) MsgType() string   { return MsgInspectRequest }
func (*InspectRequest) ReplyType() string { return MsgInspectReply }

type InspectReply struct {
	Status   string         `json:"status"`
	Found    bool           `json:"found"`
	Data     MIMEBundle     `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

func (*InspectReply) MsgType() string     { return MsgInspectReply }
func (*InspectReply) RequestType() string { return MsgInspectRequest }

type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

func (*CompleteRequest) MsgType() string   { return MsgCompleteRequest }
func (*CompleteRequest) ReplyType() string { return MsgCompleteReply }

type CompleteReply struct {
	Status      string         `json:"status"`
	Matches     []string       `json:"matches"`
	CursorStart int            `json:"cursor_start"`
	CursorEnd   int            `json:"cursor_end"`
	Metadata    map[string]any `json:"metadata"`
}

func (*CompleteReply) MsgType() string     { return MsgCompleteReply }
func (*CompleteReply) RequestType() string { return MsgCompleteRequest }

type IsCompleteRequest struct {
	Code string `json:"code"`
}

func (*IsCompleteRequest) MsgType() string   { return MsgIsCompleteRequest }
func (*IsCompleteRequest) ReplyType() string { return MsgIsCompleteReply }

// IsCompleteReply.Status is one of complete, incomplete, invalid or unknown.
type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent,omitempty"`
}

func (*IsCompleteReply) MsgType() string     { return MsgIsCompleteReply }
func (*IsCompleteReply) RequestType() string { return MsgIsCompleteRequest }

type KernelInfoRequest struct{}

func (*KernelInfoRequest) MsgType() string   { return MsgKernelInfoRequest }
func (*KernelInfoRequest) ReplyType() string { return MsgKernelInfoReply }

type LanguageInfo struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	MIMEType       string `json:"mimetype"`
	FileExtension  string `json:"file_extension"`
	PygmentsLexer  string `json:"pygments_lexer,omitempty"`
	CodemirrorMode string `json:"codemirror_mode,omitempty"`
}

type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type KernelInfoReply struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
	HelpLinks             []HelpLink   `json:"help_links,omitempty"`
}

func (*KernelInfoReply) MsgType() string     { return MsgKernelInfoReply }
func (*KernelInfoReply) RequestType() string { return MsgKernelInfoRequest }

type CommInfoRequest struct {
	TargetName string `json:"target_name,omitempty"`
}

func (*CommInfoRequest) MsgType() string   { return MsgCommInfoRequest }
func (*CommInfoRequest) ReplyType() string { return MsgCommInfoReply }

type CommInfo struct {
	TargetName string `json:"target_name"`
}

type CommInfoReply struct {
	Status string              `json:"status"`
	Comms  map[string]CommInfo `json:"comms"`
}

func (*CommInfoReply) MsgType() string     { return MsgCommInfoReply }
func (*CommInfoReply) RequestType() string { return MsgCommInfoRequest }

type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

func (*ShutdownRequest) MsgType() string   { return MsgShutdownRequest }
func (*ShutdownRequest) ReplyType() string { return MsgShutdownReply }

type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

func (*ShutdownReply) MsgType() string     { return MsgShutdownReply }
func (*ShutdownReply) RequestType() string { return MsgShutdownRequest }

type InterruptRequest struct{}

func (*InterruptRequest) MsgType() string   { return MsgInterruptRequest }
func (*InterruptRequest) ReplyType() string { return MsgInterruptReply }

type InterruptReply struct {
	Status string `json:"status"`
}

func (*InterruptReply) MsgType() string     { return MsgInterruptReply }
func (*InterruptReply) RequestType() string { return MsgInterruptRequest }

type Status struct {
	ExecutionState string `json:"execution_state"`
}

func (*Status) MsgType() string { return MsgStatus }

// Stream.Name is stdout or stderr.
type Stream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func (*Stream) MsgType() string { return MsgStream }

type DisplayData struct {
	Data      MIMEBundle     `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Transient map[string]any `json:"transient,omitempty"`
}

func (*DisplayData) MsgType() string { return MsgDisplayData }

type UpdateDisplayData struct {
	Data      MIMEBundle     `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Transient map[string]any `json:"transient"`
}

func (*UpdateDisplayData) MsgType() string { return MsgUpdateDisplayData }

type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

func (*ExecuteInput) MsgType() string { return MsgExecuteInput }

type ExecuteResult struct {
	ExecutionCount int            `json:"execution_count"`
	Data           MIMEBundle     `json:"data"`
	Metadata       map[string]any `json:"metadata"`
}

func (*ExecuteResult) MsgType() string { return MsgExecuteResult }

// ErrorContent is the IOPub error event.
type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

func (*ErrorContent) MsgType() string { return MsgError }

type ClearOutput struct {
	Wait bool `json:"wait"`
}

func (*ClearOutput) MsgType() string { return MsgClearOutput }

type CommOpen struct {
	CommID     string         `json:"comm_id"`
	TargetName string         `json:"target_name"`
	Data       map[string]any `json:"data"`
}

func (*CommOpen) MsgType() string { return MsgCommOpen }

type CommMsg struct {
	CommID string         `json:"comm_id"`
	Data   map[string]any `json:"data"`
}

func (*CommMsg) MsgType() string { return MsgCommMsg }

type CommClose struct {
	CommID string         `json:"comm_id"`
	Data   map[string]any `json:"data"`
}

func (*CommClose) MsgType() string { return MsgCommClose }

type InputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

func (*InputRequest) MsgType() string   { return MsgInputRequest }
func (*InputRequest) ReplyType() string { return MsgInputReply }

type InputReply struct {
	Value string `json:"value"`
}

func (*InputReply) MsgType() string     { return MsgInputReply }
func (*InputReply) RequestType() string { return MsgInputRequest }

func init() {
	registerJSON[ExecuteRequest](MsgExecuteRequest)
	registerJSON[ExecuteReply](MsgExecuteReply)
	registerJSON[InspectRequest](MsgInspectRequest)
	registerJSON[InspectReply](MsgInspectReply)
	registerJSON[CompleteRequest](MsgCompleteRequest)
	registerJSON[CompleteReply](MsgCompleteReply)
	registerJSON[HistoryRequest](MsgHistoryRequest)
	registerJSON[HistoryReply](MsgHistoryReply)
	registerJSON[IsCompleteRequest](MsgIsCompleteRequest)
	registerJSON[IsCompleteReply](MsgIsCompleteReply)
	registerJSON[KernelInfoRequest](MsgKernelInfoRequest)
	registerJSON[KernelInfoReply](MsgKernelInfoReply)
	registerJSON[CommInfoRequest](MsgCommInfoRequest)
	registerJSON[CommInfoReply](MsgCommInfoReply)
	registerJSON[ShutdownRequest](MsgShutdownRequest)
	registerJSON[ShutdownReply](MsgShutdownReply)
	registerJSON[InterruptRequest](MsgInterruptRequest)
	registerJSON[InterruptReply](MsgInterruptReply)

	registerJSON[Status](MsgStatus)
	registerJSON[Stream](MsgStream)
	registerJSON[DisplayData](MsgDisplayData)
	registerJSON[UpdateDisplayData](MsgUpdateDisplayData)
	registerJSON[ExecuteInput](MsgExecuteInput)
	registerJSON[ExecuteResult](MsgExecuteResult)
	registerJSON[ErrorContent](MsgError)
	registerJSON[ClearOutput](MsgClearOutput)
	registerJSON[CommOpen](MsgCommOpen)
	registerJSON[CommMsg](MsgCommMsg)
	registerJSON[CommClose](MsgCommClose)

	registerJSON[InputRequest](MsgInputRequest)
	registerJSON[InputReply](MsgInputReply)
}
