// Package display turns values into MIME bundles for display_data and
// execute_result messages.
package display

import (
	"encoding/json"
	"fmt"
	"sync"

	"gokernel/pkg/mime"
	"gokernel/pkg/protocol"
)

// Data is a rendered value ready to publish.
type Data struct {
	Data      protocol.MIMEBundle
	Metadata  map[string]any
	Transient map[string]any
}

// DisplayID returns the transient display_id, if any.
func (d Data) DisplayID() string {
	id, _ := d.Transient["display_id"].(string)
	return id
}

// Displayer is implemented by values that render themselves.
type Displayer interface {
	DisplayData() (Data, error)
}

// RenderFunc renders value as one representation. ok is false when the value
// has no such representation.
type RenderFunc func(value any) (rendered any, ok bool, err error)

type entry struct {
	mimeType mime.MIMEType
	render   RenderFunc
}

// Renderer holds the representations the kernel can produce, in
// registration order. text/plain is always present.
type Renderer struct {
	mu      sync.RWMutex
	entries []entry
}

func NewRenderer() *Renderer {
	r := &Renderer{}
	r.Register(mime.TextPlain, renderText)
	r.Register(mime.ApplicationJSON, renderJSON)
	return r
}

// Register adds or replaces the renderer for mimeType.
func (r *Renderer) Register(mimeType string, fn RenderFunc) {
	parsed := mime.Parse(mimeType)

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.entries {
		if existing.mimeType == parsed {
			r.entries[i].render = fn
			return
		}
	}
	r.entries = append(r.entries, entry{mimeType: parsed, render: fn})
}

// Types lists the registered representations.
func (r *Renderer) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.mimeType.String())
	}
	return out
}

// Render produces every representation value supports.
func (r *Renderer) Render(value any) (Data, error) {
	return r.RenderAs(value)
}

// RenderAs restricts the bundle to representations accepted by mimeTypes.
// With no mimeTypes every representation is produced. text/plain is kept
// regardless so frontends always have a fallback.
func (r *Renderer) RenderAs(value any, mimeTypes ...string) (Data, error) {
	accept := mime.NewRequestTypes(mimeTypes, nil)

	switch v := value.(type) {
	case Data:
		return filter(v, accept), nil
	case *Data:
		return filter(*v, accept), nil
	case Displayer:
		data, err := v.DisplayData()
		if err != nil {
			return Data{}, fmt.Errorf("display %T: %w", value, err)
		}
		return filter(data, accept), nil
	}

	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	out := Data{Data: protocol.MIMEBundle{}, Metadata: map[string]any{}}
	for _, e := range entries {
		key := e.mimeType.String()
		if !accept.Empty() && key != mime.TextPlain {
			resolved, ok := accept.ResolveSupportedType(e.mimeType)
			if !ok {
				continue
			}
			if concrete(resolved) {
				key = resolved.String()
			}
		}
		if _, done := out.Data[key]; done {
			continue
		}

		rendered, ok, err := e.render(value)
		if err != nil {
			return Data{}, fmt.Errorf("render %s: %w", e.mimeType, err)
		}
		if ok {
			out.Data[key] = rendered
		}
	}
	if _, ok := out.Data[mime.TextPlain]; !ok {
		text, _, _ := renderText(value)
		out.Data[mime.TextPlain] = text
	}
	return out, nil
}

func concrete(m mime.MIMEType) bool {
	return !m.IsWildcard() && !m.IsGroup() && m.Subtype != "*"
}

func filter(data Data, accept mime.RequestTypes) Data {
	out := Data{
		Data:      protocol.MIMEBundle{},
		Metadata:  data.Metadata,
		Transient: data.Transient,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	for key, value := range data.Data {
		if accept.Empty() || key == mime.TextPlain {
			out.Data[key] = value
			continue
		}
		if _, ok := accept.ResolveSupportedType(mime.Parse(key)); ok {
			out.Data[key] = value
		}
	}
	return out
}

func renderText(value any) (any, bool, error) {
	switch v := value.(type) {
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	case fmt.Stringer:
		return v.String(), true, nil
	case error:
		return v.Error(), true, nil
	default:
		return fmt.Sprintf("%v", v), true, nil
	}
}

// renderJSON emits maps, slices and structs as application/json.
func renderJSON(value any) (any, bool, error) {
	switch value.(type) {
	case nil, string, []byte, fmt.Stringer, error:
		return nil, false, nil
	}

	raw, err := json.Marshal(value)
	if err != nil || len(raw) == 0 || (raw[0] != '{' && raw[0] != '[') {
		return nil, false, nil
	}
	return json.RawMessage(raw), true, nil
}

// Update asks the kernel to replace the output previously displayed under ID.
type Update struct {
	ID    string
	Value any
}

// Clear asks the frontend to clear the cell's output. With Wait the clear is
// deferred until new output arrives.
type Clear struct {
	Wait bool
}

// WithID returns d with its transient display_id set.
func (d Data) WithID(id string) Data {
	transient := make(map[string]any, len(d.Transient)+1)
	for k, v := range d.Transient {
		transient[k] = v
	}
	transient["display_id"] = id
	d.Transient = transient
	return d
}
