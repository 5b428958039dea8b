package trace

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/vyperlang/boa/computation"
	"github.com/vyperlang/boa/types"
)

// FrameSource is implemented by whatever owns the code at a call's target
// address (a *contract.Contract or *contract.ABIContract, opaque to this
// package) so TraceFrame rendering can ask it to pretty-print its own
// input/output rather than this package needing to know about ABI
// decoding or compiled artifacts at all.
type FrameSource interface {
	FormatCall(data []byte) string
	FormatReturn(output []byte) string
	DisplayName() string
}

// TraceFrame is one node of the rendered call tree — spec §4.L.
type TraceFrame struct {
	Address  types.Address
	Depth    int
	GasUsed  uint64
	Source   string
	Input    string
	Output   string
	Children []*TraceFrame
}

// Resolver looks up the FrameSource owning addr, if any is registered.
type Resolver func(addr types.Address) (FrameSource, bool)

// BuildTraceFrame walks comp's tree, asking resolve for each node's
// owning contract to format its own calldata/output. Unknown contracts
// print per spec as "Unknown contract 0x<addr>.0x<selector>".
func BuildTraceFrame(comp *computation.Computation, depth int, resolve Resolver) *TraceFrame {
	if comp == nil {
		return nil
	}
	frame := &TraceFrame{
		Address: comp.Msg.To,
		Depth:   depth,
		GasUsed: comp.GasUsed,
	}

	src, known := FrameSource(nil), false
	if resolve != nil {
		src, known = resolve(comp.Msg.To)
	}
	if known {
		frame.Source = src.DisplayName()
		frame.Input = src.FormatCall(comp.Msg.Data)
		frame.Output = src.FormatReturn(comp.Output)
	} else {
		sel := "0x"
		if len(comp.Msg.Data) >= 4 {
			sel += fmt.Sprintf("%x", comp.Msg.Data[:4])
		}
		frame.Source = fmt.Sprintf("Unknown contract %s.%s", comp.Msg.To.Hex(), sel)
		frame.Input = formatBytes(comp.Msg.Data)
		frame.Output = formatBytes(comp.Output)
	}

	for _, child := range comp.Children {
		frame.Children = append(frame.Children, BuildTraceFrame(child, depth+1, resolve))
	}
	return frame
}

func formatBytes(b []byte) string {
	if len(b) == 0 {
		return "0x"
	}
	return fmt.Sprintf("0x%x", b)
}

// traceFrameJSON mirrors TraceFrame with lowercase JSON field names and an
// already-recursed Children slice, matching spec's to_dict() contract.
type traceFrameJSON struct {
	Address  string            `json:"address"`
	Depth    int               `json:"depth"`
	GasUsed  uint64            `json:"gas_used"`
	Source   string            `json:"source"`
	Input    string            `json:"input"`
	Output   string            `json:"output"`
	Children []*traceFrameJSON `json:"children"`
}

func (f *TraceFrame) toJSON() *traceFrameJSON {
	if f == nil {
		return nil
	}
	children := make([]*traceFrameJSON, len(f.Children))
	for i, c := range f.Children {
		children[i] = c.toJSON()
	}
	return &traceFrameJSON{
		Address:  f.Address.Hex(),
		Depth:    f.Depth,
		GasUsed:  f.GasUsed,
		Source:   f.Source,
		Input:    f.Input,
		Output:   f.Output,
		Children: children,
	}
}

// ToDict returns a JSON-serializable tree, spec's to_dict().
func (f *TraceFrame) ToDict() (map[string]any, error) {
	b, err := json.Marshal(f.toJSON())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var htmlTemplate = template.Must(template.New("trace").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Call Trace</title></head>
<body>
<pre id="trace-data" style="display:none">{{.}}</pre>
<script>
  const trace = JSON.parse(document.getElementById("trace-data").textContent);
  console.log(trace);
</script>
</body>
</html>
`))

// ToHTML substitutes the JSON tree into a static HTML template, spec's to_html().
func (f *TraceFrame) ToHTML() (string, error) {
	b, err := json.Marshal(f.toJSON())
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := htmlTemplate.Execute(&buf, string(b)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
