package profiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/pprof/profile"
)

// CPUProfile is the Chrome DevTools .cpuprofile document.
// Times are in microseconds.
type CPUProfile struct {
	Nodes      []*Node `json:"nodes"`
	StartTime  int64   `json:"startTime"`
	EndTime    int64   `json:"endTime"`
	Samples    []int   `json:"samples"`
	TimeDeltas []int64 `json:"timeDeltas"`
}

// Node is one call tree entry. Node 1 is always "(root)".
type Node struct {
	ID            int            `json:"id"`
	CallFrame     CallFrame      `json:"callFrame"`
	HitCount      int64          `json:"hitCount"`
	Children      []int          `json:"children,omitempty"`
	PositionTicks []PositionTick `json:"positionTicks,omitempty"`
}

// CallFrame identifies a function. Line and column numbers are zero-based.
type CallFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	LineNumber   int64  `json:"lineNumber"`
	ColumnNumber int64  `json:"columnNumber"`
}

// PositionTick counts samples on a one-based source line.
type PositionTick struct {
	Line  int64 `json:"line"`
	Ticks int64 `json:"ticks"`
}

const rootID = 1

var rootFrame = CallFrame{
	FunctionName: "(root)",
	ScriptID:     "0",
	LineNumber:   -1,
	ColumnNumber: -1,
}

type nodeKey struct {
	parent int
	frame  CallFrame
}

type frame struct {
	call CallFrame
	line int64
}

type converter struct {
	out        *CPUProfile
	byKey      map[nodeKey]*Node
	byID       map[int]*Node
	ticks      map[int]map[int64]int64
	scripts    map[string]string
	nextID     int
	nextScript int
}

// ToCPUProfile converts a pprof CPU profile to the DevTools format.
//
// Each sample's stack becomes a root-to-leaf path in the node tree,
// inlined frames included. A sample with count n adds n entries to Samples,
// spaced by the profile's sampling period. Node ids are assigned in
// first-seen order so the output is deterministic.
func ToCPUProfile(p *profile.Profile) (*CPUProfile, error) {
	if p == nil {
		return nil, errors.New("nil profile")
	}

	countIdx := sampleCountIndex(p)
	c := &converter{
		out: &CPUProfile{
			Samples:    []int{},
			TimeDeltas: []int64{},
		},
		byKey:   make(map[nodeKey]*Node),
		byID:    make(map[int]*Node),
		ticks:   make(map[int]map[int64]int64),
		scripts: make(map[string]string),
		nextID:  rootID,
	}
	root := c.newNode(rootFrame)

	var total int64
	for _, s := range p.Sample {
		if countIdx >= len(s.Value) {
			return nil, fmt.Errorf("sample has %d values, want at least %d", len(s.Value), countIdx+1)
		}
		n := s.Value[countIdx]
		if n <= 0 {
			continue
		}

		parent := root
		var leafLine int64
		for i := len(s.Location) - 1; i >= 0; i-- {
			for _, f := range c.frames(s.Location[i]) {
				parent = c.child(parent, f.call)
				leafLine = f.line
			}
		}

		parent.HitCount += n
		if parent.ID != rootID && leafLine > 0 {
			if c.ticks[parent.ID] == nil {
				c.ticks[parent.ID] = make(map[int64]int64)
			}
			c.ticks[parent.ID][leafLine] += n
		}
		for j := int64(0); j < n; j++ {
			c.out.Samples = append(c.out.Samples, parent.ID)
		}
		total += n
	}

	c.finishTicks()

	interval := samplingInterval(p, total)
	for range c.out.Samples {
		c.out.TimeDeltas = append(c.out.TimeDeltas, interval)
	}

	c.out.StartTime = p.TimeNanos / 1000
	c.out.EndTime = c.out.StartTime + p.DurationNanos/1000
	if last := c.out.StartTime + interval*total; c.out.EndTime < last {
		c.out.EndTime = last
	}

	return c.out, nil
}

// frames returns the location's frames from caller to callee. pprof stores
// inlined calls innermost first.
func (c *converter) frames(loc *profile.Location) []frame {
	if loc == nil {
		return nil
	}
	if len(loc.Line) == 0 {
		return []frame{{call: CallFrame{
			FunctionName: fmt.Sprintf("0x%x", loc.Address),
			ScriptID:     "0",
			LineNumber:   -1,
			ColumnNumber: -1,
		}}}
	}

	out := make([]frame, 0, len(loc.Line))
	for i := len(loc.Line) - 1; i >= 0; i-- {
		line := loc.Line[i]
		cf := CallFrame{FunctionName: "(unknown)", ScriptID: "0", LineNumber: -1, ColumnNumber: -1}
		if fn := line.Function; fn != nil {
			cf.FunctionName = fn.Name
			cf.URL = fn.Filename
			cf.ScriptID = c.scriptID(fn.Filename)
			if fn.StartLine > 0 {
				cf.LineNumber = fn.StartLine - 1
				cf.ColumnNumber = 0
			}
		}
		out = append(out, frame{call: cf, line: line.Line})
	}
	return out
}

func (c *converter) scriptID(filename string) string {
	if filename == "" {
		return "0"
	}
	if id, ok := c.scripts[filename]; ok {
		return id
	}
	c.nextScript++
	id := strconv.Itoa(c.nextScript)
	c.scripts[filename] = id
	return id
}

func (c *converter) newNode(cf CallFrame) *Node {
	n := &Node{ID: c.nextID, CallFrame: cf}
	c.nextID++
	c.byID[n.ID] = n
	c.out.Nodes = append(c.out.Nodes, n)
	return n
}

func (c *converter) child(parent *Node, cf CallFrame) *Node {
	key := nodeKey{parent: parent.ID, frame: cf}
	if n, ok := c.byKey[key]; ok {
		return n
	}
	n := c.newNode(cf)
	c.byKey[key] = n
	parent.Children = append(parent.Children, n.ID)
	return n
}

func (c *converter) finishTicks() {
	for id, lines := range c.ticks {
		node := c.byID[id]
		for line, ticks := range lines {
			node.PositionTicks = append(node.PositionTicks, PositionTick{Line: line, Ticks: ticks})
		}
		sort.Slice(node.PositionTicks, func(i, j int) bool {
			return node.PositionTicks[i].Line < node.PositionTicks[j].Line
		})
	}
}

// sampleCountIndex finds the "samples" value; Go CPU profiles carry
// [samples/count, cpu/nanoseconds].
func sampleCountIndex(p *profile.Profile) int {
	for i, st := range p.SampleType {
		if st != nil && st.Type == "samples" {
			return i
		}
	}
	return 0
}

// samplingInterval returns the gap between samples in microseconds.
func samplingInterval(p *profile.Profile, total int64) int64 {
	if p.Period > 0 && (p.PeriodType == nil || p.PeriodType.Unit == "nanoseconds") {
		return p.Period / 1000
	}
	if total > 0 && p.DurationNanos > 0 {
		return p.DurationNanos / 1000 / total
	}
	return 0
}

// Encode serializes p in the given format.
func Encode(p *profile.Profile, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		cp, err := ToCPUProfile(p)
		if err != nil {
			return nil, fmt.Errorf("converting profile: %w", err)
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return nil, fmt.Errorf("encoding profile: %w", err)
		}
		return data, nil
	case FormatPprof:
		if p == nil {
			return nil, errors.New("nil profile")
		}
		var buf bytes.Buffer
		if err := p.Write(&buf); err != nil {
			return nil, fmt.Errorf("encoding profile: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported profile format %q", format)
	}
}
