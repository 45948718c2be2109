package profiler

import (
	"encoding/json"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testProfile is a small CPU profile:
//
//	main -> work -> helper (inlined)  3 samples
//	main -> work                      1 sample
//	main                              2 samples
func testProfile() *profile.Profile {
	fnMain := &profile.Function{ID: 1, Name: "main.main", Filename: "/app/main.go", StartLine: 10}
	fnWork := &profile.Function{ID: 2, Name: "main.work", Filename: "/app/work.go", StartLine: 20}
	fnHelper := &profile.Function{ID: 3, Name: "main.helper", Filename: "/app/work.go", StartLine: 30}

	locMain := &profile.Location{ID: 1, Address: 0x1000, Line: []profile.Line{{Function: fnMain, Line: 12}}}
	locInlined := &profile.Location{ID: 2, Address: 0x2000, Line: []profile.Line{
		{Function: fnHelper, Line: 31},
		{Function: fnWork, Line: 22},
	}}
	locWork := &profile.Location{ID: 3, Address: 0x3000, Line: []profile.Line{{Function: fnWork, Line: 25}}}

	return &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType:    &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:        10_000_000,
		TimeNanos:     1_000_000_000,
		DurationNanos: 60_000_000,
		Sample: []*profile.Sample{
			{Location: []*profile.Location{locInlined, locMain}, Value: []int64{3, 30_000_000}},
			{Location: []*profile.Location{locWork, locMain}, Value: []int64{1, 10_000_000}},
			{Location: []*profile.Location{locMain}, Value: []int64{2, 20_000_000}},
		},
		Location: []*profile.Location{locMain, locInlined, locWork},
		Function: []*profile.Function{fnMain, fnWork, fnHelper},
	}
}

func TestToCPUProfile(t *testing.T) {
	cp, err := ToCPUProfile(testProfile())
	require.NoError(t, err)

	require.Len(t, cp.Nodes, 4)

	root, mainNode, work, helper := cp.Nodes[0], cp.Nodes[1], cp.Nodes[2], cp.Nodes[3]

	assert.Equal(t, 1, root.ID)
	assert.Equal(t, "(root)", root.CallFrame.FunctionName)
	assert.Equal(t, int64(0), root.HitCount)
	assert.Equal(t, []int{2}, root.Children)

	assert.Equal(t, 2, mainNode.ID)
	assert.Equal(t, "main.main", mainNode.CallFrame.FunctionName)
	assert.Equal(t, "/app/main.go", mainNode.CallFrame.URL)
	assert.Equal(t, int64(9), mainNode.CallFrame.LineNumber)
	assert.Equal(t, int64(2), mainNode.HitCount)
	assert.Equal(t, []int{3}, mainNode.Children)
	assert.Equal(t, []PositionTick{{Line: 12, Ticks: 2}}, mainNode.PositionTicks)

	assert.Equal(t, 3, work.ID)
	assert.Equal(t, "main.work", work.CallFrame.FunctionName)
	assert.Equal(t, int64(1), work.HitCount)
	assert.Equal(t, []int{4}, work.Children)
	assert.Equal(t, []PositionTick{{Line: 25, Ticks: 1}}, work.PositionTicks)

	assert.Equal(t, 4, helper.ID)
	assert.Equal(t, "main.helper", helper.CallFrame.FunctionName)
	assert.Equal(t, int64(3), helper.HitCount)
	assert.Empty(t, helper.Children)
	assert.Equal(t, []PositionTick{{Line: 31, Ticks: 3}}, helper.PositionTicks)

	// Same file, same script id.
	assert.Equal(t, work.CallFrame.ScriptID, helper.CallFrame.ScriptID)
	assert.NotEqual(t, mainNode.CallFrame.ScriptID, work.CallFrame.ScriptID)

	assert.Equal(t, []int{4, 4, 4, 3, 2, 2}, cp.Samples)
	assert.Equal(t, []int64{10000, 10000, 10000, 10000, 10000, 10000}, cp.TimeDeltas)
	assert.Equal(t, int64(1_000_000), cp.StartTime)
	assert.Equal(t, int64(1_060_000), cp.EndTime)
}

func TestToCPUProfile_HitCountsMatchSamples(t *testing.T) {
	cp, err := ToCPUProfile(testProfile())
	require.NoError(t, err)

	var hits int64
	for _, n := range cp.Nodes {
		hits += n.HitCount
	}
	assert.Equal(t, int64(len(cp.Samples)), hits)
	assert.Len(t, cp.TimeDeltas, len(cp.Samples))
}

func TestToCPUProfile_Deterministic(t *testing.T) {
	a, err := ToCPUProfile(testProfile())
	require.NoError(t, err)
	b, err := ToCPUProfile(testProfile())
	require.NoError(t, err)

	aj, err := json.Marshal(a)
	require.NoError(t, err)
	bj, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(aj), string(bj))
}

func TestToCPUProfile_Empty(t *testing.T) {
	cp, err := ToCPUProfile(&profile.Profile{})
	require.NoError(t, err)

	require.Len(t, cp.Nodes, 1)
	assert.Equal(t, "(root)", cp.Nodes[0].CallFrame.FunctionName)

	data, err := json.Marshal(cp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"samples":[]`)
	assert.Contains(t, string(data), `"timeDeltas":[]`)
}

func TestToCPUProfile_EdgeCases(t *testing.T) {
	_, err := ToCPUProfile(nil)
	require.Error(t, err)

	unsymbolized := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		Sample: []*profile.Sample{
			{Location: []*profile.Location{{ID: 1, Address: 0xbeef}}, Value: []int64{1}},
			{Location: []*profile.Location{{ID: 2, Address: 0xcafe}}, Value: []int64{0}},
		},
	}
	cp, err := ToCPUProfile(unsymbolized)
	require.NoError(t, err)
	require.Len(t, cp.Nodes, 2)
	assert.Equal(t, "0xbeef", cp.Nodes[1].CallFrame.FunctionName)
	assert.Equal(t, []int{2}, cp.Samples)

	short := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cpu", Unit: "nanoseconds"}, {Type: "samples", Unit: "count"}},
		Sample:     []*profile.Sample{{Value: []int64{1}}},
	}
	_, err = ToCPUProfile(short)
	require.Error(t, err)
}

func TestEncode(t *testing.T) {
	data, err := Encode(testProfile(), FormatJSON)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"nodes", "startTime", "endTime", "samples", "timeDeltas"} {
		assert.Contains(t, doc, key)
	}
	nodes := doc["nodes"].([]interface{})
	first := nodes[0].(map[string]interface{})
	assert.Contains(t, first, "callFrame")
	assert.Contains(t, first, "hitCount")

	raw, err := Encode(testProfile(), FormatPprof)
	require.NoError(t, err)
	parsed, err := profile.ParseData(raw)
	require.NoError(t, err)
	assert.Len(t, parsed.Sample, 3)

	_, err = Encode(testProfile(), "svg")
	require.Error(t, err)
	_, err = Encode(nil, FormatPprof)
	require.Error(t, err)
}
