package extract

import (
	"strings"
	"testing"
)

func runWhole(t *testing.T, input string) (string, string) {
	t.Helper()
	st := &State{}
	vis, rea, _, _ := Extract(input, DefaultTagPairs, st)
	dv, dr := Drain(st)
	return vis + dv, rea + dr
}

func runSplit(t *testing.T, input string, at []int) (string, string) {
	t.Helper()
	st := &State{}
	var vis, rea strings.Builder
	prev := 0
	for _, i := range at {
		v, r, _, _ := Extract(input[prev:i], DefaultTagPairs, st)
		vis.WriteString(v)
		rea.WriteString(r)
		prev = i
	}
	v, r, _, _ := Extract(input[prev:], DefaultTagPairs, st)
	vis.WriteString(v)
	rea.WriteString(r)
	dv, dr := Drain(st)
	vis.WriteString(dv)
	rea.WriteString(dr)
	return vis.String(), rea.String()
}

func TestExtractBasic(t *testing.T) {
	vis, rea := runWhole(t, "hello <think>because</think> world")
	if vis != "hello  world" {
		t.Errorf("visible = %q, want %q", vis, "hello  world")
	}
	if rea != "because" {
		t.Errorf("reasoning = %q, want %q", rea, "because")
	}
}

func TestExtractSplitInvariance(t *testing.T) {
	inputs := []string{
		"hello <think>because</think> world",
		"<thinking>only thoughts</thinking>",
		"no tags at all here",
		"lead <reason>a</reason> mid <think>b</think> tail",
		"unterminated <think>forever",
		"almost a tag <thi but not",
	}
	for _, input := range inputs {
		wantVis, wantRea := runWhole(t, input)
		// every single split point
		for i := 1; i < len(input); i++ {
			vis, rea := runSplit(t, input, []int{i})
			if vis != wantVis || rea != wantRea {
				t.Fatalf("split at %d of %q: got (%q,%q) want (%q,%q)", i, input, vis, rea, wantVis, wantRea)
			}
		}
		// char-by-char delivery
		at := make([]int, 0, len(input))
		for i := 1; i < len(input); i++ {
			at = append(at, i)
		}
		vis, rea := runSplit(t, input, at)
		if vis != wantVis || rea != wantRea {
			t.Fatalf("char-by-char of %q: got (%q,%q) want (%q,%q)", input, vis, rea, wantVis, wantRea)
		}
	}
}

func TestExtractUnterminatedFlushesAsReasoning(t *testing.T) {
	st := &State{}
	vis, rea, started, ended := Extract("pre <think>trailing thought", DefaultTagPairs, st)
	if !started || ended {
		t.Errorf("started=%v ended=%v, want started and not ended", started, ended)
	}
	if vis != "pre " {
		t.Errorf("visible = %q", vis)
	}
	if !st.InTag {
		t.Error("state should still be inside the tag")
	}
	dv, dr := Drain(st)
	if dv != "" {
		t.Errorf("drained visible = %q, want empty", dv)
	}
	if rea+dr != "trailing thought" {
		t.Errorf("reasoning = %q, want %q", rea+dr, "trailing thought")
	}
}

func TestExtractStateInvariant(t *testing.T) {
	st := &State{}
	Extract("a<think>b", DefaultTagPairs, st)
	if !st.InTag || st.EndTag == "" {
		t.Errorf("in-tag state must carry its end tag: InTag=%v EndTag=%q", st.InTag, st.EndTag)
	}
	Extract("c</think>d", DefaultTagPairs, st)
	if st.InTag || st.EndTag != "" {
		t.Errorf("closed state must clear the end tag: InTag=%v EndTag=%q", st.InTag, st.EndTag)
	}
}

func TestExtractEnteredAtSetOnce(t *testing.T) {
	st := &State{}
	Extract("<think>a</think>", DefaultTagPairs, st)
	if st.EnteredAt == nil {
		t.Fatal("EnteredAt should be recorded on first entry")
	}
	first := *st.EnteredAt
	Extract("<think>b</think>", DefaultTagPairs, st)
	if !st.EnteredAt.Equal(first) {
		t.Error("EnteredAt should not move on re-entry")
	}
}

func TestExtractLongerTagWinsTie(t *testing.T) {
	// "<thinking>" and "<think>" start at the same position; the
	// configured order puts the longer vocabulary first.
	vis, rea := runWhole(t, "<thinking>deep</thinking>")
	if vis != "" || rea != "deep" {
		t.Errorf("got (%q,%q), want (\"\",\"deep\")", vis, rea)
	}
}

func TestExtractMultiplePairsFirstMatchWins(t *testing.T) {
	vis, rea := runWhole(t, "x <reason>r</reason> y <think>t</think> z")
	if vis != "x  y  z" {
		t.Errorf("visible = %q", vis)
	}
	if rea != "rt" {
		t.Errorf("reasoning = %q", rea)
	}
}

func TestExtractNilState(t *testing.T) {
	vis, rea, started, ended := Extract("<think>a</think>", DefaultTagPairs, nil)
	if vis != "<think>a</think>" || rea != "" || started || ended {
		t.Error("nil state should pass text through untouched")
	}
}
