package severity

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestLevel_Score(t *testing.T) {
	tests := []struct {
		level    Level
		expected int
	}{
		{Critical, 4},
		{High, 3},
		{Medium, 2},
		{Low, 1},
		{Unknown, 0},
		{Level("info"), 0},
		{Level(""), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.Score(); got != tt.expected {
				t.Errorf("Level.Score() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"critical", Critical},
		{"CRITICAL", Critical},
		{" High ", High},
		{"medium", Medium},
		{"Moderate", Medium},
		{"low", Low},
		{"info", Unknown},
		{"informational", Unknown},
		{"", Unknown},
		{"garbage", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := FromString(tt.input); got != tt.expected {
				t.Errorf("FromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestVerbatim(t *testing.T) {
	if got := Verbatim("HIGH"); got != High {
		t.Errorf("Verbatim(HIGH) = %q, want %q", got, High)
	}
	if got := Verbatim("info"); got != Level("info") || got.Score() != 0 {
		t.Errorf("Verbatim(info) = %q (score %d), want info with score 0", got, got.Score())
	}
	if got := Verbatim("  "); got != Unknown {
		t.Errorf("Verbatim(blank) = %q, want %q", got, Unknown)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Level
		expected int
	}{
		{"critical vs high", Critical, High, 1},
		{"low vs medium", Low, Medium, -1},
		{"equal", High, High, 0},
		{"unknown vs low", Unknown, Low, -1},
		{"two unranked", Level("info"), Unknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.expected {
				t.Errorf("Compare(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

type item struct {
	id    int
	level Level
}

func itemLevel(i item) Level { return i.level }

func TestSortStable(t *testing.T) {
	items := []item{
		{1, Low},
		{2, Critical},
		{3, Level("info")},
		{4, High},
		{5, Low},
		{6, Critical},
		{7, Medium},
	}

	SortStable(items, itemLevel)

	want := []int{2, 6, 4, 7, 1, 5, 3}
	for i, id := range want {
		if items[i].id != id {
			t.Fatalf("position %d: got id %d, want %d (order %v)", i, items[i].id, id, items)
		}
	}
}

func TestSortStable_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	levels := []Level{Critical, High, Medium, Low, Unknown, Level("info")}
	genLevels := gen.SliceOf(gen.IntRange(0, len(levels)-1))

	build := func(idx []int) []item {
		items := make([]item, len(idx))
		for i, n := range idx {
			items[i] = item{id: i, level: levels[n]}
		}
		return items
	}

	properties.Property("output is descending by score", prop.ForAll(
		func(idx []int) bool {
			items := build(idx)
			SortStable(items, itemLevel)
			for i := 1; i < len(items); i++ {
				if items[i-1].level.Score() < items[i].level.Score() {
					return false
				}
			}
			return true
		},
		genLevels,
	))

	properties.Property("equal scores keep input order", prop.ForAll(
		func(idx []int) bool {
			items := build(idx)
			SortStable(items, itemLevel)
			for i := 1; i < len(items); i++ {
				if items[i-1].level.Score() == items[i].level.Score() && items[i-1].id > items[i].id {
					return false
				}
			}
			return true
		},
		genLevels,
	))

	properties.Property("sorting is a permutation", prop.ForAll(
		func(idx []int) bool {
			items := build(idx)
			SortStable(items, itemLevel)
			seen := make(map[int]bool, len(items))
			for _, it := range items {
				if seen[it.id] {
					return false
				}
				seen[it.id] = true
			}
			return len(seen) == len(idx)
		},
		genLevels,
	))

	properties.TestingRun(t)
}

func TestCounts(t *testing.T) {
	var c Counts
	for _, l := range []Level{Critical, High, High, Medium, Low, Low, Low, Level("info")} {
		c.Increment(l)
	}

	if c.Total != 8 {
		t.Errorf("Total = %d, want 8", c.Total)
	}
	if c.Critical != 1 || c.High != 2 || c.Medium != 1 || c.Low != 3 || c.Other != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if got := c.RiskScore(); got != 10+14+4+3 {
		t.Errorf("RiskScore() = %d, want %d", got, 31)
	}
	if got := c.Highest(); got != Critical {
		t.Errorf("Highest() = %v, want %v", got, Critical)
	}

	var empty Counts
	if got := empty.Highest(); got != Unknown {
		t.Errorf("empty Highest() = %v, want %v", got, Unknown)
	}

	var merged Counts
	merged.Add(c)
	merged.Add(c)
	if merged.Total != 16 || merged.High != 4 {
		t.Errorf("Add() = %+v", merged)
	}
}

func TestMax(t *testing.T) {
	if got := Max(Low, High); got != High {
		t.Errorf("Max(Low, High) = %v", got)
	}
	if got := Max(Critical, Medium); got != Critical {
		t.Errorf("Max(Critical, Medium) = %v", got)
	}
}
