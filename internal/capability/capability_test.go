package capability

import (
	"math"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := Capabilities{}
	if c.MaxInstances() != 1 {
		t.Fatalf("expected default maxInstances 1, got %d", c.MaxInstances())
	}
	if c.Count() != 1 {
		t.Fatalf("expected default count 1, got %d", c.Count())
	}
	if c.ShardTestFiles() {
		t.Fatalf("expected sharding off by default")
	}
	if c.Kind() != "" {
		t.Fatalf("expected empty kind, got %q", c.Kind())
	}
}

func TestNumericForms(t *testing.T) {
	c := Capabilities{KeyMaxInstances: float64(3), KeyCount: "2", KeyShardTestFiles: "true"}
	if c.MaxInstances() != 3 {
		t.Errorf("expected 3, got %d", c.MaxInstances())
	}
	if c.Count() != 2 {
		t.Errorf("expected 2, got %d", c.Count())
	}
	if !c.ShardTestFiles() {
		t.Errorf("expected sharding on")
	}

	c = Capabilities{KeyMaxInstances: 0, KeyCount: -4}
	if c.MaxInstances() != 1 || c.Count() != 1 {
		t.Errorf("non-positive values must clamp to 1, got %d/%d", c.MaxInstances(), c.Count())
	}
}

func TestSpecsAndExclude(t *testing.T) {
	c := Capabilities{
		KeySpecs:   []any{"a.js", "b.js"},
		KeyExclude: "c.js",
	}
	if got := c.Specs(); len(got) != 2 || got[0] != "a.js" || got[1] != "b.js" {
		t.Fatalf("unexpected specs: %v", got)
	}
	if got := c.Exclude(); len(got) != 1 || got[0] != "c.js" {
		t.Fatalf("unexpected exclude: %v", got)
	}
}

func TestDeepCopyIsIndependent(t *testing.T) {
	orig := Capabilities{
		KeyBrowserName: "chrome",
		KeyDownloadOptions: map[string]any{
			"directory": "/tmp/dl",
		},
		"args": []any{"--headless", map[string]any{"x": 1}},
		"tags": []string{"smoke"},
	}
	cp := orig.DeepCopy()

	cp.Map(KeyDownloadOptions)["directory"] = "/elsewhere"
	cp["args"].([]any)[1].(map[string]any)["x"] = 2
	cp["tags"].([]string)[0] = "full"
	cp[KeyBrowserName] = "firefox"

	if orig.DownloadDirectory() != "/tmp/dl" {
		t.Errorf("nested map leaked into template: %v", orig.DownloadDirectory())
	}
	if orig["args"].([]any)[1].(map[string]any)["x"] != 1 {
		t.Errorf("nested slice map leaked into template")
	}
	if orig["tags"].([]string)[0] != "smoke" {
		t.Errorf("string slice leaked into template")
	}
	if orig.Kind() != "chrome" {
		t.Errorf("top-level key leaked into template")
	}
}

func TestDeepCopyTypedContainers(t *testing.T) {
	orig := Capabilities{
		"extensions": []map[string]any{{"id": "x"}},
		"weights":    map[string]int{"a": 1},
		"ports":      []int{4444},
		"matrix":     [][]string{{"a"}},
		"fixed":      [2][]int{{1}, {2}},
		"nested":     []Capabilities{{"browserName": "chrome"}},
		"empty":      nil,
	}
	cp := orig.DeepCopy()

	cp["extensions"].([]map[string]any)[0]["id"] = "mutated"
	cp["weights"].(map[string]int)["a"] = 9
	cp["ports"].([]int)[0] = 1
	cp["matrix"].([][]string)[0][0] = "b"
	fixed := cp["fixed"].([2][]int)
	fixed[0][0] = 7
	cp["nested"].([]Capabilities)[0]["browserName"] = "firefox"

	if got := orig["extensions"].([]map[string]any)[0]["id"]; got != "x" {
		t.Errorf("slice of maps shared with template: %v", got)
	}
	if got := orig["weights"].(map[string]int)["a"]; got != 1 {
		t.Errorf("typed map shared with template: %v", got)
	}
	if got := orig["ports"].([]int)[0]; got != 4444 {
		t.Errorf("typed slice shared with template: %v", got)
	}
	if got := orig["matrix"].([][]string)[0][0]; got != "a" {
		t.Errorf("nested slice shared with template: %v", got)
	}
	if got := orig["fixed"].([2][]int)[0][0]; got != 1 {
		t.Errorf("slice inside array shared with template: %v", got)
	}
	if got := orig["nested"].([]Capabilities)[0].Kind(); got != "chrome" {
		t.Errorf("nested capabilities shared with template: %v", got)
	}
	if v, ok := cp["empty"]; !ok || v != nil {
		t.Errorf("nil value not preserved: %v %v", v, ok)
	}
}

func TestIntBounds(t *testing.T) {
	valid := map[any]int{
		int64(7):   7,
		uint(3):    3,
		uint64(12): 12,
		float64(4): 4,
		float32(2): 2,
		" 5 ":      5,
	}
	for in, want := range valid {
		if got, ok := Int(in); !ok || got != want {
			t.Errorf("Int(%#v) = %d, %v; want %d", in, got, ok, want)
		}
	}
	invalid := []any{
		1.5,
		float32(0.25),
		math.Inf(1),
		math.NaN(),
		float64(math.MaxInt64) * 2,
		uint64(math.MaxUint64),
		uint(math.MaxUint),
		"2.5",
		true,
	}
	for _, in := range invalid {
		if got, ok := Int(in); ok {
			t.Errorf("Int(%#v) accepted as %d", in, got)
		}
	}
}

func TestFractionalLimitFallsBack(t *testing.T) {
	c := Capabilities{KeyMaxInstances: 1.5, KeyCount: 2.0}
	if c.MaxInstances() != 1 {
		t.Errorf("fractional maxInstances must not be truncated, got %d", c.MaxInstances())
	}
	if c.Count() != 2 {
		t.Errorf("whole float count should be accepted, got %d", c.Count())
	}
}

func TestMapCreatesMissing(t *testing.T) {
	c := Capabilities{"chromeOptions": "bogus"}
	m := c.Map("chromeOptions")
	m["prefs"] = 1
	if _, ok := c["chromeOptions"].(map[string]any); !ok {
		t.Fatalf("expected chromeOptions to be replaced by a map")
	}
}
