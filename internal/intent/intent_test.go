package intent

import "testing"

func TestClassifyExamples(t *testing.T) {
	c := NewClassifier(0.5)

	cases := []struct {
		query string
		want  Intent
	}{
		{"where is the chat sender implemented", CodeLocation},
		{"which file defines the token refresh logic", CodeLocation},
		{"what does the moderation protocol say about spam", DocLookup},
		{"show me the documentation for the scoring policy", DocLookup},
		{"is internal/index in good shape", ModuleHealth},
		{"module health for the daemon loop", ModuleHealth},
		{"give me an overview of the architecture", Research},
		{"deep dive into how does indexing work", Research},
	}
	for _, tc := range cases {
		got, conf := c.Classify(tc.query)
		if got != tc.want {
			t.Errorf("Classify(%q) = %s (conf %.2f), want %s", tc.query, got, conf, tc.want)
		}
		if conf < 0 || conf > 1 {
			t.Errorf("Classify(%q) confidence = %g, want within [0,1]", tc.query, conf)
		}
	}
}

func TestLowConfidenceFallsBackToGeneral(t *testing.T) {
	c := NewClassifier(0.5)

	for _, q := range []string{"find x", "hello there", "asdf qwerty", ""} {
		got, conf := c.Classify(q)
		if got != General {
			t.Errorf("Classify(%q) = %s (conf %.2f), want GENERAL fallback", q, got, conf)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(0.5)

	first, firstConf := c.Classify("where is the health scorer implemented")
	for i := 0; i < 10; i++ {
		got, conf := c.Classify("where is the health scorer implemented")
		if got != first || conf != firstConf {
			t.Fatalf("classification changed between calls: %s/%g vs %s/%g", first, firstConf, got, conf)
		}
	}
}

func TestThresholdConfigurable(t *testing.T) {
	strict := NewClassifier(0.95)
	got, _ := strict.Classify("where is the chat sender implemented")
	if got != General {
		t.Errorf("Classify with strict threshold = %s, want GENERAL", got)
	}

	lax := NewClassifier(0.1)
	got, _ = lax.Classify("find the parser")
	if got == General {
		t.Error("Classify with lax threshold should accept a weak match")
	}
}
