package utils

import "testing"

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"Water my plants":                         "Water my plants",
		"  padded   words  ":                      "padded words",
		"line one\n\n\n  line two ":               "line one\nline two",
		"<b>Water</b> my <i>plants</i>":           "Water my plants",
		"<p>First</p><p>Second</p>":               "First Second",
		"Hi<script>alert('x')</script> there":     "Hi there",
		"Fish &amp; chips":                        "Fish & chips",
		"<style>p{color:red}</style>Walk the dog": "Walk the dog",
		"":                                        "",
	}

	for in, want := range cases {
		if got := PlainText(in); got != want {
			t.Errorf("PlainText(%q): expected %q, got %q", in, want, got)
		}
	}
}
