package bridge

import "testing"

func TestShouldRecallDeicticCues(t *testing.T) {
	p := NewRecallPolicy(nil, nil)

	cases := []struct {
		text string
		want bool
	}{
		{"what do you see in this picture?", true},
		{"What's in it?", true},
		{"describe the image please", true},
		{"这张图里有什么", true},
		{"刚才的图是什么意思", true},
		{"hello there", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		if got := p.ShouldRecall(tc.text); got != tc.want {
			t.Errorf("ShouldRecall(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestShouldRecallActionCueVetoes(t *testing.T) {
	p := NewRecallPolicy(nil, nil)

	// Both cue families present: the action cue wins.
	cases := []string{
		"take a screenshot and tell me what you see in that picture",
		"click the button in this image",
		"截图然后告诉我这张图里有什么",
	}
	for _, text := range cases {
		if p.ShouldRecall(text) {
			t.Errorf("ShouldRecall(%q) = true, want action cue to suppress recall", text)
		}
	}
}

func TestShouldRecallCustomCues(t *testing.T) {
	p := NewRecallPolicy([]string{"le dessin"}, []string{"dessine"})

	if !p.ShouldRecall("montre-moi le dessin") {
		t.Error("custom deictic cue should trigger")
	}
	if p.ShouldRecall("what do you see in this picture?") {
		t.Error("default cues should be replaced, not merged")
	}
	if p.ShouldRecall("dessine le dessin") {
		t.Error("custom action cue should veto")
	}
}

func TestShouldRecallCaseInsensitive(t *testing.T) {
	p := NewRecallPolicy(nil, nil)
	if !p.ShouldRecall("WHAT DO YOU SEE IN THIS PICTURE") {
		t.Error("matching should ignore case")
	}
}
