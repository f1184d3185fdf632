package bridge

import "strings"

// Default cue lists for the reference-intent heuristic. These are a tunable
// policy, not a contract; config can replace either list.
var defaultDeicticCues = []string{
	"this picture", "that picture", "this image", "that image",
	"this photo", "that photo", "the picture", "the image", "the photo",
	"what's in it", "what is in it", "what do you see",
	"这张图", "那张图", "这个图", "那个图", "图里", "图中", "图片里",
	"刚才的图", "上面的图", "刚发的图",
}

var defaultActionCues = []string{
	"take a screenshot", "screenshot", "open the browser", "open browser",
	"click", "scroll", "type into", "search the web", "search for",
	"截图", "打开浏览器", "点击", "搜索",
}

// RecallPolicy decides whether a media-less turn refers back to previously
// shared media. Deictic cues trigger recall; action cues veto it
// unconditionally, since re-attaching a stale image to a fresh action
// request wastes model context. The policy is deliberately conservative:
// a missed reference costs a clarifying follow-up, a wrong attach costs
// silent confusion.
type RecallPolicy struct {
	deictic []string
	action  []string
}

func NewRecallPolicy(deictic, action []string) *RecallPolicy {
	if len(deictic) == 0 {
		deictic = defaultDeicticCues
	}
	if len(action) == 0 {
		action = defaultActionCues
	}
	return &RecallPolicy{deictic: deictic, action: action}
}

// ShouldRecall reports whether prior images should be re-attached to a turn
// that carries no media of its own.
func (p *RecallPolicy) ShouldRecall(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}

	for _, cue := range p.action {
		if strings.Contains(t, strings.ToLower(cue)) {
			return false
		}
	}

	for _, cue := range p.deictic {
		if strings.Contains(t, strings.ToLower(cue)) {
			return true
		}
	}

	return false
}
