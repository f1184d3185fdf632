package feishu

import (
	"encoding/json"
	"strings"
)

// postContent is the parsed body of a rich-text (post) message: collected
// plain text plus every embedded image key, in document order.
type postContent struct {
	Text      string
	ImageKeys []string
}

// parsePost walks a post message's node tree. The structure nests
// arbitrarily (paragraph arrays, nested node objects, localized wrappers),
// so the walk recurses through every array and object rather than assuming
// two levels.
func parsePost(raw []byte) (postContent, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return postContent{}, err
	}

	var out postContent
	var parts []string
	walkPostNode(doc, &parts, &out.ImageKeys)
	out.Text = strings.TrimSpace(strings.Join(parts, " "))
	return out, nil
}

func walkPostNode(node any, texts *[]string, imageKeys *[]string) {
	switch v := node.(type) {
	case []any:
		for _, child := range v {
			walkPostNode(child, texts, imageKeys)
		}
	case map[string]any:
		if tag, _ := v["tag"].(string); tag == "img" {
			if key, _ := v["image_key"].(string); key != "" {
				*imageKeys = append(*imageKeys, key)
			}
			return
		}
		if title, _ := v["title"].(string); title != "" {
			*texts = append(*texts, title)
		}
		if text, _ := v["text"].(string); text != "" {
			*texts = append(*texts, text)
		}
		for key, child := range v {
			if key == "title" || key == "text" {
				continue
			}
			walkPostNode(child, texts, imageKeys)
		}
	}
}

// cardContent builds an interactive card composing markdown text with one
// or more uploaded images.
func cardContent(text string, imageKeys []string) string {
	type element map[string]any

	var elements []element
	if text != "" {
		elements = append(elements, element{
			"tag":  "div",
			"text": map[string]string{"tag": "lark_md", "content": text},
		})
	}
	for _, key := range imageKeys {
		elements = append(elements, element{
			"tag":     "img",
			"img_key": key,
			"alt":     map[string]string{"tag": "plain_text", "content": ""},
		})
	}

	card := map[string]any{
		"config":   map[string]bool{"wide_screen_mode": true},
		"elements": elements,
	}
	data, _ := json.Marshal(card)
	return string(data)
}
