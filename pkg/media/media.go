package media

import (
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindFile  Kind = "file"
)

type Availability string

const (
	LocalOnly   Availability = "local-only"
	RemoteOnly  Availability = "remote-only"
	Both        Availability = "both"
	Unavailable Availability = "unavailable"
)

// Reference points at one media item. At least one of LocalPath, RemoteURL
// or PlatformHandle is set unless the item is unavailable. References are
// never mutated after creation.
type Reference struct {
	Kind           Kind   `json:"kind"`
	LocalPath      string `json:"local_path,omitempty"`
	RemoteURL      string `json:"remote_url,omitempty"`
	PlatformHandle string `json:"platform_handle,omitempty"`
}

func (r Reference) Availability() Availability {
	switch {
	case r.LocalPath != "" && (r.RemoteURL != "" || r.PlatformHandle != ""):
		return Both
	case r.LocalPath != "":
		return LocalOnly
	case r.RemoteURL != "" || r.PlatformHandle != "":
		return RemoteOnly
	default:
		return Unavailable
	}
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".bmp": true, ".webp": true,
}

// ClassifyPath maps a file path to a media kind by extension.
func ClassifyPath(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return KindImage
	case ext == ".mp4" || ext == ".mov" || ext == ".webm":
		return KindVideo
	case ext == ".silk" || ext == ".amr" || ext == ".mp3" || ext == ".ogg" || ext == ".wav":
		return KindAudio
	default:
		return KindFile
	}
}
