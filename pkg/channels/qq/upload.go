package qq

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var urlRe = regexp.MustCompile(`https?://[^\s"'<>]+`)

// uploader converts a local file into a publicly reachable URL by running a
// user-configured command. The command may contain a {path} placeholder;
// otherwise the path is appended as the last argument. The first URL found
// in combined stdout+stderr wins.
type uploader struct {
	command string
	timeout time.Duration
}

func newUploader(command string, timeoutS int) *uploader {
	if timeoutS <= 0 {
		timeoutS = 60
	}
	return &uploader{
		command: strings.TrimSpace(command),
		timeout: time.Duration(timeoutS) * time.Second,
	}
}

func (u *uploader) configured() bool {
	return u.command != ""
}

// publicURL runs the upload command for path. Any failure (not configured,
// timeout, non-URL output) returns ok=false; callers degrade to a text-only
// notice rather than failing the turn.
func (u *uploader) publicURL(ctx context.Context, path string) (string, bool) {
	if !u.configured() {
		return "", false
	}

	cmdline := u.command
	if strings.Contains(cmdline, "{path}") {
		cmdline = strings.ReplaceAll(cmdline, "{path}", `"`+path+`"`)
	} else {
		cmdline = cmdline + ` "` + path + `"`
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", cmdline).CombinedOutput()
	if err != nil && len(out) == 0 {
		return "", false
	}

	m := urlRe.Find(out)
	if m == nil {
		return "", false
	}
	return string(m), true
}
