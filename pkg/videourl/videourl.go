// Package videourl repairs and classifies user supplied video links.
//
// It handles the common cases locally: scheme typos, misspelt youtube and
// vimeo hosts, tracking parameters on youtube links and direct media files. Anything it
// cannot classify comes back as PlatformUnknown so the caller may ask a
// smarter (and slower) classifier.
package videourl

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"syncstream.me/model"
	"syncstream.me/pkg/utils"
)

var (
	schemeRegex   = regexp.MustCompile(`^([A-Za-z]{1,6})(:/{0,3}|/{1,3}|;/{1,3})`)
	spacedTLD     = regexp.MustCompile(`^([A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*) (com|be|tv|net|org)(/|$)`)
	youtubeID     = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	vimeoID       = regexp.MustCompile(`^[0-9]{6,12}$`)
	directExts    = []string{".mp4", ".webm", ".ogg", ".ogv", ".mov", ".mkv", ".m4v", ".m3u8", ".mpd"}
	streamHints   = []string{"hls", "dash"}
	youtubePaths  = []string{"embed", "shorts", "live", "v"}
	stripPrefixes = []string{"www.", "m.", "music."}
	knownHosts    = []string{hostYouTube, hostYouTuBe, hostVimeo, hostVimeoPlayer}
)

const (
	hostYouTube     = "youtube.com"
	hostYouTuBe     = "youtu.be"
	hostVimeo       = "vimeo.com"
	hostVimeoPlayer = "player.vimeo.com"

	// maxHostTypos is how many edits a host may be away from a known one
	maxHostTypos = 2
)

// Parse classifies raw. The result is Valid for any non blank input.
func Parse(raw string) *model.VideoSource {
	unknown := &model.VideoSource{Platform: model.PlatformUnknown, CorrectedURL: raw}
	spaced := repairSpacing(strings.TrimSpace(raw))
	if spaced == "" || strings.ContainsAny(spaced, " \t\n") {
		return unknown
	}

	u, err := url.Parse(repairScheme(spaced))
	if err != nil || u.Host == "" {
		return unknown
	}
	unknown.CorrectedURL = u.String()

	host := strings.ToLower(u.Hostname())
	for _, prefix := range stripPrefixes {
		host = strings.TrimPrefix(host, prefix)
	}

	switch knownHost(host) {
	case hostYouTuBe:
		if ID := firstSegment(u.Path); youtubeID.MatchString(ID) {
			return youtube(ID)
		}
	case hostYouTube:
		if ID := youtubeVideoID(u); ID != "" {
			return youtube(ID)
		}
	case hostVimeo, hostVimeoPlayer:
		if ID := vimeoVideoID(u); ID != "" {
			return &model.VideoSource{
				Platform:     model.PlatformVimeo,
				VideoID:      model.StringPtr(ID),
				CorrectedURL: "https://vimeo.com/" + ID,
			}
		}
	}
	if isDirect(u) {
		return &model.VideoSource{Platform: model.PlatformDirect, CorrectedURL: u.String()}
	}
	return unknown
}

// CanonicalYouTubeURL builds the watch url that carries only the v parameter
func CanonicalYouTubeURL(ID string) string {
	return "https://www.youtube.com/watch?v=" + ID
}

func youtube(ID string) *model.VideoSource {
	return &model.VideoSource{
		Platform:     model.PlatformYouTube,
		VideoID:      model.StringPtr(ID),
		CorrectedURL: CanonicalYouTubeURL(ID),
	}
}

func repairSpacing(s string) string {
	return spacedTLD.ReplaceAllString(s, "$1.$2$3")
}

// repairScheme fixes misspelt http(s) schemes and adds one when missing.
func repairScheme(s string) string {
	if m := schemeRegex.FindStringSubmatch(s); m != nil {
		scheme := strings.ToLower(m[1])
		rest := s[len(m[0]):]
		switch {
		case scheme == "http":
			return "http://" + rest
		case scheme == "https" || distance(scheme, "https") <= 2:
			return "https://" + rest
		}
		if strings.HasPrefix(m[2], ":") {
			// some other scheme, leave it to url.Parse
			return s
		}
	}
	if strings.Contains(s, "://") {
		return s
	}
	return "https://" + strings.TrimLeft(s, "/")
}

// knownHost returns the known video host closest to host, or "" when none is
// within maxHostTypos edits
func knownHost(host string) string {
	if host == "youtube-nocookie.com" {
		return hostYouTube
	}
	if !strings.Contains(host, ".") {
		return ""
	}
	best, bestDistance := "", maxHostTypos+1
	for _, known := range knownHosts {
		if d := distance(host, known); d < bestDistance {
			best, bestDistance = known, d
		}
	}
	return best
}

func youtubeVideoID(u *url.URL) string {
	if ID := u.Query().Get("v"); youtubeID.MatchString(ID) {
		return ID
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) >= 2 && utils.InArray(youtubePaths, segments[0]) && youtubeID.MatchString(segments[1]) {
		return segments[1]
	}
	return ""
}

func vimeoVideoID(u *url.URL) string {
	for _, segment := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if vimeoID.MatchString(segment) {
			return segment
		}
	}
	return ""
}

func isDirect(u *url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	if utils.InArray(directExts, ext) {
		return true
	}
	parts := strings.Split(strings.ToLower(u.Path), "/")
	for _, values := range u.Query() {
		for _, v := range values {
			parts = append(parts, strings.ToLower(v))
		}
	}
	for _, part := range parts {
		if utils.InArray(streamHints, part) || strings.Contains(part, ".m3u8") {
			return true
		}
	}
	return false
}

func firstSegment(p string) string {
	return strings.SplitN(strings.Trim(p, "/"), "/", 2)[0]
}

// distance is the Levenshtein edit distance between a and b
func distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
