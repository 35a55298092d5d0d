package videourl

import (
	"github.com/stretchr/testify/assert"
	"syncstream.me/model"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name      string
		in        string
		platform  model.Platform
		videoID   string
		corrected string
	}{
		{
			name:      "typos in scheme host and path",
			in:        "htps://www.youtub.com/w?v=dQw4w9WgXcQ",
			platform:  model.PlatformYouTube,
			videoID:   "dQw4w9WgXcQ",
			corrected: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name:      "tracking parameters dropped",
			in:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=30s&feature=share",
			platform:  model.PlatformYouTube,
			videoID:   "dQw4w9WgXcQ",
			corrected: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name:      "short link",
			in:        "youtu.be/dQw4w9WgXcQ?si=abc",
			platform:  model.PlatformYouTube,
			videoID:   "dQw4w9WgXcQ",
			corrected: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name:      "shorts path",
			in:        "https://m.youtube.com/shorts/dQw4w9WgXcQ",
			platform:  model.PlatformYouTube,
			videoID:   "dQw4w9WgXcQ",
			corrected: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name:      "vimeo with a space instead of a dot",
			in:        "vimeo com/123456789",
			platform:  model.PlatformVimeo,
			videoID:   "123456789",
			corrected: "https://vimeo.com/123456789",
		},
		{
			name:      "vimeo player",
			in:        "https://player.vimeo.com/video/76979871",
			platform:  model.PlatformVimeo,
			videoID:   "76979871",
			corrected: "https://vimeo.com/76979871",
		},
		{
			name:      "vimeo with a truncated tld",
			in:        "https://vimeo.co/123456789",
			platform:  model.PlatformVimeo,
			videoID:   "123456789",
			corrected: "https://vimeo.com/123456789",
		},
		{
			name:      "vimeo with swapped letters",
			in:        "https://vimoe.com/123456789",
			platform:  model.PlatformVimeo,
			videoID:   "123456789",
			corrected: "https://vimeo.com/123456789",
		},
		{
			name:      "misspelt vimeo player",
			in:        "https://player.vimeo.co/video/76979871",
			platform:  model.PlatformVimeo,
			videoID:   "76979871",
			corrected: "https://vimeo.com/76979871",
		},
		{
			name:      "short link with a truncated tld",
			in:        "https://youtu.b/dQw4w9WgXcQ",
			platform:  model.PlatformYouTube,
			videoID:   "dQw4w9WgXcQ",
			corrected: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name:      "short link with swapped letters",
			in:        "https://yuotu.be/dQw4w9WgXcQ",
			platform:  model.PlatformYouTube,
			videoID:   "dQw4w9WgXcQ",
			corrected: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name:      "direct file",
			in:        "https://example.com/movie.mp4",
			platform:  model.PlatformDirect,
			corrected: "https://example.com/movie.mp4",
		},
		{
			name:      "hls hint in query",
			in:        "https://ww7.vcdnlare.com/v/LWTpVmvwsWHiyEN?sid=6191&t=hls",
			platform:  model.PlatformDirect,
			corrected: "https://ww7.vcdnlare.com/v/LWTpVmvwsWHiyEN?sid=6191&t=hls",
		},
		{
			name:      "plain http kept",
			in:        "http://cdn.example.org/stream/master.m3u8",
			platform:  model.PlatformDirect,
			corrected: "http://cdn.example.org/stream/master.m3u8",
		},
		{
			name:      "unsupported site",
			in:        "https://instagram.com/p/xyz",
			platform:  model.PlatformUnknown,
			corrected: "https://instagram.com/p/xyz",
		},
		{
			name:      "youtube without video id",
			in:        "https://www.youtube.com/feed/trending",
			platform:  model.PlatformUnknown,
			corrected: "https://www.youtube.com/feed/trending",
		},
		{
			name:      "dashboard is not a stream",
			in:        "https://example.com/dashboard",
			platform:  model.PlatformUnknown,
			corrected: "https://example.com/dashboard",
		},
		{
			name:      "not a url",
			in:        "a random string",
			platform:  model.PlatformUnknown,
			corrected: "a random string",
		},
		{
			name:     "empty",
			in:       "",
			platform: model.PlatformUnknown,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := Parse(c.in)
			if c.in != "" {
				assert.True(t, src.Valid())
			}
			assert.Equal(t, c.platform, src.Platform)
			assert.Equal(t, c.corrected, src.CorrectedURL)
			if c.videoID == "" {
				assert.Nil(t, src.VideoID)
			} else if assert.NotNil(t, src.VideoID) {
				assert.Equal(t, c.videoID, *src.VideoID)
			}
		})
	}
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 0, distance("youtube.com", "youtube.com"))
	assert.Equal(t, 1, distance("youtub.com", "youtube.com"))
	assert.Equal(t, 2, distance("yuotube.com", "youtube.com"))
	assert.Equal(t, 1, distance("htps", "https"))
	assert.Equal(t, 3, distance("", "abc"))
}

func TestKnownHost(t *testing.T) {
	assert.Equal(t, hostYouTube, knownHost("youtub.com"))
	assert.Equal(t, hostYouTube, knownHost("youtube-nocookie.com"))
	assert.Equal(t, hostYouTuBe, knownHost("youtu.be"))
	assert.Equal(t, hostYouTuBe, knownHost("yuotu.be"))
	assert.Equal(t, hostVimeo, knownHost("vimeo.co"))
	assert.Equal(t, hostVimeoPlayer, knownHost("player.vimeo.com"))
	assert.Equal(t, "", knownHost("example.com"))
	assert.Equal(t, "", knownHost("vimeo"))
}

func TestRepairScheme(t *testing.T) {
	assert.Equal(t, "https://example.com", repairScheme("example.com"))
	assert.Equal(t, "https://example.com", repairScheme("htps://example.com"))
	assert.Equal(t, "https://example.com", repairScheme("https//example.com"))
	assert.Equal(t, "https://example.com", repairScheme("hhtps:/example.com"))
	assert.Equal(t, "http://example.com", repairScheme("http://example.com"))
	assert.Equal(t, "ftp://example.com", repairScheme("ftp://example.com"))
}
