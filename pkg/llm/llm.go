// Package llm asks a language model to classify video links and to recommend
// something to watch. Model output is schema constrained and validated before
// it leaves the package.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"google.golang.org/genai"
	"strings"
	"syncstream.me/model"
	"syncstream.me/pkg/videourl"
)

const (
	// MsgNoInput is shown when both recommendation lists are empty
	MsgNoInput = "Please provide some watch history or preferences."
	// MsgRecommendationFailed is shown for any upstream failure
	MsgRecommendationFailed = "Failed to get recommendations. Please try again later."
)

var (
	videoSourceSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"platform": {
				Type:        genai.TypeString,
				Enum:        []string{"youtube", "vimeo", "direct", "unknown"},
				Description: "The video platform, direct for media files and streams, unknown otherwise.",
			},
			"videoId": {
				Type:        genai.TypeString,
				Nullable:    genai.Ptr(true),
				Description: "The video id for youtube and vimeo, null otherwise.",
			},
			"correctedUrl": {
				Type:        genai.TypeString,
				Description: "The repaired url.",
			},
		},
		Required: []string{"platform", "videoId", "correctedUrl"},
	}

	recommendationsSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"recommendations": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Movies or shows the group would enjoy together.",
			},
			"reasoning": {
				Type:        genai.TypeString,
				Description: "Why these titles were picked.",
			},
		},
		Required: []string{"recommendations", "reasoning"},
	}
)

const videoURLPrompt = `Analyze the url a user pasted into a watch party and identify the video behind it.
Rules:
- platform is exactly one of youtube, vimeo, direct, unknown.
- videoId is required for youtube and vimeo and must be null for direct and unknown.
- a youtube correctedUrl keeps only the v parameter, drop list, index, t, si and the like.
- links to video CDNs, media files or streaming manifests (m3u8, hls, dash) are direct.
- social media posts (instagram, facebook, tiktok) are unknown.
- fix obvious typos in the scheme, host and path.
- if the input is not a url at all return it unchanged as correctedUrl with platform unknown.
Examples:
"htps://www.youtub.com/w?v=dQw4w9WgXcQ" -> {"platform":"youtube","videoId":"dQw4w9WgXcQ","correctedUrl":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}
"vimeo com/12345678" -> {"platform":"vimeo","videoId":"12345678","correctedUrl":"https://vimeo.com/12345678"}
"https://ww7.vcdnlare.com/v/LWTpVmvwsWHiyEN?sid=6191&t=hls" -> {"platform":"direct","videoId":null,"correctedUrl":"https://ww7.vcdnlare.com/v/LWTpVmvwsWHiyEN?sid=6191&t=hls"}
URL:
%s`

const recommendationsPrompt = `You recommend movies and TV shows to a group of friends watching together.
Suggest titles the whole group would enjoy and explain the choice briefly.
Watch history:
%s
Preferences:
%s`

// Adapter wraps a Generator with the prompts and validation of each task.
// A nil generator makes every call fail with model.ErrUnconfigured.
type Adapter struct {
	gen Generator
}

func New(gen Generator) *Adapter {
	return &Adapter{gen: gen}
}

func (a *Adapter) generate(ctx context.Context, prompt string, schema *genai.Schema, v interface{}) error {
	if a.gen == nil {
		return fmt.Errorf("llm: %w", model.ErrUnconfigured)
	}
	text, err := a.gen.GenerateJSON(ctx, prompt, schema)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	if err = json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("%w: malformed model output: %v", model.ErrTransport, err)
	}
	return nil
}

// ProcessVideoURL classifies rawURL with the model
func (a *Adapter) ProcessVideoURL(ctx context.Context, rawURL string) (*model.VideoSource, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: url is required", model.ErrInvalid)
	}

	var src model.VideoSource
	if err := a.generate(ctx, fmt.Sprintf(videoURLPrompt, rawURL), videoSourceSchema, &src); err != nil {
		return nil, err
	}
	return normalize(&src, rawURL)
}

// normalize enforces the platform and videoId pairing on model output
func normalize(src *model.VideoSource, rawURL string) (*model.VideoSource, error) {
	src.Platform = model.Platform(strings.ToLower(strings.TrimSpace(string(src.Platform))))
	if src.VideoID != nil && strings.TrimSpace(*src.VideoID) == "" {
		src.VideoID = nil
	}
	if strings.TrimSpace(src.CorrectedURL) == "" {
		src.CorrectedURL = rawURL
	}

	switch src.Platform {
	case model.PlatformYouTube:
		if src.VideoID != nil {
			src.CorrectedURL = videourl.CanonicalYouTubeURL(*src.VideoID)
		}
	case model.PlatformDirect, model.PlatformUnknown:
		src.VideoID = nil
	}

	if !src.Valid() {
		return nil, fmt.Errorf("%w: model returned an invalid video source", model.ErrTransport)
	}
	return src, nil
}

// RecommendContent suggests titles for the group, at least one of the lists
// must be non empty
func (a *Adapter) RecommendContent(ctx context.Context, watchHistory, preferences []string) (*model.Recommendations, error) {
	watchHistory, preferences = compact(watchHistory), compact(preferences)
	if len(watchHistory) == 0 && len(preferences) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalid, MsgNoInput)
	}

	prompt := fmt.Sprintf(recommendationsPrompt, bullets(watchHistory), bullets(preferences))
	var rec model.Recommendations
	if err := a.generate(ctx, prompt, recommendationsSchema, &rec); err != nil {
		return nil, err
	}
	rec.Recommendations = compact(rec.Recommendations)
	if rec.Recommendations == nil {
		rec.Recommendations = []string{}
	}
	return &rec, nil
}

// SplitLines splits newline separated form input and drops blank lines
func SplitLines(text string) []string {
	return compact(strings.Split(text, "\n"))
}

func compact(lines []string) []string {
	var result []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			result = append(result, line)
		}
	}
	return result
}

func bullets(lines []string) string {
	if len(lines) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(lines, "\n- ")
}
