package transcript

import (
	"encoding/json"
	"strings"
)

// CaptionTrack is one caption stream advertised in the player configuration.
type CaptionTrack struct {
	LanguageCode    string `json:"language_code"`
	IsAutoGenerated bool   `json:"is_auto_generated"`
	SourceURL       string `json:"source_url"`
	Name            string `json:"name,omitempty"`
}

// SelectTrack ranks tracks and returns the best one:
// manual English, then any English, then the first manual track, then the
// first track. It reports false only for an empty input.
func SelectTrack(tracks []CaptionTrack) (CaptionTrack, bool) {
	if len(tracks) == 0 {
		return CaptionTrack{}, false
	}
	isEnglish := func(t CaptionTrack) bool {
		return strings.ToLower(t.LanguageCode) == "en"
	}
	for _, t := range tracks {
		if isEnglish(t) && !t.IsAutoGenerated {
			return t, true
		}
	}
	for _, t := range tracks {
		if isEnglish(t) {
			return t, true
		}
	}
	for _, t := range tracks {
		if !t.IsAutoGenerated {
			return t, true
		}
	}
	return tracks[0], true
}

type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []rawTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type rawTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
	Name         struct {
		SimpleText string `json:"simpleText"`
	} `json:"name"`
}

// TracksFromPlayerResponse extracts caption tracks from a player response
// document. Missing captions or malformed JSON yield no tracks.
func TracksFromPlayerResponse(data []byte) []CaptionTrack {
	if len(data) == 0 {
		return nil
	}
	var pr playerResponse
	if err := json.Unmarshal(data, &pr); err != nil || pr.Captions == nil {
		return nil
	}
	raw := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	tracks := make([]CaptionTrack, 0, len(raw))
	for _, t := range raw {
		tracks = append(tracks, CaptionTrack{
			LanguageCode:    t.LanguageCode,
			IsAutoGenerated: t.Kind == "asr",
			SourceURL:       t.BaseURL,
			Name:            t.Name.SimpleText,
		})
	}
	return tracks
}
