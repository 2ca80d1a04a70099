package transcript

import "testing"

func TestSelectTrack(t *testing.T) {
	tests := []struct {
		name     string
		tracks   []CaptionTrack
		wantURL  string
		wantNone bool
	}{
		{
			name: "manual_english_wins",
			tracks: []CaptionTrack{
				{LanguageCode: "en", IsAutoGenerated: false, SourceURL: "manual-en"},
				{LanguageCode: "en", IsAutoGenerated: true, SourceURL: "auto-en"},
			},
			wantURL: "manual-en",
		},
		{
			name: "manual_english_wins_regardless_of_order",
			tracks: []CaptionTrack{
				{LanguageCode: "en", IsAutoGenerated: true, SourceURL: "auto-en"},
				{LanguageCode: "EN", IsAutoGenerated: false, SourceURL: "manual-en"},
			},
			wantURL: "manual-en",
		},
		{
			name: "auto_english_beats_manual_non_english",
			tracks: []CaptionTrack{
				{LanguageCode: "fr", IsAutoGenerated: false, SourceURL: "manual-fr"},
				{LanguageCode: "en", IsAutoGenerated: true, SourceURL: "auto-en"},
			},
			wantURL: "auto-en",
		},
		{
			name: "first_manual_when_no_english",
			tracks: []CaptionTrack{
				{LanguageCode: "de", IsAutoGenerated: true, SourceURL: "auto-de"},
				{LanguageCode: "es", IsAutoGenerated: false, SourceURL: "manual-es"},
				{LanguageCode: "it", IsAutoGenerated: false, SourceURL: "manual-it"},
			},
			wantURL: "manual-es",
		},
		{
			name:    "fallback_to_first",
			tracks:  []CaptionTrack{{LanguageCode: "de", IsAutoGenerated: true, SourceURL: "auto-de"}},
			wantURL: "auto-de",
		},
		{
			name:     "empty",
			tracks:   nil,
			wantNone: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SelectTrack(tc.tracks)
			if tc.wantNone {
				if ok {
					t.Fatalf("SelectTrack() = %+v; want none", got)
				}
				return
			}
			if !ok {
				t.Fatalf("SelectTrack() found nothing; want %q", tc.wantURL)
			}
			if got.SourceURL != tc.wantURL {
				t.Fatalf("SelectTrack() = %q; want %q", got.SourceURL, tc.wantURL)
			}
		})
	}
}

func TestTracksFromPlayerResponse(t *testing.T) {
	data := []byte(`{"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[
		{"baseUrl":"https://www.youtube.com/api/timedtext?v=abc&lang=en","languageCode":"en","kind":"asr","name":{"simpleText":"English (auto-generated)"}},
		{"baseUrl":"https://www.youtube.com/api/timedtext?v=abc&lang=fr","languageCode":"fr","name":{"simpleText":"French"}}
	]}}}`)

	tracks := TracksFromPlayerResponse(data)
	if len(tracks) != 2 {
		t.Fatalf("len(tracks) = %d; want 2", len(tracks))
	}
	if !tracks[0].IsAutoGenerated || tracks[0].Name != "English (auto-generated)" {
		t.Fatalf("tracks[0] = %+v", tracks[0])
	}
	if tracks[1].IsAutoGenerated || tracks[1].LanguageCode != "fr" {
		t.Fatalf("tracks[1] = %+v", tracks[1])
	}

	if got := TracksFromPlayerResponse([]byte(`{"videoDetails":{}}`)); len(got) != 0 {
		t.Fatalf("tracks without captions = %v; want none", got)
	}
	if got := TracksFromPlayerResponse([]byte(`{not json`)); len(got) != 0 {
		t.Fatalf("tracks from malformed JSON = %v; want none", got)
	}
}
