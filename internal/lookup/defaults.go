package lookup

// Keyword sets. English and French labels are matched; add locales here.
var (
	transcriptKeywords = []string{
		"show transcript",
		"open transcript",
		"transcript",
		"afficher la transcription",
		"transcription",
	}
	menuTranscriptKeywords = []string{
		"show transcript",
		"transcript",
		"afficher la transcription",
		"transcription",
	}
	expanderKeywords   = []string{"show more", "plus", "more"}
	menuButtonKeywords = []string{"more actions", "more", "plus", "actions"}
)

// Default returns the built-in tables for the current watch page layouts.
func Default() *Tables {
	return &Tables{
		Anchors: []string{
			"ytd-watch-metadata #top-level-buttons-computed",
			"ytd-watch-metadata #actions",
			"ytd-watch-metadata",
		},
		Segment: "ytd-transcript-segment-renderer",
		SegmentText: []string{
			"ytd-transcript-segment-renderer #segment-text",
			"ytd-transcript-segment-renderer .segment-text",
		},
		DirectClick: Rule{
			Selectors:    []string{"button, tp-yt-paper-button, yt-button-shape button"},
			Keywords:     transcriptKeywords,
			LabelFrom:    []string{SourceAriaLabel, SourceTitle, SourceText},
			Interactable: true,
		},
		Expander: Rule{
			Selectors: []string{
				"ytd-watch-metadata ytd-text-inline-expander #expand",
				"ytd-watch-metadata ytd-text-inline-expander tp-yt-paper-button#expand",
				"ytd-watch-metadata button[aria-label]",
			},
			Keywords:   expanderKeywords,
			LabelFrom:  []string{SourceAriaLabel, SourceText},
			FirstLabel: true,
			FirstOnly:  true,
		},
		MenuButton: Rule{
			Selectors: []string{
				"ytd-watch-metadata ytd-menu-renderer yt-icon-button",
				`ytd-watch-metadata button[aria-label*="More"]`,
				`ytd-watch-metadata button[aria-label*="Plus"]`,
			},
			Keywords:   menuButtonKeywords,
			LabelFrom:  []string{SourceAriaLabel, SourceTitle},
			FirstLabel: true,
		},
		MenuItem: Rule{
			Selectors: []string{"tp-yt-paper-item, ytd-menu-service-item-renderer, ytd-menu-navigation-item-renderer"},
			Keywords:  menuTranscriptKeywords,
			LabelFrom: []string{SourceText},
		},
		Title: []MetaRule{
			{Selector: "ytd-watch-metadata h1 yt-formatted-string"},
			{Selector: "h1.title yt-formatted-string"},
			{Selector: `meta[name="title"]`, Attr: "content"},
		},
		Channel: []MetaRule{
			{Selector: "#owner ytd-channel-name a"},
			{Selector: "ytd-video-owner-renderer ytd-channel-name a"},
			{Selector: "ytd-video-owner-renderer a.yt-simple-endpoint"},
			{Selector: `meta[itemprop="author"]`, Attr: "content"},
		},
	}
}
