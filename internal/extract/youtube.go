package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"portside/internal/ddp"
)

// YouTube takeout archives come in per-language layouts; the scraped pages
// share their structure but not their file names.
var youtubeCatalogue = ddp.Catalogue{
	Statuses: []ddp.StatusCode{
		{ID: 0, Description: "Valid DDP"},
		{ID: 1, Description: "Valid DDP unhandled format"},
		{ID: 2, Description: "Not a valid DDP"},
		{ID: 3, Description: "Bad zipfile"},
	},
	Categories: []ddp.Category{
		{
			ID:       "html_en",
			Filetype: ddp.FiletypeHTML,
			Language: ddp.LanguageEN,
			KnownFiles: []string{
				"archive_browser.html",
				"watch-history.html",
				"my-comments.html",
				"my-live-chat-messages.html",
				"subscriptions.csv",
				"comments.csv",
			},
		},
		{
			ID:       "html_nl",
			Filetype: ddp.FiletypeHTML,
			Language: ddp.LanguageNL,
			KnownFiles: []string{
				"archive_browser.html",
				"kijkgeschiedenis.html",
				"zoekgeschiedenis.html",
				"mijn-reacties.html",
				"abonnementen.csv",
				"reacties.csv",
			},
		},
	},
}

const (
	outerCellSelector   = `div[class="outer-cell mdl-cell mdl-cell--12-col mdl-shadow--2dp"]`
	contentCellSelector = `div[class="content-cell mdl-cell mdl-cell--6-col mdl-typography--body-1"]`
	captionCellSelector = `div[class="content-cell mdl-cell mdl-cell--12-col mdl-typography--caption"]`
)

// YouTube returns the YouTube platform definition.
func YouTube(log *zap.Logger, settings Settings) Platform {
	if log == nil {
		log = zap.NewNop()
	}
	return Platform{
		Name:      "YouTube",
		FileHint:  "application/zip, text/plain, application/json",
		Catalogue: youtubeCatalogue,
		Validate: func(zipPath string) ddp.Classification {
			return ddp.ValidateZip(zipPath, youtubeCatalogue, ddp.Options{MatchThreshold: settings.MatchThreshold})
		},
		Extract: func(zipPath string, c ddp.Classification) ([]Table, DonationDict) {
			return extractYouTube(zipPath, c, log)
		},
	}
}

func extractYouTube(zipPath string, c ddp.Classification, log *zap.Logger) ([]Table, DonationDict) {
	var tables []Table

	if f := youtubeWatchHistory(zipPath, c, log); !f.Empty() {
		tables = append(tables, Table{
			Name:  "youtube_watch_history",
			Title: Translatable{"en": "Your YouTube watch history", "nl": "Je YouTube kijkgeschiedenis"},
			Data:  f,
			Description: Translatable{
				"en": "In this table you find the videos you watched on YouTube sorted over time. Below, you find a timeline of videos watched per month, a wordcloud of the channels you viewed, and a histogram of videos watched per hour of the day.",
				"nl": "In deze tabel vind je de video's die je hebt bekeken op YouTube, gesorteerd op tijd. Hieronder vind je een tijdlijn per maand, een wordcloud van bekeken kanalen en een histogram per uur van de dag.",
			},
			Visualizations: []Visualization{
				{
					Title: Translatable{"en": "The total number of YouTube videos you have watched per month", "nl": "Het totale aantal YouTube-video's dat je per maand hebt bekeken"},
					Type:  "area",
					Group: &VizGroup{Column: "Date standard format", DateFormat: "month"},
					Values: []VizValue{{
						Aggregate: "count",
						Label:     Translatable{"en": "number of views", "nl": "aantal keer gekeken"},
					}},
				},
				{
					Title:      Translatable{"en": "The most frequently watched YouTube channels", "nl": "De meest bekeken YouTube-kanalen"},
					Type:       "wordcloud",
					TextColumn: "Channel",
				},
				{
					Title:  Translatable{"en": "The total number of YouTube videos you have watched per hour of the day", "nl": "Het totale aantal YouTube-video's dat je hebt bekeken per uur van de dag"},
					Type:   "bar",
					Group:  &VizGroup{Column: "Date standard format", DateFormat: "hour_cycle"},
					Values: []VizValue{{}},
				},
			},
		})
	}

	if f := youtubeSearchHistory(zipPath, c, log); !f.Empty() {
		tables = append(tables, Table{
			Name:  "youtube_search_history",
			Title: Translatable{"en": "Your YouTube search history", "nl": "Je YouTube-zoekgeschiedenis"},
			Data:  f,
			Description: Translatable{
				"en": "In this table you find the search terms you have used on YouTube sorted over time. Below, you find a wordcloud of the search terms you used.",
				"nl": "In deze tabel vind je de zoektermen die je hebt gebruikt op YouTube, gesorteerd op tijd. Hieronder vind je een wordcloud van je zoektermen.",
			},
			Visualizations: []Visualization{{
				Title:      Translatable{"en": "Words you most searched for", "nl": "Woorden waarop je het meest hebt gezocht"},
				Type:       "wordcloud",
				TextColumn: "Search Terms",
				Tokenize:   true,
			}},
		})
	}

	if f := youtubeSubscriptions(zipPath, c, log); !f.Empty() {
		tables = append(tables, Table{
			Name:  "youtube_subscriptions",
			Title: Translatable{"en": "Your YouTube channel subscriptions", "nl": "Je YouTube-kanaal abonnementen"},
			Data:  f,
			Description: Translatable{
				"en": "In this table, you find the YouTube channels you are subscribed to.",
				"nl": "In deze tabel vind je de YouTube-kanalen waarop je geabonneerd bent.",
			},
		})
	}

	if f := youtubeComments(zipPath, c, log); !f.Empty() {
		tables = append(tables, Table{
			Name:  "youtube_comments",
			Title: Translatable{"en": "Your YouTube comments", "nl": "Je YouTube-reacties"},
			Data:  f,
			Description: Translatable{
				"en": "In this table you find the comments you posted on YouTube.",
				"nl": "In deze tabel vind je de reacties die je op YouTube hebt geplaatst.",
			},
		})
	}

	if f := youtubeWatchLater(zipPath, log); !f.Empty() {
		tables = append(tables, Table{
			Name:  "youtube_watch_later",
			Title: Translatable{"en": "Videos you saved for later", "nl": "Video's die je hebt bewaard voor later"},
			Data:  f,
			Description: Translatable{
				"en": "In this table you find the videos on your Watch later list.",
				"nl": "In deze tabel vind je de video's op je 'Later bekijken' lijst.",
			},
		})
	}

	return tables, nil
}

// localized picks the file name for the matched category's language.
func localized(c ddp.Classification, en, nl string) string {
	if c.Category != nil && c.Category.Language == ddp.LanguageNL {
		return nl
	}
	return en
}

func youtubeWatchHistory(zipPath string, c ddp.Classification, log *zap.Logger) Frame {
	name := localized(c, "watch-history.html", "kijkgeschiedenis.html")
	data, err := ReadMember(zipPath, name)
	if err != nil {
		log.Debug("watch history not readable", zap.Error(err))
		return Frame{}
	}
	f := Frame{Columns: []string{"Title", "Url", "Advertisement", "Channel", "Date", "Date standard format"}}
	scrapeActivityCells(data, log, func(cell activityCell) {
		ad := "No"
		if cell.isAd {
			ad = "Yes"
		}
		f.Append(cell.title, cell.url, ad, cell.channel, cell.when, ParseAnyTimestamp(cell.when))
	})
	return f
}

func youtubeSearchHistory(zipPath string, c ddp.Classification, log *zap.Logger) Frame {
	name := localized(c, "search-history.html", "zoekgeschiedenis.html")
	data, err := ReadMember(zipPath, name)
	if err != nil {
		log.Debug("search history not readable", zap.Error(err))
		return Frame{}
	}
	f := Frame{Columns: []string{"Search Terms", "Url", "Date", "Date standard format"}}
	scrapeActivityCells(data, log, func(cell activityCell) {
		if cell.isAd {
			return
		}
		f.Append(cell.title, cell.url, cell.when, ParseAnyTimestamp(cell.when))
	})
	return f
}

// activityCell is one scraped entry of a takeout activity page.
type activityCell struct {
	title   string
	url     string
	channel string
	when    string
	isAd    bool
}

// scrapeActivityCells walks the outer activity cells of a takeout HTML page.
// Each cell holds a content div whose anchor tags carry the video and channel
// links and whose trailing text node is the timestamp. The caption div marks
// entries originating from ads.
func scrapeActivityCells(data []byte, log *zap.Logger, visit func(activityCell)) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		log.Error("activity page parse failed", zap.Error(err))
		return
	}
	doc.Find(outerCellSelector).Each(func(_ int, outer *goquery.Selection) {
		cell := activityCell{}
		adText := outer.Find(captionCellSelector).First().Text()
		cell.isAd = strings.Contains(adText, "Google Ads") || strings.Contains(adText, "Google Adverteren")

		content := outer.Find(contentCellSelector).First()
		if content.Length() == 0 {
			return
		}
		texts := ownTextNodes(content)
		if len(texts) > 0 {
			cell.when = FixASCII(texts[len(texts)-1])
			texts = texts[:len(texts)-1]
		}
		anchors := content.Find("a")
		if anchors.Length() > 0 {
			cell.title = strings.TrimSpace(anchors.Eq(0).Text())
			cell.url, _ = anchors.Eq(0).Attr("href")
		} else if len(texts) > 0 {
			cell.title = strings.TrimSpace(texts[0])
		}
		if anchors.Length() > 1 {
			cell.channel = strings.TrimSpace(anchors.Eq(1).Text())
		}
		visit(cell)
	})
}

// ownTextNodes returns the non-blank direct text children of a selection,
// skipping text nested in child elements.
func ownTextNodes(s *goquery.Selection) []string {
	var texts []string
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) != "#text" {
			return
		}
		if t := strings.TrimSpace(c.Text()); t != "" {
			texts = append(texts, t)
		}
	})
	return texts
}

func youtubeSubscriptions(zipPath string, c ddp.Classification, log *zap.Logger) Frame {
	name := localized(c, "subscriptions.csv", "abonnementen.csv")
	data, err := ReadMember(zipPath, name)
	if err != nil {
		log.Debug("subscriptions not readable", zap.Error(err))
		return Frame{}
	}
	return readCSVFrame(data)
}

func youtubeComments(zipPath string, c ddp.Classification, log *zap.Logger) Frame {
	name := localized(c, "comments.csv", "reacties.csv")
	data, err := ReadMember(zipPath, name)
	if err != nil {
		log.Debug("comments not readable", zap.Error(err))
		return Frame{}
	}
	return readCSVFrame(data)
}

// watchLaterHeader strips the playlist preamble: "Watch later.csv" is two
// csv documents in one file, separated by a blank line.
var watchLaterHeader = regexp.MustCompile(`(?s)^.*?\n\r?\n`)

func youtubeWatchLater(zipPath string, log *zap.Logger) Frame {
	// same file name for both languages
	data, err := ReadMember(zipPath, "Watch later.csv")
	if err != nil {
		log.Debug("watch later not readable", zap.Error(err))
		return Frame{}
	}
	f := readCSVFrame(watchLaterHeader.ReplaceAll(data, nil))
	for i, col := range f.Columns {
		if col != "Video-ID" && col != "Video ID" {
			continue
		}
		for _, rec := range f.Records {
			if i < len(rec) && rec[i] != "" {
				rec[i] = "https://www.youtube.com/watch?v=" + strings.TrimSpace(rec[i])
			}
		}
	}
	return f
}
