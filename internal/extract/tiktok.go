package extract

import (
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"portside/internal/ddp"
	"portside/internal/denest"
)

// TikTok ships a single user_data.json whose nesting drifts between export
// versions; records are pulled out of the flattened tree by key substring
// instead of exact paths.
var tiktokCatalogue = ddp.Catalogue{
	Statuses: []ddp.StatusCode{
		{ID: 0, Description: "Valid DDP"},
		{ID: 1, Description: "Valid DDP unhandled format"},
		{ID: 2, Description: "Not a valid DDP"},
		{ID: 3, Description: "Bad zipfile"},
	},
	Categories: []ddp.Category{
		{
			ID:         "json_en",
			Filetype:   ddp.FiletypeJSON,
			Language:   ddp.LanguageEN,
			KnownFiles: []string{"user_data.json", "user_data_tiktok.json"},
		},
	},
}

// TikTok returns the TikTok platform definition.
func TikTok(log *zap.Logger, settings Settings) Platform {
	if log == nil {
		log = zap.NewNop()
	}
	return Platform{
		Name:      "TikTok",
		FileHint:  "application/zip, text/plain, application/json",
		Catalogue: tiktokCatalogue,
		Validate: func(zipPath string) ddp.Classification {
			return ddp.ValidateZip(zipPath, tiktokCatalogue, ddp.Options{MatchThreshold: settings.MatchThreshold})
		},
		Extract: func(zipPath string, c ddp.Classification) ([]Table, DonationDict) {
			return extractTikTok(zipPath, c, log, settings.chunkSize())
		},
	}
}

// tiktokTree loads and flattens user_data.json from the archive.
func tiktokTree(zipPath string, c ddp.Classification, log *zap.Logger) *denest.Tree {
	var data []byte
	var err error
	if c.Category != nil {
		for _, name := range c.Category.KnownFiles {
			if data, err = ReadMember(zipPath, name); err == nil {
				break
			}
		}
	}
	if data == nil {
		log.Debug("tiktok user data not readable", zap.Error(err))
		return denest.NewTree()
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		log.Error("tiktok user data not valid json", zap.Error(err))
		return denest.NewTree()
	}
	return denest.Flatten(v)
}

// pairedColumn declares one output column of a tree-backed frame: the column
// header and the key pattern whose matches fill it.
type pairedColumn struct {
	header  string
	pattern string
}

// treeFrame builds a frame by running FindAll per column and zipping the
// results row-wise. Columns that matched fewer keys pad with "".
func treeFrame(tree *denest.Tree, log *zap.Logger, cols ...pairedColumn) Frame {
	f := Frame{}
	values := make([][]string, len(cols))
	rows := 0
	for i, col := range cols {
		f.Columns = append(f.Columns, col.header)
		values[i] = denest.FindAll(tree, col.pattern, log)
		if len(values[i]) > rows {
			rows = len(values[i])
		}
	}
	for r := 0; r < rows; r++ {
		row := make([]string, len(cols))
		for i := range cols {
			if r < len(values[i]) {
				row[i] = values[i][r]
			}
		}
		f.Records = append(f.Records, row)
	}
	return f
}

func extractTikTok(zipPath string, c ddp.Classification, log *zap.Logger, chunkSize int) ([]Table, DonationDict) {
	tree := tiktokTree(zipPath, c, log)

	var tables []Table
	dict := DonationDict{}

	// the leading dash keeps FavoriteVideoList keys out of the match
	browsing := treeFrame(tree, log,
		pairedColumn{"Date", `-VideoList-\d+-Date`},
		pairedColumn{"Link", `-VideoList-\d+-Link`},
	)
	if !browsing.Empty() {
		// only the first chunk is rendered; every chunk is donated
		for i, chunk := range browsing.Split(chunkSize) {
			name := tiktokChunkName(i)
			if i == 0 {
				tables = append(tables, Table{
					Name:  name,
					Title: Translatable{"en": "Watch history", "nl": "Kijkgeschiedenis"},
					Data:  chunk,
					Description: Translatable{
						"en": "The table below shows exactly which TikTok videos you watched and when that was. The chart shows how many videos you watched each month.",
						"nl": "De tabel hieronder geeft aan welke TikTok video's je precies hebt bekeken en wanneer dat was. De grafiek laat zien hoeveel video's je elke maand hebt bekeken.",
					},
					Visualizations: []Visualization{{
						Title:  Translatable{"en": "Total number of videos watched per month", "nl": "Totaal aantal video's gekeken per maand"},
						Type:   "area",
						Group:  &VizGroup{Column: "Date", DateFormat: "month"},
						Values: []VizValue{{Label: Translatable{"en": "Count", "nl": "Aantal"}}},
					}},
				})
			}
			dict[name] = chunk.Maps()
		}
	}

	type simpleTable struct {
		name  string
		title Translatable
		desc  Translatable
		viz   []Visualization
		frame Frame
	}
	simples := []simpleTable{
		{
			name:  "tiktok_favorite_videos",
			title: Translatable{"en": "Favorite videos", "nl": "Favoriete video's"},
			desc:  Translatable{"en": "In the table below you will find the videos that are among your favorites.", "nl": "In de tabel hieronder vind je de video's die tot je favorieten behoren."},
			frame: treeFrame(tree, log,
				pairedColumn{"Date", `FavoriteVideoList-\d+-Date`},
				pairedColumn{"Link", `FavoriteVideoList-\d+-Link`},
			),
		},
		{
			name:  "tiktok_favorite_hashtags",
			title: Translatable{"en": "Favorite hashtags", "nl": "Favoriete hashtags"},
			desc:  Translatable{"en": "The table below lists the hashtags that are among your favorites.", "nl": "In de tabel hieronder vind je de hashtags die tot je favorieten behoren."},
			frame: treeFrame(tree, log,
				pairedColumn{"Date", `FavoriteHashtagList-\d+-Date`},
				pairedColumn{"Link", `FavoriteHashtagList-\d+-Link`},
			),
		},
		{
			name:  "tiktok_like_list",
			title: Translatable{"en": "Videos you have liked", "nl": "Video's die je hebt geliket"},
			desc:  Translatable{"en": "The table below shows the videos you've liked and when that was.", "nl": "In de tabel hieronder vind je de video's die je hebt geliket en wanneer dat was."},
			frame: treeFrame(tree, log,
				pairedColumn{"Date", `ItemFavoriteList-\d+-Date`},
				pairedColumn{"Link", `ItemFavoriteList-\d+-Link`},
			),
		},
		{
			name:  "tiktok_searches",
			title: Translatable{"en": "Search terms", "nl": "Zoektermen"},
			desc:  Translatable{"en": "The table below shows what you searched for and when that was.", "nl": "De tabel hieronder laat zien wat je hebt gezocht en wanneer dat was."},
			viz: []Visualization{{
				Type:       "wordcloud",
				Title:      Translatable{"en": "", "nl": ""},
				TextColumn: "Search term",
			}},
			frame: treeFrame(tree, log,
				pairedColumn{"Date", `SearchList-\d+-Date`},
				pairedColumn{"Search term", `SearchList-\d+-SearchTerm`},
			),
		},
		{
			name:  "tiktok_share_history",
			title: Translatable{"en": "Shared videos", "nl": "Gedeelde video's"},
			desc:  Translatable{"en": "The table below shows what you shared, at what time and how.", "nl": "In de tabel hieronder vind je wat je hebt gedeeld, op welk tijdstip en de manier waarop."},
			frame: treeFrame(tree, log,
				pairedColumn{"Date", `ShareHistoryList-\d+-Date`},
				pairedColumn{"Shared content", `ShareHistoryList-\d+-SharedContent`},
				pairedColumn{"Link", `ShareHistoryList-\d+-Link`},
				pairedColumn{"Method", `ShareHistoryList-\d+-Method`},
			),
		},
		{
			name:  "tiktok_followers",
			title: Translatable{"en": "Followers", "nl": "Followers"},
			desc:  Translatable{"en": "The table below shows your followers and when they started following you.", "nl": "In de tabel hieronder vind je je followers en het tijdstip waarop ze je gingen followen."},
			frame: treeFrame(tree, log,
				pairedColumn{"Date", `FansList-\d+-Date`},
				pairedColumn{"Username", `FansList-\d+-UserName`},
			),
		},
		{
			name:  "tiktok_following",
			title: Translatable{"en": "Following", "nl": "Following"},
			desc:  Translatable{"en": "The table below shows users you follow and the time you started following them.", "nl": "In de tabel hieronder vind je gebruikers die je volgt en het tijdstip waarop je ze bent gaan volgen."},
			frame: treeFrame(tree, log,
				pairedColumn{"Date", `Following-\d+-Date`},
				pairedColumn{"Username", `Following-\d+-UserName`},
			),
		},
		{
			name:  "tiktok_block_list",
			title: Translatable{"en": "Blocked accounts on TikTok", "nl": "Geblokkeerde accounts op TikTok"},
			desc:  Translatable{"en": "Below are users you block.", "nl": "Hieronder vind je gebruikers die je blokkeert."},
			frame: treeFrame(tree, log,
				pairedColumn{"Date", `BlockList-\d+-Date`},
				pairedColumn{"Username", `BlockList-\d+-UserName`},
			),
		},
	}
	for _, s := range simples {
		if s.frame.Empty() {
			continue
		}
		tables = append(tables, Table{
			Name:           s.name,
			Title:          s.title,
			Data:           s.frame,
			Description:    s.desc,
			Visualizations: s.viz,
		})
		dict[s.name] = s.frame.Maps()
	}

	if len(dict) == 0 {
		return tables, nil
	}
	return tables, dict
}

func tiktokChunkName(i int) string {
	return "tiktok_video_browsing_history_" + strconv.Itoa(i)
}
