package upstream

import "github.com/philippdubach/hn-archiver-go/engine/domain"

// itemPayload mirrors the external item JSON shape exactly; field names
// are fixed by the upstream API's bit-exact compatibility requirement.
type itemPayload struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Deleted     bool    `json:"deleted"`
	Dead        bool    `json:"dead"`
	By          string  `json:"by"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Text        string  `json:"text"`
	Time        int64   `json:"time"`
	Score       *int    `json:"score"`
	Descendants *int    `json:"descendants"`
	Parent      *int64  `json:"parent"`
	Kids        []int64 `json:"kids"`
}

func (p *itemPayload) toItem() *domain.Item {
	kind := domain.Kind(p.Type)
	if !domain.ValidKinds[kind] {
		kind = domain.KindStory
	}
	return &domain.Item{
		ID:          p.ID,
		Kind:        kind,
		Deleted:     p.Deleted,
		Dead:        p.Dead,
		Title:       p.Title,
		URL:         p.URL,
		Text:        p.Text,
		Author:      p.By,
		CreatedAt:   p.Time,
		Score:       p.Score,
		Descendants: p.Descendants,
		Parent:      p.Parent,
		Kids:        p.Kids,
	}
}
