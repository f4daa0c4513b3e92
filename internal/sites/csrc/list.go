package csrc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/regcrawl/internal/fetcher/colly"
	"github.com/JakeFAU/regcrawl/internal/stage"
)

const (
	numberLabel          = "文号"
	defaultParentChannel = "证监局主题分类"
	manuscriptStatus     = "4"
)

// ErrNoClassification is returned when the manuscript endpoint reply has no results.
var ErrNoClassification = errors.New("manuscript reply has no results")

// Requester is the retrieval call the site needs.
type Requester interface {
	Do(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error)
}

// ListSiteConfig configures ListSite.
type ListSiteConfig struct {
	ManuscriptURL string
	ParentChannel string
	PageSize      int
}

// ListSite reads the bureau listing JSON API and the manuscript
// classification endpoint.
type ListSite struct {
	cfg    ListSiteConfig
	client Requester
	logger *zap.Logger
}

var _ stage.ListSite = (*ListSite)(nil)

// NewListSite builds a ListSite.
func NewListSite(client Requester, cfg ListSiteConfig, logger *zap.Logger) *ListSite {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ParentChannel == "" {
		cfg.ParentChannel = defaultParentChannel
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &ListSite{cfg: cfg, client: client, logger: logger}
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type listResponse struct {
	Data *struct {
		Total   *int         `json:"total"`
		Rows    *int         `json:"rows"`
		Results []listResult `json:"results"`
	} `json:"data"`
}

type listResult struct {
	Title          flexString `json:"title"`
	URL            flexString `json:"url"`
	Published      flexString `json:"publishedTimeStr"`
	ManuscriptID   flexString `json:"manuscriptId"`
	DomainMetaList []struct {
		ResultList []struct {
			Name  flexString `json:"name"`
			Value flexString `json:"value"`
		} `json:"resultList"`
	} `json:"domainMetaList"`
}

// FetchPage implements stage.ListSite.
func (s *ListSite) FetchPage(ctx context.Context, target crawler.Target, page int) (stage.ListPage, error) {
	if target.ListURL == "" {
		return stage.ListPage{}, fmt.Errorf("target %s has no list_page_base_url", target.Name)
	}
	resp, err := s.client.Do(ctx, collyfetcher.Request{
		Method: http.MethodGet,
		URL:    target.ListURL,
		Query: url.Values{
			"_isAgg":        {"true"},
			"_isJson":       {"true"},
			"_pageSize":     {strconv.Itoa(s.cfg.PageSize)},
			"_template":     {"index"},
			"_rangeTimeGte": {""},
			"_channelName":  {""},
			"page":          {strconv.Itoa(page)},
		},
	})
	if err != nil {
		return stage.ListPage{}, fmt.Errorf("fetch list page %d: %w", page, err)
	}
	return s.parseListPage(resp.Body)
}

func (s *ListSite) parseListPage(body []byte) (stage.ListPage, error) {
	var payload listResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return stage.ListPage{}, fmt.Errorf("decode list page: %w", err)
	}
	if payload.Data == nil {
		return stage.ListPage{}, fmt.Errorf("list page has no data block: %w", stage.ErrNoTotal)
	}
	if payload.Data.Total == nil || payload.Data.Rows == nil {
		return stage.ListPage{}, stage.ErrNoTotal
	}

	page := stage.ListPage{Total: *payload.Data.Total, PageSize: *payload.Data.Rows}
	for _, r := range payload.Data.Results {
		published, err := crawler.ParseWallClock(string(r.Published))
		if err != nil {
			s.logger.Warn("list entry has no usable publish time", zap.String("url", string(r.URL)), zap.Error(err))
			continue
		}
		page.Items = append(page.Items, stage.ListItem{
			Title:        string(r.Title),
			URL:          absoluteListURL(string(r.URL)),
			PublishTime:  published,
			Number:       r.number(),
			ManuscriptID: string(r.ManuscriptID),
		})
	}
	return page, nil
}

func absoluteListURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "http:" + u
	}
	return u
}

// number returns the first 文号 value; a literal "null" means none.
func (r listResult) number() string {
	for _, meta := range r.DomainMetaList {
		for _, res := range meta.ResultList {
			if string(res.Name) != numberLabel {
				continue
			}
			v := string(res.Value)
			if strings.TrimSpace(v) == "null" {
				return ""
			}
			return v
		}
	}
	return ""
}

type manuscriptResponse struct {
	Results *struct {
		Data struct {
			Data []struct {
				Source struct {
					Channel []struct {
						ChannelName flexString `json:"channelName"`
					} `json:"channel"`
				} `json:"_source"`
			} `json:"data"`
		} `json:"data"`
	} `json:"results"`
}

// Classify implements stage.ListSite. It posts the manuscript id and joins
// the channels found under the parent channel.
func (s *ListSite) Classify(ctx context.Context, item stage.ListItem) (string, error) {
	if s.cfg.ManuscriptURL == "" {
		return "", errors.New("manuscript_data_base_url is not configured")
	}
	resp, err := s.client.Do(ctx, collyfetcher.Request{
		Method: http.MethodPost,
		URL:    s.cfg.ManuscriptURL,
		Form:   url.Values{"mId": {item.ManuscriptID}, "status": {manuscriptStatus}},
	})
	if err != nil {
		return "", fmt.Errorf("fetch manuscript %s: %w", item.ManuscriptID, err)
	}
	return ParseClassification(resp.Body, s.cfg.ParentChannel)
}

// ParseClassification extracts, for every entry, the channel that follows
// parent. Names are deduplicated in first-seen order and joined with ";".
func ParseClassification(body []byte, parent string) (string, error) {
	var payload manuscriptResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode manuscript: %w", err)
	}
	if payload.Results == nil {
		return "", ErrNoClassification
	}
	var names []string
	seen := map[string]bool{}
	for _, entry := range payload.Results.Data.Data {
		underParent := false
		for _, ch := range entry.Source.Channel {
			name := string(ch.ChannelName)
			if name == parent {
				underParent = true
				continue
			}
			if !underParent {
				continue
			}
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			break
		}
	}
	return strings.Join(names, ";"), nil
}
