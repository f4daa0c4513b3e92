package csrc

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/regcrawl/internal/fetcher/colly"
	"github.com/JakeFAU/regcrawl/internal/stage"
)

type fakeRequester struct {
	body []byte
	err  error
	got  []collyfetcher.Request
}

func (f *fakeRequester) Do(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return collyfetcher.Response{}, f.err
	}
	return collyfetcher.Response{URL: req.URL, StatusCode: http.StatusOK, Body: f.body}, nil
}

const listJSON = `{
  "data": {
    "total": 61,
    "rows": 20,
    "results": [
      {
        "title": "关于对某公司采取出具警示函措施的决定",
        "url": "//www.csrc.gov.cn/beijing/c103/c7473331/content.shtml",
        "publishedTimeStr": "2024-03-01 09:30:00",
        "manuscriptId": 7473331,
        "domainMetaList": [
          {"resultList": [{"name": "主题分类", "value": "x"}, {"name": "文号", "value": "〔2024〕12号"}]}
        ]
      },
      {
        "title": "无文号公告",
        "url": "http://www.csrc.gov.cn/beijing/c103/c7473330/content.shtml",
        "publishedTimeStr": "2024-02-29",
        "manuscriptId": "7473330",
        "domainMetaList": [{"resultList": [{"name": "文号", "value": "null"}]}]
      },
      {
        "title": "坏时间",
        "url": "http://www.csrc.gov.cn/beijing/c103/bad/content.shtml",
        "publishedTimeStr": "yesterday",
        "manuscriptId": null
      }
    ]
  }
}`

func TestFetchPage(t *testing.T) {
	t.Parallel()

	req := &fakeRequester{body: []byte(listJSON)}
	site := NewListSite(req, ListSiteConfig{PageSize: 20}, nil)
	target := crawler.Target{Name: "Beijing", Code: "BJ", ListURL: "http://www.csrc.gov.cn/searchList/beijing"}

	page, err := site.FetchPage(context.Background(), target, 3)
	require.NoError(t, err)

	require.Len(t, req.got, 1)
	sent := req.got[0]
	require.Equal(t, http.MethodGet, sent.Method)
	require.Equal(t, target.ListURL, sent.URL)
	require.Equal(t, "3", sent.Query.Get("page"))
	require.Equal(t, "20", sent.Query.Get("_pageSize"))
	require.Equal(t, "true", sent.Query.Get("_isJson"))
	require.Equal(t, "index", sent.Query.Get("_template"))
	require.Contains(t, sent.Query, "_rangeTimeGte")

	require.Equal(t, 61, page.Total)
	require.Equal(t, 20, page.PageSize)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	require.Equal(t, "http://www.csrc.gov.cn/beijing/c103/c7473331/content.shtml", first.URL)
	require.Equal(t, "〔2024〕12号", first.Number)
	require.Equal(t, "7473331", first.ManuscriptID)
	require.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), first.PublishTime)

	second := page.Items[1]
	require.Empty(t, second.Number)
	require.Equal(t, "7473330", second.ManuscriptID)
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), second.PublishTime)
}

func TestFetchPageErrors(t *testing.T) {
	t.Parallel()

	target := crawler.Target{Name: "Beijing", ListURL: "http://list"}

	t.Run("no total", func(t *testing.T) {
		t.Parallel()
		site := NewListSite(&fakeRequester{body: []byte(`{"data":{"results":[]}}`)}, ListSiteConfig{}, nil)
		_, err := site.FetchPage(context.Background(), target, 1)
		require.ErrorIs(t, err, stage.ErrNoTotal)
	})

	t.Run("no data", func(t *testing.T) {
		t.Parallel()
		site := NewListSite(&fakeRequester{body: []byte(`{}`)}, ListSiteConfig{}, nil)
		_, err := site.FetchPage(context.Background(), target, 1)
		require.ErrorIs(t, err, stage.ErrNoTotal)
	})

	t.Run("bad json", func(t *testing.T) {
		t.Parallel()
		site := NewListSite(&fakeRequester{body: []byte(`<html>`)}, ListSiteConfig{}, nil)
		_, err := site.FetchPage(context.Background(), target, 1)
		require.ErrorContains(t, err, "decode list page")
	})

	t.Run("retrieval failure", func(t *testing.T) {
		t.Parallel()
		site := NewListSite(&fakeRequester{err: collyfetcher.ErrRetriesExhausted}, ListSiteConfig{}, nil)
		_, err := site.FetchPage(context.Background(), target, 2)
		require.True(t, errors.Is(err, collyfetcher.ErrRetriesExhausted))
	})

	t.Run("no list url", func(t *testing.T) {
		t.Parallel()
		site := NewListSite(&fakeRequester{}, ListSiteConfig{}, nil)
		_, err := site.FetchPage(context.Background(), crawler.Target{Name: "x"}, 1)
		require.ErrorContains(t, err, "list_page_base_url")
	})
}

const manuscriptJSON = `{
  "results": {
    "data": {
      "data": [
        {"_source": {"channel": [
          {"channelName": "北京证监局"},
          {"channelName": "证监局主题分类"},
          {"channelName": "行政处罚"},
          {"channelName": "其他"}
        ]}},
        {"_source": {"channel": [
          {"channelName": "证监局主题分类"},
          {"channelName": "监管措施"}
        ]}},
        {"_source": {"channel": [
          {"channelName": "证监局主题分类"},
          {"channelName": "行政处罚"}
        ]}},
        {"_source": {"channel": [
          {"channelName": "证监局主题分类"},
          {"channelName": ""},
          {"channelName": "不应出现"}
        ]}},
        {"_source": {"channel": [{"channelName": "无父级"}]}}
      ]
    }
  }
}`

func TestClassify(t *testing.T) {
	t.Parallel()

	req := &fakeRequester{body: []byte(manuscriptJSON)}
	site := NewListSite(req, ListSiteConfig{ManuscriptURL: "http://www.csrc.gov.cn/searchList/manuscript"}, nil)

	got, err := site.Classify(context.Background(), stage.ListItem{ManuscriptID: "7473331"})
	require.NoError(t, err)
	require.Equal(t, "行政处罚;监管措施", got)

	require.Len(t, req.got, 1)
	require.Equal(t, http.MethodPost, req.got[0].Method)
	require.Equal(t, "7473331", req.got[0].Form.Get("mId"))
	require.Equal(t, "4", req.got[0].Form.Get("status"))
}

func TestClassifyErrors(t *testing.T) {
	t.Parallel()

	site := NewListSite(&fakeRequester{}, ListSiteConfig{}, nil)
	_, err := site.Classify(context.Background(), stage.ListItem{ManuscriptID: "1"})
	require.ErrorContains(t, err, "manuscript_data_base_url")

	site = NewListSite(&fakeRequester{body: []byte(`{"msg":"busy"}`)}, ListSiteConfig{ManuscriptURL: "http://m"}, nil)
	_, err = site.Classify(context.Background(), stage.ListItem{ManuscriptID: "1"})
	require.ErrorIs(t, err, ErrNoClassification)
}

func TestParseClassificationCustomParent(t *testing.T) {
	t.Parallel()

	body := []byte(`{"results":{"data":{"data":[{"_source":{"channel":[{"channelName":"自定义"},{"channelName":"类别A"}]}}]}}}`)
	got, err := ParseClassification(body, "自定义")
	require.NoError(t, err)
	require.Equal(t, "类别A", got)

	got, err = ParseClassification(body, defaultParentChannel)
	require.NoError(t, err)
	require.Empty(t, got)
}
