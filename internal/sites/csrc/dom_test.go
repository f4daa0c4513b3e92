package csrc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const detailPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>t</title></head>
<body>
<div class="content"><p>导航区块没有标题</p></div>
<div class="content">
  <h2>关于对某公司采取出具警示函措施的决定</h2>
  <div class="detail-news">
    <p style="font-family: SimSun; color: red;">正文%E4%B8%AD%E6%96%87 与 100% 完成</p>
    <p><font face="仿宋">字体</font></p>
    <img src="/images/seal.png">
    <img src="http://cdn.example.com/logo.png">
    <a href="/beijing/c103/files/penalty.pdf">处罚决定书.pdf</a>
    <a href="http://www.csrc.gov.cn/other/page.shtml">外部页面</a>
    <a href="/video/notice.mp4">视频/files/说明</a>
  </div>
  <div id="files" style="display:none">
    <a href="files/attach1.doc">附件一.doc</a>
    <a href="http://www.csrc.gov.cn/beijing/c103/files/attach2.xls">附件二</a>
    <a href="files/attach1.doc">附件一.doc</a>
    <a href="files/blank.doc">   </a>
    <a>无链接</a>
  </div>
  <div class="xxgk-table"><table><tr><td>索引号</td></tr></table></div>
  <div class="xxgk-down-box"><a href="#">打印</a></div>
</div>
</body></html>`

func TestCleanDetail(t *testing.T) {
	t.Parallel()

	got, err := CleanDetail(detailPage, "http://www.csrc.gov.cn/beijing/c103/c7473331/content.shtml", "http://www.csrc.gov.cn/")
	require.NoError(t, err)

	head := "http://www.csrc.gov.cn/beijing/c103/c7473331/"
	require.Equal(t, []Link{
		{URL: head + "files/attach1.doc", Title: "附件一.doc"},
		{URL: "http://www.csrc.gov.cn/beijing/c103/files/attach2.xls", Title: "附件二"},
		{URL: head + "beijing/c103/files/penalty.pdf", Title: "处罚决定书.pdf"},
	}, got.Links)

	content := got.Content
	require.NotContains(t, content, "<h2>")
	require.NotContains(t, content, "导航区块")
	require.NotContains(t, content, "display:none")
	require.NotContains(t, content, "xxgk-table")
	require.NotContains(t, content, "打印")
	require.NotContains(t, content, "font-family")
	require.NotContains(t, content, `face=`)
	require.NotContains(t, content, "penalty.pdf")
	require.Contains(t, content, `href="javascript:void(0);"`)
	require.Contains(t, content, `src="`+head+`images/seal.png"`)
	require.Contains(t, content, `src="http://cdn.example.com/logo.png"`)
	require.Contains(t, content, "正文中文")
	require.Contains(t, content, "100% 完成")
	require.Contains(t, content, "color: red;")
}

func TestCleanDetailVideoLink(t *testing.T) {
	t.Parallel()

	page := `<div class="content"><h2>t</h2><div id="files"><a href="/video/files/brief.MP4">说明视频</a></div></div>`
	got, err := CleanDetail(page, "http://www.csrc.gov.cn/beijing/c1/content.shtml", "http://www.csrc.gov.cn/")
	require.NoError(t, err)
	require.Equal(t, []Link{{URL: "http://www.csrc.gov.cn/video/files/brief.MP4", Title: "说明视频"}}, got.Links)
}

func TestCleanDetailWithoutContent(t *testing.T) {
	t.Parallel()

	got, err := CleanDetail(`<html><body><p>404</p></body></html>`, "http://x/a/b.shtml", "http://x/")
	require.NoError(t, err)
	require.Empty(t, got.Links)
	require.Empty(t, strings.TrimSpace(got.Content))
}

func TestUnquote(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b", unquote("a%20b"))
	require.Equal(t, "中", unquote("%E4%B8%AD"))
	require.Equal(t, "100%", unquote("100%"))
	require.Equal(t, "%zz", unquote("%zz"))
	require.Equal(t, "a+b", unquote("a+b"))
}
