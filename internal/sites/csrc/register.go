// Package csrc crawls the regional bureau announcements published by the
// China Securities Regulatory Commission site.
package csrc

import (
	"context"
	"fmt"

	"github.com/JakeFAU/regcrawl/internal/app"
	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/dispatcher"
	"github.com/JakeFAU/regcrawl/internal/pipeline"
	chromedprender "github.com/JakeFAU/regcrawl/internal/render/chromedp"
	"github.com/JakeFAU/regcrawl/internal/stage"
)

// Project is the registry key of this site.
const Project = "csrc_gov"

const defaultSiteBase = "http://www.csrc.gov.cn/"

// Register adds the three CSRC stages to reg.
func Register(reg *dispatcher.Registry) {
	reg.Register(Project, crawler.StageList, NewListStage)
	reg.Register(Project, crawler.StageDetail, NewDetailStage)
	reg.Register(Project, crawler.StageAttachment, NewAttachmentStage)
}

// NewListStage builds the list stage.
func NewListStage(_ context.Context, a *app.App) (pipeline.Stage, error) {
	site := NewListSite(a.Session, ListSiteConfig{
		ManuscriptURL: a.Config.Project.ManuscriptURL,
		ParentChannel: a.Config.Project.ParentChannel,
		PageSize:      a.Stage.PageSize,
	}, a.Logger.Named("csrc"))
	return stage.NewList(
		stage.ListConfig{Targets: a.Stage.Targets, Window: a.Window},
		stage.ListDeps{
			Site:    site,
			Tasks:   a.Tasks,
			IDs:     a.IDs,
			Monitor: a.Monitor,
			Clock:   a.Clock,
		},
		a.Logger,
	), nil
}

// NewDetailStage builds the detail stage with a headless Chrome renderer.
func NewDetailStage(_ context.Context, a *app.App) (pipeline.Stage, error) {
	tmpl, err := LoadPageTemplate(a.Stage)
	if err != nil {
		return nil, err
	}
	renderer, err := chromedprender.New(chromedprender.Config{
		MaxParallel: 1,
		Timeout:     a.Stage.PDFTimeout,
	}, a.Logger.Named("pdf"))
	if err != nil {
		return nil, fmt.Errorf("start pdf renderer: %w", err)
	}
	a.AddCloser(renderer)

	siteBase := a.Config.Project.WebsiteBaseURL
	if siteBase == "" {
		siteBase = defaultSiteBase
	}
	processor := NewDetailProcessor(
		DetailConfig{SiteBase: siteBase, Template: tmpl},
		DetailDeps{
			Tasks:    a.Tasks,
			Blobs:    a.Blobs,
			Renderer: renderer,
			Hasher:   a.Hasher,
			IDs:      a.IDs,
			Clock:    a.Clock,
			Cache:    a.Cache,
			NewName:  a.NewName,
		},
		a.Logger.Named("csrc"),
	)
	return stage.NewDetail(a.Window, stage.DetailDeps{
		Tasks:     a.Tasks,
		Fetcher:   a.Session,
		Processor: processor,
	}, a.Logger), nil
}

// NewAttachmentStage builds the attachment stage.
func NewAttachmentStage(_ context.Context, a *app.App) (pipeline.Stage, error) {
	processor := NewAttachmentProcessor(AttachmentDeps{
		Tasks:  a.Tasks,
		Blobs:  a.Blobs,
		Hasher: a.Hasher,
	}, a.Logger.Named("csrc"))
	return stage.NewAttachment(a.Window, stage.AttachmentDeps{
		Tasks:     a.Tasks,
		Fetcher:   a.Session,
		Cache:     a.Cache,
		Processor: processor,
		NewName:   a.NewName,
	}, a.Logger), nil
}
