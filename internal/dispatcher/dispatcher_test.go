package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regcrawl/internal/app"
	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/pipeline"
)

type nopStage struct{ name crawler.StageName }

func (s nopStage) Name() crawler.StageName       { return s.name }
func (s nopStage) Execute(context.Context) error { return nil }

func factoryFor(name crawler.StageName) Factory {
	return func(context.Context, *app.App) (pipeline.Stage, error) {
		return nopStage{name: name}, nil
	}
}

func TestResolveRegistered(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("csrc_gov", crawler.StageList, factoryFor(crawler.StageList))
	reg.Register("csrc_gov", crawler.StageDetail, factoryFor(crawler.StageDetail))

	name, f, err := reg.Resolve("csrc_gov", " Detail ")
	require.NoError(t, err)
	require.Equal(t, crawler.StageDetail, name)

	s, err := f(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, crawler.StageDetail, s.Name())
}

func TestResolveUnknown(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("csrc_gov", crawler.StageList, factoryFor(crawler.StageList))

	tests := []struct {
		name    string
		project string
		stage   string
	}{
		{name: "unknown project", project: "sse", stage: "list"},
		{name: "unknown stage token", project: "csrc_gov", stage: "archive"},
		{name: "unregistered stage", project: "csrc_gov", stage: "attachment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, f, err := reg.Resolve(tt.project, tt.stage)
			require.Nil(t, f)
			var unknown *UnknownError
			require.True(t, errors.As(err, &unknown))
			require.Equal(t, tt.project, unknown.Project)
			require.Equal(t, tt.stage, unknown.Stage)
			require.Contains(t, err.Error(), tt.project)
		})
	}
}

func TestProjects(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.Empty(t, reg.Projects())
	reg.Register("szse", crawler.StageList, factoryFor(crawler.StageList))
	reg.Register("csrc_gov", crawler.StageList, factoryFor(crawler.StageList))
	reg.Register("csrc_gov", crawler.StageDetail, factoryFor(crawler.StageDetail))
	require.Equal(t, []string{"csrc_gov", "szse"}, reg.Projects())
}
