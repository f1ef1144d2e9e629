package httpapi

import (
	"context"

	"diffstudio/internal/manager"
	"diffstudio/internal/studio"
	"diffstudio/pkg/types"
)

// HistoryLister reads recorded generations.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]types.HistoryEntry, error)
}

// StudioService adapts a Studio (and an optional history store) to Service.
type StudioService struct {
	Studio       *studio.Studio
	HistoryStore HistoryLister
}

var _ Service = (*StudioService)(nil)

func (s *StudioService) Generate(ctx context.Context, task manager.TaskKind, p studio.Params) (studio.Result, error) {
	return s.Studio.Generate(ctx, task, p)
}

func (s *StudioService) Status() types.StatusResponse { return s.Studio.Manager().Status() }

func (s *StudioService) Ready() bool { return s.Studio.Manager().Ready() }

// Families describes every known family. Families are described from their
// static tables; nothing is constructed.
func (s *StudioService) Families() types.FamiliesResponse {
	resp := types.FamiliesResponse{Active: s.Studio.Manager().Family().Name}
	for _, name := range studio.FamilyNames() {
		if name == resp.Active {
			resp.Families = append(resp.Families, s.Studio.Manager().Family().Info())
			continue
		}
		f, err := studio.NewFamily(name, studio.FamilyOptions{})
		if err != nil {
			continue
		}
		resp.Families = append(resp.Families, f.Info())
	}
	return resp
}

// History returns an empty list when no store is configured.
func (s *StudioService) History(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	if s.HistoryStore == nil {
		return []types.HistoryEntry{}, nil
	}
	return s.HistoryStore.List(ctx, limit)
}
