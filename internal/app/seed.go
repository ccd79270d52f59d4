package app

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/Leo-Lynt/flow-api/internal/config"
	"github.com/Leo-Lynt/flow-api/internal/flow"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

// seedFile is the on-disk shape of a flows/schedules seed (YAML or JSON).
type seedFile struct {
	Flows     []*flow.Flow     `json:"flows"`
	Schedules []*flow.Schedule `json:"schedules"`
}

// seed upserts the flows and schedules of a seed file into the store.
// Applied before the scheduler initializes so seeded schedules register
// on first start.
func (a *App) seed(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	jb, err := config.CoerceToJSON(path, b)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	var sf seedFile
	if err := json.Unmarshal(jb, &sf); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}

	for _, f := range sf.Flows {
		if f.ID == "" {
			return fmt.Errorf("seed %s: flow without id", path)
		}
		if err := a.store.SaveFlow(ctx, f); err != nil {
			return fmt.Errorf("seed flow %s: %w", f.ID, err)
		}
	}
	for _, sc := range sf.Schedules {
		if sc.ID == "" || sc.FlowID == "" {
			return fmt.Errorf("seed %s: schedule without id/flowId", path)
		}
		if err := a.store.SaveSchedule(ctx, sc); err != nil {
			return fmt.Errorf("seed schedule %s: %w", sc.ID, err)
		}
	}

	a.log.Info("store seeded",
		logx.Int("flows", len(sf.Flows)),
		logx.Int("schedules", len(sf.Schedules)),
		logx.String("path", path),
	)
	return nil
}
