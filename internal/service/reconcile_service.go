package service

import (
	"context"
	"log/slog"

	"projecthub/internal/classify"
	"projecthub/internal/models"
	"projecthub/internal/observability"
	"projecthub/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const defaultSweepBatch = 100

// ReconcileService walks every project and user and rewrites cached
// counters from their sets. It replaces ad hoc repair scripts.
type ReconcileService struct {
	store      *repository.Store
	resolver   *IdentityResolver
	classifier classify.Classifier
}

func NewReconcileService(store *repository.Store, resolver *IdentityResolver, classifier classify.Classifier) *ReconcileService {
	if resolver == nil {
		resolver = NewIdentityResolver(store.Users)
	}
	return &ReconcileService{store: store, resolver: resolver, classifier: classifier}
}

type SweepOptions struct {
	DryRun bool
	Batch  int
}

// SweepReport lists every drifted counter found. With DryRun nothing was written.
type SweepReport struct {
	Backend         string                 `json:"backend" yaml:"backend"`
	DryRun          bool                   `json:"dryRun" yaml:"dry_run"`
	ProjectsScanned int                    `json:"projectsScanned" yaml:"projects_scanned"`
	UsersScanned    int                    `json:"usersScanned" yaml:"users_scanned"`
	Repairs         []models.CounterRepair `json:"repairs" yaml:"repairs"`
	RelinkedAuthors int64                  `json:"relinkedAuthors" yaml:"relinked_authors"`
}

// Sweep recomputes like, share, follower and following counts. Legacy
// author snapshots keyed by email are relinked to the user's id.
func (s *ReconcileService) Sweep(ctx context.Context, opts SweepOptions) (report *SweepReport, err error) {
	batch := opts.Batch
	if batch <= 0 || batch > maxPageSize {
		batch = defaultSweepBatch
	}
	span, ctx := observability.NewSpan(ctx, "ReconcileService.Sweep", attribute.Bool("sweep.dry_run", opts.DryRun))
	defer span.End()
	op := observability.LogAsyncOperationStart(ctx, logger(), "counter_sweep", slog.Bool("dry_run", opts.DryRun))

	report = &SweepReport{Backend: s.store.Backend, DryRun: opts.DryRun, Repairs: []models.CounterRepair{}}
	defer func() {
		span.SetError(err)
		op.End(ctx, err,
			slog.Int("projects", report.ProjectsScanned),
			slog.Int("users", report.UsersScanned),
			slog.Int("repairs", len(report.Repairs)),
		)
	}()

	relinked := map[models.UserID]bool{}
	after := ""
	for {
		projects, err := s.store.Projects.ListAfter(ctx, after, batch)
		if err != nil {
			return report, storeError(err)
		}
		for _, p := range projects {
			report.ProjectsScanned++
			repairs, err := s.store.Projects.RepairCounters(ctx, p.ID, opts.DryRun)
			if err != nil {
				return report, storeError(err)
			}
			s.record(report, repairs)

			n, err := s.relinkAuthor(ctx, p, opts.DryRun, relinked)
			if err != nil {
				return report, err
			}
			report.RelinkedAuthors += n
		}
		if len(projects) < batch {
			break
		}
		after = projects[len(projects)-1].ID
	}

	var afterUser models.UserID
	for {
		ids, err := s.store.Users.ListIDsAfter(ctx, afterUser, batch)
		if err != nil {
			return report, storeError(err)
		}
		for _, id := range ids {
			report.UsersScanned++
			repairs, err := s.store.Users.RepairFollowCounts(ctx, id, opts.DryRun)
			if err != nil {
				return report, storeError(err)
			}
			s.record(report, repairs)
		}
		if len(ids) < batch {
			break
		}
		afterUser = ids[len(ids)-1]
	}
	return report, nil
}

func (s *ReconcileService) record(report *SweepReport, repairs []models.CounterRepair) {
	for _, r := range repairs {
		observability.CounterDrift.WithLabelValues(r.Kind, "sweep").Inc()
		report.Repairs = append(report.Repairs, r)
	}
}

// relinkAuthor rewrites every snapshot keyed by a legacy email to the
// resolved user id. Each email is handled once per sweep.
func (s *ReconcileService) relinkAuthor(ctx context.Context, p *models.Project, dryRun bool, done map[models.UserID]bool) (int64, error) {
	ref := p.Author.ID
	if ref.IsZero() || ref.IsNative() || done[ref] {
		return 0, nil
	}
	done[ref] = true
	u, found, err := s.resolver.Resolve(ctx, ref.String())
	if err != nil || !found {
		return 0, err
	}
	if dryRun {
		return 1, nil
	}
	n, err := s.store.Projects.UpdateAuthorSnapshots(ctx, ref, models.SnapshotOf(u))
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

// DanglingAuthor is a project whose author snapshot resolves to no user.
type DanglingAuthor struct {
	ProjectID string `json:"projectId" yaml:"project_id"`
	AuthorRef string `json:"authorRef" yaml:"author_ref"`
	Name      string `json:"name" yaml:"name"`
}

// InspectReport summarizes the catalogue without writing anything.
type InspectReport struct {
	Backend         string                 `json:"backend" yaml:"backend"`
	TotalProjects   int                    `json:"totalProjects" yaml:"total_projects"`
	SampleProjects  int                    `json:"sampleProjects" yaml:"sample_projects"`
	RealProjects    int                    `json:"realProjects" yaml:"real_projects"`
	SampleIDs       []string               `json:"sampleIds" yaml:"sample_ids"`
	LegacyAuthors   int                    `json:"legacyAuthors" yaml:"legacy_authors"`
	DanglingAuthors []DanglingAuthor       `json:"danglingAuthors" yaml:"dangling_authors"`
	Drift           []models.CounterRepair `json:"drift" yaml:"drift"`
}

// Inspect classifies every project, finds unresolvable authors and reports
// counter drift.
func (s *ReconcileService) Inspect(ctx context.Context) (*InspectReport, error) {
	report := &InspectReport{
		Backend:         s.store.Backend,
		SampleIDs:       []string{},
		DanglingAuthors: []DanglingAuthor{},
		Drift:           []models.CounterRepair{},
	}
	after := ""
	for {
		projects, err := s.store.Projects.ListAfter(ctx, after, defaultSweepBatch)
		if err != nil {
			return nil, storeError(err)
		}

		refs := make([]models.UserID, 0, len(projects))
		for _, p := range projects {
			refs = append(refs, p.Author.ID)
		}
		authors, err := s.resolver.ResolveMany(ctx, refs)
		if err != nil {
			return nil, err
		}

		for _, p := range projects {
			report.TotalProjects++
			if s.classifier.IsSample(p) {
				report.SampleProjects++
				report.SampleIDs = append(report.SampleIDs, p.ID)
			} else {
				report.RealProjects++
			}
			if !p.Author.ID.IsNative() {
				report.LegacyAuthors++
			}
			if _, ok := authors[models.NormalizeUserID(p.Author.ID.String())]; !ok {
				report.DanglingAuthors = append(report.DanglingAuthors, DanglingAuthor{
					ProjectID: p.ID,
					AuthorRef: p.Author.ID.String(),
					Name:      p.Author.Name,
				})
			}
			likes, shares := p.Drift()
			if likes {
				report.Drift = append(report.Drift, models.CounterRepair{ID: p.ID, Kind: "likes", Stored: p.LikeCount, Actual: len(p.Likes)})
			}
			if shares {
				report.Drift = append(report.Drift, models.CounterRepair{ID: p.ID, Kind: "shares", Stored: p.ShareCount, Actual: len(p.Shares)})
			}
		}
		if len(projects) < defaultSweepBatch {
			break
		}
		after = projects[len(projects)-1].ID
	}
	return report, nil
}
