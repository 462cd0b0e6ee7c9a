package shmem

import "github.com/michael-beebe/osss-go/internal/team"

// SplitTeam builds a new team containing every member of parent for which
// keep(rank) holds, and registers it with the engine so its pSync/pWrk
// scratch regions are ready for immediate use (shmem_team_split, spec.md
// §3 "Team" and SPEC_FULL.md's supplemented team constructors).
func (s *Shmem) SplitTeam(parent *team.Team, keep func(rank int) bool) (*team.Team, error) {
	child, err := parent.Split(s.Me(), keep)
	if err != nil {
		return nil, s.fatal(err)
	}
	if err := s.eng.RegisterTeam(child); err != nil {
		return nil, s.fatal(err)
	}
	return child, nil
}

// SplitTeamStrided is shmem_team_split_strided: a contiguous strided
// sub-team of parent, starting at relative rank start with the given
// stride.
func (s *Shmem) SplitTeamStrided(parent *team.Team, start, stride, nranks int) (*team.Team, error) {
	child, err := parent.SplitStrided(s.Me(), start, stride, nranks)
	if err != nil {
		return nil, s.fatal(err)
	}
	if err := s.eng.RegisterTeam(child); err != nil {
		return nil, s.fatal(err)
	}
	return child, nil
}

// SplitTeam2D is shmem_team_split_2d: splits parent into an xdim-column
// grid and returns the calling PE's row and column sub-teams.
func (s *Shmem) SplitTeam2D(parent *team.Team, xdim int) (row, col *team.Team, err error) {
	row, col, err = parent.Split2D(s.Me(), xdim)
	if err != nil {
		return nil, nil, s.fatal(err)
	}
	if err := s.eng.RegisterTeam(row); err != nil {
		return nil, nil, s.fatal(err)
	}
	if err := s.eng.RegisterTeam(col); err != nil {
		return nil, nil, s.fatal(err)
	}
	return row, col, nil
}

// DestroyTeam releases tm's engine-held scratch buffers and invalidates
// its contexts (spec.md DESIGN NOTES: "Teams own their contexts"). Never
// call this on WORLD or SHARED.
func (s *Shmem) DestroyTeam(tm *team.Team) {
	s.eng.ReleaseTeam(tm)
	tm.Destroy()
}

// NewContext creates a context owned by tm (spec.md DESIGN NOTES: contexts
// hold a non-owning back-reference to their team).
func (s *Shmem) NewContext(tm *team.Team) *team.Context {
	return team.NewContext(tm)
}
